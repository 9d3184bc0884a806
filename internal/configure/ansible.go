// Package configure applies configuration bundles to reachable hosts.
package configure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/logging"
)

const (
	// DefaultBinary is the playbook runner looked up on PATH.
	DefaultBinary = "ansible-playbook"
	// DefaultUser is the login user of the stock image.
	DefaultUser = "ec2-user"
)

// Runner applies one playbook to the host at address.
type Runner interface {
	Apply(ctx context.Context, address string, pb ir.PlaybookSpec) error
}

// Failure is a playbook run that did not exit cleanly. ExitCode is -1 when
// the runner could not be started.
type Failure struct {
	Host     string
	Bundle   string
	ExitCode int
	Err      error
}

func (f *Failure) Error() string {
	if f.ExitCode < 0 {
		return fmt.Sprintf("playbook %s on %s could not run: %v", f.Bundle, f.Host, f.Err)
	}
	return fmt.Sprintf("playbook %s on %s exited with status %d", f.Bundle, f.Host, f.ExitCode)
}

func (f *Failure) Unwrap() error { return f.Err }

// Ansible runs ansible-playbook against a single-host inline inventory.
type Ansible struct {
	Binary string
	User   string
	// Dir is the directory bundle paths are relative to.
	Dir string
	// HostKeyChecking keeps ssh host key verification on. Fresh instances
	// have unknown keys, so it is off by default.
	HostKeyChecking bool

	// Stdout and Stderr receive the runner's output. Nil means the log.
	Stdout io.Writer
	Stderr io.Writer
}

var _ Runner = (*Ansible)(nil)

// Args returns the command line for applying pb to address.
func (a *Ansible) Args(address string, pb ir.PlaybookSpec) ([]string, error) {
	vars := pb.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	extra, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vars for %s: %w", pb.Bundle, err)
	}
	return []string{
		"-i", a.user() + "@" + address + ",",
		filepath.Join(a.Dir, pb.Bundle),
		"--extra-vars", string(extra),
	}, nil
}

// Apply runs the playbook and waits for it to exit. Output is streamed,
// never captured.
func (a *Ansible) Apply(ctx context.Context, address string, pb ir.PlaybookSpec) error {
	if address == "" {
		return &Failure{Host: address, Bundle: pb.Bundle, ExitCode: -1, Err: errors.New("empty host address")}
	}
	args, err := a.Args(address, pb)
	if err != nil {
		return err
	}

	bin := a.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	logging.Info("running playbook", "bundle", pb.Bundle, "host", pb.Host, "address", address)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = os.Environ()
	if !a.HostKeyChecking {
		cmd.Env = append(cmd.Env, "ANSIBLE_HOST_KEY_CHECKING=False")
	}

	stdout, stderr := a.Stdout, a.Stderr
	if stdout == nil {
		w := logging.NewWriter("host", string(pb.Host))
		defer w.Flush()
		stdout = w
	}
	if stderr == nil {
		w := logging.NewWriter("host", string(pb.Host), "stream", "stderr")
		defer w.Flush()
		stderr = w
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		f := &Failure{Host: address, Bundle: pb.Bundle, ExitCode: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			f.ExitCode = exitErr.ExitCode()
		}
		return f
	}
	logging.Info("playbook applied", "bundle", pb.Bundle, "host", pb.Host)
	return nil
}

func (a *Ansible) user() string {
	if a.User == "" {
		return DefaultUser
	}
	return a.User
}
