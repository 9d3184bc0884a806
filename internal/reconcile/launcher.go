package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/logging"
)

// DefaultRunningTimeout bounds the wait for a new instance to run.
const DefaultRunningTimeout = 300 * time.Second

// StoppedPolicy decides what happens when the only instances carrying a
// name are stopped (or stopping) rather than running.
type StoppedPolicy string

const (
	// StoppedReplace launches a fresh instance next to the stopped one.
	StoppedReplace StoppedPolicy = "replace"
	// StoppedFail refuses to launch and reports the stopped instance.
	StoppedFail StoppedPolicy = "fail"
)

// ParseStoppedPolicy validates a policy name. Empty means replace.
func ParseStoppedPolicy(s string) (StoppedPolicy, error) {
	switch StoppedPolicy(s) {
	case "", StoppedReplace:
		return StoppedReplace, nil
	case StoppedFail:
		return StoppedFail, nil
	default:
		return "", fmt.Errorf("unknown stopped-instance policy %q (want %q or %q)", s, StoppedReplace, StoppedFail)
	}
}

// DefaultStorage is the root volume every instance launches with.
func DefaultStorage() directory.Storage {
	return directory.Storage{
		DeviceName: "/dev/xvda",
		SizeGiB:    8,
		VolumeType: "gp3",
		Encrypted:  true,
	}
}

// Launcher reconciles instances by Name tag and resolves their public
// address once they run.
type Launcher struct {
	Dir            directory.Instances
	RunningTimeout time.Duration
	Storage        directory.Storage
	Stopped        StoppedPolicy
	Retry          *RetryPolicy
}

// Launched is a running, addressable instance.
type Launched struct {
	ID      string
	Address string
	Created bool
}

// Launch returns the running instance named spec.Name, launching one if
// none runs. groupIDs are the already reconciled security group ids.
func (l *Launcher) Launch(ctx context.Context, spec ir.InstanceSpec, groupIDs []string) (*Launched, error) {
	var stopped []directory.Instance

	res, err := (&Operation[directory.Instance]{
		Kind:     "instance",
		Identity: string(spec.Name),
		Retry:    l.Retry,
		List: func(ctx context.Context) ([]directory.Instance, error) {
			stopped = nil
			return l.Dir.ListInstances(ctx)
		},
		Match: func(i directory.Instance) bool {
			if i.Name != spec.Name {
				return false
			}
			if i.State == directory.StateRunning {
				return true
			}
			if !i.State.Gone() {
				stopped = append(stopped, i)
			}
			return false
		},
		Handle: func(i directory.Instance) string {
			return i.ID
		},
		Create: func(ctx context.Context) (directory.Instance, error) {
			if len(stopped) > 0 {
				if l.Stopped == StoppedFail {
					return directory.Instance{}, &IntegrityError{
						Kind:     "instance",
						Identity: string(spec.Name),
						Reason:   fmt.Sprintf("only a %s instance (%s) exists, refusing to launch a duplicate", stopped[0].State, stopped[0].ID),
						Response: stopped[0].Raw,
					}
				}
				logging.Warn("instance exists but is not running, launching a new one",
					"name", spec.Name, "id", stopped[0].ID, "state", stopped[0].State)
			}
			inst, err := l.Dir.RunInstance(ctx, directory.RunInput{
				Name:             spec.Name,
				Image:            spec.Image,
				InstanceType:     spec.InstanceType,
				KeyName:          spec.KeyPair,
				SecurityGroupIDs: groupIDs,
				Storage:          l.storage(),
			})
			return deref(inst), err
		},
	}).Execute(ctx)
	if err != nil {
		return nil, err
	}

	if !res.Created {
		if res.Resource.PublicAddress == "" {
			return nil, &AddressResolutionError{
				Identity:   string(spec.Name),
				InstanceID: res.Handle,
				Response:   res.Resource.Raw,
			}
		}
		return &Launched{ID: res.Handle, Address: res.Resource.PublicAddress}, nil
	}

	timeout := l.RunningTimeout
	if timeout <= 0 {
		timeout = DefaultRunningTimeout
	}
	logging.Info("waiting for instance to run", "name", spec.Name, "id", res.Handle, "timeout", timeout)
	if err := l.Dir.WaitUntilRunning(ctx, res.Handle, timeout); err != nil {
		if errors.Is(err, directory.ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &LaunchTimeoutError{
				Identity:   string(spec.Name),
				InstanceID: res.Handle,
				Timeout:    timeout,
				Err:        err,
			}
		}
		return nil, fmt.Errorf("failed waiting for instance %q (%s): %w", spec.Name, res.Handle, err)
	}

	var inst *directory.Instance
	err = RetryWithBackoff(ctx, l.Retry, func() error {
		var err error
		inst, err = l.Dir.DescribeInstance(ctx, res.Handle)
		return err
	}, IsTransientError)
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %q (%s): %w", spec.Name, res.Handle, err)
	}
	if inst == nil || inst.PublicAddress == "" {
		var raw any
		if inst != nil {
			raw = inst.Raw
		}
		return nil, &AddressResolutionError{
			Identity:   string(spec.Name),
			InstanceID: res.Handle,
			Response:   raw,
		}
	}

	logging.Info("instance launched", "name", spec.Name, "id", res.Handle, "address", inst.PublicAddress)
	return &Launched{ID: res.Handle, Address: inst.PublicAddress, Created: true}, nil
}

func (l *Launcher) storage() directory.Storage {
	if l.Storage == (directory.Storage{}) {
		return DefaultStorage()
	}
	return l.Storage
}
