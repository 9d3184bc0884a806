// Package config loads run settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/picklr-io/converge/internal/ir"
	"github.com/picklr-io/converge/internal/provider"
	"github.com/picklr-io/converge/internal/reconcile"
	"golang.org/x/crypto/ssh"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

// Config holds every setting of a run.
type Config struct {
	// AWS credentials; required for the aws provider.
	AccessKey string `env:"AWS_ACCESS_KEY"`
	SecretKey string `env:"AWS_SECRET_KEY"`
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`

	Domain       string `env:"DOMAIN,required,notEmpty"`
	RootUsername string `env:"ROOT_USERNAME,required,notEmpty"`
	RootEmail    string `env:"ROOT_EMAIL,required,notEmpty"`
	RootPassword string `env:"ROOT_PASSWORD,required,notEmpty"`
	SSHPublicKey string `env:"ROOT_SSH_PUBKEY,required,notEmpty"`

	Provider         string        `env:"CONVERGE_PROVIDER" envDefault:"aws"`
	LogLevel         string        `env:"CONVERGE_LOG_LEVEL" envDefault:"warn"`
	Parallelism      int           `env:"CONVERGE_PARALLELISM" envDefault:"2"`
	LaunchTimeout    time.Duration `env:"CONVERGE_LAUNCH_TIMEOUT" envDefault:"5m"`
	ReadinessTimeout time.Duration `env:"CONVERGE_READINESS_TIMEOUT" envDefault:"10m"`
	StoppedInstances string        `env:"CONVERGE_STOPPED_INSTANCES" envDefault:"replace"`
	PlaybookDir      string        `env:"CONVERGE_PLAYBOOK_DIR" envDefault:"."`
	SSHUser          string        `env:"CONVERGE_SSH_USER" envDefault:"ec2-user"`
	AnsibleBinary    string        `env:"CONVERGE_ANSIBLE_BIN" envDefault:"ansible-playbook"`
	LockDir          string        `env:"CONVERGE_LOCK_DIR" envDefault:".converge"`
}

// Load reads envFile (if non-empty) under the process environment and
// parses the result. Process variables win over file entries.
func Load(envFile string) (*Config, error) {
	environ := env.ToMap(os.Environ())
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		for k, v := range fileVars {
			if _, set := environ[k]; !set {
				environ[k] = v
			}
		}
	}
	return Parse(environ)
}

// Parse builds a Config from an explicit environment map.
func Parse(environ map[string]string) (*Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// ResolveEnvFile returns the env file to load: the named one, or the
// default when it exists.
func ResolveEnvFile(named string) string {
	if named != "" {
		return named
	}
	if _, err := os.Stat(DefaultEnvFile); err == nil {
		return DefaultEnvFile
	}
	return ""
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(provider.Names(), c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(provider.Names(), ", ")))
	}
	if c.Provider == provider.AWS && (c.AccessKey == "" || c.SecretKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY and AWS_SECRET_KEY are required for the aws provider"))
	}

	domain := strings.TrimSuffix(strings.TrimSpace(c.Domain), ".")
	if !strings.Contains(domain, ".") || strings.ContainsAny(domain, " /") {
		errs = append(errs, fmt.Errorf("DOMAIN %q is not a domain name", c.Domain))
	}
	if _, err := mail.ParseAddress(c.RootEmail); err != nil {
		errs = append(errs, fmt.Errorf("ROOT_EMAIL: %w", err))
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.SSHPublicKey)); err != nil {
		errs = append(errs, fmt.Errorf("ROOT_SSH_PUBKEY: %w", err))
	}

	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("CONVERGE_PARALLELISM must be at least 1, got %d", c.Parallelism))
	}
	if c.LaunchTimeout <= 0 {
		errs = append(errs, errors.New("CONVERGE_LAUNCH_TIMEOUT must be positive"))
	}
	if c.ReadinessTimeout <= 0 {
		errs = append(errs, errors.New("CONVERGE_READINESS_TIMEOUT must be positive"))
	}
	if _, err := reconcile.ParseStoppedPolicy(c.StoppedInstances); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Params returns the values the default topology is built from.
func (c *Config) Params() ir.Params {
	return ir.Params{
		Domain:       c.Domain,
		RootUsername: c.RootUsername,
		RootEmail:    c.RootEmail,
		RootPassword: c.RootPassword,
		SSHPublicKey: strings.TrimSpace(c.SSHPublicKey),
	}
}

// StoppedPolicy returns the parsed stopped-instance policy.
func (c *Config) StoppedPolicy() reconcile.StoppedPolicy {
	p, err := reconcile.ParseStoppedPolicy(c.StoppedInstances)
	if err != nil {
		return reconcile.StoppedReplace
	}
	return p
}
