package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/providers/aws"
	"github.com/picklr-io/converge/providers/null"
)

// Provider names.
const (
	AWS  = "aws"
	Null = "null"
)

// Options carry what a provider needs to reach its backend.
type Options struct {
	Region    string
	AccessKey string
	SecretKey string
}

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]directory.Directory
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]directory.Directory),
	}
}

// Names returns the built-in provider names.
func Names() []string {
	names := []string{AWS, Null}
	sort.Strings(names)
	return names
}

// LoadProvider initializes and registers a provider. Loading an already
// registered provider is a no-op.
func (r *Registry) LoadProvider(ctx context.Context, name string, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p directory.Directory
	switch name {
	case AWS:
		a, err := aws.New(ctx, aws.Options{
			Region:    opts.Region,
			AccessKey: opts.AccessKey,
			SecretKey: opts.SecretKey,
		})
		if err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		p = a
	case Null:
		p = null.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (directory.Directory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
