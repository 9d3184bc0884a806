// Package reconcile makes provisioning re-runnable: every resource is looked
// up by its identity before anything is created, so a second run against the
// same account finds what the first one made and mutates nothing.
package reconcile

import (
	"context"
	"fmt"

	"github.com/picklr-io/converge/internal/logging"
)

// Operation is one check-then-create over a single resource kind.
//
// Usage:
//
//	res, err := (&Operation[directory.KeyPair]{
//	    Kind:     "keypair",
//	    Identity: "root",
//	    List:     dir.ListKeyPairs,
//	    Match:    func(k directory.KeyPair) bool { return k.Name == "root" },
//	    Handle:   func(k directory.KeyPair) string { return string(k.Name) },
//	    Create:   importRoot,
//	}).Execute(ctx)
type Operation[R any] struct {
	Kind     string
	Identity string

	// List returns every candidate of the kind. It must not mutate.
	List func(ctx context.Context) ([]R, error)

	// Match selects the resource carrying Identity.
	Match func(R) bool

	// Handle extracts the attribute dependents need; "" means missing.
	Handle func(R) string

	// Create makes the resource. It runs at most once per Execute.
	Create func(ctx context.Context) (R, error)

	// Retry applies to List only. Nil means DefaultRetryPolicy.
	Retry *RetryPolicy
}

// Result is the outcome of an Operation.
type Result[R any] struct {
	Resource R
	Handle   string
	Created  bool
}

// Execute finds the resource or creates it.
func (op *Operation[R]) Execute(ctx context.Context) (*Result[R], error) {
	var candidates []R
	err := RetryWithBackoff(ctx, op.Retry, func() error {
		var err error
		candidates, err = op.List(ctx)
		return err
	}, IsTransientError)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s resources: %w", op.Kind, err)
	}

	var found *R
	matches := 0
	for i := range candidates {
		if !op.Match(candidates[i]) {
			continue
		}
		matches++
		if found == nil {
			found = &candidates[i]
		}
	}

	if found != nil {
		if matches > 1 {
			logging.Warn("multiple resources share one identity, using the first",
				"kind", op.Kind, "name", op.Identity, "count", matches)
		}
		handle := op.Handle(*found)
		if handle == "" {
			return nil, &IntegrityError{
				Kind:     op.Kind,
				Identity: op.Identity,
				Reason:   "exists but has no identifier",
				Response: *found,
			}
		}
		logging.Info(op.Kind+" already exists", "name", op.Identity, "handle", handle)
		return &Result[R]{Resource: *found, Handle: handle}, nil
	}

	logging.Info(op.Kind+" not found, creating", "name", op.Identity)
	created, err := op.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %q: %w", op.Kind, op.Identity, err)
	}

	handle := op.Handle(created)
	if handle == "" {
		return nil, &ProvisioningError{
			Kind:     op.Kind,
			Identity: op.Identity,
			Reason:   "the response carries no identifier",
			Response: created,
		}
	}
	logging.Info(op.Kind+" created", "name", op.Identity, "handle", handle)
	return &Result[R]{Resource: created, Handle: handle, Created: true}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
