package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// IntegrityError means a resource was found but lacks an attribute the run
// depends on. The remote state disagrees with our assumptions; retrying
// will not help.
type IntegrityError struct {
	Kind     string
	Identity string
	Reason   string
	Response any
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.Identity, e.Reason)
}

// ProvisioningError means a create call succeeded but its response cannot
// be used.
type ProvisioningError struct {
	Kind     string
	Identity string
	Reason   string
	Response any
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s %q created but %s", e.Kind, e.Identity, e.Reason)
}

// LaunchTimeoutError means an instance did not reach running in time. A
// later run rediscovers it once it is running.
type LaunchTimeoutError struct {
	Identity   string
	InstanceID string
	Timeout    time.Duration
	Err        error
}

func (e *LaunchTimeoutError) Error() string {
	return fmt.Sprintf("instance %q (%s) not running after %s", e.Identity, e.InstanceID, e.Timeout)
}

func (e *LaunchTimeoutError) Unwrap() error { return e.Err }

// AddressResolutionError means a running instance has no public address.
type AddressResolutionError struct {
	Identity   string
	InstanceID string
	Response   any
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("instance %q (%s) has no public address", e.Identity, e.InstanceID)
}

// ResponseOf returns the raw upstream object attached to err, if any.
func ResponseOf(err error) (any, bool) {
	var ie *IntegrityError
	if errors.As(err, &ie) && ie.Response != nil {
		return ie.Response, true
	}
	var pe *ProvisioningError
	if errors.As(err, &pe) && pe.Response != nil {
		return pe.Response, true
	}
	var ae *AddressResolutionError
	if errors.As(err, &ae) && ae.Response != nil {
		return ae.Response, true
	}
	return nil, false
}
