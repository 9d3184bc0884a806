// Package readiness waits for hosts to accept TCP connections.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/picklr-io/converge/internal/logging"
)

const (
	// SSHPort is the port probed before configuration.
	SSHPort = 22
	// DefaultTimeout bounds a single host's wait.
	DefaultTimeout = 10 * time.Minute
	// DefaultInterval is the pause between connection attempts.
	DefaultInterval = time.Second
	// DefaultDialTimeout bounds one connection attempt.
	DefaultDialTimeout = 2 * time.Second
)

// Prober waits until address:port accepts a connection.
type Prober interface {
	AwaitReachable(ctx context.Context, address string, port int, timeout time.Duration) error
}

// DialFunc opens a connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TimeoutError means a host never accepted a connection within the deadline.
type TimeoutError struct {
	Address  string
	Port     int
	Attempts int
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s not reachable after %s (%d attempts)",
		net.JoinHostPort(e.Address, strconv.Itoa(e.Port)), e.Timeout, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Poller dials at a constant interval until a connection succeeds.
type Poller struct {
	Interval    time.Duration
	DialTimeout time.Duration
	Dial        DialFunc
}

var _ Prober = (*Poller)(nil)

// NewPoller returns a Poller with the default interval and dialer.
func NewPoller() *Poller {
	return &Poller{Interval: DefaultInterval, DialTimeout: DefaultDialTimeout}
}

// AwaitReachable dials address:port immediately and then every Interval
// until a connection is accepted, timeout elapses or ctx is cancelled.
func (p *Poller) AwaitReachable(ctx context.Context, address string, port int, timeout time.Duration) error {
	if address == "" {
		return errors.New("readiness: empty address")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dialTimeout := p.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dial := p.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	target := net.JoinHostPort(address, strconv.Itoa(port))
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		attempts int
		lastErr  error
	)
	op := func() error {
		attempts++
		dctx, dcancel := context.WithTimeout(waitCtx, dialTimeout)
		defer dcancel()
		conn, err := dial(dctx, "tcp", target)
		if err != nil {
			lastErr = err
			logging.Debug("host not reachable yet", "target", target, "attempt", attempts, "error", err)
			return err
		}
		_ = conn.Close()
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx))
	if err == nil {
		logging.Info("host reachable", "target", target, "attempts", attempts)
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for %s: %w", target, ctx.Err())
	}
	return &TimeoutError{
		Address:  address,
		Port:     port,
		Attempts: attempts,
		Timeout:  timeout,
		Err:      lastErr,
	}
}
