package readiness

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ln, port
}

func TestAwaitReachable_OpenPort(t *testing.T) {
	ln, port := listen(t)
	defer ln.Close()

	p := &Poller{Interval: 10 * time.Millisecond}
	err := p.AwaitReachable(context.Background(), "127.0.0.1", port, 2*time.Second)
	assert.NoError(t, err)
}

func TestAwaitReachable_ClosedPortTimesOut(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())

	p := &Poller{Interval: 20 * time.Millisecond, DialTimeout: 50 * time.Millisecond}
	start := time.Now()
	err := p.AwaitReachable(context.Background(), "127.0.0.1", port, 200*time.Millisecond)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "127.0.0.1", te.Address)
	assert.Equal(t, port, te.Port)
	assert.GreaterOrEqual(t, te.Attempts, 1)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAwaitReachable_RetriesUntilAccepted(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	attempts := 0
	p := &Poller{
		Interval: time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			return client, nil
		},
	}

	err := p.AwaitReachable(context.Background(), "192.0.2.10", SSHPort, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestAwaitReachable_DialsTarget(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var got string
	p := &Poller{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		got = network + "://" + address
		return client, nil
	}}

	require.NoError(t, p.AwaitReachable(context.Background(), "192.0.2.10", SSHPort, time.Second))
	assert.Equal(t, "tcp://192.0.2.10:22", got)
}

func TestAwaitReachable_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Poller{
		Interval: time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}
	err := p.AwaitReachable(ctx, "192.0.2.10", SSHPort, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestAwaitReachable_EmptyAddress(t *testing.T) {
	err := NewPoller().AwaitReachable(context.Background(), "", SSHPort, time.Second)
	assert.Error(t, err)
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Address: "192.0.2.10", Port: 22, Attempts: 4, Timeout: time.Minute, Err: errors.New("connection refused")}
	assert.Equal(t, "192.0.2.10:22 not reachable after 1m0s (4 attempts): connection refused", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "connection refused")
}
