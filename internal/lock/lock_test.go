package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join(".converge", "example.com.lock"), Path("", "Example.com."))
	assert.Equal(t, filepath.Join("/tmp/x", "default.lock"), Path("/tmp/x", ""))
}

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "example.com")
	require.NoError(t, err)
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "pid=")

	_, err = Acquire(dir, "example.com")
	assert.ErrorIs(t, err, ErrLocked)

	// Other domains are independent.
	other, err := Acquire(dir, "example.org")
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, l.Release())
	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	// Releasing twice is harmless.
	assert.NoError(t, l.Release())

	again, err := Acquire(dir, "example.com")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquire_StaleLockReplaced(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "example.com")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0644))
	old := time.Now().Add(-StaleAfter - time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	l, err := Acquire(dir, "example.com")
	require.NoError(t, err)
	defer l.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "pid=1\n", string(data))
}
