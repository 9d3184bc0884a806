// Package lock keeps one apply per domain on a workstation.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultDir is where lock files live, relative to the working directory.
const DefaultDir = ".converge"

// StaleAfter is the age past which a lock is assumed abandoned.
const StaleAfter = 30 * time.Minute

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// Lock is a held run lock.
type Lock struct {
	path string
}

// Path returns the lock file path for domain under dir.
func Path(dir, domain string) string {
	if dir == "" {
		dir = DefaultDir
	}
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	name = strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
	if name == "" {
		name = "default"
	}
	return filepath.Join(dir, name+".lock")
}

// Acquire takes the lock for domain. A lock file older than StaleAfter is
// replaced.
func Acquire(dir, domain string) (*Lock, error) {
	lockPath := Path(dir, domain)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > StaleAfter {
		_ = os.Remove(lockPath)
	}

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (lock file: %s). If this is an error, remove the lock file manually", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: lockPath}, nil
}

// Path returns the file backing the lock.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
