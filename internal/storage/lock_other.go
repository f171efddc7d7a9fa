//go:build !unix

package storage

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const lockPollInterval = 20 * time.Millisecond

// fileLock falls back to exclusive creation of the lock file where flock is unavailable.
type fileLock struct {
	path string
	f    *os.File
}

func acquireLock(path string, timeout time.Duration) (*fileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return &fileLock{path: path, f: f}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held longer than %s", ErrLockTimeout, path, timeout)
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *fileLock) Release() error {
	_ = l.f.Close()
	return os.Remove(l.path)
}

// syncDir is a no-op where directories cannot be opened for fsync.
func syncDir(string, fileOps) error {
	return nil
}
