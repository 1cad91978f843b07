package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// lockFilePermissions keeps the lock beside the ledger, owner-only.
const lockFilePermissions = 0o600

const lockDirPermissions = 0o700

// lockPollInterval is how often a waiting process retries the lock.
const lockPollInterval = 100 * time.Millisecond

// errLedgerBusy is returned when another process holds the ledger lock past
// the wait deadline.
var errLedgerBusy = errors.New("another romm-sync process is using the sync ledger")

// acquireLedgerLock takes an exclusive flock on path, waiting up to wait for
// a concurrent hook (e.g. post-exit still uploading when the next pre-launch
// starts) to finish. The current PID is written for diagnostics. The returned
// release function unlocks and closes the file; the file itself stays so the
// lock inode is stable across processes.
func acquireLedgerLock(ctx context.Context, path string, wait time.Duration) (release func(), err error) {
	if path == "" {
		return nil, errors.New("lock file path is empty, cannot determine state directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating lock directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(wait)

	for {
		lockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if lockErr == nil {
			break
		}

		if !errors.Is(lockErr, syscall.EWOULDBLOCK) || !time.Now().Before(deadline) {
			f.Close()

			return nil, fmt.Errorf("%w (could not lock %s)", errLedgerBusy, path)
		}

		select {
		case <-ctx.Done():
			f.Close()

			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck // closing releases it anyway
		f.Close()
	}, nil
}
