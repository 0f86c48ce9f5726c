package store

import (
	"context"
	"fmt"
)

const (
	// scanLockPrefix is the key prefix for per-job execution locks.
	scanLockPrefix = "scan:lock:"
	// scanLockTTLSeconds bounds how long a crashed worker can hold a lock.
	// Sized above the worst-case retry cycle (three timed-out 300s attempts
	// plus 60s+120s backoff). Expiry only readmits other workers; the
	// guarded status transition is what makes concurrent pickup harmless.
	scanLockTTLSeconds = 1200
)

func lockKey(scanID string) string {
	return scanLockPrefix + scanID
}

// AcquireScanLock attempts to take the execution lock for a scan job so that
// at most one worker runs it at a time. Returns false when another worker
// already holds the lock. The owner token identifies the acquiring worker.
func AcquireScanLock(ctx context.Context, s KVStore, scanID, owner string) (bool, error) {
	ok, err := s.SetValueNX(ctx, lockKey(scanID), owner, scanLockTTLSeconds)
	if err != nil {
		return false, fmt.Errorf("acquire lock for scan '%s': %w", scanID, err)
	}
	return ok, nil
}

// ReleaseScanLock drops the execution lock for a scan job. Releasing a lock
// that has already expired is not an error.
func ReleaseScanLock(ctx context.Context, s KVStore, scanID string) error {
	if err := s.DeleteValue(ctx, lockKey(scanID)); err != nil {
		return fmt.Errorf("release lock for scan '%s': %w", scanID, err)
	}
	return nil
}
