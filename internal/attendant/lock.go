package attendant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lojaortopedic/atendente/internal/kvstore"
	"github.com/lojaortopedic/atendente/internal/metrics"
)

const (
	// DefaultLockTTL bounds how long a lock entry survives a crashed holder.
	DefaultLockTTL = 5 * time.Minute
	// DefaultLockStale is the age after which a held lock counts as abandoned.
	DefaultLockStale = 2 * time.Minute

	pendingRunPrefix = "pending-"
)

// LockEntry is the value stored under a thread's run lock key.
type LockEntry struct {
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// HasRun reports whether the entry carries a backend run id, as opposed to
// the placeholder written before the run was started.
func (e LockEntry) HasRun() bool {
	return e.RunID != "" && !strings.HasPrefix(e.RunID, pendingRunPrefix)
}

// RunLock allows one run per thread at a time, across processes, through
// conditional writes in the key-value store.
//
// A lock older than the staleness threshold is taken over on the next
// acquire attempt. If the holder was merely slow rather than dead, two runs
// may then be driven for the same thread. That duplicate-processing risk is
// accepted so a crashed process cannot wedge a conversation.
type RunLock struct {
	store kvstore.Store
	ttl   time.Duration
	stale time.Duration
	now   func() time.Time
}

// RunLockOpts holds parameters for creating a RunLock.
type RunLockOpts struct {
	Store      kvstore.Store
	TTL        time.Duration    // defaults to DefaultLockTTL
	StaleAfter time.Duration    // defaults to DefaultLockStale
	Now        func() time.Time // defaults to time.Now
}

// NewRunLock creates a RunLock.
func NewRunLock(opts RunLockOpts) (*RunLock, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("attendant: lock: store is required")
	}
	l := &RunLock{store: opts.Store, ttl: opts.TTL, stale: opts.StaleAfter, now: opts.Now}
	if l.ttl <= 0 {
		l.ttl = DefaultLockTTL
	}
	if l.stale <= 0 {
		l.stale = DefaultLockStale
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

func (l *RunLock) encode(e LockEntry) string {
	data, _ := json.Marshal(e)
	return string(data)
}

// TryAcquire takes the lock for threadID and reports whether it succeeded.
// An existing entry older than the staleness threshold, or one that cannot
// be decoded, is overwritten.
func (l *RunLock) TryAcquire(ctx context.Context, threadID string) (bool, error) {
	key := kvstore.RunLockKey(threadID)
	value := l.encode(LockEntry{RunID: pendingRunPrefix + uuid.NewString(), AcquiredAt: l.now().UTC()})

	ok, err := l.store.SetNX(ctx, key, value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("attendant: acquire lock %s: %w", threadID, err)
	}
	if ok {
		return true, nil
	}

	current, err := l.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		// Released between the two calls.
		ok, err = l.store.SetNX(ctx, key, value, l.ttl)
		if err != nil {
			return false, fmt.Errorf("attendant: acquire lock %s: %w", threadID, err)
		}
		return ok, nil
	}
	if err != nil {
		return false, fmt.Errorf("attendant: acquire lock %s: %w", threadID, err)
	}

	var held LockEntry
	if err := json.Unmarshal([]byte(current), &held); err == nil && l.now().Sub(held.AcquiredAt) < l.stale {
		return false, nil
	}

	swapped, err := l.store.CompareAndSwap(ctx, key, current, value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("attendant: override stale lock %s: %w", threadID, err)
	}
	if swapped {
		metrics.StaleLocks.Inc()
		log.Printf("attendant: lock: overrode stale lock on %s (run %s, acquired %s)",
			threadID, held.RunID, held.AcquiredAt.Format(time.RFC3339))
	}
	return swapped, nil
}

// Release deletes the lock unconditionally.
func (l *RunLock) Release(ctx context.Context, threadID string) error {
	if err := l.store.Del(ctx, kvstore.RunLockKey(threadID)); err != nil {
		return fmt.Errorf("attendant: release lock %s: %w", threadID, err)
	}
	return nil
}

// IsLocked reports whether a lock entry exists for threadID.
func (l *RunLock) IsLocked(ctx context.Context, threadID string) (bool, error) {
	_, err := l.store.Get(ctx, kvstore.RunLockKey(threadID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attendant: check lock %s: %w", threadID, err)
	}
	return true, nil
}

// Holder returns the current lock entry, or kvstore.ErrNotFound.
func (l *RunLock) Holder(ctx context.Context, threadID string) (*LockEntry, error) {
	var e LockEntry
	if err := kvstore.GetJSON(ctx, l.store, kvstore.RunLockKey(threadID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SetRunID records the backend run id in the held lock so a reset can
// cancel the run. It does nothing if the lock changed hands meanwhile.
func (l *RunLock) SetRunID(ctx context.Context, threadID, runID string) error {
	key := kvstore.RunLockKey(threadID)
	current, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("attendant: set run id %s: %w", threadID, err)
	}
	var e LockEntry
	if err := json.Unmarshal([]byte(current), &e); err != nil {
		return fmt.Errorf("attendant: set run id %s: decode: %w", threadID, err)
	}
	e.RunID = runID
	if _, err := l.store.CompareAndSwap(ctx, key, current, l.encode(e), l.ttl); err != nil {
		return fmt.Errorf("attendant: set run id %s: %w", threadID, err)
	}
	return nil
}
