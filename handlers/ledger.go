package handlers

import (
	"context"
	"sync"
	"time"
)

// CommandLedger remembers recently seen (aggregateID, idempotencyKey)
// pairs so a retried command does not append its events twice. Entries
// are short-lived; the ledger is a dedupe window, not an audit log.
type CommandLedger interface {
	// Record marks the pair as seen. It returns false if the pair was
	// already recorded inside the window.
	Record(ctx context.Context, aggregateID, idempotencyKey string) (bool, error)
	// Forget releases a recorded pair. Handlers call it when a command
	// fails after recording, so the retry is not treated as a duplicate.
	Forget(ctx context.Context, aggregateID, idempotencyKey string) error
}

// MemoryLedger is an in-process CommandLedger used when Redis is
// disabled and in tests.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewMemoryLedger creates a ledger with the given dedupe window.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Record marks the pair as seen.
func (l *MemoryLedger) Record(ctx context.Context, aggregateID, idempotencyKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, seen := range l.entries {
		if now.Sub(seen) > l.ttl {
			delete(l.entries, key)
		}
	}

	key := aggregateID + ":" + idempotencyKey
	if _, ok := l.entries[key]; ok {
		return false, nil
	}

	l.entries[key] = now
	return true, nil
}

// Forget releases a recorded pair.
func (l *MemoryLedger) Forget(ctx context.Context, aggregateID, idempotencyKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, aggregateID+":"+idempotencyKey)
	return nil
}
