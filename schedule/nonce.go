package schedule

import (
	"context"
	"strings"
	"sync"

	"github.com/dealtimer/escrow-engine/core"
)

// NonceTracker owns the last-used deadline nonce per (dealId, kind). The
// Scheduling Engine bumps it on every reschedule and cancels the job at
// the previous nonce's identity before enqueuing the new one, keeping at
// most one pending deadline job per (dealId, kind) at a time.
type NonceTracker interface {
	Bump(ctx context.Context, dealID string, kind core.DeadlineKind) (next int, previous int, hadPrevious bool, err error)
	Current(ctx context.Context, dealID string, kind core.DeadlineKind) (nonce int, ok bool, err error)
}

// MemoryNonceTracker is an in-process, mutex-protected nonce counter. It
// is not durable: a process restart resets nonces to zero, which is safe
// because the engine's rescan derives the same logical deadline again and
// nonce 0 has no prior job to cancel.
type MemoryNonceTracker struct {
	mu     sync.Mutex
	nonces map[string]int
}

func NewMemoryNonceTracker() *MemoryNonceTracker {
	return &MemoryNonceTracker{nonces: make(map[string]int)}
}

func (t *MemoryNonceTracker) Bump(_ context.Context, dealID string, kind core.DeadlineKind) (int, int, bool, error) {
	key := strings.TrimSpace(dealID) + ":" + string(kind)
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, hadPrevious := t.nonces[key]
	next := previous
	if hadPrevious {
		next = previous + 1
	}
	t.nonces[key] = next
	return next, previous, hadPrevious, nil
}

func (t *MemoryNonceTracker) Current(_ context.Context, dealID string, kind core.DeadlineKind) (int, bool, error) {
	key := strings.TrimSpace(dealID) + ":" + string(kind)
	t.mu.Lock()
	defer t.mu.Unlock()
	nonce, ok := t.nonces[key]
	return nonce, ok, nil
}
