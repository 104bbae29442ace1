package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store backed by a map with per-key wait channels.
// Suitable for single-process deployments; use the Redis store when several
// gate processes share a facilitator.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]*memEntry
}

type memEntry struct {
	// done is closed when the owning Resolve call finishes, terminal or not.
	done      chan struct{}
	rec       *Record // non-nil only once terminal
	delivered bool
}

// NewMemory creates an empty in-memory verification ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*memEntry)}
}

// Resolve implements Store. The first caller for an unresolved key becomes
// the owner and runs check; concurrent callers wait on the owner's entry and
// receive the same terminal record.
func (m *Memory) Resolve(ctx context.Context, key Key, window time.Duration, check CheckFunc) (*Record, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &memEntry{done: make(chan struct{})}
		m.entries[key] = e
		m.mu.Unlock()
		return m.runCheck(ctx, key, e, window, check)
	}
	if e.rec != nil {
		rec := *e.rec
		m.mu.Unlock()
		return &rec, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.rec == nil {
		// The owner hit a transient failure and discarded the key.
		return nil, fmt.Errorf("%w: concurrent verification aborted", ErrTransient)
	}
	rec := *e.rec
	return &rec, nil
}

// runCheck performs the authoritative check as the owner of e.
func (m *Memory) runCheck(ctx context.Context, key Key, e *memEntry, window time.Duration, check CheckFunc) (*Record, error) {
	tctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	outcome, err := check(tctx)

	m.mu.Lock()
	defer func() {
		close(e.done)
		m.mu.Unlock()
	}()

	switch {
	case err == nil:
		rec := &Record{
			Key:         key,
			Payer:       outcome.Payer,
			Transaction: outcome.Transaction,
			Reason:      outcome.Reason,
			UpdatedAt:   time.Now(),
		}
		if outcome.Settled {
			rec.State = StateSettled
		} else {
			rec.State = StateRejected
		}
		e.rec = rec
		out := *rec
		return &out, nil

	case ctx.Err() != nil:
		// The caller abandoned the request before a terminal state. Leave
		// the key resumable for a later attempt with the same nonce.
		delete(m.entries, key)
		return nil, ctx.Err()

	case errors.Is(err, context.DeadlineExceeded):
		// The verification window elapsed without a terminal state.
		rec := &Record{Key: key, State: StateExpired, UpdatedAt: time.Now()}
		e.rec = rec
		out := *rec
		return &out, nil

	default:
		// Transient chain-query failure: discard so a retry can re-verify.
		delete(m.entries, key)
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key Key) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.rec == nil {
		return &Record{Key: key, State: StatePending}, true, nil
	}
	rec := *e.rec
	return &rec, true, nil
}

// MarkDelivered implements Store.
func (m *Memory) MarkDelivered(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.rec == nil || e.rec.State != StateSettled {
		return false, fmt.Errorf("ledger: no settled record for %s/%s", key.Network, key.Nonce)
	}
	if e.delivered {
		return false, nil
	}
	e.delivered = true
	return true, nil
}
