// Package ledger tracks consumed payment proofs. A record keyed by
// (network, nonce) moves from Pending to exactly one terminal state; terminal
// records are never resurrected, so a replayed proof resolves to its cached
// outcome without repeating the authoritative chain query.
package ledger

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a verification record.
type State string

const (
	// StatePending means verification is in flight.
	StatePending State = "pending"

	// StateSettled means the payment was confirmed and the protected
	// operation is permitted.
	StateSettled State = "settled"

	// StateRejected means the proof is permanently invalid.
	StateRejected State = "rejected"

	// StateExpired means the requirement's timeout elapsed before settlement.
	StateExpired State = "expired"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateRejected || s == StateExpired
}

// Key identifies a verification record.
type Key struct {
	// Network is the CAIP-2 network identifier of the proof.
	Network string

	// Nonce is the proof's scheme-defined uniqueness token.
	Nonce string
}

// Record is the lifecycle-tracked entry for a payment proof.
type Record struct {
	// Key identifies the proof.
	Key Key

	// State is the record's lifecycle state.
	State State

	// Payer is the address that made the payment, when known.
	Payer string

	// Transaction is the on-chain transaction hash, when one exists.
	Transaction string

	// Reason is a short code explaining a rejection.
	Reason string

	// UpdatedAt is when the record last changed state.
	UpdatedAt time.Time
}

// Outcome is the result of an authoritative verification check.
type Outcome struct {
	// Settled is true when the payment is confirmed valid.
	Settled bool

	// Payer is the paying address.
	Payer string

	// Transaction is the on-chain transaction hash, when one exists.
	Transaction string

	// Reason is a short code explaining why the proof was rejected.
	Reason string
}

// CheckFunc performs the authoritative chain-side verification of a proof.
// Returning an error marks the attempt transient: the record is discarded so
// a later attempt can re-verify. Returning an Outcome is final.
type CheckFunc func(ctx context.Context) (*Outcome, error)

// ErrTransient is returned to callers when the authoritative check could not
// complete. The record has been discarded and the proof remains verifiable.
var ErrTransient = errors.New("ledger: verification did not complete")

// Store is the verification-ledger contract. Implementations must guarantee
// that for a given key at most one caller at a time runs the check, that all
// concurrent callers for the key observe the same terminal record, and that
// terminal records survive for replay deduplication.
type Store interface {
	// Resolve returns the terminal record for key, running check under
	// per-key exclusion if no record exists yet. A check exceeding window
	// forces the record to StateExpired. A check failing with an error
	// leaves the key absent and returns an error wrapping ErrTransient;
	// cancellation of the caller's context behaves the same way for the
	// caller while leaving the key resumable.
	Resolve(ctx context.Context, key Key, window time.Duration, check CheckFunc) (*Record, error)

	// Get returns the cached record for key, if any.
	Get(ctx context.Context, key Key) (*Record, bool, error)

	// MarkDelivered records that the protected operation ran for a settled
	// key. It returns true exactly once per key: the call that performed
	// the first delivery.
	MarkDelivered(ctx context.Context, key Key) (bool, error)
}
