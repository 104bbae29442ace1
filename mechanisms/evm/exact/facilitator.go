package exact

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
	"github.com/lumenpay/x402/ledger"
)

// DefaultVerificationWindow bounds a single verification attempt when the
// requirement does not carry its own timeout.
const DefaultVerificationWindow = 60 * time.Second

// Facilitator verifies and settles EVM exact proofs. Every proof passes
// through the verification ledger, so a nonce reaches a terminal state at
// most once regardless of concurrent or repeated presentation.
type Facilitator struct {
	store  ledger.Store
	query  facilitator.ChainQuery
	server *Server
	window time.Duration
}

// FacilitatorConfig holds the dependencies for NewFacilitator.
type FacilitatorConfig struct {
	// Store is the verification ledger. Required.
	Store ledger.Store

	// Query answers authorization questions against the chain. Required.
	Query facilitator.ChainQuery

	// Window bounds a verification attempt. Zero means
	// DefaultVerificationWindow.
	Window time.Duration
}

// NewFacilitator creates an EVM exact facilitator.
func NewFacilitator(cfg FacilitatorConfig) (*Facilitator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("exact: ledger store is required")
	}
	if cfg.Query == nil {
		return nil, fmt.Errorf("exact: chain query is required")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultVerificationWindow
	}
	return &Facilitator{
		store:  cfg.Store,
		query:  cfg.Query,
		server: NewServer(),
		window: window,
	}, nil
}

// VerifyAndSettle resolves the proof to a terminal record. Structural
// failures and authoritative chain answers consume the nonce; transient
// infrastructure failures return an error and leave the proof retryable.
func (f *Facilitator) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error) {
	if payload.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", x402.ErrMalformedPayment)
	}
	key := ledger.Key{Network: payload.Network, Nonce: payload.Nonce}

	window := f.window
	if requirements.MaxTimeoutSeconds > 0 {
		reqWindow := time.Duration(requirements.MaxTimeoutSeconds) * time.Second
		if reqWindow < window {
			window = reqWindow
		}
	}

	return f.store.Resolve(ctx, key, window, func(ctx context.Context) (*ledger.Outcome, error) {
		if !f.server.Accept(requirements, payload) {
			return &ledger.Outcome{Settled: false, Reason: "payload does not satisfy requirement"}, nil
		}

		result, err := f.query.CheckAuthorization(ctx, payload, requirements)
		if err != nil {
			// Transient or not, an error means no authoritative answer
			// was obtained; the ledger decides resumability.
			return nil, err
		}
		if !result.Authorized {
			return &ledger.Outcome{Settled: false, Payer: result.Payer, Reason: result.Reason}, nil
		}
		return &ledger.Outcome{
			Settled:     true,
			Payer:       result.Payer,
			Transaction: result.Transaction,
		}, nil
	})
}
