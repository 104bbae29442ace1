package exactv1

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

// Facilitator verifies legacy proofs by confirming the referenced transaction
// on chain. The (network, hash) pair keys the verification ledger, so a
// confirmed transfer settles exactly once.
type Facilitator struct {
	store  ledger.Store
	query  facilitator.ChainQuery
	server *Server
	window time.Duration
}

// FacilitatorConfig holds the dependencies for NewFacilitator.
type FacilitatorConfig struct {
	Store  ledger.Store
	Query  facilitator.ChainQuery
	Window time.Duration
}

// NewFacilitator creates a legacy facilitator.
func NewFacilitator(cfg FacilitatorConfig) (*Facilitator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("exactv1: ledger store is required")
	}
	if cfg.Query == nil {
		return nil, fmt.Errorf("exactv1: chain query is required")
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

// VerifyAndSettle resolves the proof to a terminal record.
func (f *Facilitator) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error) {
	legacy, err := payload.LegacyPayload()
	if err != nil {
		return nil, err
	}
	if legacy.Transaction == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", x402.ErrMalformedPayment)
	}

	network := payload.Network
	if network == "" {
		network = requirements.Network
	}
	key := ledger.Key{Network: network, Nonce: legacy.Transaction}

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
			return nil, err
		}
		if !result.Authorized {
			return &ledger.Outcome{Settled: false, Payer: result.Payer, Reason: result.Reason}, nil
		}
		return &ledger.Outcome{
			Settled:     true,
			Payer:       result.Payer,
			Transaction: legacy.Transaction,
		}, nil
	})
}
