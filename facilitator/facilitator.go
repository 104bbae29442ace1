// Package facilitator defines the verification and settlement contracts and a
// local, in-process facilitator that drives scheme implementations directly.
//
// Resource servers that trust a remote facilitator service use the HTTP client
// in the http package instead; both satisfy the same Settler contract, so the
// payment gate does not care which one it is given.
package facilitator

import (
	"context"
	"errors"
	"math/big"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/ledger"
	"github.com/lumenpay/x402/scheme"
)

// ErrTransientFailure marks a verification error as retryable. Chain query
// implementations wrap RPC and network errors with it so the ledger leaves
// the proof unconsumed.
var ErrTransientFailure = errors.New("facilitator: transient failure")

// Settler is the single operation the payment gate needs: verify a proof and,
// if valid, settle it. The returned record is terminal and its nonce is
// consumed regardless of outcome. A non-nil error means verification did not
// complete and the proof may be retried.
type Settler interface {
	VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error)
}

// Interface is the full facilitator service surface, mirroring the wire API a
// remote facilitator exposes.
type Interface interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error)
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// QueryResult is the authoritative answer a chain query returns for a proof.
type QueryResult struct {
	// Authorized reports whether the proof is valid on chain: signature
	// recovers to the payer, the authorization is unused, and funds cover
	// the transfer.
	Authorized bool
	// Amount is the value the proof carries, in atomic units.
	Amount *big.Int
	// Payer is the proven payer address.
	Payer string
	// Transaction is the settlement transaction identifier, when one exists.
	Transaction string
	// Reason explains a negative answer.
	Reason string
}

// ChainQuery answers authorization questions against a specific chain.
// Implementations must wrap infrastructure errors with ErrTransientFailure;
// any other error is treated as an authoritative rejection.
type ChainQuery interface {
	CheckAuthorization(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*QueryResult, error)
}

// Local is an in-process facilitator backed by a scheme registry. Verify runs
// the structural acceptance check only; Settle runs the full authoritative
// path through the registered facilitator scheme.
type Local struct {
	registry *scheme.Registry
}

// NewLocal creates a facilitator over the given registry. Pass
// scheme.Default to use the process-wide registrations.
func NewLocal(registry *scheme.Registry) *Local {
	if registry == nil {
		registry = scheme.Default
	}
	return &Local{registry: registry}
}

// VerifyAndSettle implements Settler by delegating to the facilitator scheme
// registered for the payload's network, scheme and version.
func (l *Local) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error) {
	impl, err := l.registry.Facilitator(payload.Network, payload.Scheme, payload.X402Version)
	if err != nil {
		return nil, err
	}
	return impl.VerifyAndSettle(ctx, payload, requirements)
}

// Verify implements Interface. It is a structural check and never consumes
// the proof.
func (l *Local) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	srv, err := l.registry.Server(payload.Network, payload.Scheme, payload.X402Version)
	if err != nil {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: err.Error()}, nil
	}
	if !srv.Accept(requirements, payload) {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "payload does not satisfy requirement"}, nil
	}
	return &x402.VerifyResponse{IsValid: true, Payer: payload.PayerHint()}, nil
}

// Settle implements Interface.
func (l *Local) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	rec, err := l.VerifyAndSettle(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	resp := &x402.SettleResponse{
		Success:     rec.State == ledger.StateSettled,
		Transaction: rec.Transaction,
		Network:     payload.Network,
		Payer:       rec.Payer,
	}
	if !resp.Success {
		resp.ErrorReason = rec.Reason
		if resp.ErrorReason == "" {
			resp.ErrorReason = string(rec.State)
		}
	}
	return resp, nil
}

// Supported implements Interface by listing the facilitator-role
// registrations.
func (l *Local) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	var kinds []x402.SupportedKind
	for _, key := range l.registry.Keys() {
		if key.Role != scheme.RoleFacilitator {
			continue
		}
		for _, network := range x402.NetworksForFamily(key.Family) {
			kinds = append(kinds, x402.SupportedKind{
				X402Version: key.Version,
				Scheme:      key.Scheme,
				Network:     network,
			})
		}
	}
	return &x402.SupportedResponse{Kinds: kinds}, nil
}
