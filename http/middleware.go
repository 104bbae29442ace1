// Package http provides the resource-server payment gate, the auto-paying
// client transport, and an HTTP client for remote facilitator services.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
	"github.com/lumenpay/x402/http/internal/helpers"
	"github.com/lumenpay/x402/ledger"
	"github.com/lumenpay/x402/logger"
	"github.com/lumenpay/x402/metrics"
	"github.com/lumenpay/x402/scheme"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key holding the settled payment record.
const PaymentContextKey = contextKey("x402_payment")

// GateConfig configures a payment gate.
type GateConfig struct {
	// Requirements are the payment options the gate advertises in 402
	// challenges and accepts proofs against. Required unless Disabled.
	Requirements []x402.PaymentRequirements

	// Settler performs verification and settlement. Either a local
	// facilitator or an HTTP FacilitatorClient. Required unless Disabled.
	Settler facilitator.Settler

	// Registry resolves structural checkers for the fast-path acceptance
	// test. Nil means scheme.Default.
	Registry *scheme.Registry

	// Store tracks resource delivery per proof. Required unless
	// AllowMultiUse or Disabled. When the Settler is a local facilitator,
	// pass the same store.
	Store ledger.Store

	// AllowMultiUse lets a settled proof buy repeated deliveries instead of
	// exactly one.
	AllowMultiUse bool

	// Disabled turns the gate into a passthrough. Intended for development
	// environments.
	Disabled bool

	// Logger defaults to a no-op logger.
	Logger logger.Logger

	// Metrics defaults to a no-op recorder.
	Metrics metrics.Recorder
}

// NewPaymentGate returns middleware that requires payment before invoking the
// wrapped handler. Settlement happens strictly before the handler runs: a
// request only reaches it with a settled, previously undelivered proof.
func NewPaymentGate(cfg GateConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Disabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if len(cfg.Requirements) == 0 {
		return nil, fmt.Errorf("x402http: at least one payment requirement is required")
	}
	for i := range cfg.Requirements {
		if err := cfg.Requirements[i].Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Settler == nil {
		return nil, fmt.Errorf("x402http: settler is required")
	}
	if cfg.Store == nil && !cfg.AllowMultiUse {
		return nil, fmt.Errorf("x402http: ledger store is required for single-use proofs")
	}
	if cfg.Registry == nil {
		cfg.Registry = scheme.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}

	g := &gate{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}, nil
}

type gate struct {
	cfg GateConfig
}

func (g *gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	log := g.cfg.Logger
	requirements := g.requirementsFor(r)

	payment, err := helpers.ParsePaymentHeader(r)
	if err != nil {
		if errors.Is(err, helpers.ErrMissingHeader) {
			log.Debug("no payment header", logger.String("path", r.URL.Path))
			g.challenge(w, requirements, "Payment required", "", "")
			return
		}
		log.Warn("invalid payment header", logger.Error(err))
		g.challenge(w, requirements, err.Error(), "", "")
		return
	}

	requirement := g.match(payment, requirements)
	if requirement == nil {
		log.Warn("no matching requirement",
			logger.String("scheme", payment.Scheme),
			logger.String("network", payment.Network),
			logger.Int("version", payment.X402Version))
		g.challenge(w, requirements, "No matching payment requirement", payment.Network, payment.Scheme)
		return
	}

	// Bare legacy proofs carry no network; the matched requirement
	// supplies it before any keyed operation runs.
	if payment.Network == "" {
		payment.Network = requirement.Network
	}

	srv, err := g.cfg.Registry.Server(payment.Network, payment.Scheme, payment.X402Version)
	if err != nil {
		log.Warn("unresolvable scheme", logger.Error(err))
		g.reject(w, requirements, "Unsupported payment scheme", payment, "accept")
		return
	}
	if !srv.Accept(requirement, payment) {
		log.Warn("proof failed structural acceptance",
			logger.String("network", payment.Network),
			logger.String("nonce", payment.Nonce))
		g.reject(w, requirements, "Payment does not satisfy requirements", payment, "accept")
		return
	}

	start := time.Now()
	record, err := g.cfg.Settler.VerifyAndSettle(r.Context(), payment, requirement)
	if err != nil {
		log.Error("verification did not complete", logger.Error(err))
		http.Error(w, "Payment verification unavailable", http.StatusServiceUnavailable)
		return
	}

	switch record.State {
	case ledger.StateSettled:
	case ledger.StateExpired:
		log.Warn("verification window expired", logger.String("nonce", payment.Nonce))
		g.reject(w, requirements, "Payment verification expired", payment, "expired")
		return
	default:
		log.Warn("payment rejected",
			logger.String("nonce", payment.Nonce),
			logger.String("reason", record.Reason))
		g.reject(w, requirements, record.Reason, payment, "verify")
		return
	}

	if !g.cfg.AllowMultiUse {
		first, err := g.claimDelivery(r.Context(), record)
		if err != nil {
			log.Error("delivery claim failed", logger.Error(err))
			http.Error(w, "Payment verification unavailable", http.StatusServiceUnavailable)
			return
		}
		if !first {
			log.Warn("consumed proof replayed", logger.String("nonce", payment.Nonce))
			g.cfg.Metrics.ProofReplayed(payment.Network, payment.Scheme)
			g.challenge(w, requirements, x402.ErrPaymentConsumed.Error(), payment.Network, payment.Scheme)
			return
		}
	}

	g.cfg.Metrics.PaymentSettled(payment.Network, payment.Scheme, time.Since(start))
	log.Info("payment settled",
		logger.String("payer", record.Payer),
		logger.String("transaction", record.Transaction),
		logger.Duration("took", time.Since(start)))

	settlement := &x402.SettleResponse{
		Success:     true,
		Transaction: record.Transaction,
		Network:     payment.Network,
		Payer:       record.Payer,
	}
	if err := helpers.AddPaymentResponseHeader(w, settlement); err != nil {
		log.Warn("failed to add settlement header", logger.Error(err))
	}

	ctx := context.WithValue(r.Context(), PaymentContextKey, record)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// requirementsFor stamps the request URL onto requirements that carry no
// resource of their own.
func (g *gate) requirementsFor(r *http.Request) []x402.PaymentRequirements {
	out := make([]x402.PaymentRequirements, len(g.cfg.Requirements))
	copy(out, g.cfg.Requirements)
	url := helpers.BuildResourceURL(r)
	for i := range out {
		if out[i].Resource == "" {
			out[i].Resource = url
		}
	}
	return out
}

// match finds the advertised requirement the proof targets. Scheme, network
// and protocol version must agree exactly; a versionless requirement is a
// current-version requirement.
func (g *gate) match(payment *x402.PaymentPayload, requirements []x402.PaymentRequirements) *x402.PaymentRequirements {
	for i := range requirements {
		req := &requirements[i]
		if req.Scheme != payment.Scheme {
			continue
		}
		if payment.Network != "" && payment.Network != req.Network {
			continue
		}
		version := req.X402Version
		if version == 0 {
			version = x402.VersionCurrent
		}
		if version != payment.X402Version {
			continue
		}
		return req
	}
	return nil
}

// claimDelivery records the one allowed delivery for a settled proof. The
// record is first materialized locally so gates fronting a remote facilitator
// track delivery in their own store.
func (g *gate) claimDelivery(ctx context.Context, record *ledger.Record) (bool, error) {
	outcome := &ledger.Outcome{
		Settled:     true,
		Payer:       record.Payer,
		Transaction: record.Transaction,
	}
	if _, err := g.cfg.Store.Resolve(ctx, record.Key, time.Second, func(context.Context) (*ledger.Outcome, error) {
		return outcome, nil
	}); err != nil {
		return false, err
	}
	return g.cfg.Store.MarkDelivered(ctx, record.Key)
}

func (g *gate) challenge(w http.ResponseWriter, requirements []x402.PaymentRequirements, msg, network, schemeName string) {
	g.cfg.Metrics.PaymentRequired(network, schemeName)
	if err := helpers.SendPaymentRequired(w, requirements, msg); err != nil {
		g.cfg.Logger.Error("failed to send payment required response", logger.Error(err))
	}
}

func (g *gate) reject(w http.ResponseWriter, requirements []x402.PaymentRequirements, msg string, payment *x402.PaymentPayload, stage string) {
	g.cfg.Metrics.PaymentRejected(payment.Network, payment.Scheme, stage)
	if msg == "" {
		msg = "Payment rejected"
	}
	if err := helpers.SendPaymentRequired(w, requirements, msg); err != nil {
		g.cfg.Logger.Error("failed to send payment required response", logger.Error(err))
	}
}

// PaymentFromContext extracts the settled payment record placed in the
// request context by the gate. Returns nil when the request was not paid,
// for example when the gate is disabled.
func PaymentFromContext(ctx context.Context) *ledger.Record {
	record, _ := ctx.Value(PaymentContextKey).(*ledger.Record)
	return record
}
