// Package exactv1 implements the legacy revision of the exact-amount scheme
// for EVM chains. A version 1 proof is a reference to a transfer the payer
// already executed on chain; the facilitator confirms the referenced
// transaction paid the required amount to the required recipient.
//
// The transaction hash doubles as the proof nonce, so a hash buys exactly one
// resource delivery no matter how often it is presented.
package exactv1

import (
	"context"
	"fmt"
	"regexp"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/scheme"
)

var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Payer executes an on-chain transfer satisfying a requirement and returns
// the transaction hash once it is submitted.
type Payer interface {
	Pay(ctx context.Context, requirements *x402.PaymentRequirements) (string, error)
}

// Client constructs legacy proofs by delegating the actual transfer to a
// Payer.
type Client struct {
	network string
	payer   Payer
}

// NewClient creates a legacy client for one network.
func NewClient(network string, payer Payer) (*Client, error) {
	if _, err := x402.ParseFamily(network); err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, fmt.Errorf("exactv1: payer is required")
	}
	return &Client{network: network, payer: payer}, nil
}

// Construct executes the payment and wraps the resulting transaction hash as
// a version 1 proof.
func (c *Client) Construct(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if requirements.Scheme != x402.SchemeExact || requirements.Network != c.network {
		return nil, fmt.Errorf("%w: %s/%s", x402.ErrUnsupportedRequirement,
			requirements.Scheme, requirements.Network)
	}

	txHash, err := c.payer.Pay(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}
	if !txHashRegex.MatchString(txHash) {
		return nil, fmt.Errorf("%w: payer returned malformed hash %q", x402.ErrSigningFailed, txHash)
	}

	payload := &x402.PaymentPayload{
		X402Version: x402.VersionLegacy,
		Scheme:      x402.SchemeExact,
		Network:     c.network,
		Nonce:       txHash,
		Resource:    requirements.Resource,
	}
	if err := payload.SetPayload(x402.LegacyPayload{Transaction: txHash}); err != nil {
		return nil, err
	}
	return payload, nil
}

// Server is the structural checker for legacy proofs.
type Server struct{}

// NewServer creates the structural checker.
func NewServer() *Server {
	return &Server{}
}

// Accept reports whether the payload is a well-formed legacy proof for the
// requirement. Whether the referenced transaction actually paid is the
// facilitator's question.
func (s *Server) Accept(requirements *x402.PaymentRequirements, payload *x402.PaymentPayload) bool {
	if payload.X402Version != x402.VersionLegacy {
		return false
	}
	if payload.Scheme != requirements.Scheme {
		return false
	}
	// Bare-hash proofs decoded from the wire carry no network of their own;
	// the requirement supplies it.
	if payload.Network != "" && payload.Network != requirements.Network {
		return false
	}
	if requirements.Resource != "" && payload.Resource != "" && payload.Resource != requirements.Resource {
		return false
	}

	legacy, err := payload.LegacyPayload()
	if err != nil {
		return false
	}
	if !txHashRegex.MatchString(legacy.Transaction) {
		return false
	}
	return payload.Nonce == "" || payload.Nonce == legacy.Transaction
}

// RegisterClient registers a legacy client in the given registry, or the
// default registry when nil.
func RegisterClient(r *scheme.Registry, client *Client) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterClient(x402.FamilyEVM, x402.SchemeExact, x402.VersionLegacy, client)
}

// RegisterServer registers the legacy structural checker.
func RegisterServer(r *scheme.Registry) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterServer(x402.FamilyEVM, x402.SchemeExact, x402.VersionLegacy, NewServer())
}

// RegisterFacilitator registers a legacy facilitator.
func RegisterFacilitator(r *scheme.Registry, f *Facilitator) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterFacilitator(x402.FamilyEVM, x402.SchemeExact, x402.VersionLegacy, f)
}
