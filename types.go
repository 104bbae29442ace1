// Package x402 implements the core payment negotiation types for the x402
// protocol: a server advertises payment requirements via a 402 response, a
// client attaches an encoded payment proof to a retried request, and a
// facilitator verifies and settles that proof before the resource is released.
//
// The package carries both wire revisions of the protocol. VersionLegacy (1)
// proofs reference an already-executed on-chain transfer by transaction hash;
// VersionCurrent (2) proofs carry a signed authorization the facilitator
// executes on the payer's behalf. A requirement always names the version that
// produced it, and scheme implementations never cross-dispatch between the two.
package x402

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Protocol version constants.
const (
	// VersionLegacy is the original wire revision with transaction-hash proofs.
	VersionLegacy = 1

	// VersionCurrent is the current wire revision with signed-authorization proofs.
	VersionCurrent = 2
)

// SchemeExact is the identifier of the exact-amount payment scheme.
const SchemeExact = "exact"

// MimeTypeJSON is the content type advertised for protected JSON resources.
const MimeTypeJSON = "application/json"

// PaymentRequirements defines a single acceptable payment option.
// This is an element in the "accepts" array of PaymentRequired. A
// requirement is immutable once issued; a client must request a fresh one
// if MaxTimeoutSeconds elapses.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network is the blockchain network in CAIP-2 format (e.g., "eip155:8453").
	Network string `json:"network" validate:"required"`

	// MaxAmountRequired is the payment amount in atomic units, as a decimal
	// integer string. Amounts are never represented as floating point.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// Resource identifies the thing being purchased, typically the request URL.
	Resource string `json:"resource"`

	// Description is a human-readable description of the resource.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds is the validity window for this requirement.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset" validate:"required"`

	// X402Version is the protocol version that issued this requirement.
	// The top-level 402 body carries the authoritative value; it is stamped
	// onto each requirement when the body is parsed.
	X402Version int `json:"x402Version,omitempty"`

	// Extra contains scheme-specific additional data (EIP-3009 domain
	// parameters for EVM, feePayer for SVM).
	Extra map[string]interface{} `json:"extra,omitempty"`
}

var validate = validator.New()

// Validate checks the structural integrity of the requirement: required
// fields present, a recognized CAIP-2 network, and a positive atomic amount.
func (r *PaymentRequirements) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequirements, err)
	}
	if _, err := ParseFamily(r.Network); err != nil {
		return err
	}
	amount, err := ParseAtomicAmount(r.MaxAmountRequired)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, r.MaxAmountRequired)
	}
	return nil
}

// PaymentRequired is the 402 response body sent by resource servers.
type PaymentRequired struct {
	// X402Version is the protocol version of this challenge.
	X402Version int `json:"x402_version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the payment proof sent by clients to pay for resources.
// The Payload field is opaque to everything but the scheme that produced it;
// keeping it as raw JSON lets the codec round-trip proofs byte-for-byte.
type PaymentPayload struct {
	// X402Version is the protocol version the proof was constructed under.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the blockchain network in CAIP-2 format.
	Network string `json:"network"`

	// Nonce is the scheme-defined uniqueness token for this proof. A proof
	// is single-use: the (network, nonce) pair keys replay prevention.
	Nonce string `json:"nonce"`

	// Resource optionally echoes the requirement's resource identifier.
	Resource string `json:"resource,omitempty"`

	// Payload contains the scheme-specific signed payment data.
	Payload json.RawMessage `json:"payload"`
}

// SetPayload marshals a scheme-specific payload value into the proof.
func (p *PaymentPayload) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal scheme payload: %w", err)
	}
	p.Payload = data
	return nil
}

// EVMPayload decodes the proof's payload as EIP-3009 authorization data.
func (p *PaymentPayload) EVMPayload() (*EVMPayload, error) {
	var evm EVMPayload
	if err := json.Unmarshal(p.Payload, &evm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	return &evm, nil
}

// SVMPayload decodes the proof's payload as a partially signed Solana transaction.
func (p *PaymentPayload) SVMPayload() (*SVMPayload, error) {
	var svm SVMPayload
	if err := json.Unmarshal(p.Payload, &svm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	return &svm, nil
}

// LegacyPayload decodes the proof's payload as a version-1 transaction reference.
func (p *PaymentPayload) LegacyPayload() (*LegacyPayload, error) {
	var legacy LegacyPayload
	if err := json.Unmarshal(p.Payload, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	return &legacy, nil
}

// PayerHint returns the payer address the proof claims, without verifying
// it. For legacy proofs there is no claimed payer and the result is empty.
func (p *PaymentPayload) PayerHint() string {
	if evm, err := p.EVMPayload(); err == nil && evm.Authorization.From != "" {
		return evm.Authorization.From
	}
	return ""
}

// EVMPayload contains EIP-3009 authorization data for EVM payments.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature over the authorization.
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization contains EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units (wei).
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string preventing replay.
	Nonce string `json:"nonce"`
}

// SVMPayload contains a partially signed Solana transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded partially signed transaction. The
	// client signs with their key; the facilitator adds the fee payer signature.
	Transaction string `json:"transaction"`
}

// LegacyPayload is the version-1 proof body: a reference to an on-chain
// transfer the payer already executed.
type LegacyPayload struct {
	// Transaction is the hash of the executed transfer.
	Transaction string `json:"transaction"`
}

// VerifyResponse is returned by a facilitator's verify operation.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is returned by a facilitator's settle operation.
type SettleResponse struct {
	// Success indicates whether the payment was settled.
	Success bool `json:"success"`

	// ErrorReason provides a short error code if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash, when one exists.
	Transaction string `json:"transaction"`

	// Network is the network the payment was settled on (CAIP-2 format).
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// SupportedKind describes a payment type supported by a facilitator.
type SupportedKind struct {
	// X402Version is the protocol version supported.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the blockchain network in CAIP-2 format.
	Network string `json:"network"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is returned by a facilitator's supported query.
type SupportedResponse struct {
	// Kinds lists the payment types supported by the facilitator.
	Kinds []SupportedKind `json:"kinds"`
}

// TokenConfig defines a token a client-role scheme can pay with.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (Solana).
	Address string

	// Symbol is the token symbol (e.g., "USDC").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int
}

// ParseAtomicAmount parses a decimal integer string into atomic units.
// Returns ErrInvalidAmount for empty, malformed, or negative input.
func ParseAtomicAmount(amount string) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	return value, nil
}

// AmountToBigInt converts a decimal amount string to atomic units.
// For example, "0.01" with 6 decimals becomes 10000. Fractional remainders
// below the smallest unit are rejected rather than rounded.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	scaled := value.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	return scaled.BigInt(), nil
}

// BigIntToAmount converts atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}
