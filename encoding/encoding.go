// Package encoding provides the transport codec for x402 payment data.
// Proofs, settlement records, and requirement bodies travel as base64-encoded
// JSON in single header/field values; the codec is stateless and rejects
// malformed input with errors wrapping x402.ErrMalformedPayment.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/lumenpay/x402"
)

// txHashRegex matches a bare transaction-hash proof: the version-1 legacy
// form in which the payer executed the transfer themselves and presents the
// hash as the entire proof.
var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-Payment header.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a transport string back into a PaymentPayload.
//
// Two forms are accepted: the canonical base64-encoded JSON proof, and the
// legacy bare transaction hash ("0x" + 64 hex), which decodes into a
// version-1 exact-scheme proof whose nonce is the hash itself. Anything else
// returns an error wrapping x402.ErrMalformedPayment.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	if encoded == "" {
		return payment, fmt.Errorf("%w: empty proof", x402.ErrMalformedPayment)
	}

	if txHashRegex.MatchString(encoded) {
		return legacyHashPayment(encoded)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedPayment, err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedPayment, err)
	}

	if payment.X402Version == 0 {
		return x402.PaymentPayload{}, fmt.Errorf("%w: missing protocol version", x402.ErrMalformedPayment)
	}

	return payment, nil
}

// legacyHashPayment wraps a bare transaction hash in a version-1 proof.
// The network is left empty; the gate fills it from the matched requirement
// since the legacy form carries no self-description beyond the hash.
func legacyHashPayment(hash string) (x402.PaymentPayload, error) {
	payment := x402.PaymentPayload{
		X402Version: x402.VersionLegacy,
		Scheme:      x402.SchemeExact,
		Nonce:       hash,
	}
	if err := payment.SetPayload(x402.LegacyPayload{Transaction: hash}); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("%w: %v", x402.ErrMalformedPayment, err)
	}
	return payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON string
// for the X-Payment-Response header.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettleResponse.
func DecodeSettlement(encoded string) (x402.SettleResponse, error) {
	var settlement x402.SettleResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedPayment, err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedPayment, err)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequired body to base64-encoded JSON.
func EncodeRequirements(requirements x402.PaymentRequired) (string, error) {
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to a PaymentRequired body.
func DecodeRequirements(encoded string) (x402.PaymentRequired, error) {
	var requirements x402.PaymentRequired

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedPayment, err)
	}

	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return requirements, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedPayment, err)
	}

	return requirements, nil
}
