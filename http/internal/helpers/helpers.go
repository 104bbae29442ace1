// Package helpers provides internal HTTP utilities for x402 protocol handling.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/encoding"
)

// PaymentHeader carries the encoded payment proof on a retried request.
const PaymentHeader = "X-Payment"

// PaymentResponseHeader carries the encoded settlement receipt on a paid
// response.
const PaymentResponseHeader = "X-Payment-Response"

// ErrNilSettlement is returned when settlement is nil in AddPaymentResponseHeader.
var ErrNilSettlement = errors.New("settlement is nil")

// ErrNilPayment is returned when payment is nil in BuildPaymentHeader.
var ErrNilPayment = errors.New("payment is nil")

// ErrMissingHeader is returned when the request carries no payment header.
var ErrMissingHeader = errors.New("missing payment header")

// ParsePaymentHeader extracts and decodes a PaymentPayload from the request.
func ParsePaymentHeader(r *http.Request) (*x402.PaymentPayload, error) {
	header := r.Header.Get(PaymentHeader)
	if header == "" {
		return nil, ErrMissingHeader
	}

	payment, err := encoding.DecodePayment(header)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeMalformedPayment, "failed to decode payment header", err)
	}

	switch payment.X402Version {
	case x402.VersionLegacy, x402.VersionCurrent:
	default:
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedVersion,
			fmt.Sprintf("unsupported x402 version %d", payment.X402Version), x402.ErrUnsupportedVersion)
	}

	return &payment, nil
}

// SendPaymentRequired writes a 402 response with the given requirements.
func SendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirements, errMsg string) error {
	response := x402.PaymentRequired{
		X402Version: x402.VersionCurrent,
		Error:       errMsg,
		Accepts:     requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}

// AddPaymentResponseHeader attaches the settlement receipt to the response.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettleResponse) error {
	if settlement == nil {
		return fmt.Errorf("AddPaymentResponseHeader: %w", ErrNilSettlement)
	}
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return fmt.Errorf("AddPaymentResponseHeader: encode settlement: %w", err)
	}
	w.Header().Set(PaymentResponseHeader, encoded)
	return nil
}

// ParsePaymentRequirements extracts PaymentRequired from a 402 response body.
// The body's protocol version is stamped onto each requirement so clients can
// resolve the right scheme revision.
func ParsePaymentRequirements(resp *http.Response) (*x402.PaymentRequired, error) {
	if resp == nil || resp.Body == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "missing response or body", x402.ErrInvalidRequirements)
	}

	var paymentReq x402.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&paymentReq); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to decode payment requirements", err)
	}
	if len(paymentReq.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "no payment requirements in response", x402.ErrInvalidRequirements)
	}

	for i := range paymentReq.Accepts {
		if paymentReq.Accepts[i].X402Version == 0 {
			paymentReq.Accepts[i].X402Version = paymentReq.X402Version
		}
	}

	return &paymentReq, nil
}

// ParseSettlement extracts the settlement receipt from a response header
// value. Returns nil if the header is empty or cannot be parsed.
func ParseSettlement(headerValue string) *x402.SettleResponse {
	if headerValue == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil
	}
	return &settlement
}

// BuildPaymentHeader creates the payment header value from a PaymentPayload.
func BuildPaymentHeader(payment *x402.PaymentPayload) (string, error) {
	if payment == nil {
		return "", fmt.Errorf("BuildPaymentHeader: %w", ErrNilPayment)
	}
	encoded, err := encoding.EncodePayment(*payment)
	if err != nil {
		return "", fmt.Errorf("BuildPaymentHeader: encode payment: %w", err)
	}
	return encoded, nil
}

// BuildResourceURL constructs the full URL for the protected resource.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
