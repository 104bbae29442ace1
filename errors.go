package x402

import "errors"

// Sentinel errors for x402 payment operations.
var (
	// ErrMalformedPayment indicates a payment proof string that could not be decoded.
	ErrMalformedPayment = errors.New("x402: malformed payment proof")

	// ErrUnsupportedRequirement indicates a client scheme cannot satisfy a requirement.
	ErrUnsupportedRequirement = errors.New("x402: requirement cannot be satisfied by this scheme")

	// ErrInvalidRequirements indicates structurally invalid payment requirements.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidNetwork indicates an unrecognized or malformed network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidToken indicates an invalid token configuration.
	ErrInvalidToken = errors.New("x402: invalid token configuration")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrSigningFailed indicates the payment signing operation failed.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates payment settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrPaymentConsumed indicates a settled proof was replayed after its
	// single permitted delivery.
	ErrPaymentConsumed = errors.New("x402: payment proof already consumed")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeMalformedPayment indicates an undecodable proof string.
	ErrCodeMalformedPayment ErrorCode = "MALFORMED_PAYMENT"

	// ErrCodeUnsupportedRequirement indicates an unsatisfiable requirement.
	ErrCodeUnsupportedRequirement ErrorCode = "UNSUPPORTED_REQUIREMENT"

	// ErrCodeInvalidRequirements indicates invalid server requirements.
	ErrCodeInvalidRequirements ErrorCode = "INVALID_REQUIREMENTS"

	// ErrCodeUnsupportedScheme indicates an unregistered scheme or network.
	ErrCodeUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME"

	// ErrCodeUnsupportedVersion indicates an unsupported protocol version.
	ErrCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"

	// ErrCodeSigningFailed indicates a signing operation failed.
	ErrCodeSigningFailed ErrorCode = "SIGNING_FAILED"

	// ErrCodeTransientFailure indicates a retryable verification failure.
	ErrCodeTransientFailure ErrorCode = "TRANSIENT_FAILURE"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
