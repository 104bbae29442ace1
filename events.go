package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a payment is being attempted.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a payment succeeded.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a payment failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents a payment lifecycle event, emitted by the client
// transport for logging, monitoring, and debugging.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// URL is the protected URL being accessed.
	URL string

	// Amount is the payment amount in atomic units.
	Amount string

	// Asset is the token address or identifier.
	Asset string

	// Network is the blockchain network identifier (CAIP-2 format).
	Network string

	// Scheme is the payment scheme.
	Scheme string

	// Recipient is the payment recipient address.
	Recipient string

	// Transaction is the settlement transaction hash (available on success).
	Transaction string

	// Error contains error details (available on failure).
	Error error

	// Duration is the time taken for the payment operation.
	Duration time.Duration
}

// PaymentCallback is a function that handles payment events. Callbacks are
// invoked synchronously during payment processing and should be fast.
type PaymentCallback func(PaymentEvent)
