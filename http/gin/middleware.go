// Package gin adapts the payment gate and the facilitator service to the gin
// framework.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402http "github.com/lumenpay/x402/http"
	"github.com/lumenpay/x402/ledger"
)

// NewPaymentGate wraps the net/http payment gate as a gin middleware. When
// the gate refuses a request it has already written the 402 or error
// response, and the gin chain is aborted.
func NewPaymentGate(cfg x402http.GateConfig) (gin.HandlerFunc, error) {
	gate, err := x402http.NewPaymentGate(cfg)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		paid := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paid = true
			c.Request = r
		})
		gate(next).ServeHTTP(c.Writer, c.Request)
		if !paid {
			c.Abort()
		}
	}, nil
}

// PaymentFromContext extracts the settled payment record from a gin context.
func PaymentFromContext(c *gin.Context) *ledger.Record {
	return x402http.PaymentFromContext(c.Request.Context())
}
