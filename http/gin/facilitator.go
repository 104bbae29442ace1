package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
)

// facilitatorRequest is the wire body for verify and settle calls.
type facilitatorRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// RegisterFacilitatorRoutes mounts a facilitator service on a gin router
// group: POST /verify, POST /settle and GET /supported, speaking the same
// wire format FacilitatorClient consumes.
func RegisterFacilitatorRoutes(r gin.IRoutes, svc facilitator.Interface) {
	r.POST("/verify", func(c *gin.Context) {
		var req facilitatorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := svc.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.POST("/settle", func(c *gin.Context) {
		var req facilitatorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := svc.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/supported", func(c *gin.Context) {
		resp, err := svc.Supported(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})
}
