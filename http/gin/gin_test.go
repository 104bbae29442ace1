package gin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/encoding"
	"github.com/lumenpay/x402/facilitator"
	x402http "github.com/lumenpay/x402/http"
	"github.com/lumenpay/x402/ledger"
	"github.com/lumenpay/x402/scheme"
)

const testHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

func init() {
	gin.SetMode(gin.TestMode)
}

type acceptAll struct{}

func (acceptAll) Accept(*x402.PaymentRequirements, *x402.PaymentPayload) bool { return true }

type stubSettler struct {
	record *ledger.Record
}

func (s *stubSettler) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, req *x402.PaymentRequirements) (*ledger.Record, error) {
	rec := *s.record
	rec.Key = ledger.Key{Network: payload.Network, Nonce: payload.Nonce}
	return &rec, nil
}

func testGateConfig(t *testing.T) x402http.GateConfig {
	t.Helper()
	registry := scheme.NewRegistry()
	if err := registry.RegisterServer(x402.FamilyEVM, x402.SchemeExact, x402.VersionCurrent, acceptAll{}); err != nil {
		t.Fatal(err)
	}
	return x402http.GateConfig{
		Requirements: []x402.PaymentRequirements{{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkBaseSepolia,
			MaxAmountRequired: "10000",
			PayTo:             "0x2222222222222222222222222222222222222222",
			MaxTimeoutSeconds: 300,
			Asset:             x402.BaseSepolia.USDCAddress,
		}},
		Settler:  &stubSettler{record: &ledger.Record{State: ledger.StateSettled, Payer: "0xp", Transaction: "0xtx"}},
		Registry: registry,
		Store:    ledger.NewMemory(),
	}
}

func paidRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gate, err := NewPaymentGate(testGateConfig(t))
	if err != nil {
		t.Fatalf("NewPaymentGate: %v", err)
	}

	r := gin.New()
	r.GET("/premium", gate, func(c *gin.Context) {
		record := PaymentFromContext(c)
		if record == nil {
			t.Error("no payment record in gin context")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payer": record.Payer})
	})
	return r
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	payload := x402.PaymentPayload{
		X402Version: x402.VersionCurrent,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Nonce:       testHash,
	}
	if err := payload.SetPayload(x402.EVMPayload{}); err != nil {
		t.Fatal(err)
	}
	header, err := encoding.EncodePayment(payload)
	if err != nil {
		t.Fatal(err)
	}
	return header
}

func TestGinGateChallenges(t *testing.T) {
	router := paidRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "accepts") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGinGateDelivers(t *testing.T) {
	router := paidRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-Payment", paymentHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "0xp") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Payment-Response") == "" {
		t.Error("missing settlement header")
	}
}

func TestGinGateAborts(t *testing.T) {
	router := paidRouter(t)

	// Replay the same proof; the second delivery must be refused before the
	// handler runs.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/premium", nil)
		req.Header.Set("X-Payment", paymentHeader(t))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusPaymentRequired {
			t.Fatalf("replay status = %d", rec.Code)
		}
	}
}

type stubFacilitator struct {
	verify    *x402.VerifyResponse
	settle    *x402.SettleResponse
	supported *x402.SupportedResponse
	err       error
}

func (s *stubFacilitator) Verify(context.Context, *x402.PaymentPayload, *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return s.verify, s.err
}

func (s *stubFacilitator) Settle(context.Context, *x402.PaymentPayload, *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	return s.settle, s.err
}

func (s *stubFacilitator) Supported(context.Context) (*x402.SupportedResponse, error) {
	return s.supported, s.err
}

func facilitatorBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"x402Version": x402.VersionCurrent,
		"paymentPayload": &x402.PaymentPayload{
			X402Version: x402.VersionCurrent,
			Scheme:      x402.SchemeExact,
			Network:     x402.NetworkBaseSepolia,
			Nonce:       testHash,
		},
		"paymentRequirements": &x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkBaseSepolia,
			MaxAmountRequired: "10000",
			PayTo:             "0x2222222222222222222222222222222222222222",
			MaxTimeoutSeconds: 300,
			Asset:             x402.BaseSepolia.USDCAddress,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestFacilitatorRoutesSettle(t *testing.T) {
	svc := &stubFacilitator{settle: &x402.SettleResponse{Success: true, Transaction: "0xabc"}}
	r := gin.New()
	RegisterFacilitatorRoutes(r, svc)

	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(facilitatorBody(t)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp x402.SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Transaction != "0xabc" {
		t.Errorf("response = %+v", resp)
	}
}

func TestFacilitatorRoutesVerify(t *testing.T) {
	svc := &stubFacilitator{verify: &x402.VerifyResponse{IsValid: true, Payer: "0xp"}}
	r := gin.New()
	RegisterFacilitatorRoutes(r, svc)

	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(facilitatorBody(t)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp x402.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.IsValid || resp.Payer != "0xp" {
		t.Errorf("response = %+v", resp)
	}
}

func TestFacilitatorRoutesSupported(t *testing.T) {
	svc := &stubFacilitator{supported: &x402.SupportedResponse{Kinds: []x402.SupportedKind{{
		X402Version: x402.VersionCurrent,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
	}}}}
	r := gin.New()
	RegisterFacilitatorRoutes(r, svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/supported", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp x402.SupportedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Kinds) != 1 || resp.Kinds[0].Network != x402.NetworkBaseSepolia {
		t.Errorf("response = %+v", resp)
	}
}

func TestFacilitatorRoutesBadBody(t *testing.T) {
	r := gin.New()
	RegisterFacilitatorRoutes(r, &stubFacilitator{})

	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFacilitatorRoutesServiceError(t *testing.T) {
	r := gin.New()
	RegisterFacilitatorRoutes(r, &stubFacilitator{err: errors.New("chain unreachable")})

	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(facilitatorBody(t)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

var _ facilitator.Interface = (*stubFacilitator)(nil)
