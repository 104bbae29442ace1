package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
	"github.com/lumenpay/x402/ledger"
	"github.com/lumenpay/x402/retry"
)

// AuthorizationProvider returns an Authorization header value, for deployments
// whose facilitator credentials rotate.
type AuthorizationProvider func(ctx context.Context) (string, error)

// FacilitatorClient talks to a remote facilitator service over HTTP. It
// implements both facilitator.Interface and facilitator.Settler, so it can be
// handed straight to a payment gate.
type FacilitatorClient struct {
	// BaseURL is the facilitator endpoint, without a trailing slash.
	BaseURL string

	// Client is the underlying HTTP client. Defaults to http.DefaultClient.
	Client *http.Client

	// Authorization is a static Authorization header value.
	Authorization string

	// AuthorizationProvider supplies the Authorization header dynamically
	// and takes precedence over Authorization.
	AuthorizationProvider AuthorizationProvider

	// Retry controls backoff for transient transport failures. The zero
	// value means retry.DefaultConfig.
	Retry retry.Config

	// Timeouts bounds each facilitator operation. The zero value means
	// x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig
}

// opTimeout derives a per-operation deadline from the configured timeouts.
func (f *FacilitatorClient) opTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = x402.DefaultTimeouts.RequestTimeout
	}
	return context.WithTimeout(ctx, d)
}

// verifyRequest is the wire body for verify and settle calls.
type verifyRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether a proof is structurally valid, without
// consuming it.
func (f *FacilitatorClient) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	ctx, cancel := f.opTimeout(ctx, f.Timeouts.VerifyTimeout)
	defer cancel()

	var out x402.VerifyResponse
	if err := f.post(ctx, "/verify", payload, requirements, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle submits a proof for verification and settlement.
func (f *FacilitatorClient) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	ctx, cancel := f.opTimeout(ctx, f.Timeouts.SettleTimeout)
	defer cancel()

	var out x402.SettleResponse
	if err := f.post(ctx, "/settle", payload, requirements, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported queries the facilitator's supported payment kinds.
func (f *FacilitatorClient) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	ctx, cancel := f.opTimeout(ctx, f.Timeouts.RequestTimeout)
	defer cancel()

	var out x402.SupportedResponse
	err := f.do(ctx, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/supported", nil)
		if err != nil {
			return false, err
		}
		return f.roundTrip(ctx, req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAndSettle implements facilitator.Settler. A settlement refusal maps
// to a rejected record; transport failures surface as transient errors so the
// proof stays retryable.
func (f *FacilitatorClient) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error) {
	resp, err := f.Settle(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", facilitator.ErrTransientFailure, err)
	}

	key := ledger.Key{Network: payload.Network, Nonce: payload.Nonce}
	if key.Network == "" {
		key.Network = requirements.Network
	}

	if !resp.Success {
		state := ledger.StateRejected
		if strings.Contains(strings.ToLower(resp.ErrorReason), "expired") {
			state = ledger.StateExpired
		}
		return &ledger.Record{Key: key, State: state, Payer: resp.Payer, Reason: resp.ErrorReason}, nil
	}
	return &ledger.Record{
		Key:         key,
		State:       ledger.StateSettled,
		Payer:       resp.Payer,
		Transaction: resp.Transaction,
	}, nil
}

// EnrichRequirements fills facilitator-supplied parameters into the given
// requirements, currently the feePayer address Solana requirements need.
func (f *FacilitatorClient) EnrichRequirements(ctx context.Context, requirements []x402.PaymentRequirements) ([]x402.PaymentRequirements, error) {
	supported, err := f.Supported(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]x402.PaymentRequirements, len(requirements))
	copy(out, requirements)
	for i := range out {
		family, err := x402.ParseFamily(out[i].Network)
		if err != nil || family != x402.FamilySVM {
			continue
		}
		if out[i].Extra != nil && out[i].Extra["feePayer"] != nil {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.Network != out[i].Network || kind.Scheme != out[i].Scheme {
				continue
			}
			feePayer, ok := kind.Extra["feePayer"].(string)
			if !ok || feePayer == "" {
				continue
			}
			if out[i].Extra == nil {
				out[i].Extra = make(map[string]interface{})
			}
			out[i].Extra["feePayer"] = feePayer
			break
		}
	}
	return out, nil
}

func (f *FacilitatorClient) post(ctx context.Context, path string, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, out interface{}) error {
	body := verifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	return f.do(ctx, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		return f.roundTrip(ctx, req, out)
	})
}

func (f *FacilitatorClient) do(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	cfg := f.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return retry.Do(ctx, cfg, fn)
}

// roundTrip executes the request and decodes the response. The bool return
// reports whether a failure is worth retrying.
func (f *FacilitatorClient) roundTrip(ctx context.Context, req *http.Request, out interface{}) (bool, error) {
	if f.AuthorizationProvider != nil {
		auth, err := f.AuthorizationProvider(ctx)
		if err != nil {
			return false, fmt.Errorf("authorization provider: %w", err)
		}
		req.Header.Set("Authorization", auth)
	} else if f.Authorization != "" {
		req.Header.Set("Authorization", f.Authorization)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("%w: status %d", x402.ErrFacilitatorUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("facilitator returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode facilitator response: %w", err)
	}
	return false, nil
}
