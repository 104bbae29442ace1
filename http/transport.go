package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/http/internal/helpers"
	"github.com/lumenpay/x402/scheme"
)

// Transport is an http.RoundTripper that pays 402 challenges automatically.
// On a 402 response it parses the advertised requirements, constructs a proof
// with the first registered client scheme that can satisfy one, and retries
// the request with the payment attached.
type Transport struct {
	// Base is the underlying transport. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Registry resolves client schemes. Nil means scheme.Default.
	Registry *scheme.Registry

	// Callback receives payment lifecycle events. Optional.
	Callback x402.PaymentCallback

	// MaxAmount, when set as an atomic-amount string per network, caps what
	// the transport will pay without intervention. Empty means no cap
	// beyond what the client schemes themselves enforce.
	MaxAmount map[string]string
}

// NewClient returns an *http.Client that pays 402 challenges using the
// default scheme registry.
func NewClient() *http.Client {
	return &http.Client{Transport: &Transport{}}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	registry := t.Registry
	if registry == nil {
		registry = scheme.Default
	}

	// The request body may be needed twice.
	var bodyCopy []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyCopy, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyCopy))
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := helpers.ParsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	requirement, client, err := t.selectRequirement(registry, required.Accepts)
	if err != nil {
		t.emit(x402.PaymentEvent{
			Type:  x402.PaymentEventFailure,
			URL:   req.URL.String(),
			Error: err,
		})
		return nil, err
	}

	t.emit(x402.PaymentEvent{
		Type:      x402.PaymentEventAttempt,
		URL:       req.URL.String(),
		Amount:    requirement.MaxAmountRequired,
		Asset:     requirement.Asset,
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Recipient: requirement.PayTo,
	})

	start := time.Now()
	payment, err := client.Construct(req.Context(), requirement)
	if err != nil {
		t.emit(x402.PaymentEvent{
			Type:    x402.PaymentEventFailure,
			URL:     req.URL.String(),
			Network: requirement.Network,
			Scheme:  requirement.Scheme,
			Error:   err,
		})
		return nil, err
	}

	header, err := helpers.BuildPaymentHeader(payment)
	if err != nil {
		return nil, err
	}

	retryReq := req.Clone(req.Context())
	if bodyCopy != nil {
		retryReq.Body = io.NopCloser(bytes.NewReader(bodyCopy))
	}
	retryReq.Header.Set(helpers.PaymentHeader, header)

	paidResp, err := base.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}

	event := x402.PaymentEvent{
		URL:       req.URL.String(),
		Amount:    requirement.MaxAmountRequired,
		Asset:     requirement.Asset,
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Recipient: requirement.PayTo,
		Duration:  time.Since(start),
	}
	if paidResp.StatusCode == http.StatusPaymentRequired {
		event.Type = x402.PaymentEventFailure
		event.Error = x402.ErrVerificationFailed
	} else {
		event.Type = x402.PaymentEventSuccess
		if settlement := helpers.ParseSettlement(paidResp.Header.Get(helpers.PaymentResponseHeader)); settlement != nil {
			event.Transaction = settlement.Transaction
		}
	}
	t.emit(event)

	return paidResp, nil
}

// selectRequirement returns the first advertised requirement a registered
// client can satisfy, in the server's preference order.
func (t *Transport) selectRequirement(registry *scheme.Registry, accepts []x402.PaymentRequirements) (*x402.PaymentRequirements, scheme.Client, error) {
	var lastErr error
	for i := range accepts {
		requirement := &accepts[i]
		if capAmount, ok := t.MaxAmount[requirement.Network]; ok {
			required, err := x402.ParseAtomicAmount(requirement.MaxAmountRequired)
			if err != nil {
				continue
			}
			limit, err := x402.ParseAtomicAmount(capAmount)
			if err == nil && required.Cmp(limit) > 0 {
				lastErr = fmt.Errorf("%w: amount %s exceeds transport cap %s",
					x402.ErrUnsupportedRequirement, requirement.MaxAmountRequired, capAmount)
				continue
			}
		}
		client, err := registry.Client(requirement)
		if err != nil {
			lastErr = err
			continue
		}
		return requirement, client, nil
	}
	if lastErr == nil {
		lastErr = x402.ErrUnsupportedRequirement
	}
	return nil, nil, fmt.Errorf("no payable requirement: %w", lastErr)
}

func (t *Transport) emit(event x402.PaymentEvent) {
	if t.Callback != nil {
		t.Callback(event)
	}
}
