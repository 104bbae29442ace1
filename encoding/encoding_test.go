package encoding

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/lumenpay/x402"
)

const txHash = "0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

func samplePayment(t *testing.T) x402.PaymentPayload {
	t.Helper()
	payment := x402.PaymentPayload{
		X402Version: x402.VersionCurrent,
		Scheme:      x402.SchemeExact,
		Network:     x402.NetworkBaseSepolia,
		Nonce:       "0x1122",
	}
	err := payment.SetPayload(x402.EVMPayload{
		Signature: "0xsig",
		Authorization: x402.EVMAuthorization{
			From:  "0x1111111111111111111111111111111111111111",
			To:    "0x2222222222222222222222222222222222222222",
			Value: "10000",
			Nonce: "0x1122",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return payment
}

func TestPaymentRoundTrip(t *testing.T) {
	payment := samplePayment(t)

	encoded, err := EncodePayment(payment)
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}
	decoded, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("DecodePayment: %v", err)
	}

	if decoded.X402Version != payment.X402Version ||
		decoded.Scheme != payment.Scheme ||
		decoded.Network != payment.Network ||
		decoded.Nonce != payment.Nonce {
		t.Errorf("envelope changed: %+v", decoded)
	}

	// The opaque payload must survive byte for byte.
	if string(decoded.Payload) != string(payment.Payload) {
		t.Errorf("payload bytes changed:\n got %s\nwant %s", decoded.Payload, payment.Payload)
	}

	inner, err := decoded.EVMPayload()
	if err != nil {
		t.Fatalf("EVMPayload: %v", err)
	}
	if inner.Authorization.Value != "10000" {
		t.Errorf("authorization value = %q", inner.Authorization.Value)
	}
}

func TestDecodePaymentBareHash(t *testing.T) {
	payment, err := DecodePayment(txHash)
	if err != nil {
		t.Fatalf("DecodePayment: %v", err)
	}
	if payment.X402Version != x402.VersionLegacy {
		t.Errorf("version = %d", payment.X402Version)
	}
	if payment.Scheme != x402.SchemeExact {
		t.Errorf("scheme = %q", payment.Scheme)
	}
	if payment.Network != "" {
		t.Errorf("network = %q, a bare hash names no network", payment.Network)
	}
	if payment.Nonce != txHash {
		t.Errorf("nonce = %q", payment.Nonce)
	}
	legacy, err := payment.LegacyPayload()
	if err != nil {
		t.Fatalf("LegacyPayload: %v", err)
	}
	if legacy.Transaction != txHash {
		t.Errorf("transaction = %q", legacy.Transaction)
	}
}

func TestDecodePaymentMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"base64 of non-JSON", base64.StdEncoding.EncodeToString([]byte("not json"))},
		{"missing version", base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact"}`))},
		{"truncated hash", txHash[:40]},
		{"hash with bad hex", "0xzz" + txHash[4:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.input)
			if !errors.Is(err, x402.ErrMalformedPayment) {
				t.Errorf("err = %v, want ErrMalformedPayment", err)
			}
		})
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	settlement := x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     x402.NetworkBase,
		Payer:       "0x1111111111111111111111111111111111111111",
	}

	encoded, err := EncodeSettlement(settlement)
	if err != nil {
		t.Fatalf("EncodeSettlement: %v", err)
	}
	decoded, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("DecodeSettlement: %v", err)
	}
	if decoded != settlement {
		t.Errorf("decoded = %+v, want %+v", decoded, settlement)
	}
}

func TestDecodeSettlementMalformed(t *testing.T) {
	if _, err := DecodeSettlement("!!!"); !errors.Is(err, x402.ErrMalformedPayment) {
		t.Errorf("bad base64: err = %v", err)
	}
	garbage := base64.StdEncoding.EncodeToString([]byte("{"))
	if _, err := DecodeSettlement(garbage); !errors.Is(err, x402.ErrMalformedPayment) {
		t.Errorf("bad JSON: err = %v", err)
	}
}

func TestRequirementsRoundTrip(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.VersionCurrent,
		Error:       "Payment required",
		Accepts: []x402.PaymentRequirements{{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkBase,
			MaxAmountRequired: "10000",
			Resource:          "https://api.example.com/data",
			PayTo:             "0x2222222222222222222222222222222222222222",
			MaxTimeoutSeconds: 300,
			Asset:             x402.BaseMainnet.USDCAddress,
		}},
	}

	encoded, err := EncodeRequirements(required)
	if err != nil {
		t.Fatalf("EncodeRequirements: %v", err)
	}
	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("DecodeRequirements: %v", err)
	}
	if decoded.X402Version != required.X402Version || decoded.Error != required.Error {
		t.Errorf("envelope = %+v", decoded)
	}
	if len(decoded.Accepts) != 1 || decoded.Accepts[0].MaxAmountRequired != "10000" {
		t.Errorf("accepts = %+v", decoded.Accepts)
	}
}
