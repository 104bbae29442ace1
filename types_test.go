package x402

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func validRequirement() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           NetworkBase,
		MaxAmountRequired: "10000",
		Resource:          "https://api.example.com/data",
		PayTo:             "0x2222222222222222222222222222222222222222",
		MaxTimeoutSeconds: 300,
		Asset:             BaseMainnet.USDCAddress,
	}
}

func TestPaymentRequirementsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentRequirements)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*PaymentRequirements) {},
		},
		{
			name:    "missing scheme",
			mutate:  func(r *PaymentRequirements) { r.Scheme = "" },
			wantErr: ErrInvalidRequirements,
		},
		{
			name:    "missing pay to",
			mutate:  func(r *PaymentRequirements) { r.PayTo = "" },
			wantErr: ErrInvalidRequirements,
		},
		{
			name:    "zero timeout",
			mutate:  func(r *PaymentRequirements) { r.MaxTimeoutSeconds = 0 },
			wantErr: ErrInvalidRequirements,
		},
		{
			name:    "unknown network namespace",
			mutate:  func(r *PaymentRequirements) { r.Network = "cosmos:cosmoshub-4" },
			wantErr: ErrInvalidNetwork,
		},
		{
			name:    "zero amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "0" },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "-1" },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "fractional amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "0.01" },
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPaymentPayloadRoundTrip(t *testing.T) {
	var payload PaymentPayload
	auth := EVMAuthorization{
		From:  "0x1111111111111111111111111111111111111111",
		To:    "0x2222222222222222222222222222222222222222",
		Value: "10000",
		Nonce: "0xaa",
	}
	if err := payload.SetPayload(EVMPayload{Signature: "0xsig", Authorization: auth}); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}

	evm, err := payload.EVMPayload()
	if err != nil {
		t.Fatalf("EVMPayload: %v", err)
	}
	if evm.Signature != "0xsig" || evm.Authorization != auth {
		t.Errorf("round trip = %+v", evm)
	}
}

func TestPayerHint(t *testing.T) {
	var payload PaymentPayload
	if err := payload.SetPayload(EVMPayload{
		Authorization: EVMAuthorization{From: "0x1111111111111111111111111111111111111111"},
	}); err != nil {
		t.Fatal(err)
	}
	if got := payload.PayerHint(); got != "0x1111111111111111111111111111111111111111" {
		t.Errorf("PayerHint() = %q", got)
	}

	var legacy PaymentPayload
	if err := legacy.SetPayload(LegacyPayload{Transaction: "0xaa"}); err != nil {
		t.Fatal(err)
	}
	if got := legacy.PayerHint(); got != "" {
		t.Errorf("legacy PayerHint() = %q, want empty", got)
	}
}

func TestParseAtomicAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "10000", want: 10000},
		{input: "0", want: 0},
		{input: "1000000000000000000000000", want: -1}, // exceeds int64
		{input: "", wantErr: true},
		{input: "-5", wantErr: true},
		{input: "1.5", wantErr: true},
		{input: "0x10", wantErr: true},
		{input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAtomicAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("err = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAtomicAmount(%q) = %v", tt.input, err)
			}
			if tt.want >= 0 && got.Int64() != tt.want {
				t.Errorf("ParseAtomicAmount(%q) = %s", tt.input, got)
			}
			if tt.want < 0 && got.String() != tt.input {
				t.Errorf("ParseAtomicAmount(%q) = %s", tt.input, got)
			}
		})
	}
}

func TestAmountToBigInt(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{amount: "0.01", decimals: 6, want: "10000"},
		{amount: "1.5", decimals: 6, want: "1500000"},
		{amount: "1", decimals: 6, want: "1000000"},
		{amount: "0", decimals: 6, want: "0"},
		{amount: "0.000001", decimals: 6, want: "1"},
		{amount: "0.0000001", decimals: 6, wantErr: true},
		{amount: "-1", decimals: 6, wantErr: true},
		{amount: "abc", decimals: 6, wantErr: true},
		{amount: "1", decimals: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := AmountToBigInt(tt.amount, tt.decimals)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("err = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AmountToBigInt(%q, %d) = %v", tt.amount, tt.decimals, err)
			}
			if got.String() != tt.want {
				t.Errorf("AmountToBigInt(%q, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestBigIntToAmount(t *testing.T) {
	tests := []struct {
		value    *big.Int
		decimals int
		want     string
	}{
		{value: big.NewInt(1500000), decimals: 6, want: "1.5"},
		{value: big.NewInt(10000), decimals: 6, want: "0.01"},
		{value: big.NewInt(0), decimals: 6, want: "0"},
		{value: nil, decimals: 6, want: "0"},
	}

	for _, tt := range tests {
		if got := BigIntToAmount(tt.value, tt.decimals); got != tt.want {
			t.Errorf("BigIntToAmount(%v, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
		}
	}
}

func TestPaymentError(t *testing.T) {
	base := errors.New("boom")
	err := NewPaymentError(ErrCodeSigningFailed, "signing failed", base).
		WithDetails("network", NetworkBase)

	if !errors.Is(err, base) {
		t.Error("PaymentError does not unwrap to its cause")
	}
	if err.Code != ErrCodeSigningFailed {
		t.Errorf("code = %q", err.Code)
	}
	if !strings.Contains(err.Error(), "signing failed") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Details["network"] != NetworkBase {
		t.Errorf("details = %v", err.Details)
	}
}
