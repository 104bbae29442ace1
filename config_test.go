package x402

import (
	"testing"
	"time"
)

func TestTimeoutConfigValidate(t *testing.T) {
	if err := DefaultTimeouts.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}

	tests := []struct {
		name string
		cfg  TimeoutConfig
	}{
		{"zero verify", DefaultTimeouts.WithVerifyTimeout(0)},
		{"zero settle", DefaultTimeouts.WithSettleTimeout(0)},
		{"zero request", DefaultTimeouts.WithRequestTimeout(0)},
		{"settle shorter than verify", DefaultTimeouts.WithVerifyTimeout(time.Minute).WithSettleTimeout(time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTimeoutConfigBuilders(t *testing.T) {
	cfg := DefaultTimeouts.WithVerifyTimeout(time.Second)
	if cfg.VerifyTimeout != time.Second {
		t.Errorf("verify timeout = %v", cfg.VerifyTimeout)
	}
	if DefaultTimeouts.VerifyTimeout == time.Second {
		t.Error("builder mutated the defaults")
	}
}
