package exact

import (
	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/scheme"
)

// RegisterClient registers an SVM exact client in the given registry, or the
// default registry when nil.
func RegisterClient(r *scheme.Registry, client *Client) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterClient(x402.FamilySVM, x402.SchemeExact, x402.VersionCurrent, client)
}

// RegisterServer registers the SVM exact structural checker.
func RegisterServer(r *scheme.Registry) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterServer(x402.FamilySVM, x402.SchemeExact, x402.VersionCurrent, NewServer())
}

// RegisterFacilitator registers an SVM exact facilitator.
func RegisterFacilitator(r *scheme.Registry, f *Facilitator) error {
	if r == nil {
		r = scheme.Default
	}
	return r.RegisterFacilitator(x402.FamilySVM, x402.SchemeExact, x402.VersionCurrent, f)
}
