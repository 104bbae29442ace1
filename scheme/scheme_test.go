package scheme

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/ledger"
)

type stubClient struct{ name string }

func (s *stubClient) Construct(ctx context.Context, req *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	return &x402.PaymentPayload{Scheme: s.name}, nil
}

type stubServer struct{ accept bool }

func (s *stubServer) Accept(req *x402.PaymentRequirements, payload *x402.PaymentPayload) bool {
	return s.accept
}

type stubFacilitator struct{}

func (s *stubFacilitator) VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, req *x402.PaymentRequirements) (*ledger.Record, error) {
	return &ledger.Record{State: ledger.StateSettled}, nil
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterClient(x402.FamilyEVM, x402.SchemeExact, 2, &stubClient{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.RegisterClient(x402.FamilyEVM, x402.SchemeExact, 2, &stubClient{})
	if !errors.Is(err, ErrDuplicateScheme) {
		t.Errorf("err = %v, want ErrDuplicateScheme", err)
	}
}

func TestRegistryRolesAreIndependent(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterClient(x402.FamilyEVM, x402.SchemeExact, 2, &stubClient{}); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	// The same (family, scheme, version) under another role is a distinct key.
	if err := r.RegisterServer(x402.FamilyEVM, x402.SchemeExact, 2, &stubServer{accept: true}); err != nil {
		t.Errorf("RegisterServer: %v", err)
	}
	if err := r.RegisterFacilitator(x402.FamilyEVM, x402.SchemeExact, 2, &stubFacilitator{}); err != nil {
		t.Errorf("RegisterFacilitator: %v", err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Server(x402.NetworkBase, x402.SchemeExact, 2)
	if !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("err = %v, want ErrUnknownScheme", err)
	}
}

func TestRegistryVersionIsolation(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterServer(x402.FamilyEVM, x402.SchemeExact, 2, &stubServer{accept: true}); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}

	// A version 1 lookup must not fall through to the version 2 entry.
	if _, err := r.Server(x402.NetworkBase, x402.SchemeExact, 1); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("v1 lookup err = %v, want ErrUnknownScheme", err)
	}
	if _, err := r.Server(x402.NetworkBase, x402.SchemeExact, 2); err != nil {
		t.Errorf("v2 lookup err = %v", err)
	}
}

func TestRegistryFamilyFromNetwork(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterServer(x402.FamilySVM, x402.SchemeExact, 2, &stubServer{accept: true}); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}

	if _, err := r.Server(x402.NetworkSolanaMainnet, x402.SchemeExact, 2); err != nil {
		t.Errorf("solana lookup: %v", err)
	}
	// An EVM network must not resolve the SVM entry.
	if _, err := r.Server(x402.NetworkBase, x402.SchemeExact, 2); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("evm lookup err = %v, want ErrUnknownScheme", err)
	}
	// A malformed network fails before lookup.
	if _, err := r.Server("not-a-network", x402.SchemeExact, 2); !errors.Is(err, x402.ErrInvalidNetwork) {
		t.Errorf("bad network err = %v, want ErrInvalidNetwork", err)
	}
}

func TestRegistryClientDefaultsVersion(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterClient(x402.FamilyEVM, x402.SchemeExact, x402.VersionCurrent, &stubClient{name: "v2"}); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}

	req := &x402.PaymentRequirements{
		Scheme:  x402.SchemeExact,
		Network: x402.NetworkBase,
	}
	client, err := r.Client(req)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	payload, _ := client.Construct(context.Background(), req)
	if payload.Scheme != "v2" {
		t.Errorf("resolved %q, want v2 entry", payload.Scheme)
	}
}

func TestRegistryConcurrentResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterServer(x402.FamilyEVM, x402.SchemeExact, 2, &stubServer{accept: true}); err != nil {
		t.Fatalf("RegisterServer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Server(x402.NetworkBase, x402.SchemeExact, 2); err != nil {
				t.Errorf("Server: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestRegistryKeys(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFacilitator(x402.FamilyEVM, x402.SchemeExact, 2, &stubFacilitator{}); err != nil {
		t.Fatalf("RegisterFacilitator: %v", err)
	}
	if err := r.RegisterFacilitator(x402.FamilyEVM, x402.SchemeExact, 1, &stubFacilitator{}); err != nil {
		t.Fatalf("RegisterFacilitator v1: %v", err)
	}

	keys := r.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys returned %d entries, want 2", len(keys))
	}
}
