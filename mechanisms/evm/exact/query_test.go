package exact

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
)

// fakeBackend answers eth_call by method selector.
type fakeBackend struct {
	balance  *big.Int
	authUsed bool
	callErr  error
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	out := make([]byte, 32)
	switch {
	case bytes.HasPrefix(call.Data, selectorBalanceOf):
		f.balance.FillBytes(out)
	case bytes.HasPrefix(call.Data, selectorAuthorizationState):
		if f.authUsed {
			out[31] = 1
		}
	}
	return out, nil
}

func constructProof(t *testing.T) (*Client, *x402.PaymentPayload, *x402.PaymentRequirements) {
	t.Helper()
	client := testClient(t)
	req := testRequirements()
	payload, err := client.Construct(context.Background(), req)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	return client, payload, req
}

func newQuery(t *testing.T, backend Backend) *Query {
	t.Helper()
	q, err := NewQuery(x402.NetworkBaseSepolia, backend)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	return q
}

func TestQueryAuthorizes(t *testing.T) {
	client, payload, req := constructProof(t)
	q := newQuery(t, &fakeBackend{balance: big.NewInt(1_000_000)})

	result, err := q.CheckAuthorization(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if !result.Authorized {
		t.Fatalf("not authorized: %s", result.Reason)
	}
	if result.Payer != client.Address().Hex() {
		t.Errorf("Payer = %s, want %s", result.Payer, client.Address().Hex())
	}
	if result.Amount.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("Amount = %s", result.Amount)
	}
}

func TestQueryInsufficientFunds(t *testing.T) {
	_, payload, req := constructProof(t)
	q := newQuery(t, &fakeBackend{balance: big.NewInt(5)})

	result, err := q.CheckAuthorization(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if result.Authorized {
		t.Error("authorized despite insufficient balance")
	}
	if result.Reason != "insufficient funds" {
		t.Errorf("Reason = %q", result.Reason)
	}
}

func TestQueryUsedAuthorization(t *testing.T) {
	_, payload, req := constructProof(t)
	q := newQuery(t, &fakeBackend{balance: big.NewInt(1_000_000), authUsed: true})

	result, err := q.CheckAuthorization(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if result.Authorized {
		t.Error("authorized despite a consumed on-chain nonce")
	}
}

func TestQueryBackendErrorIsTransient(t *testing.T) {
	_, payload, req := constructProof(t)
	q := newQuery(t, &fakeBackend{callErr: errors.New("connection refused")})

	_, err := q.CheckAuthorization(context.Background(), payload, req)
	if !errors.Is(err, facilitator.ErrTransientFailure) {
		t.Errorf("err = %v, want ErrTransientFailure", err)
	}
}

func TestQueryTamperedSignature(t *testing.T) {
	_, payload, req := constructProof(t)
	q := newQuery(t, &fakeBackend{balance: big.NewInt(1_000_000)})

	evm, err := payload.EVMPayload()
	if err != nil {
		t.Fatalf("EVMPayload: %v", err)
	}
	// Redirect the authorization to a different recipient without re-signing.
	evm.Authorization.To = "0x4444444444444444444444444444444444444444"
	if err := payload.SetPayload(evm); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}

	result, err := q.CheckAuthorization(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if result.Authorized {
		t.Error("authorized a tampered authorization")
	}
}
