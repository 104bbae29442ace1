package exact

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
	"github.com/lumenpay/x402/internal/eip3009"
)

// Method selectors computed from the canonical signatures.
var (
	selectorBalanceOf          = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selectorAuthorizationState = crypto.Keccak256([]byte("authorizationState(address,bytes32)"))[:4]
)

// Backend is the read-only chain access the query needs. *ethclient.Client
// satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Query answers EVM exact authorization questions against a live chain: it
// recovers the signer, checks the validity window, confirms the authorization
// nonce is unused on the token contract, and confirms the payer's balance
// covers the transfer.
//
// Query verifies but does not execute the transfer. Deployments that submit
// transferWithAuthorization themselves wrap Query and fill in the resulting
// transaction hash.
type Query struct {
	backend Backend
	chainID int64
}

// NewQuery creates a chain query for one network.
func NewQuery(network string, backend Backend) (*Query, error) {
	chainID, err := x402.GetChainID(network)
	if err != nil {
		return nil, err
	}
	return &Query{backend: backend, chainID: chainID}, nil
}

// CheckAuthorization implements facilitator.ChainQuery.
func (q *Query) CheckAuthorization(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*facilitator.QueryResult, error) {
	evm, err := payload.EVMPayload()
	if err != nil {
		return nil, err
	}

	auth, domain, err := q.decode(evm, requirements)
	if err != nil {
		return &facilitator.QueryResult{Authorized: false, Reason: err.Error()}, nil
	}

	signer, err := eip3009.RecoverSigner(domain, auth, evm.Signature)
	if err != nil {
		return &facilitator.QueryResult{Authorized: false, Reason: "unrecoverable signature"}, nil
	}
	if signer != auth.From {
		return &facilitator.QueryResult{
			Authorized: false,
			Payer:      auth.From.Hex(),
			Reason:     "signature does not match payer",
		}, nil
	}

	now := time.Now().Unix()
	if auth.ValidAfter.Int64() > now {
		return &facilitator.QueryResult{Authorized: false, Payer: signer.Hex(), Reason: "authorization not yet valid"}, nil
	}
	if auth.ValidBefore.Int64() <= now {
		return &facilitator.QueryResult{Authorized: false, Payer: signer.Hex(), Reason: "authorization expired"}, nil
	}

	token := common.HexToAddress(requirements.Asset)

	used, err := q.authorizationState(ctx, token, auth.From, auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: authorizationState: %v", facilitator.ErrTransientFailure, err)
	}
	if used {
		return &facilitator.QueryResult{Authorized: false, Payer: signer.Hex(), Reason: "authorization already used on chain"}, nil
	}

	balance, err := q.balanceOf(ctx, token, auth.From)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf: %v", facilitator.ErrTransientFailure, err)
	}
	if balance.Cmp(auth.Value) < 0 {
		return &facilitator.QueryResult{Authorized: false, Payer: signer.Hex(), Reason: "insufficient funds"}, nil
	}

	return &facilitator.QueryResult{
		Authorized: true,
		Amount:     auth.Value,
		Payer:      signer.Hex(),
	}, nil
}

func (q *Query) decode(evm *x402.EVMPayload, requirements *x402.PaymentRequirements) (*eip3009.Authorization, eip3009.Domain, error) {
	var domain eip3009.Domain

	value, err := x402.ParseAtomicAmount(evm.Authorization.Value)
	if err != nil {
		return nil, domain, err
	}
	validAfter, ok := new(big.Int).SetString(evm.Authorization.ValidAfter, 10)
	if !ok {
		return nil, domain, fmt.Errorf("invalid validAfter: %s", evm.Authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(evm.Authorization.ValidBefore, 10)
	if !ok {
		return nil, domain, fmt.Errorf("invalid validBefore: %s", evm.Authorization.ValidBefore)
	}
	nonce, err := eip3009.ParseNonce(evm.Authorization.Nonce)
	if err != nil {
		return nil, domain, err
	}

	auth := &eip3009.Authorization{
		From:        common.HexToAddress(evm.Authorization.From),
		To:          common.HexToAddress(evm.Authorization.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	domain = eip3009.Domain{
		ChainID:      big.NewInt(q.chainID),
		TokenAddress: common.HexToAddress(requirements.Asset),
	}
	if requirements.Extra != nil {
		domain.Name, _ = requirements.Extra["name"].(string)
		domain.Version, _ = requirements.Extra["version"].(string)
	}
	if domain.Name == "" || domain.Version == "" {
		chain, err := x402.GetChainConfig(requirements.Network)
		if err != nil || !strings.EqualFold(chain.USDCAddress, requirements.Asset) {
			return nil, domain, fmt.Errorf("missing EIP-3009 domain parameters")
		}
		domain.Name = chain.EIP3009Name
		domain.Version = chain.EIP3009Version
	}

	return auth, domain, nil
}

func (q *Query) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := q.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short balanceOf response: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

func (q *Query) authorizationState(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	data := append(append([]byte{}, selectorAuthorizationState...), common.LeftPadBytes(authorizer.Bytes(), 32)...)
	data = append(data, nonce[:]...)
	out, err := q.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return false, err
	}
	if len(out) < 32 {
		return false, fmt.Errorf("short authorizationState response: %d bytes", len(out))
	}
	return out[31] != 0, nil
}
