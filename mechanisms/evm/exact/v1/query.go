package exactv1

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
)

var transferTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))

// Backend is the read-only chain access the query needs. *ethclient.Client
// satisfies it.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Query confirms a referenced transaction on chain: the receipt must exist,
// must have succeeded, and must contain a Transfer of at least the required
// amount from the requirement's asset contract to the requirement's
// recipient.
type Query struct {
	backend Backend
}

// NewQuery creates a legacy chain query.
func NewQuery(backend Backend) *Query {
	return &Query{backend: backend}
}

// CheckAuthorization implements facilitator.ChainQuery.
func (q *Query) CheckAuthorization(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*facilitator.QueryResult, error) {
	legacy, err := payload.LegacyPayload()
	if err != nil {
		return nil, err
	}

	receipt, err := q.backend.TransactionReceipt(ctx, common.HexToHash(legacy.Transaction))
	if err != nil {
		// A missing receipt may simply not be mined yet. Stay
		// inconclusive rather than burning the hash; the verification
		// window bounds how long callers keep retrying.
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: transaction not found", facilitator.ErrTransientFailure)
		}
		return nil, fmt.Errorf("%w: receipt: %v", facilitator.ErrTransientFailure, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &facilitator.QueryResult{Authorized: false, Reason: "transaction reverted"}, nil
	}

	required, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired)
	if err != nil {
		return &facilitator.QueryResult{Authorized: false, Reason: err.Error()}, nil
	}
	asset := common.HexToAddress(requirements.Asset)
	payTo := common.HexToAddress(requirements.PayTo)

	for _, log := range receipt.Logs {
		if log.Address != asset || len(log.Topics) != 3 || log.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != payTo {
			continue
		}
		value := new(big.Int).SetBytes(log.Data)
		if value.Cmp(required) < 0 {
			continue
		}
		payer := common.BytesToAddress(log.Topics[1].Bytes())
		return &facilitator.QueryResult{
			Authorized:  true,
			Amount:      value,
			Payer:       payer.Hex(),
			Transaction: strings.ToLower(legacy.Transaction),
		}, nil
	}

	return &facilitator.QueryResult{
		Authorized: false,
		Reason:     "no qualifying transfer in transaction",
	}, nil
}
