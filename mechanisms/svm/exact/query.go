package exact

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/facilitator"
	"github.com/lumenpay/x402/internal/solanautil"
)

// Sender submits a fully signed transaction. *rpc.Client satisfies it.
type Sender interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Query settles SVM exact proofs by countersigning as fee payer and
// submitting the transaction. A node rejection is authoritative; transport
// failures are transient.
type Query struct {
	feePayer solana.PrivateKey
	sender   Sender
}

// NewQuery creates a settling query. The fee payer key must match the
// feePayer address advertised in requirements.
func NewQuery(feePayer solana.PrivateKey, sender Sender) *Query {
	return &Query{feePayer: feePayer, sender: sender}
}

// CheckAuthorization implements facilitator.ChainQuery.
func (q *Query) CheckAuthorization(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*facilitator.QueryResult, error) {
	svm, err := payload.SVMPayload()
	if err != nil {
		return nil, err
	}
	tx, err := solanautil.DecodeTransaction(svm.Transaction)
	if err != nil {
		return &facilitator.QueryResult{Authorized: false, Reason: err.Error()}, nil
	}

	feePayerPub := q.feePayer.PublicKey()
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(feePayerPub) {
		return &facilitator.QueryResult{Authorized: false, Reason: "transaction not sponsored by this facilitator"}, nil
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(feePayerPub) {
			return &q.feePayer
		}
		return nil
	}); err != nil {
		return &facilitator.QueryResult{Authorized: false, Reason: fmt.Sprintf("countersign: %v", err)}, nil
	}

	sig, err := q.sender.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// The node saw the transaction and refused it.
			return &facilitator.QueryResult{Authorized: false, Reason: rpcErr.Message}, nil
		}
		return nil, fmt.Errorf("%w: send transaction: %v", facilitator.ErrTransientFailure, err)
	}

	payer := ""
	if owner := transferOwner(tx); owner != nil {
		payer = owner.String()
	}
	return &facilitator.QueryResult{
		Authorized:  true,
		Payer:       payer,
		Transaction: sig.String(),
	}, nil
}

// transferOwner extracts the TransferChecked owner account, the actual payer.
func transferOwner(tx *solana.Transaction) *solana.PublicKey {
	keys := tx.Message.AccountKeys
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}
		if len(inst.Data) < 10 || inst.Data[0] != transferCheckedDiscriminator {
			continue
		}
		if len(inst.Accounts) < 4 {
			continue
		}
		ownerIdx := int(inst.Accounts[3])
		if ownerIdx >= len(keys) {
			continue
		}
		owner := keys[ownerIdx]
		return &owner
	}
	return nil
}
