package exact

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/internal/solanautil"
)

// transferCheckedDiscriminator is the SPL Token instruction index for
// TransferChecked.
const transferCheckedDiscriminator = 12

// Server performs the structural acceptance check for SVM exact proofs: the
// transaction must decode, must carry the client signature, and must contain
// a TransferChecked moving at least the required amount of the required mint
// to the recipient's associated token account.
type Server struct{}

// NewServer creates the structural checker.
func NewServer() *Server {
	return &Server{}
}

// Accept reports whether the payload could possibly satisfy the requirement.
func (s *Server) Accept(requirements *x402.PaymentRequirements, payload *x402.PaymentPayload) bool {
	if payload.X402Version != x402.VersionCurrent {
		return false
	}
	if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
		return false
	}
	if requirements.Resource != "" && payload.Resource != "" && payload.Resource != requirements.Resource {
		return false
	}

	svm, err := payload.SVMPayload()
	if err != nil {
		return false
	}
	tx, err := solanautil.DecodeTransaction(svm.Transaction)
	if err != nil {
		return false
	}

	var zero solana.Signature
	if clientSignature(tx) == zero {
		return false
	}
	if payload.Nonce != "" && payload.Nonce != clientSignature(tx).String() {
		return false
	}

	// When the requirement names a fee payer, the transaction must be
	// sponsored by it.
	if feePayer, err := extractFeePayer(requirements); err == nil {
		if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(feePayer) {
			return false
		}
	}

	return s.hasQualifyingTransfer(tx, requirements)
}

func (s *Server) hasQualifyingTransfer(tx *solana.Transaction, requirements *x402.PaymentRequirements) bool {
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return false
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return false
	}
	destATA, err := solanautil.DeriveAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return false
	}
	required, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired)
	if err != nil || !required.IsUint64() {
		return false
	}

	keys := tx.Message.AccountKeys
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}
		// TransferChecked layout: [12, amount u64 LE, decimals u8] with
		// accounts [source, mint, destination, owner].
		if len(inst.Data) < 10 || inst.Data[0] != transferCheckedDiscriminator {
			continue
		}
		if len(inst.Accounts) < 4 {
			continue
		}
		mintIdx, destIdx := int(inst.Accounts[1]), int(inst.Accounts[2])
		if mintIdx >= len(keys) || destIdx >= len(keys) {
			continue
		}
		if !keys[mintIdx].Equals(mint) || !keys[destIdx].Equals(destATA) {
			continue
		}
		amount := binary.LittleEndian.Uint64(inst.Data[1:9])
		if amount >= required.Uint64() {
			return true
		}
	}
	return false
}
