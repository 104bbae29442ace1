package exact

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/internal/eip3009"
)

// Server performs the structural acceptance check for EVM exact proofs. It
// never touches the network; the fast path exists so resource servers can
// refuse hopeless proofs without paying for a chain query.
type Server struct{}

// NewServer creates the structural checker.
func NewServer() *Server {
	return &Server{}
}

// Accept reports whether the payload could possibly satisfy the requirement.
// The checks are purely structural: field agreement, a well-formed signature
// and nonce, a value covering the required amount, and a validity window that
// has not already closed. Signature recovery and fund checks belong to the
// facilitator.
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

	evm, err := payload.EVMPayload()
	if err != nil {
		return false
	}

	if !common.IsHexAddress(evm.Authorization.From) || !common.IsHexAddress(evm.Authorization.To) {
		return false
	}
	if !strings.EqualFold(evm.Authorization.To, requirements.PayTo) {
		return false
	}

	value, err := x402.ParseAtomicAmount(evm.Authorization.Value)
	if err != nil {
		return false
	}
	required, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired)
	if err != nil {
		return false
	}
	if value.Cmp(required) < 0 {
		return false
	}

	validBefore, err := x402.ParseAtomicAmount(evm.Authorization.ValidBefore)
	if err != nil {
		return false
	}
	if validBefore.Int64() <= time.Now().Unix() {
		return false
	}

	if _, err := eip3009.DecodeSignature(evm.Signature); err != nil {
		return false
	}
	nonce, err := eip3009.ParseNonce(evm.Authorization.Nonce)
	if err != nil {
		return false
	}
	// The envelope nonce keys replay prevention and must reference the
	// signed authorization nonce.
	if payload.Nonce != "" && !strings.EqualFold(payload.Nonce, common.BytesToHash(nonce[:]).Hex()) {
		return false
	}

	return true
}
