// Package exact implements the exact-amount payment scheme for EVM chains.
//
// Proofs are EIP-3009 transferWithAuthorization payloads: the client signs an
// authorization for the exact required amount, and the facilitator verifies
// the signature and executes the transfer. The authorization nonce doubles as
// the proof's replay-prevention key.
package exact

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/internal/eip3009"
)

// Client constructs signed EIP-3009 proofs for one network with one key.
type Client struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    int64
	tokens     []x402.TokenConfig
	maxAmount  *big.Int
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithMaxAmount caps the atomic amount the client will sign for. Requirements
// above the cap are refused before any signing happens.
func WithMaxAmount(amount *big.Int) ClientOption {
	return func(c *Client) error {
		c.maxAmount = amount
		return nil
	}
}

// NewClient creates a client from a hex-encoded private key. The tokens list
// restricts which assets the client will pay with.
func NewClient(network string, privateKeyHex string, tokens []x402.TokenConfig, opts ...ClientOption) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewClientFromKey(network, privateKey, tokens, opts...)
}

// NewClientFromKey creates a client from an in-memory private key.
func NewClientFromKey(network string, key *ecdsa.PrivateKey, tokens []x402.TokenConfig, opts ...ClientOption) (*Client, error) {
	chainID, err := x402.GetChainID(network)
	if err != nil {
		return nil, err
	}

	c := &Client{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		network:    network,
		chainID:    chainID,
		tokens:     tokens,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Address returns the payer address derived from the client's key.
func (c *Client) Address() common.Address {
	return c.address
}

// CanPay reports whether the client can satisfy the requirement at all:
// matching scheme, network and a configured token.
func (c *Client) CanPay(requirements *x402.PaymentRequirements) bool {
	if requirements.Scheme != x402.SchemeExact {
		return false
	}
	if requirements.Network != c.network {
		return false
	}
	return c.token(requirements.Asset) != nil
}

func (c *Client) token(asset string) *x402.TokenConfig {
	for i := range c.tokens {
		if strings.EqualFold(c.tokens[i].Address, asset) {
			return &c.tokens[i]
		}
	}
	return nil
}

// Construct builds and signs a payment proof for the requirement.
func (c *Client) Construct(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !c.CanPay(requirements) {
		return nil, fmt.Errorf("%w: %s/%s asset %s", x402.ErrUnsupportedRequirement,
			requirements.Scheme, requirements.Network, requirements.Asset)
	}

	amount, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	if c.maxAmount != nil && amount.Cmp(c.maxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount %s exceeds client limit %s",
			x402.ErrUnsupportedRequirement, amount, c.maxAmount)
	}

	domain, err := c.domain(requirements)
	if err != nil {
		return nil, err
	}

	auth, err := eip3009.CreateAuthorization(
		c.address,
		common.HexToAddress(requirements.PayTo),
		amount,
		requirements.MaxTimeoutSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	signature, err := eip3009.SignAuthorization(c.privateKey, domain, auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	payload := &x402.PaymentPayload{
		X402Version: x402.VersionCurrent,
		Scheme:      x402.SchemeExact,
		Network:     c.network,
		Nonce:       common.BytesToHash(auth.Nonce[:]).Hex(),
		Resource:    requirements.Resource,
	}
	err = payload.SetPayload(x402.EVMPayload{
		Signature: signature,
		Authorization: x402.EVMAuthorization{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value.String(),
			ValidAfter:  auth.ValidAfter.String(),
			ValidBefore: auth.ValidBefore.String(),
			Nonce:       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// domain resolves the EIP-712 signing domain from the requirement's extra
// parameters, falling back to the bundled chain configuration.
func (c *Client) domain(requirements *x402.PaymentRequirements) (eip3009.Domain, error) {
	domain := eip3009.Domain{
		ChainID:      big.NewInt(c.chainID),
		TokenAddress: common.HexToAddress(requirements.Asset),
	}

	if requirements.Extra != nil {
		name, _ := requirements.Extra["name"].(string)
		version, _ := requirements.Extra["version"].(string)
		if name != "" && version != "" {
			domain.Name = name
			domain.Version = version
			return domain, nil
		}
	}

	chain, err := x402.GetChainConfig(requirements.Network)
	if err != nil || !strings.EqualFold(chain.USDCAddress, requirements.Asset) {
		return domain, fmt.Errorf("%w: missing EIP-3009 domain parameters", x402.ErrInvalidRequirements)
	}
	domain.Name = chain.EIP3009Name
	domain.Version = chain.EIP3009Version
	return domain, nil
}
