// Package exact implements the exact-amount payment scheme for Solana chains.
//
// A proof is a partially signed SPL token transfer: the client signs as the
// token owner and leaves the fee payer slot open. The facilitator named in
// the requirement countersigns and submits the transaction, sponsoring the
// network fee. The client's transaction signature doubles as the proof's
// replay-prevention key.
package exact

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/internal/solanautil"
)

// RPCClient is the read-only RPC surface the client needs. *rpc.Client
// satisfies it.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// Client constructs partially signed SPL transfer proofs for one network with
// one key.
type Client struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    string
	tokens     []x402.TokenConfig
	maxAmount  *big.Int
	rpcClient  RPCClient
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithMaxAmount caps the atomic amount the client will sign for.
func WithMaxAmount(amount *big.Int) ClientOption {
	return func(c *Client) error {
		c.maxAmount = amount
		return nil
	}
}

// WithRPCClient injects a custom RPC client.
func WithRPCClient(client RPCClient) ClientOption {
	return func(c *Client) error {
		c.rpcClient = client
		return nil
	}
}

// NewClient creates a client from a base58-encoded private key.
func NewClient(network string, privateKeyBase58 string, tokens []x402.TokenConfig, opts ...ClientOption) (*Client, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewClientFromKey(network, privateKey, tokens, opts...)
}

// NewClientFromKey creates a client from an in-memory private key.
func NewClientFromKey(network string, key solana.PrivateKey, tokens []x402.TokenConfig, opts ...ClientOption) (*Client, error) {
	family, err := x402.ParseFamily(network)
	if err != nil {
		return nil, err
	}
	if family != x402.FamilySVM {
		return nil, fmt.Errorf("%w: expected Solana network, got %s", x402.ErrInvalidNetwork, network)
	}
	if len(tokens) == 0 {
		return nil, x402.ErrInvalidToken
	}

	c := &Client{
		privateKey: key,
		publicKey:  key.PublicKey(),
		network:    network,
		tokens:     tokens,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Address returns the payer public key.
func (c *Client) Address() solana.PublicKey {
	return c.publicKey
}

// CanPay reports whether the client can satisfy the requirement at all.
// Token matching is case sensitive, as base58 addresses are.
func (c *Client) CanPay(requirements *x402.PaymentRequirements) bool {
	if requirements == nil || requirements.Scheme != x402.SchemeExact {
		return false
	}
	if requirements.Network != c.network {
		return false
	}
	return c.token(requirements.Asset) != nil
}

func (c *Client) token(asset string) *x402.TokenConfig {
	for i := range c.tokens {
		if c.tokens[i].Address == asset {
			return &c.tokens[i]
		}
	}
	return nil
}

// Construct builds and partially signs a payment proof for the requirement.
func (c *Client) Construct(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if !c.CanPay(requirements) {
		return nil, fmt.Errorf("%w: %s/%s asset %s", x402.ErrUnsupportedRequirement,
			requirements.Scheme, requirements.Network, requirements.Asset)
	}

	amount, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, x402.ErrInvalidAmount
	}
	if c.maxAmount != nil && amount.Cmp(c.maxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount %s exceeds client limit %s",
			x402.ErrUnsupportedRequirement, amount, c.maxAmount)
	}
	if !amount.IsUint64() {
		return nil, fmt.Errorf("%w: %s overflows uint64", x402.ErrInvalidAmount, amount)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mint address: %v", x402.ErrInvalidRequirements, err)
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid recipient address: %v", x402.ErrInvalidRequirements, err)
	}
	feePayer, err := extractFeePayer(requirements)
	if err != nil {
		return nil, err
	}

	token := c.token(requirements.Asset)
	if token.Decimals < 0 || token.Decimals > 255 {
		return nil, fmt.Errorf("%w: invalid token decimals %d", x402.ErrInvalidToken, token.Decimals)
	}

	client := c.rpcClient
	if client == nil {
		rpcURL, err := solanautil.GetRPCURL(c.network)
		if err != nil {
			return nil, err
		}
		client = rpc.New(rpcURL)
	}
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("%w: get blockhash: %v", x402.ErrSigningFailed, err)
	}

	tx, err := c.buildTransfer(mint, recipient, amount.Uint64(), uint8(token.Decimals), feePayer, recent.Value.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	txBase64, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrSigningFailed, err)
	}

	payload := &x402.PaymentPayload{
		X402Version: x402.VersionCurrent,
		Scheme:      x402.SchemeExact,
		Network:     c.network,
		Nonce:       clientSignature(tx).String(),
		Resource:    requirements.Resource,
	}
	if err := payload.SetPayload(x402.SVMPayload{Transaction: txBase64}); err != nil {
		return nil, err
	}
	return payload, nil
}

// buildTransfer assembles the four-instruction payment transaction and signs
// it with the client key only, leaving the fee payer slot empty.
func (c *Client) buildTransfer(mint, recipient solana.PublicKey, amount uint64, decimals uint8, feePayer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	sourceATA, err := solanautil.DeriveAssociatedTokenAddress(c.publicKey, mint)
	if err != nil {
		return nil, err
	}
	destATA, err := solanautil.DeriveAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, err
	}
	createATA, err := solanautil.BuildCreateIdempotentATAInstruction(feePayer, recipient, mint)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		solanautil.BuildSetComputeUnitLimitInstruction(solanautil.DefaultComputeUnits),
		solanautil.BuildSetComputeUnitPriceInstruction(solanautil.DefaultComputeUnitPrice),
		createATA,
		solanautil.BuildTransferCheckedInstruction(sourceATA, mint, destATA, c.publicKey, amount, decimals),
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, err
	}

	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.publicKey) {
			return &c.privateKey
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// clientSignature returns the first populated signature on a partially signed
// transaction.
func clientSignature(tx *solana.Transaction) solana.Signature {
	var zero solana.Signature
	for _, sig := range tx.Signatures {
		if sig != zero {
			return sig
		}
	}
	return zero
}

func extractFeePayer(requirements *x402.PaymentRequirements) (solana.PublicKey, error) {
	if requirements.Extra == nil {
		return solana.PublicKey{}, fmt.Errorf("%w: missing feePayer", x402.ErrInvalidRequirements)
	}
	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("%w: missing feePayer", x402.ErrInvalidRequirements)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid feePayer: %v", x402.ErrInvalidRequirements, err)
	}
	return feePayer, nil
}
