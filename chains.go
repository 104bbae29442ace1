package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// Family identifies a blockchain virtual-machine family. Scheme
// implementations are registered per family; the family of a network is
// derived from its CAIP-2 namespace.
type Family string

const (
	// FamilyEVM covers Ethereum Virtual Machine chains (eip155 namespace).
	FamilyEVM Family = "evm"

	// FamilySVM covers Solana Virtual Machine chains (solana namespace).
	FamilySVM Family = "svm"
)

// CAIP-2 network identifiers for the chains with bundled configuration.
const (
	NetworkBase        = "eip155:8453"
	NetworkBaseSepolia = "eip155:84532"
	NetworkEthereum    = "eip155:1"
	NetworkPolygon     = "eip155:137"

	// Solana networks reference the genesis hash per CAIP-2.
	NetworkSolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// ChainConfig holds configuration for a specific blockchain.
type ChainConfig struct {
	// Network is the CAIP-2 network identifier.
	Network string

	// USDCAddress is the official Circle USDC contract or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC.
	Decimals int

	// EIP3009Name is the EIP-3009 domain parameter "name" (empty for non-EVM chains).
	EIP3009Name string

	// EIP3009Version is the EIP-3009 domain parameter "version" (empty for non-EVM chains).
	EIP3009Version string
}

// Predefined chain configurations. USDC addresses and EIP-3009 domain
// parameters verified against the deployed contracts.
var (
	BaseMainnet = ChainConfig{
		Network:        NetworkBase,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	BaseSepolia = ChainConfig{
		Network:        NetworkBaseSepolia,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	EthereumMainnet = ChainConfig{
		Network:        NetworkEthereum,
		USDCAddress:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		Network:        NetworkPolygon,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	SolanaMainnet = ChainConfig{
		Network:     NetworkSolanaMainnet,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	SolanaDevnet = ChainConfig{
		Network:     NetworkSolanaDevnet,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}
)

var chainConfigByNetwork = map[string]ChainConfig{
	NetworkBase:          BaseMainnet,
	NetworkBaseSepolia:   BaseSepolia,
	NetworkEthereum:      EthereumMainnet,
	NetworkPolygon:       PolygonMainnet,
	NetworkSolanaMainnet: SolanaMainnet,
	NetworkSolanaDevnet:  SolanaDevnet,
}

// GetChainConfig returns the bundled configuration for a CAIP-2 network.
func GetChainConfig(network string) (ChainConfig, error) {
	config, ok := chainConfigByNetwork[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	return config, nil
}

// ParseFamily validates a CAIP-2 network identifier and returns its chain
// family. Returns ErrInvalidNetwork for malformed identifiers or namespaces
// with no registered family.
func ParseFamily(network string) (Family, error) {
	if network == "" {
		return "", fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}

	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}

	namespace, reference := parts[0], parts[1]
	switch namespace {
	case "eip155":
		if _, err := strconv.ParseInt(reference, 10, 64); err != nil {
			return "", fmt.Errorf("%w: invalid EIP-155 chain ID: %s", ErrInvalidNetwork, reference)
		}
		return FamilyEVM, nil
	case "solana":
		// Genesis hash references are base58, 32-44 characters.
		if len(reference) < 32 || len(reference) > 44 {
			return "", fmt.Errorf("%w: invalid Solana genesis hash: %s", ErrInvalidNetwork, reference)
		}
		return FamilySVM, nil
	default:
		return "", fmt.Errorf("%w: unsupported namespace: %s", ErrInvalidNetwork, namespace)
	}
}

// GetChainID extracts the numeric chain ID from a CAIP-2 EVM network identifier.
func GetChainID(network string) (int64, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}
	if parts[0] != "eip155" {
		return 0, fmt.Errorf("%w: not an EVM network: %s", ErrInvalidNetwork, network)
	}
	chainID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chain ID: %s", ErrInvalidNetwork, parts[1])
	}
	return chainID, nil
}

// NetworksForFamily returns the bundled CAIP-2 networks belonging to a family.
func NetworksForFamily(family Family) []string {
	var networks []string
	for network := range chainConfigByNetwork {
		if f, err := ParseFamily(network); err == nil && f == family {
			networks = append(networks, network)
		}
	}
	return networks
}

// USDCToken returns the TokenConfig for USDC on the given chain.
func USDCToken(chain ChainConfig) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: chain.Decimals,
	}
}
