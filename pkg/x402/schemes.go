package x402

import (
	"fmt"
	"strings"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

// SchemeType represents the type of payment scheme
type SchemeType string

// SchemeExact is a transfer of exactly the required amount.
const SchemeExact SchemeType = "exact"

// NetworkType represents the payment network. Both x402 v1 short names and
// CAIP-2 identifiers are understood.
type NetworkType string

const (
	NetworkSolanaMainnet NetworkType = "solana"
	NetworkSolanaDevnet  NetworkType = "solana-devnet"
	NetworkSolanaTestnet NetworkType = "solana-testnet"

	// CAIP-2 forms
	NetworkSolanaMainnetCAIP NetworkType = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnetCAIP  NetworkType = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	NetworkSolanaTestnetCAIP NetworkType = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
	NetworkSolanaWildcard    NetworkType = "solana:*"
)

var caipToName = map[NetworkType]NetworkType{
	NetworkSolanaMainnetCAIP: NetworkSolanaMainnet,
	NetworkSolanaDevnetCAIP:  NetworkSolanaDevnet,
	NetworkSolanaTestnetCAIP: NetworkSolanaTestnet,
}

var nameToCAIP = map[NetworkType]NetworkType{
	NetworkSolanaMainnet: NetworkSolanaMainnetCAIP,
	NetworkSolanaDevnet:  NetworkSolanaDevnetCAIP,
	NetworkSolanaTestnet: NetworkSolanaTestnetCAIP,
}

// NormalizeNetwork returns the v1 short name for a network given in either form.
func NormalizeNetwork(s string) (NetworkType, error) {
	n := NetworkType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := nameToCAIP[n]; ok {
		return n, nil
	}
	// CAIP-2 references are case sensitive base58 genesis hashes.
	if name, ok := caipToName[NetworkType(strings.TrimSpace(s))]; ok {
		return name, nil
	}
	if n == "solana-mainnet" || n == "mainnet-beta" {
		return NetworkSolanaMainnet, nil
	}
	return "", fmt.Errorf("unsupported network %q", s)
}

// CAIP2 returns the CAIP-2 identifier of a v1 network name.
func (n NetworkType) CAIP2() NetworkType {
	if id, ok := nameToCAIP[n]; ok {
		return id
	}
	return n
}

// DisplayName returns a human-friendly name for a network
func (n NetworkType) DisplayName() string {
	switch n {
	case NetworkSolanaMainnet, NetworkSolanaMainnetCAIP:
		return "Solana"
	case NetworkSolanaDevnet, NetworkSolanaDevnetCAIP:
		return "Solana Devnet"
	case NetworkSolanaTestnet, NetworkSolanaTestnetCAIP:
		return "Solana Testnet"
	default:
		return string(n)
	}
}

// DefaultRPCURL returns the public cluster endpoint for a network.
func (n NetworkType) DefaultRPCURL() string {
	switch n {
	case NetworkSolanaMainnet, NetworkSolanaMainnetCAIP:
		return solana.MainnetRPC
	case NetworkSolanaTestnet, NetworkSolanaTestnetCAIP:
		return solana.TestnetRPC
	default:
		return solana.DevnetRPC
	}
}

// NetworkMatches reports whether a network named by a client is the one the
// server is configured for. Patterns ending in '*' match by prefix.
func NetworkMatches(configured NetworkType, offered string) bool {
	if isWildcardMatch(configured, NetworkType(offered)) {
		return true
	}
	want, err := NormalizeNetwork(string(configured))
	if err != nil {
		return false
	}
	got, err := NormalizeNetwork(offered)
	if err != nil {
		return false
	}
	return want == got
}

// isWildcardMatch checks if a wildcard network matches a specific network
func isWildcardMatch(pattern, network NetworkType) bool {
	// solana:* matches solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp
	if len(pattern) < 2 || pattern[len(pattern)-1] != '*' {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	if strings.HasPrefix(string(network), string(prefix)) && len(network) > len(prefix) {
		return true
	}
	// short names belong to the solana family as well
	if prefix == "solana:" {
		_, ok := nameToCAIP[network]
		return ok
	}
	return false
}
