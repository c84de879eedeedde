package solana

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrEmptyEndpoints is returned when no RPC endpoint is configured.
	ErrEmptyEndpoints = errors.New("no RPC endpoints configured")

	// ErrUnknownNetwork is returned for a network alias with no known cluster.
	ErrUnknownNetwork = errors.New("unknown solana network")
)

// RPCClient is the slice of the Solana JSON-RPC API the fetcher needs.
// *rpc.Client from solana-go satisfies it directly, and tests substitute
// a mock without hitting real Solana nodes.
type RPCClient interface {
	RPCCallBatch(ctx context.Context, requests jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error)
}

// NewRPCClient creates a new RPCClient backed by the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return rpc.New(rpcURL)
}

// ResolveEndpoint maps a cluster alias to its public RPC URL.
func ResolveEndpoint(network string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet-beta", "mainnet":
		return rpc.MainNetBeta.RPC, nil
	case "devnet":
		return rpc.DevNet.RPC, nil
	case "testnet":
		return rpc.TestNet.RPC, nil
	case "localnet", "localhost":
		return rpc.LocalNet.RPC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
}

// SelectRandomEndpoint picks one of the configured endpoints at random so
// repeated runs spread load across providers.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrEmptyEndpoints
	}
	return endpoints[rand.Intn(len(endpoints))], nil
}

// EndpointLabel extracts a short identifier from an RPC URL for metrics
// labeling. API keys in paths or query strings never end up in the label.
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "https://some-endpoint.quiknode.pro/..." -> "quiknode"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()

	switch {
	case strings.Contains(host, "mainnet-beta.solana.com"):
		return "mainnet"
	case strings.Contains(host, "devnet.solana.com"):
		return "devnet"
	case strings.Contains(host, "testnet.solana.com"):
		return "testnet"
	case strings.Contains(host, "helius"):
		return "helius"
	case strings.Contains(host, "quiknode"):
		return "quiknode"
	case strings.Contains(host, "alchemy"):
		return "alchemy"
	case host == "localhost" || host == "127.0.0.1":
		return "localnet"
	default:
		return host
	}
}
