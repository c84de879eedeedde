package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/brojonat/mintscan/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const getTransactionMethod = "getTransaction"

// RPCError is a JSON-RPC error returned for one signature of a batch.
type RPCError struct {
	Signature string
	Code      int
	Message   string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error for signature %s: code %d: %s", e.Signature, e.Code, e.Message)
}

// ClientOptions configures how the Client talks to the node.
type ClientOptions struct {
	// Commitment defaults to rpc.CommitmentConfirmed.
	Commitment rpc.CommitmentType
}

// Client fetches parsed transactions from a Solana RPC node.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	commitment rpc.CommitmentType
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, opts ClientOptions, m *metrics.Metrics, logger *slog.Logger) *Client {
	commitment := opts.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: commitment,
	}
}

// FetchParsedTransactions requests the jsonParsed form of every signature in
// one JSON-RPC batch. The result has one entry per signature, in input
// order; an entry is nil when the node does not know the transaction or its
// payload could not be decoded.
//
// maxSupportedVersion bounds the transaction versions the node may return.
// A transport failure, a per-signature RPC error, or a missing response fails
// the whole call; no partial result is returned.
func (c *Client) FetchParsedTransactions(
	ctx context.Context,
	signatures []string,
	maxSupportedVersion uint64,
) ([]*ParsedTransaction, error) {
	if len(signatures) == 0 {
		return []*ParsedTransaction{}, nil
	}

	requests := make(jsonrpc.RPCRequests, 0, len(signatures))
	for i, raw := range signatures {
		sig, err := solana.SignatureFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid signature at position %d (%q): %w", i, raw, err)
		}
		req := jsonrpc.NewRequest(getTransactionMethod, sig, rpc.M{
			"encoding":                       solana.EncodingJSONParsed,
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": maxSupportedVersion,
		})
		// The id doubles as the position so responses can be put back in order.
		req.ID = i
		requests = append(requests, req)
	}

	c.logger.DebugContext(ctx, "calling getTransaction batch",
		"count", len(signatures),
		"commitment", c.commitment,
		"max_supported_version", maxSupportedVersion,
	)

	start := time.Now()
	responses, err := c.rpc.RPCCallBatch(ctx, requests)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(getTransactionMethod, status, c.endpoint, duration)
		c.metrics.RecordRPCBatchSize(c.endpoint, len(requests))
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch parsed transactions",
			"count", len(signatures),
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch parsed transactions: %w", err)
	}

	byPosition := make(map[string]*jsonrpc.RPCResponse, len(responses))
	for _, resp := range responses {
		if resp == nil || resp.ID == nil {
			continue
		}
		byPosition[fmt.Sprint(resp.ID)] = resp
	}

	out := make([]*ParsedTransaction, len(signatures))
	var found, missing, undecodable int
	for i, sig := range signatures {
		resp, ok := byPosition[strconv.Itoa(i)]
		if !ok {
			c.logger.ErrorContext(ctx, "no response for signature", "signature", sig)
			return nil, fmt.Errorf("no response for signature %s", sig)
		}
		if resp.Error != nil {
			rpcErr := &RPCError{Signature: sig, Code: resp.Error.Code, Message: resp.Error.Message}
			c.logger.ErrorContext(ctx, "failed to fetch parsed transactions",
				"signature", sig,
				"error", rpcErr,
			)
			return nil, rpcErr
		}

		txn, err := decodeResult(resp.Result)
		switch {
		case err != nil:
			undecodable++
			c.logger.WarnContext(ctx, "failed to decode transaction, leaving it empty",
				"signature", sig,
				"error", err,
			)
		case txn == nil:
			missing++
			c.logger.DebugContext(ctx, "transaction not found", "signature", sig)
		default:
			found++
			out[i] = txn
		}
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsFetched("found", found)
		c.metrics.RecordTransactionsFetched("missing", missing)
		c.metrics.RecordTransactionsFetched("undecodable", undecodable)
	}

	c.logger.InfoContext(ctx, "fetched parsed transactions",
		"requested", len(signatures),
		"found", found,
		"missing", missing,
		"undecodable", undecodable,
	)

	return out, nil
}

// decodeResult returns nil, nil for an absent or null result.
func decodeResult(raw json.RawMessage) (*ParsedTransaction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var txn *ParsedTransaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, err
	}
	return txn, nil
}
