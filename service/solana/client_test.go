package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sigA = "5ugM5FkKtEgHNja7wQtgFc1BQ1UERB6Eh1yuUfKABfSrdNFBwhUD9QPtFEPLZJBRSwKy63EfPHNg7QkR3tyKZzYP"
	sigB = "5i6i4vbJkHk13HnimmtGDjdZpvXvEbimT55U6Li37zH3zJJTG6rfAJkGuHBjxmrPqrp4ZVXUYh2hZTPiHuLC9bim"
	sigC = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	// results maps a signature to the raw "result" the node returns for it.
	results map[string]string
	// rpcErrors maps a signature to a per-request JSON-RPC error.
	rpcErrors map[string]*jsonrpc.RPCError
	// drop omits the response for a signature.
	drop map[string]bool
	// reverse returns responses in reverse request order.
	reverse bool
	err     error

	calls    int
	requests jsonrpc.RPCRequests
}

func (m *mockRPCClient) RPCCallBatch(ctx context.Context, requests jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	m.calls++
	m.requests = requests
	if m.err != nil {
		return nil, m.err
	}

	responses := make(jsonrpc.RPCResponses, 0, len(requests))
	for _, req := range requests {
		sig := requestSignature(req)
		if m.drop[sig] {
			continue
		}
		resp := &jsonrpc.RPCResponse{JSONRPC: "2.0", ID: json.Number(jsonID(req.ID))}
		if rpcErr, ok := m.rpcErrors[sig]; ok {
			resp.Error = rpcErr
		} else if raw, ok := m.results[sig]; ok {
			resp.Result = json.RawMessage(raw)
		} else {
			resp.Result = json.RawMessage("null")
		}
		responses = append(responses, resp)
	}
	if m.reverse {
		slices.Reverse(responses)
	}
	return responses, nil
}

func requestSignature(req *jsonrpc.RPCRequest) string {
	params := req.Params.([]interface{})
	data, _ := json.Marshal(params[0])
	var sig string
	_ = json.Unmarshal(data, &sig)
	return sig
}

func jsonID(id any) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", ClientOptions{}, nil, logger)
}

// newLoggedTestClient returns a client whose JSON log records land in the buffer.
func newLoggedTestClient(mock *mockRPCClient) (*Client, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewClient(mock, "test", ClientOptions{}, nil, logger), &buf
}

// logRecords decodes every JSON log line written to buf.
func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		records = append(records, rec)
	}
	return records
}

func hasErrorRecord(records []map[string]any, msg string) bool {
	return slices.ContainsFunc(records, func(rec map[string]any) bool {
		return rec["level"] == "ERROR" && rec["msg"] == msg
	})
}

func txJSON(sig string, version string) string {
	return `{"slot":100,"blockTime":1700000000,"version":` + version +
		`,"meta":{"err":null,"fee":5000},"transaction":{"signatures":["` + sig + `"]}}`
}

func TestFetchParsedTransactions_PreservesOrderAndLength(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{
		results: map[string]string{
			sigA: txJSON(sigA, "0"),
			sigC: txJSON(sigC, `"legacy"`),
		},
		reverse: true,
	}
	client := newTestClient(mock)

	txns, err := client.FetchParsedTransactions(ctx, []string{sigA, sigB, sigC}, 0)

	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.NotNil(t, txns[0])
	assert.Equal(t, sigA, txns[0].Signature())
	assert.Nil(t, txns[1], "unknown signature should yield nil")
	require.NotNil(t, txns[2])
	assert.Equal(t, sigC, txns[2].Signature())
	assert.True(t, txns[2].Version.IsLegacy())
	assert.Equal(t, 1, mock.calls, "all signatures should go out in one batch")
}

func TestFetchParsedTransactions_RequestShape(t *testing.T) {
	ctx := context.Background()
	mock := &mockRPCClient{}
	client := NewClient(mock, "test", ClientOptions{Commitment: rpc.CommitmentFinalized}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := client.FetchParsedTransactions(ctx, []string{sigA, sigB}, 0)
	require.NoError(t, err)

	require.Len(t, mock.requests, 2)
	for i, req := range mock.requests {
		assert.Equal(t, "getTransaction", req.Method)
		assert.Equal(t, i, req.ID)

		data, err := json.Marshal(req.Params)
		require.NoError(t, err)
		var params []json.RawMessage
		require.NoError(t, json.Unmarshal(data, &params))
		require.Len(t, params, 2)

		var opts map[string]any
		require.NoError(t, json.Unmarshal(params[1], &opts))
		assert.Equal(t, "jsonParsed", opts["encoding"])
		assert.Equal(t, "finalized", opts["commitment"])
		assert.Equal(t, float64(0), opts["maxSupportedTransactionVersion"])
	}
	assert.Equal(t, sigA, requestSignature(mock.requests[0]))
	assert.Equal(t, sigB, requestSignature(mock.requests[1]))
}

func TestFetchParsedTransactions_DefaultCommitmentIsConfirmed(t *testing.T) {
	mock := &mockRPCClient{}
	client := newTestClient(mock)

	_, err := client.FetchParsedTransactions(context.Background(), []string{sigA}, 0)
	require.NoError(t, err)

	data, err := json.Marshal(mock.requests[0].Params)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"commitment":"confirmed"`)
}

func TestFetchParsedTransactions_Empty(t *testing.T) {
	mock := &mockRPCClient{}
	client := newTestClient(mock)

	txns, err := client.FetchParsedTransactions(context.Background(), nil, 0)

	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.NotNil(t, txns)
	assert.Zero(t, mock.calls, "no RPC call for an empty request")
}

func TestFetchParsedTransactions_ErrorFromRPC(t *testing.T) {
	mock := &mockRPCClient{err: assert.AnError}
	client, logs := newLoggedTestClient(mock)

	txns, err := client.FetchParsedTransactions(context.Background(), []string{sigA, sigB}, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, txns)
	assert.True(t, hasErrorRecord(logRecords(t, logs), "failed to fetch parsed transactions"),
		"transport failure is logged before being returned")
}

func TestFetchParsedTransactions_PerSignatureRPCError(t *testing.T) {
	mock := &mockRPCClient{
		results: map[string]string{sigA: txJSON(sigA, "0")},
		rpcErrors: map[string]*jsonrpc.RPCError{
			sigB: {Code: -32015, Message: "Transaction version (1) is not supported"},
		},
	}
	client, logs := newLoggedTestClient(mock)

	txns, err := client.FetchParsedTransactions(context.Background(), []string{sigA, sigB}, 0)

	require.Error(t, err)
	assert.Nil(t, txns)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, sigB, rpcErr.Signature)
	assert.Equal(t, -32015, rpcErr.Code)

	records := logRecords(t, logs)
	require.True(t, hasErrorRecord(records, "failed to fetch parsed transactions"))
	for _, rec := range records {
		if rec["level"] == "ERROR" {
			assert.Equal(t, sigB, rec["signature"])
		}
	}
}

func TestFetchParsedTransactions_MissingResponse(t *testing.T) {
	mock := &mockRPCClient{drop: map[string]bool{sigB: true}}
	client := newTestClient(mock)

	txns, err := client.FetchParsedTransactions(context.Background(), []string{sigA, sigB}, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), sigB)
	assert.Nil(t, txns)
}

func TestFetchParsedTransactions_UndecodableResultIsNil(t *testing.T) {
	mock := &mockRPCClient{
		results: map[string]string{
			sigA: `{"slot":"not-a-number"}`,
			sigB: txJSON(sigB, "0"),
		},
	}
	client := newTestClient(mock)

	txns, err := client.FetchParsedTransactions(context.Background(), []string{sigA, sigB}, 0)

	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Nil(t, txns[0])
	assert.NotNil(t, txns[1])
}

func TestFetchParsedTransactions_InvalidSignature(t *testing.T) {
	mock := &mockRPCClient{}
	client := newTestClient(mock)

	_, err := client.FetchParsedTransactions(context.Background(), []string{sigA, "not-base58-0OIl"}, 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "position 1")
	assert.Zero(t, mock.calls)
}
