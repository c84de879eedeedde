package nats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/mintscan/service/metrics"
	"github.com/brojonat/mintscan/service/solana"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMsg struct {
	subject string
	data    []byte
}

// fakeStream records publishes and fails for signatures listed in failFor.
type fakeStream struct {
	published []publishedMsg
	failFor   map[string]bool
}

func (f *fakeStream) Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	var event TransferEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if f.failFor[event.Signature] {
		return nil, errors.New("nats: no responders available for request")
	}
	f.published = append(f.published, publishedMsg{subject: subject, data: payload})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.published))}, nil
}

func newTestPublisher(js streamPublisher, m *metrics.Metrics) *JetStreamPublisher {
	return &JetStreamPublisher{
		js:      js,
		metrics: m,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const testMint = "H24RXEMJ6TK61NrbMZoNxMj2u3yaxJcVMSM65AqfUj9o"

func sampleMatch(sig string) *solana.TransferMatch {
	return &solana.TransferMatch{
		Signature:  sig,
		Slot:       250000000,
		Version:    "0",
		GroupIndex: 2,
		Position:   1,
		Type:       solana.TransferCheckedType,
		Info: map[string]any{
			"authority":   "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1",
			"destination": "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi",
			"mint":        testMint,
			"source":      "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			"tokenAmount": map[string]any{"amount": "1500000", "decimals": float64(6)},
		},
	}
}

func TestFromMatch(t *testing.T) {
	event := FromMatch(testMint, sampleMatch("sig-1"))

	assert.Equal(t, "sig-1", event.Signature)
	assert.Equal(t, uint64(250000000), event.Slot)
	assert.Equal(t, testMint, event.Mint)
	assert.Equal(t, solana.TransferCheckedType, event.InstructionType)
	assert.Equal(t, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", event.Source)
	assert.Equal(t, "7UX2i7SucgLMQcfZ75s3VXmZZY4YRUyJN9X1RgfMoDUi", event.Destination)
	assert.Equal(t, "1500000", event.Amount)
	require.NotNil(t, event.Decimals)
	assert.Equal(t, 6, *event.Decimals)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestFromMatch_PlainTransferAmount(t *testing.T) {
	m := &solana.TransferMatch{Signature: "sig", Type: "transfer", Info: map[string]any{"amount": "7"}}
	event := FromMatch(testMint, m)

	assert.Equal(t, "7", event.Amount)
	assert.Nil(t, event.Decimals)
}

func TestPublishTransfer(t *testing.T) {
	stream := &fakeStream{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newTestPublisher(stream, m)

	err := p.PublishTransfer(context.Background(), FromMatch(testMint, sampleMatch("sig-1")))

	require.NoError(t, err)
	require.Len(t, stream.published, 1)
	assert.Equal(t, "transfers."+testMint, stream.published[0].subject)

	var decoded TransferEvent
	require.NoError(t, json.Unmarshal(stream.published[0].data, &decoded))
	assert.Equal(t, "sig-1", decoded.Signature)

	count, err := testutil.GatherAndCount(reg, "nats_messages_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPublishTransfer_Error(t *testing.T) {
	stream := &fakeStream{failFor: map[string]bool{"sig-1": true}}
	p := newTestPublisher(stream, nil)

	err := p.PublishTransfer(context.Background(), FromMatch(testMint, sampleMatch("sig-1")))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish transfer")
}

func TestPublishTransferBatch_ContinuesPastFailure(t *testing.T) {
	stream := &fakeStream{failFor: map[string]bool{"sig-2": true}}
	p := newTestPublisher(stream, nil)

	events := []*TransferEvent{
		FromMatch(testMint, sampleMatch("sig-1")),
		FromMatch(testMint, sampleMatch("sig-2")),
		FromMatch(testMint, sampleMatch("sig-3")),
	}

	published, err := p.PublishTransferBatch(context.Background(), events)

	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Len(t, stream.published, 2)
}

func TestPublishTransferBatch_AllFail(t *testing.T) {
	stream := &fakeStream{failFor: map[string]bool{"sig-1": true, "sig-2": true}}
	p := newTestPublisher(stream, nil)

	events := []*TransferEvent{
		FromMatch(testMint, sampleMatch("sig-1")),
		FromMatch(testMint, sampleMatch("sig-2")),
	}

	published, err := p.PublishTransferBatch(context.Background(), events)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of 2 transfers published")
	assert.Zero(t, published)
	assert.Empty(t, stream.published)
}

func TestPublishTransferBatch_Empty(t *testing.T) {
	stream := &fakeStream{}
	p := newTestPublisher(stream, nil)

	published, err := p.PublishTransferBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Empty(t, stream.published)
}

func TestMockPublisher(t *testing.T) {
	mock := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, mock.PublishTransfer(ctx, FromMatch(testMint, sampleMatch("a"))))
	published, err := mock.PublishTransferBatch(ctx, []*TransferEvent{FromMatch("other", sampleMatch("b"))})
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	assert.Len(t, mock.GetPublishedEvents(), 2)
	assert.Len(t, mock.GetPublishedEventsForMint(testMint), 1)

	mock.SetPublishBatchError(assert.AnError)
	_, err = mock.PublishTransferBatch(ctx, nil)
	assert.ErrorIs(t, err, assert.AnError)

	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
}

func TestMockPublisher_PublishError(t *testing.T) {
	mock := NewMockPublisher()
	ctx := context.Background()

	mock.SetPublishError(assert.AnError)
	err := mock.PublishTransfer(ctx, FromMatch(testMint, sampleMatch("a")))

	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, mock.GetPublishedEvents())

	mock.SetPublishError(nil)
	require.NoError(t, mock.PublishTransfer(ctx, FromMatch(testMint, sampleMatch("a"))))
	assert.Len(t, mock.GetPublishedEvents(), 1)
}
