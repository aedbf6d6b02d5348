package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/internal/book"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

type published struct {
	topic      string
	key, value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, key, value})
	return nil
}
func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

type sliceSource struct {
	msgs []feed.Message
}

func (s *sliceSource) Next() (feed.Message, bool) {
	if len(s.msgs) == 0 {
		return feed.Message{}, false
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, true
}

func decode(t *testing.T, raws ...string) []feed.Message {
	t.Helper()
	out := make([]feed.Message, 0, len(raws))
	for _, r := range raws {
		m, err := feed.Decode([]byte(r))
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestDispatcher_RoutesToBookAndPublisher(t *testing.T) {
	books := book.NewManager(logger.Nop())
	prod := &fakeProducer{}

	d := NewDispatcher(logger.Nop())
	d.Register(NewBookProcessor(books), feed.KindSnapshot, feed.KindL2Update)
	d.Register(NewPublishProcessor(prod, "feed.raw", logger.Nop()))

	src := &sliceSource{msgs: decode(t,
		`{"type":"snapshot","product_id":"BTC-USD","bids":[["100","1"]],"asks":[["101","1"]]}`,
		`{"type":"l2update","product_id":"BTC-USD","changes":[["sell","100.5","2"]]}`,
		`{"type":"ticker","product_id":"ETH-USD","sequence":5,"price":"1.5"}`,
		`{"type":"status","products":[]}`,
	)}
	require.NoError(t, d.Run(context.Background(), src))

	b, ok := books.Get("BTC-USD")
	require.True(t, ok)
	ask, _ := b.BestAsk()
	assert.Equal(t, "100.5", ask.Price.String())

	require.Len(t, prod.msgs, 4)
	assert.Equal(t, "feed.raw", prod.msgs[0].topic)
	assert.Equal(t, "BTC-USD", string(prod.msgs[0].key))
	assert.Nil(t, prod.msgs[3].key)

	var env struct {
		Type      string          `json:"type"`
		Channel   string          `json:"channel"`
		ProductID string          `json:"product_id"`
		Sequence  *int64          `json:"sequence"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(prod.msgs[2].value, &env))
	assert.Equal(t, "ticker", env.Type)
	assert.Equal(t, feed.ChannelTicker, env.Channel)
	require.NotNil(t, env.Sequence)
	assert.Equal(t, int64(5), *env.Sequence)
	assert.JSONEq(t, `{"type":"ticker","product_id":"ETH-USD","sequence":5,"price":"1.5"}`, string(env.Payload))
}

func TestDispatcher_LogsProcessorErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	prod := &fakeProducer{err: errors.New("broker down")}

	d := NewDispatcher(logger.Wrap(zap.New(core)))
	d.Register(NewPublishProcessor(prod, "feed.raw", logger.Nop()))
	d.Dispatch(context.Background(), decode(t, `{"type":"ticker","product_id":"BTC-USD"}`)[0])

	entries := logs.FilterMessage("message processing failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "BTC-USD", entries[0].ContextMap()["product_id"])
}

func TestPublishProcessor_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prod := &fakeProducer{err: errors.New("broker down")}
	pp := NewPublishProcessor(prod, "feed.raw", logger.Wrap(zap.New(core)))

	err := pp.Process(context.Background(), decode(t, `{"type":"ticker","product_id":"ETH-USD"}`)[0])
	require.ErrorContains(t, err, "broker down")

	entries := logs.FilterMessage("publish failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "feed.raw", fields["topic"])
	assert.Equal(t, "ETH-USD", fields["product_id"])
}

func TestLogProcessor_NeverFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lp := NewLogProcessor(logger.Wrap(zap.New(core)))

	for _, m := range decode(t,
		`{"type":"ticker","product_id":"BTC-USD","price":"1","best_bid":"0.9","best_ask":"1.1"}`,
		`{"type":"error","message":"oops"}`,
		`{"type":"status"}`,
		`{"type":"heartbeat","product_id":"BTC-USD"}`,
	) {
		assert.NoError(t, lp.Process(context.Background(), m))
	}
	assert.Equal(t, 1, logs.FilterMessage("ticker").Len())
	assert.Equal(t, 1, logs.FilterMessage("exchange error frame").Len())
}
