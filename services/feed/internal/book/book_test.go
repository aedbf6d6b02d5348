package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

func lvl(p, s string) Level {
	return Level{Price: decimal.RequireFromString(p), Size: decimal.RequireFromString(s)}
}

func TestBook_SnapshotAndUpdates(t *testing.T) {
	b := New("BTC-USD")
	assert.False(t, b.ApplyUpdate([]Change{{Side: Bid, Price: decimal.RequireFromString("1"), Size: decimal.RequireFromString("1")}}))
	assert.False(t, b.Ready())

	b.ApplySnapshot(
		[]Level{lvl("10101.10", "0.45054140"), lvl("10100.00", "1")},
		[]Level{lvl("10102.55", "0.57753524"), lvl("10103", "2")},
	)
	require.True(t, b.Ready())

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, "10101.1", bid.Price.String())
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "10102.55", ask.Price.String())
	spread, _ := b.Spread()
	assert.Equal(t, "1.45", spread.String())

	require.True(t, b.ApplyUpdate([]Change{
		{Side: Bid, Price: decimal.RequireFromString("10101.100000"), Size: decimal.Zero},
		{Side: Ask, Price: decimal.RequireFromString("10102.000"), Size: decimal.RequireFromString("3")},
	}))

	bid, _ = b.BestBid()
	assert.Equal(t, "10100", bid.Price.String())
	ask, _ = b.BestAsk()
	assert.Equal(t, "10102", ask.Price.String())

	d := b.Depth(2)
	assert.Len(t, d.Bids, 1)
	require.Len(t, d.Asks, 2)
	assert.Equal(t, "10102", d.Asks[0].Price.String())
	assert.Equal(t, "10102.55", d.Asks[1].Price.String())
}

func TestBook_Invalidate(t *testing.T) {
	b := New("BTC-USD")
	b.ApplySnapshot([]Level{lvl("1", "1")}, nil)
	b.Invalidate()
	assert.False(t, b.Ready())
	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	p, bids, asks, err := ParseSnapshot([]byte(`{"type":"snapshot","product_id":"BTC-USD","bids":[["10101.10","0.45054140"]],"asks":[["10102.55","0.57753524"]]}`))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", p)
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)

	p, changes, err := ParseUpdate([]byte(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","22356.270000","0.00000000"],["sell","22356.300000","1.00000000"]],"time":"2022-08-04T15:25:05.010758Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", p)
	require.Len(t, changes, 2)
	assert.Equal(t, Bid, changes[0].Side)
	assert.True(t, changes[0].Size.IsZero())
	assert.Equal(t, Ask, changes[1].Side)

	_, _, err = ParseUpdate([]byte(`{"changes":[["hold","1","1"]]}`))
	assert.Error(t, err)
	_, _, _, err = ParseSnapshot([]byte(`{"bids":[["x","1"]]}`))
	assert.Error(t, err)
}

func TestManager_ApplyAndResync(t *testing.T) {
	m := NewManager(logger.Nop())

	apply := func(raw string) {
		msg, err := feed.Decode([]byte(raw))
		require.NoError(t, err)
		require.NoError(t, m.Apply(msg))
	}

	apply(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","1","1"]]}`)
	b, ok := m.Get("BTC-USD")
	require.True(t, ok)
	assert.False(t, b.Ready())

	apply(`{"type":"snapshot","product_id":"BTC-USD","bids":[["100","1"]],"asks":[["101","1"]]}`)
	apply(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","100.5","2"]]}`)
	bid, _ := b.BestBid()
	assert.Equal(t, "100.5", bid.Price.String())

	// ticker игнорируется
	apply(`{"type":"ticker","product_id":"BTC-USD","price":"1"}`)

	listen := m.Listener()
	listen(feed.Event{Type: feed.EventResync, Subscription: feed.Subscription{Channel: feed.ChannelTicker, ProductID: "BTC-USD"}})
	assert.True(t, b.Ready())
	listen(feed.Event{Type: feed.EventResync, Subscription: feed.Subscription{Channel: feed.ChannelLevel2, ProductID: "BTC-USD"}})
	assert.False(t, b.Ready())

	apply(`{"type":"l2update","product_id":"BTC-USD","changes":[["buy","100.5","0"]]}`)
	assert.False(t, b.Ready())

	assert.Equal(t, []string{"BTC-USD"}, m.Products())
}
