package snapshot

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixtrade/domain/market"
)

func TestWriteLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	stats := market.NewStatsWindow()
	at := time.Unix(1700000000, 0)
	stats.Record(10100, 5, at)

	in := &Snapshot{
		Pair:     "BTC/USDT",
		Seq:      42,
		TradeSeq: 7,
		Created:  at,
		Orders: []OrderEntry{
			{ID: "a", UserID: "u1", Side: 0, Price: 10000, Qty: 10, Filled: 3, Seq: 40},
			{ID: "b", UserID: "u2", Side: 1, Price: 10200, Qty: 4, Seq: 41},
		},
		Stats: *stats,
		Trades: []market.Trade{{
			ID: "t7", Pair: "BTC/USDT", Price: decimal.RequireFromString("101"), Size: decimal.RequireFromString("0.05"),
			BuyOrderID: "a", SellOrderID: "x", Seq: 7, ExecutedAt: at.UTC(),
		}},
	}
	require.NoError(t, w.Write(in))

	_, err := os.Stat(Path(dir, "BTC/USDT"))
	require.NoError(t, err)

	out, err := Load(dir, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(42), out.Seq)
	assert.Equal(t, uint64(7), out.TradeSeq)
	assert.Equal(t, in.Orders, out.Orders)
	assert.True(t, out.Stats.HasData)
	assert.Equal(t, int64(10100), out.Stats.Last)
	require.Len(t, out.Trades, 1)
	assert.True(t, out.Trades[0].Price.Equal(decimal.RequireFromString("101")))
}

func TestLoad_MissingIsOptional(t *testing.T) {
	s, err := Load(t.TempDir(), "ETH/USDT")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestWrite_ReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	require.NoError(t, w.Write(&Snapshot{Pair: "ETH/USDT", Seq: 1}))
	require.NoError(t, w.Write(&Snapshot{Pair: "ETH/USDT", Seq: 2}))

	s, err := Load(dir, "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Seq)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BTC-USDT", FileName("BTC/USDT"))
}
