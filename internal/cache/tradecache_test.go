package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/domain"
)

func testTrade(pair domain.Pair, tradeID string) domain.Trade {
	return domain.Trade{
		TradeID:     tradeID,
		Buyer:       "alice",
		Seller:      "bob",
		Pair:        pair,
		BasePrice:   decimal.RequireFromString("100"),
		BaseAmount:  decimal.RequireFromString("1"),
		QuoteAmount: decimal.RequireFromString("100"),
		Timestamp:   time.Now(),
	}
}

func TestRecordAndRecentReturnsNewestLast(t *testing.T) {
	pair := domain.Pair{Base: "BTC", Quote: "USD"}
	c := New(Options{PerPairLimit: 10}, zap.NewNop())

	c.Record(testTrade(pair, "t1"))
	c.Record(testTrade(pair, "t2"))
	c.Record(testTrade(pair, "t3"))

	recent := c.Recent(pair, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].TradeID)
	assert.Equal(t, "t3", recent[1].TradeID)
}

func TestRecordTrimsToPerPairLimit(t *testing.T) {
	pair := domain.Pair{Base: "BTC", Quote: "USD"}
	c := New(Options{PerPairLimit: 2}, zap.NewNop())

	c.Record(testTrade(pair, "t1"))
	c.Record(testTrade(pair, "t2"))
	c.Record(testTrade(pair, "t3"))

	all := c.Recent(pair, 0)
	require.Len(t, all, 2)
	assert.Equal(t, "t2", all[0].TradeID)
	assert.Equal(t, "t3", all[1].TradeID)
}

func TestRecentForUnknownPairIsEmpty(t *testing.T) {
	c := New(Options{}, zap.NewNop())
	assert.Empty(t, c.Recent(domain.Pair{Base: "ETH", Quote: "USD"}, 5))
}

func TestFlushAndReloadSurvivesRestart(t *testing.T) {
	pair := domain.Pair{Base: "BTC", Quote: "USD"}
	path := filepath.Join(t.TempDir(), "snapshot.json.gz")

	c := New(Options{PerPairLimit: 10, Path: path, FlushDebounce: time.Hour}, zap.NewNop())
	c.Record(testTrade(pair, "t1"))
	c.Flush()

	reloaded := New(Options{PerPairLimit: 10, Path: path}, zap.NewNop())
	recent := reloaded.Recent(pair, 0)
	require.Len(t, recent, 1)
	assert.Equal(t, "t1", recent[0].TradeID)
}

func TestMissingSnapshotFileIsEmptyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json.gz")
	c := New(Options{Path: path}, zap.NewNop())
	assert.Empty(t, c.Recent(domain.Pair{Base: "BTC", Quote: "USD"}, 0))
}

func TestCorruptSnapshotFileIsEmptyState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("not a gzip file"), 0o644))

	c := New(Options{Path: path}, zap.NewNop())
	assert.Empty(t, c.Recent(domain.Pair{Base: "BTC", Quote: "USD"}, 0))
}
