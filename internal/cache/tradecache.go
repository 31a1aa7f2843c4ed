// Package cache keeps a bounded in-memory window of recently executed
// trades per pair, for the kind of cheap "last N trades" query a client
// wants without replaying the ledger, and mirrors it to disk so a
// restart does not start the window empty. Disk writes are debounced
// (spec ambient: avoid writing on every single trade) and gzip
// compressed the way the teacher compresses outbound payloads.
package cache

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/tradsys/clobcore/internal/domain"
)

// Options configures a RecentTradeCache.
type Options struct {
	// PerPairLimit bounds how many trades are kept per pair; oldest
	// trades are dropped once the limit is exceeded.
	PerPairLimit int
	// Path is the file a snapshot is persisted to. Empty disables
	// persistence entirely (in-memory only).
	Path string
	// FlushDebounce is how long to wait after the last recorded trade
	// before writing a snapshot, coalescing bursts into one write.
	FlushDebounce time.Duration
}

func (o Options) withDefaults() Options {
	if o.PerPairLimit <= 0 {
		o.PerPairLimit = 200
	}
	if o.FlushDebounce <= 0 {
		o.FlushDebounce = 2 * time.Second
	}
	return o
}

// RecentTradeCache holds the most recent trades per pair in memory and
// mirrors them to a gzip-compressed JSON file on a debounced schedule.
type RecentTradeCache struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	byPair map[string][]domain.Trade
	timer  *time.Timer
}

// New builds a RecentTradeCache, loading any existing snapshot from
// disk. A missing or corrupt snapshot file is treated as empty state
// rather than a startup failure: the cache is a convenience index, not
// the source of truth.
func New(opts Options, logger *zap.Logger) *RecentTradeCache {
	opts = opts.withDefaults()
	c := &RecentTradeCache{
		opts:   opts,
		logger: logger,
		byPair: make(map[string][]domain.Trade),
	}
	if opts.Path != "" {
		if err := c.load(); err != nil {
			logger.Warn("tradecache: discarding unreadable snapshot", zap.String("path", opts.Path), zap.Error(err))
			c.byPair = make(map[string][]domain.Trade)
		}
	}
	return c
}

// Record appends t to its pair's window, trimming to PerPairLimit, and
// schedules a debounced snapshot write.
func (c *RecentTradeCache) Record(t domain.Trade) {
	c.mu.Lock()
	key := t.Pair.String()
	trades := append(c.byPair[key], t)
	if len(trades) > c.opts.PerPairLimit {
		trades = trades[len(trades)-c.opts.PerPairLimit:]
	}
	c.byPair[key] = trades

	if c.opts.Path != "" {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.timer = time.AfterFunc(c.opts.FlushDebounce, c.flush)
	}
	c.mu.Unlock()
}

// Recent returns up to limit of the most recent trades for pair,
// newest last.
func (c *RecentTradeCache) Recent(pair domain.Pair, limit int) []domain.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()

	trades := c.byPair[pair.String()]
	if limit <= 0 || limit >= len(trades) {
		out := make([]domain.Trade, len(trades))
		copy(out, trades)
		return out
	}
	out := make([]domain.Trade, limit)
	copy(out, trades[len(trades)-limit:])
	return out
}

// Flush forces an immediate snapshot write, bypassing the debounce
// timer; useful on graceful shutdown.
func (c *RecentTradeCache) Flush() {
	c.flush()
}

func (c *RecentTradeCache) flush() {
	if c.opts.Path == "" {
		return
	}
	c.mu.Lock()
	snapshot := make(map[string][]domain.Trade, len(c.byPair))
	for k, v := range c.byPair {
		cp := make([]domain.Trade, len(v))
		copy(cp, v)
		snapshot[k] = cp
	}
	c.mu.Unlock()

	if err := c.writeSnapshot(snapshot); err != nil {
		c.logger.Warn("tradecache: snapshot write failed", zap.String("path", c.opts.Path), zap.Error(err))
	}
}

func (c *RecentTradeCache) writeSnapshot(snapshot map[string][]domain.Trade) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.opts.Path), 0o755); err != nil {
		return err
	}
	tmp := c.opts.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.opts.Path)
}

func (c *RecentTradeCache) load() error {
	f, err := os.Open(c.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var snapshot map[string][]domain.Trade
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return err
	}

	c.mu.Lock()
	c.byPair = snapshot
	c.mu.Unlock()
	return nil
}
