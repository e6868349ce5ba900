// Package market maintains per-pair OHLC candle history.
//
// OHLCCache mirrors the exchange's committed candles for a single pair.
// The exchange's last row is its in-progress candle whose values still
// change, so whenever a response carries two or more rows the final row
// is dropped. Remaining candles are merged by timestamp: newer times are
// appended, an equal time replaces the tail (the exchange re-sends the
// last committed candle when it finalizes).
//
// The cache is concurrency-safe (RWMutex protected) and hands out copies,
// so callers may keep a Series across ticks.
package market

import (
	"sync"

	"kraken-adaptive/pkg/types"
)

// DefaultMaxCandles bounds per-pair history; enough for the slowest
// indicator window (ADX needs 2x its period) with headroom.
const DefaultMaxCandles = 200

// OHLCCache holds the committed candles for one pair.
type OHLCCache struct {
	mu       sync.RWMutex
	pair     string
	interval int // minutes
	maxLen   int
	candles  []types.Candle
	since    int64 // exchange watermark; monotonic non-decreasing
}

// NewOHLCCache creates an empty cache for a pair with the given candle
// interval in minutes. maxLen <= 0 selects DefaultMaxCandles.
func NewOHLCCache(pair string, interval, maxLen int) *OHLCCache {
	if maxLen <= 0 {
		maxLen = DefaultMaxCandles
	}
	return &OHLCCache{
		pair:     pair,
		interval: interval,
		maxLen:   maxLen,
	}
}

// Update merges one exchange OHLC response into the cache. rows must be
// in ascending time order as returned by the exchange; last is the
// response watermark used as the next fetch cursor.
func (c *OHLCCache) Update(rows []types.Candle, last int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The final row is the in-progress candle; only a single-row
	// response (a since-cursor catch-up) is taken as-is.
	if len(rows) >= 2 {
		rows = rows[:len(rows)-1]
	}

	for _, row := range rows {
		switch {
		case len(c.candles) == 0 || row.Time > c.candles[len(c.candles)-1].Time:
			c.candles = append(c.candles, row)
		case row.Time == c.candles[len(c.candles)-1].Time:
			c.candles[len(c.candles)-1] = row
		}
		// Older timestamps are stale re-deliveries; ignored.
	}

	if n := len(c.candles); n > c.maxLen {
		c.candles = append(c.candles[:0:0], c.candles[n-c.maxLen:]...)
	}

	if last > c.since {
		c.since = last
	}
}

// Series returns a copied view of the committed candles, or false when
// the cache is empty.
func (c *OHLCCache) Series() (types.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.candles)
	if n == 0 {
		return types.Series{}, false
	}

	s := types.Series{
		Interval: c.interval,
		Highs:    make([]float64, n),
		Lows:     make([]float64, n),
		Closes:   make([]float64, n),
		Volumes:  make([]float64, n),
		Latest:   c.candles[n-1],
	}
	for i, cd := range c.candles {
		s.Highs[i] = cd.High
		s.Lows[i] = cd.Low
		s.Closes[i] = cd.Close
		s.Volumes[i] = cd.Volume
	}
	return s, true
}

// Latest returns the most recent committed candle.
func (c *OHLCCache) Latest() (types.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.candles) == 0 {
		return types.Candle{}, false
	}
	return c.candles[len(c.candles)-1], true
}

// Since returns the fetch cursor to pass to the next OHLC request.
func (c *OHLCCache) Since() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.since
}

// Len returns the number of committed candles held.
func (c *OHLCCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.candles)
}

// Pair returns the pair this cache tracks.
func (c *OHLCCache) Pair() string { return c.pair }
