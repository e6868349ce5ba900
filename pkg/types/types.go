// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot: signals, market
// regimes, candles, strategy kinds, and the persistent trade/position
// entities. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
// Lowercase because that is what the exchange wire format uses.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType enumerates the supported order executions.
type OrderType string

const (
	OrderMarket OrderType = "market" // execute immediately at best price (taker)
	OrderLimit  OrderType = "limit"  // rest at a price; used whenever a reference price is known
)

// Signal is a strategy's verdict for the current candle. The zero value
// means hold / nothing to do.
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
)

// Side converts a non-empty signal into its order side.
func (s Signal) Side() Side {
	if s == SignalSell {
		return Sell
	}
	return Buy
}

// TradeType distinguishes the two halves of a round trip.
type TradeType string

const (
	TradeEntry TradeType = "entry"
	TradeExit  TradeType = "exit"
)

// PositionType is the direction of an open position. Spot mode only ever
// opens longs; short exists so closed historical rows stay representable.
type PositionType string

const (
	Long  PositionType = "long"
	Short PositionType = "short"
)

// PositionStatus is the lifecycle state of a persistent position row.
type PositionStatus string

const (
	PositionOpen      PositionStatus = "open"
	PositionClosed    PositionStatus = "closed"
	PositionCancelled PositionStatus = "cancelled"
)

// ————————————————————————————————————————————————————————————————————————
// Strategy kinds and market regimes
// ————————————————————————————————————————————————————————————————————————

// StrategyKind identifies a strategy family. The string values are the
// canonical names used in logs, the database, and the dashboard; there is
// exactly one string table for them.
type StrategyKind string

const (
	StrategyMeanReversion StrategyKind = "mean_reversion"
	StrategySMACrossover  StrategyKind = "sma_crossover"
	StrategyMACD          StrategyKind = "macd"
	StrategyBreakout      StrategyKind = "breakout"
	StrategyGrid          StrategyKind = "grid"
)

// ParseStrategyKind maps a stored string back onto a StrategyKind.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch StrategyKind(s) {
	case StrategyMeanReversion, StrategySMACrossover, StrategyMACD, StrategyBreakout, StrategyGrid:
		return StrategyKind(s), nil
	}
	return "", fmt.Errorf("unknown strategy kind %q", s)
}

// MarketState is the regime classification an instrument is currently in.
// Exactly one state is active per instrument per analysis.
type MarketState string

const (
	StateStrongUptrend    MarketState = "strong_uptrend"
	StateStrongDowntrend  MarketState = "strong_downtrend"
	StateModerateTrend    MarketState = "moderate_trend"
	StateRangeBound       MarketState = "range_bound"
	StateVolatileBreakout MarketState = "volatile_breakout"
	StateChoppy           MarketState = "choppy"
	StateLowVolatility    MarketState = "low_volatility"
	StateUnknown          MarketState = "unknown"
)

// Recommended returns the canonical strategy for a market state. This is
// the single place the regime → strategy mapping lives.
func (m MarketState) Recommended() StrategyKind {
	switch m {
	case StateStrongUptrend, StateStrongDowntrend:
		return StrategySMACrossover
	case StateModerateTrend:
		return StrategyMACD
	case StateRangeBound, StateChoppy:
		return StrategyMeanReversion
	case StateVolatileBreakout:
		return StrategyBreakout
	case StateLowVolatility:
		return StrategyGrid
	default:
		// Unknown regimes trade conservatively.
		return StrategyMeanReversion
	}
}

// IsUptrend reports whether the state is a trending-up regime. Used by the
// SMA crossover trend filter.
func (m MarketState) IsUptrend() bool {
	return m == StateStrongUptrend
}

// MarketCondition is an immutable snapshot produced by the analyzer.
// Metric pointers are nil when the underlying indicator had insufficient
// data.
type MarketCondition struct {
	State        MarketState
	ADX          *float64
	ATR          *float64
	RangePercent *float64
	Choppiness   *float64
	Slope        *float64
	Confidence   float64 // [0,1]
	Description  string
}

// Metric formats an optional metric for logging ("-" when absent).
func Metric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Candle is a single committed OHLC bar. Time is exchange-assigned epoch
// seconds aligned to the interval.
type Candle struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	VWAP   float64
	Volume float64
	Count  int
}

// Series is the read view over a pair's committed candles, in time order.
// Slices are copies; callers may keep them across ticks.
type Series struct {
	Interval int // candle interval in minutes
	Highs    []float64
	Lows     []float64
	Closes   []float64
	Volumes  []float64
	Latest   Candle
}

// Len returns the number of candles in the series.
func (s *Series) Len() int { return len(s.Closes) }

// Ticker is the normalized last-trade view for one pair, keyed by the
// configured symbol (exchange key aliasing happens at the client boundary).
type Ticker struct {
	Symbol string
	Last   float64 // most recent trade price
	High   float64 // 24h high
	Low    float64 // 24h low
	Volume float64 // 24h volume in base currency
}

// AssetPairRules is the exchange's order-validation metadata for one pair.
// Optional fields are nil when the exchange does not publish them.
type AssetPairRules struct {
	LotDecimals  int // volume precision
	PairDecimals int // price precision
	TickSize     *decimal.Decimal
	OrderMin     *decimal.Decimal
	CostMin      *decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Persistent entities
// ————————————————————————————————————————————————————————————————————————

// Position is one spot round trip. Exactly one position per symbol may be
// open at a time; once closed, the P&L fields never change.
//
// For closed rows: TotalFees = EntryFee + ExitFee and
// NetPnL = GrossPnL − TotalFees.
type Position struct {
	ID           int64
	Symbol       string
	Strategy     StrategyKind
	MarketState  string
	PositionType PositionType
	EntryTime    time.Time
	EntryPrice   float64
	EntryVolume  float64
	EntryFee     float64
	ExitTime     *time.Time
	ExitPrice    *float64
	ExitVolume   *float64
	ExitFee      *float64
	GrossPnL     *float64
	TotalFees    *float64
	NetPnL       *float64
	PnLPercent   *float64
	Status       PositionStatus
	DryRun       bool
	ClosedTime   *time.Time
}

// Notional returns the entry value of the position in quote currency.
func (p *Position) Notional() float64 { return p.EntryPrice * p.EntryVolume }

// Trade is a single executed order leg. Immutable after insert. A trade
// referencing a position carries the same DryRun flag as that position.
type Trade struct {
	ID           int64
	Timestamp    time.Time
	Symbol       string
	Strategy     StrategyKind
	MarketState  string
	TradeType    TradeType
	PositionType PositionType
	Side         Side
	Price        float64
	Volume       float64
	Value        float64 // Price × Volume
	Fee          float64
	FeeCurrency  string
	PositionID   *int64
	TxID         string
	DryRun       bool
	Notes        string
}

// StrategySwitch records one confirmed regime-driven strategy change.
type StrategySwitch struct {
	ID                    int64
	Timestamp             time.Time
	Symbol                string
	FromStrategy          StrategyKind
	ToStrategy            StrategyKind
	Reason                string
	MarketState           string
	Confidence            float64
	ConfirmationsReceived int
	SwitchesToday         int
	TradesWithOldStrategy *int
	PnLWithOldStrategy    *float64
}
