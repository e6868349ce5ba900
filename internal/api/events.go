package api

import (
	"time"

	"kraken-adaptive/pkg/types"
)

// Event types carried over the WebSocket stream.
const (
	EventSnapshot  = "snapshot"
	EventSignal    = "signal"
	EventTrade     = "trade"
	EventSwitch    = "switch"
	EventCondition = "condition"
)

// DashboardEvent is the wrapper for all events pushed to the dashboard.
type DashboardEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"` // empty for global events
	Data      any       `json:"data"`
}

// SignalEvent is emitted when a strategy produces a non-null signal,
// before any gating or execution.
type SignalEvent struct {
	Symbol      string  `json:"symbol"`
	Strategy    string  `json:"strategy"`
	Signal      string  `json:"signal"`
	Price       float64 `json:"price"`
	MarketState string  `json:"market_state"`
	Confidence  float64 `json:"confidence"`
}

// TradeEvent is emitted after an order fill is recorded.
type TradeEvent struct {
	Symbol    string   `json:"symbol"`
	Strategy  string   `json:"strategy"`
	TradeType string   `json:"trade_type"` // "entry" or "exit"
	Side      string   `json:"side"`
	Price     float64  `json:"price"`
	Volume    float64  `json:"volume"`
	Value     float64  `json:"value"`
	Fee       float64  `json:"fee"`
	TxID      string   `json:"txid"`
	DryRun    bool     `json:"dry_run"`
	NetPnL    *float64 `json:"net_pnl,omitempty"` // exits only
}

// SwitchEvent is emitted when a trader changes strategy.
type SwitchEvent struct {
	Symbol        string  `json:"symbol"`
	FromStrategy  string  `json:"from_strategy"`
	ToStrategy    string  `json:"to_strategy"`
	Reason        string  `json:"reason"`
	MarketState   string  `json:"market_state"`
	Confidence    float64 `json:"confidence"`
	Confirmations int     `json:"confirmations"`
	SwitchesToday int     `json:"switches_today"`
}

// ConditionEvent is emitted on every fresh regime classification.
type ConditionEvent struct {
	Symbol       string  `json:"symbol"`
	State        string  `json:"state"`
	Confidence   float64 `json:"confidence"`
	ADX          string  `json:"adx"`
	Choppiness   string  `json:"choppiness"`
	RangePercent string  `json:"range_percent"`
	Description  string  `json:"description"`
}

// NewSignalEvent builds a signal event wrapper.
func NewSignalEvent(symbol string, strat types.StrategyKind, sig types.Signal, price float64, cond *types.MarketCondition) DashboardEvent {
	evt := SignalEvent{
		Symbol:   symbol,
		Strategy: string(strat),
		Signal:   string(sig),
		Price:    price,
	}
	if cond != nil {
		evt.MarketState = string(cond.State)
		evt.Confidence = cond.Confidence
	}
	return DashboardEvent{Type: EventSignal, Timestamp: time.Now(), Symbol: symbol, Data: evt}
}

// NewTradeEvent builds a trade event wrapper from a recorded trade.
func NewTradeEvent(t *types.Trade, netPnL *float64) DashboardEvent {
	return DashboardEvent{
		Type:      EventTrade,
		Timestamp: t.Timestamp,
		Symbol:    t.Symbol,
		Data: TradeEvent{
			Symbol:    t.Symbol,
			Strategy:  string(t.Strategy),
			TradeType: string(t.TradeType),
			Side:      string(t.Side),
			Price:     t.Price,
			Volume:    t.Volume,
			Value:     t.Value,
			Fee:       t.Fee,
			TxID:      t.TxID,
			DryRun:    t.DryRun,
			NetPnL:    netPnL,
		},
	}
}

// NewSwitchEvent builds a strategy switch event wrapper.
func NewSwitchEvent(sw *types.StrategySwitch) DashboardEvent {
	return DashboardEvent{
		Type:      EventSwitch,
		Timestamp: sw.Timestamp,
		Symbol:    sw.Symbol,
		Data: SwitchEvent{
			Symbol:        sw.Symbol,
			FromStrategy:  string(sw.FromStrategy),
			ToStrategy:    string(sw.ToStrategy),
			Reason:        sw.Reason,
			MarketState:   sw.MarketState,
			Confidence:    sw.Confidence,
			Confirmations: sw.ConfirmationsReceived,
			SwitchesToday: sw.SwitchesToday,
		},
	}
}

// NewConditionEvent builds a regime classification event wrapper.
func NewConditionEvent(symbol string, cond *types.MarketCondition) DashboardEvent {
	return DashboardEvent{
		Type:      EventCondition,
		Timestamp: time.Now(),
		Symbol:    symbol,
		Data: ConditionEvent{
			Symbol:       symbol,
			State:        string(cond.State),
			Confidence:   cond.Confidence,
			ADX:          types.Metric(cond.ADX),
			Choppiness:   types.Metric(cond.Choppiness),
			RangePercent: types.Metric(cond.RangePercent),
			Description:  cond.Description,
		},
	}
}
