package api

import (
	"time"

	"kraken-adaptive/internal/config"
)

// EngineSnapshot is the complete live state of the engine, rebuilt by the
// scheduler at the end of every tick and served on /api/snapshot.
type EngineSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec float64   `json:"uptime_sec"`
	DryRun    bool      `json:"dry_run"`

	// Quote-currency balance from the last refresh.
	Balance float64 `json:"balance"`

	Pairs []PairStatus `json:"pairs"`

	// Aggregates across all pairs.
	TotalTrades   int     `json:"total_trades"`
	TotalGrossPnL float64 `json:"total_gross_pnl"`
	TotalNetPnL   float64 `json:"total_net_pnl"`
	TotalFees     float64 `json:"total_fees"`

	Config ConfigSummary `json:"config"`
}

// PairStatus is the per-instrument slice of the snapshot.
type PairStatus struct {
	Symbol string `json:"symbol"`

	Strategy    string  `json:"strategy"`
	MarketState string  `json:"market_state"`
	Confidence  float64 `json:"confidence"`

	LastPrice    float64   `json:"last_price"`
	Candles      int       `json:"candles"`
	LastAnalysis time.Time `json:"last_analysis,omitempty"`

	Position *OpenPositionStatus `json:"position,omitempty"`

	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	WinRate       float64 `json:"win_rate"`
	GrossPnL      float64 `json:"gross_pnl"`
	NetPnL        float64 `json:"net_pnl"`
	Fees          float64 `json:"fees"`
	Volume        float64 `json:"volume"` // traded quote value
	SwitchesToday int     `json:"switches_today"`
}

// OpenPositionStatus is the dashboard view of an open position.
type OpenPositionStatus struct {
	ID            int64     `json:"id"`
	Strategy      string    `json:"strategy"`
	EntryTime     time.Time `json:"entry_time"`
	EntryPrice    float64   `json:"entry_price"`
	Volume        float64   `json:"volume"`
	EntryFee      float64   `json:"entry_fee"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	DryRun        bool      `json:"dry_run"`
}

// ConfigSummary exposes the operationally interesting knobs.
type ConfigSummary struct {
	Pairs                 []string `json:"pairs"`
	OHLCInterval          int      `json:"ohlc_interval"`
	APICallDelay          string   `json:"api_call_delay"`
	ReanalysisInterval    string   `json:"reanalysis_interval"`
	SwitchCooldown        string   `json:"switch_cooldown"`
	ConfirmationsRequired int      `json:"confirmations_required"`
	MaxSwitchesPerDay     int      `json:"max_switches_per_day"`
	MinProfitTarget       float64  `json:"min_profit_target"`
	MinHoldTime           string   `json:"min_hold_time"`

	SizingMode       string  `json:"sizing_mode"`
	MaxTotalExposure float64 `json:"max_total_exposure"`
	MaxPerCoin       float64 `json:"max_per_coin"`
	FeeBufferPct     float64 `json:"fee_buffer_pct"`

	MakerFee float64 `json:"maker_fee"`
	TakerFee float64 `json:"taker_fee"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary extracts the summary from the full config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Pairs:                 cfg.Trading.Pairs,
		OHLCInterval:          cfg.Trading.OHLCInterval,
		APICallDelay:          cfg.Trading.APICallDelay.String(),
		ReanalysisInterval:    cfg.Trading.ReanalysisInterval.String(),
		SwitchCooldown:        cfg.Trading.SwitchCooldown.String(),
		ConfirmationsRequired: cfg.Trading.ConfirmationsRequired,
		MaxSwitchesPerDay:     cfg.Trading.MaxSwitchesPerDay,
		MinProfitTarget:       cfg.Trading.MinProfitTarget,
		MinHoldTime:           cfg.Trading.MinHoldTime.String(),

		SizingMode:       cfg.Portfolio.SizingMode,
		MaxTotalExposure: cfg.Portfolio.MaxTotalExposure,
		MaxPerCoin:       cfg.Portfolio.MaxPerCoin,
		FeeBufferPct:     cfg.Portfolio.FeeBufferPct,

		MakerFee: cfg.Fees.MakerFee,
		TakerFee: cfg.Fees.TakerFee,

		DryRun: cfg.DryRun,
	}
}
