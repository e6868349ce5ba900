// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Fees      FeeConfig       `mapstructure:"fees"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// ExchangeConfig holds the REST endpoint and credentials for the exchange.
// Credentials come from TRADER_API_KEY / TRADER_API_SECRET; keeping them
// out of the YAML file keeps them out of version control.
type ExchangeConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RateLimit  float64       `mapstructure:"rate_limit"` // private calls per second
}

// TradingConfig drives the multi-instrument control loop.
//
//   - Pairs: instruments to trade, in the exchange's pair notation.
//   - OHLCInterval: candle interval in minutes.
//   - APICallDelay: sleep between scheduler ticks; this is the primary
//     rate-limit mechanism (1 ticker call + one OHLC call per pair per tick).
//   - ReanalysisInterval: minimum time between regime re-classifications.
//   - SwitchCooldown: minimum time between strategy switches per instrument.
//   - ConfirmationsRequired: consecutive same-regime observations before a switch.
//   - MaxSwitchesPerDay: hard cap on switches per instrument per local day.
//   - MinProfitTarget: required net profit fraction before voluntary exits.
//   - MinHoldTime: minimum position age before voluntary profitable exits.
type TradingConfig struct {
	Pairs                 []string                `mapstructure:"pairs"`
	OHLCInterval          int                     `mapstructure:"ohlc_interval"`
	APICallDelay          time.Duration           `mapstructure:"api_call_delay"`
	ReanalysisInterval    time.Duration           `mapstructure:"reanalysis_interval"`
	SwitchCooldown        time.Duration           `mapstructure:"switch_cooldown"`
	ConfirmationsRequired int                     `mapstructure:"confirmations_required"`
	MaxSwitchesPerDay     int                     `mapstructure:"max_switches_per_day"`
	MinProfitTarget       float64                 `mapstructure:"min_profit_target"`
	MinHoldTime           time.Duration           `mapstructure:"min_hold_time"`
	PairOverrides         map[string]PairOverride `mapstructure:"pair_overrides"`
}

// PairOverride carries optional per-instrument tuning. Zero values mean
// "use the global setting".
type PairOverride struct {
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
}

// PortfolioConfig bounds how the shared quote balance is apportioned.
//
//   - SizingMode: "equal" splits the exposure budget evenly across pairs;
//     "pct" sizes each position from the remaining exposure headroom.
//   - MaxTotalExposure: percent of balance the bot may deploy in total.
//   - MaxPerCoin: percent of balance any single instrument may hold.
//   - FeeBufferPct: percent of the allocation reserved for fees.
type PortfolioConfig struct {
	SizingMode       string  `mapstructure:"sizing_mode"`
	MaxTotalExposure float64 `mapstructure:"max_total_exposure"`
	MaxPerCoin       float64 `mapstructure:"max_per_coin"`
	FeeBufferPct     float64 `mapstructure:"fee_buffer_pct"`
}

// AnalyzerConfig holds the regime classifier's indicator periods and
// decision thresholds. The defaults in configs/config.yaml mirror the
// classical interpretation of each indicator (ADX 25 = strong trend,
// choppiness 61.8 = choppy, 38.2 = trending).
type AnalyzerConfig struct {
	ADXPeriod        int           `mapstructure:"adx_period"`
	ATRPeriod        int           `mapstructure:"atr_period"`
	RangePeriod      int           `mapstructure:"range_period"`
	ChoppinessPeriod int           `mapstructure:"choppiness_period"`
	SlopePeriod      int           `mapstructure:"slope_period"`

	ADXStrongTrend     float64 `mapstructure:"adx_strong_trend"`
	ADXWeakTrend       float64 `mapstructure:"adx_weak_trend"`
	ChoppinessChoppy   float64 `mapstructure:"choppiness_choppy"`
	ChoppinessTrending float64 `mapstructure:"choppiness_trending"`
	RangeTight         float64 `mapstructure:"range_tight"`
	RangeModerate      float64 `mapstructure:"range_moderate"`

	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// StrategyConfig groups the per-family tuning knobs.
type StrategyConfig struct {
	MeanReversion MeanReversionConfig `mapstructure:"mean_reversion"`
	SMACrossover  SMACrossoverConfig  `mapstructure:"sma_crossover"`
	MACD          MACDConfig          `mapstructure:"macd"`
	Breakout      BreakoutConfig      `mapstructure:"breakout"`
	Grid          GridConfig          `mapstructure:"grid"`
}

// MeanReversionConfig tunes the range-trading strategy. SupportLevel /
// ResistanceLevel of 0 mean auto-detect from recent extremes; ZoneWidth of 0
// means 3% of the level.
type MeanReversionConfig struct {
	RSIPeriod       int     `mapstructure:"rsi_period"`
	RSIOversold     float64 `mapstructure:"rsi_oversold"`
	RSIOverbought   float64 `mapstructure:"rsi_overbought"`
	BBPeriod        int     `mapstructure:"bb_period"`
	BBStdDev        float64 `mapstructure:"bb_std_dev"`
	SupportLevel    float64 `mapstructure:"support_level"`
	ResistanceLevel float64 `mapstructure:"resistance_level"`
	ZoneWidth       float64 `mapstructure:"zone_width"`
	UseFibonacci    bool    `mapstructure:"use_fibonacci"`
	FibLookback     int     `mapstructure:"fib_lookback"`
	FibTolerance    float64 `mapstructure:"fib_tolerance"` // percent distance counted as "at a level"
}

// SMACrossoverConfig tunes the trend-following strategy. TrendFilter
// suppresses bearish-cross sells while the market is classified as an
// uptrend and no position is held.
type SMACrossoverConfig struct {
	FastPeriod  int  `mapstructure:"fast_period"`
	SlowPeriod  int  `mapstructure:"slow_period"`
	TrendFilter bool `mapstructure:"trend_filter"`
}

// MACDConfig tunes the moderate-trend strategy. HistogramConfirm requires
// the histogram sign to agree with the cross direction.
type MACDConfig struct {
	FastPeriod       int  `mapstructure:"fast_period"`
	SlowPeriod       int  `mapstructure:"slow_period"`
	SignalPeriod     int  `mapstructure:"signal_period"`
	HistogramConfirm bool `mapstructure:"histogram_confirm"`
}

// BreakoutConfig tunes the volatile-regime strategy.
//
//   - Lookback: bars scanned for support/resistance clustering.
//   - ClusterWindow: local-extremum half-window for level detection.
//   - VolumeThreshold: last volume must be >= threshold x avg(volume, 20).
//   - ATRPeriod: period for the volatility-expansion check.
//   - RequireRetest: arm on the break, signal only on the retest.
type BreakoutConfig struct {
	Lookback        int     `mapstructure:"lookback"`
	ClusterWindow   int     `mapstructure:"cluster_window"`
	VolumeThreshold float64 `mapstructure:"volume_threshold"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	RequireRetest   bool    `mapstructure:"require_retest"`
}

// GridConfig tunes the low-volatility strategy: Levels price levels per
// side, spaced SpacingPct percent apart around the anchor price.
type GridConfig struct {
	Levels     int     `mapstructure:"levels"`
	SpacingPct float64 `mapstructure:"spacing_pct"`
}

// FeeConfig holds the exchange's fee schedule for P&L accounting.
// Kraken spot defaults: 0.16% maker, 0.26% taker.
type FeeConfig struct {
	MakerFee  float64 `mapstructure:"maker_fee"`
	TakerFee  float64 `mapstructure:"taker_fee"`
	TrackFees bool    `mapstructure:"track_fees"`
}

// StoreConfig sets where trading data is persisted (SQLite file).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: TRADER_API_KEY, TRADER_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("TRADER_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("TRADER_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if pairs := os.Getenv("TRADER_TRADING_PAIRS"); pairs != "" {
		cfg.Trading.Pairs = splitPairs(pairs)
	}
	if os.Getenv("TRADER_DRY_RUN") == "true" || os.Getenv("TRADER_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// splitPairs parses a comma-separated pair list, trimming whitespace and
// dropping empty entries.
func splitPairs(s string) []string {
	var pairs []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required (set TRADER_API_KEY)")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required (set TRADER_API_SECRET)")
	}
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("trading.pairs is required (set TRADER_TRADING_PAIRS)")
	}
	if c.Trading.OHLCInterval <= 0 {
		return fmt.Errorf("trading.ohlc_interval must be > 0 minutes")
	}
	if c.Trading.APICallDelay <= 0 {
		return fmt.Errorf("trading.api_call_delay must be > 0")
	}
	if c.Trading.ReanalysisInterval <= 0 {
		return fmt.Errorf("trading.reanalysis_interval must be > 0")
	}
	if c.Trading.ConfirmationsRequired < 1 {
		return fmt.Errorf("trading.confirmations_required must be >= 1")
	}
	if c.Trading.MaxSwitchesPerDay < 1 {
		return fmt.Errorf("trading.max_switches_per_day must be >= 1")
	}
	if c.Trading.MinProfitTarget < 0 {
		return fmt.Errorf("trading.min_profit_target must be >= 0")
	}
	switch c.Portfolio.SizingMode {
	case "equal", "pct":
	default:
		return fmt.Errorf("portfolio.sizing_mode must be one of: equal, pct")
	}
	if c.Portfolio.MaxTotalExposure <= 0 || c.Portfolio.MaxTotalExposure > 100 {
		return fmt.Errorf("portfolio.max_total_exposure must be in (0,100]")
	}
	if c.Portfolio.MaxPerCoin <= 0 || c.Portfolio.MaxPerCoin > 100 {
		return fmt.Errorf("portfolio.max_per_coin must be in (0,100]")
	}
	if c.Portfolio.FeeBufferPct < 0 || c.Portfolio.FeeBufferPct >= 100 {
		return fmt.Errorf("portfolio.fee_buffer_pct must be in [0,100)")
	}
	if err := c.Analyzer.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if c.Fees.MakerFee < 0 || c.Fees.TakerFee < 0 {
		return fmt.Errorf("fees.maker_fee and fees.taker_fee must be >= 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}
	return nil
}

func (a *AnalyzerConfig) validate() error {
	for name, p := range map[string]int{
		"analyzer.adx_period":        a.ADXPeriod,
		"analyzer.atr_period":        a.ATRPeriod,
		"analyzer.range_period":      a.RangePeriod,
		"analyzer.choppiness_period": a.ChoppinessPeriod,
		"analyzer.slope_period":      a.SlopePeriod,
	} {
		if p <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if a.ADXWeakTrend >= a.ADXStrongTrend {
		return fmt.Errorf("analyzer.adx_weak_trend must be < analyzer.adx_strong_trend")
	}
	if a.ChoppinessTrending >= a.ChoppinessChoppy {
		return fmt.Errorf("analyzer.choppiness_trending must be < analyzer.choppiness_choppy")
	}
	if a.RangeTight >= a.RangeModerate {
		return fmt.Errorf("analyzer.range_tight must be < analyzer.range_moderate")
	}
	if a.CacheTTL < 0 {
		return fmt.Errorf("analyzer.cache_ttl must be >= 0")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.MeanReversion.RSIPeriod <= 0 || s.MeanReversion.BBPeriod <= 0 {
		return fmt.Errorf("strategy.mean_reversion periods must be > 0")
	}
	if s.MeanReversion.RSIOversold >= s.MeanReversion.RSIOverbought {
		return fmt.Errorf("strategy.mean_reversion.rsi_oversold must be < rsi_overbought")
	}
	if s.SMACrossover.FastPeriod <= 0 || s.SMACrossover.FastPeriod >= s.SMACrossover.SlowPeriod {
		return fmt.Errorf("strategy.sma_crossover.fast_period must be in (0, slow_period)")
	}
	if s.MACD.FastPeriod <= 0 || s.MACD.FastPeriod >= s.MACD.SlowPeriod || s.MACD.SignalPeriod <= 0 {
		return fmt.Errorf("strategy.macd periods must satisfy 0 < fast < slow, signal > 0")
	}
	if s.Breakout.Lookback <= 0 || s.Breakout.ClusterWindow <= 0 || s.Breakout.ATRPeriod <= 0 {
		return fmt.Errorf("strategy.breakout periods must be > 0")
	}
	if s.Breakout.VolumeThreshold <= 0 {
		return fmt.Errorf("strategy.breakout.volume_threshold must be > 0")
	}
	if s.Grid.Levels < 2 {
		return fmt.Errorf("strategy.grid.levels must be >= 2")
	}
	if s.Grid.SpacingPct <= 0 {
		return fmt.Errorf("strategy.grid.spacing_pct must be > 0")
	}
	return nil
}

// MaxPositionPct returns the per-coin exposure cap for a symbol, honoring
// any per-pair override.
func (c *Config) MaxPositionPct(symbol string) float64 {
	if o, ok := c.Trading.PairOverrides[symbol]; ok && o.MaxPositionPct > 0 {
		return o.MaxPositionPct
	}
	return c.Portfolio.MaxPerCoin
}
