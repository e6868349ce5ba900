// analytics.go holds the read-side queries behind the dashboard's
// overview endpoint. Everything here aggregates closed positions and
// recorded trades; nothing mutates.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kraken-adaptive/pkg/types"
)

// OverviewFilter narrows the overview queries. Zero values mean "all".
type OverviewFilter struct {
	Symbols []string
	DryRun  *bool
	Limit   int // per recent-rows list, default 20
}

// Overview is the aggregate view the dashboard renders.
type Overview struct {
	TotalTrades     int                     `json:"total_trades"`
	ClosedPositions int                     `json:"closed_positions"`
	OpenPositions   int                     `json:"open_positions"`
	WinningTrades   int                     `json:"winning_trades"`
	LosingTrades    int                     `json:"losing_trades"`
	WinRate         float64                 `json:"win_rate"`
	GrossPnL        float64                 `json:"gross_pnl"`
	TotalFees       float64                 `json:"total_fees"`
	NetPnL          float64                 `json:"net_pnl"`
	BySymbol        []SymbolPerformance     `json:"by_symbol"`
	ByStrategy      []StrategyPerformance   `json:"by_strategy"`
	Daily           []DailyStats            `json:"daily"`
	RecentTrades    []types.Trade           `json:"recent_trades"`
	RecentPositions []types.Position        `json:"recent_positions"`
	RecentSwitches  []types.StrategySwitch  `json:"recent_switches"`
	Conditions      []ConditionSnapshot     `json:"latest_conditions"`
}

// SymbolPerformance aggregates closed positions per instrument.
type SymbolPerformance struct {
	Symbol    string  `json:"symbol"`
	Positions int     `json:"positions"`
	Wins      int     `json:"wins"`
	WinRate   float64 `json:"win_rate"`
	NetPnL    float64 `json:"net_pnl"`
	TotalFees float64 `json:"total_fees"`
}

// StrategyPerformance aggregates closed positions per strategy family.
// ProfitFactor is the ratio of average win to average loss (0 when no
// losses have been taken).
type StrategyPerformance struct {
	Strategy     string  `json:"strategy"`
	Positions    int     `json:"positions"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	NetPnL       float64 `json:"net_pnl"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// DailyStats summarizes the closed positions of one UTC day.
type DailyStats struct {
	Date      string  `json:"date"`
	Positions int     `json:"positions"`
	Wins      int     `json:"wins"`
	GrossPnL  float64 `json:"gross_pnl"`
	NetPnL    float64 `json:"net_pnl"`
	TotalFees float64 `json:"total_fees"`
}

// ConditionSnapshot is the newest recorded market condition for one symbol.
type ConditionSnapshot struct {
	Timestamp   time.Time          `json:"timestamp"`
	Symbol      string             `json:"symbol"`
	State       string             `json:"state"`
	ADX         float64            `json:"adx"`
	ATR         float64            `json:"atr"`
	RangePct    float64            `json:"range_percent"`
	Choppiness  float64            `json:"choppiness"`
	Slope       float64            `json:"slope"`
	Confidence  float64            `json:"confidence"`
	Price       float64            `json:"price"`
	Volume      float64            `json:"volume"`
	Recommended types.StrategyKind `json:"recommended_strategy"`
	Active      types.StrategyKind `json:"active_strategy"`
}

// where builds the shared filter clause over a table's symbol and
// dry_run columns.
func (f OverviewFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if len(f.Symbols) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Symbols)), ",")
		clauses = append(clauses, "symbol IN ("+ph+")")
		for _, s := range f.Symbols {
			args = append(args, s)
		}
	}
	if f.DryRun != nil {
		clauses = append(clauses, "dry_run = ?")
		args = append(args, *f.DryRun)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (f OverviewFilter) limit() int {
	if f.Limit <= 0 {
		return 20
	}
	return f.Limit
}

// Overview aggregates the whole ledger under the filter.
func (s *Store) Overview(ctx context.Context, filter OverviewFilter) (*Overview, error) {
	where, args := filter.where()
	o := &Overview{}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN net_pnl <= 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(gross_pnl), 0),
		       COALESCE(SUM(total_fees), 0),
		       COALESCE(SUM(net_pnl), 0)
		FROM positions WHERE status = 'closed'`+where, args...)
	if err := row.Scan(&o.ClosedPositions, &o.WinningTrades, &o.LosingTrades,
		&o.GrossPnL, &o.TotalFees, &o.NetPnL); err != nil {
		return nil, fmt.Errorf("overview totals: %w", err)
	}
	if o.ClosedPositions > 0 {
		o.WinRate = float64(o.WinningTrades) / float64(o.ClosedPositions) * 100
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = 'open'`+where, args...).
		Scan(&o.OpenPositions); err != nil {
		return nil, fmt.Errorf("overview open count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE 1=1`+where, args...).
		Scan(&o.TotalTrades); err != nil {
		return nil, fmt.Errorf("overview trade count: %w", err)
	}

	var err error
	if o.BySymbol, err = s.symbolPerformance(ctx, where, args); err != nil {
		return nil, err
	}
	if o.ByStrategy, err = s.strategyPerformance(ctx, where, args); err != nil {
		return nil, err
	}
	if o.RecentTrades, err = s.recentTrades(ctx, where, args, filter.limit()); err != nil {
		return nil, err
	}
	if o.RecentPositions, err = s.recentClosedPositions(ctx, where, args, filter.limit()); err != nil {
		return nil, err
	}
	if o.RecentSwitches, err = s.recentSwitches(ctx, filter); err != nil {
		return nil, err
	}
	if o.Daily, err = s.dailyStats(ctx, where, args); err != nil {
		return nil, err
	}
	if o.Conditions, err = s.latestConditions(ctx, filter.Symbols); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) symbolPerformance(ctx context.Context, where string, args []any) ([]SymbolPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, COUNT(*),
		       COALESCE(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(net_pnl), 0),
		       COALESCE(SUM(total_fees), 0)
		FROM positions WHERE status = 'closed'`+where+`
		GROUP BY symbol ORDER BY symbol`, args...)
	if err != nil {
		return nil, fmt.Errorf("symbol performance: %w", err)
	}
	defer rows.Close()

	var out []SymbolPerformance
	for rows.Next() {
		var p SymbolPerformance
		if err := rows.Scan(&p.Symbol, &p.Positions, &p.Wins, &p.NetPnL, &p.TotalFees); err != nil {
			return nil, err
		}
		if p.Positions > 0 {
			p.WinRate = float64(p.Wins) / float64(p.Positions) * 100
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) strategyPerformance(ctx context.Context, where string, args []any) ([]StrategyPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, COUNT(*),
		       COALESCE(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(net_pnl), 0),
		       COALESCE(AVG(CASE WHEN net_pnl > 0 THEN net_pnl END), 0),
		       COALESCE(AVG(CASE WHEN net_pnl <= 0 THEN -net_pnl END), 0)
		FROM positions WHERE status = 'closed'`+where+`
		GROUP BY strategy ORDER BY strategy`, args...)
	if err != nil {
		return nil, fmt.Errorf("strategy performance: %w", err)
	}
	defer rows.Close()

	var out []StrategyPerformance
	for rows.Next() {
		var p StrategyPerformance
		if err := rows.Scan(&p.Strategy, &p.Positions, &p.Wins, &p.NetPnL, &p.AvgWin, &p.AvgLoss); err != nil {
			return nil, err
		}
		if p.Positions > 0 {
			p.WinRate = float64(p.Wins) / float64(p.Positions) * 100
		}
		if p.AvgLoss > 0 {
			p.ProfitFactor = p.AvgWin / p.AvgLoss
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) recentTrades(ctx context.Context, where string, args []any, limit int) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, symbol, strategy, market_state, trade_type,
		       position_type, side, price, volume, value, fee, fee_currency,
		       position_id, txid, dry_run, notes
		FROM trades WHERE 1=1`+where+`
		ORDER BY timestamp DESC, id DESC LIMIT ?`, append(append([]any{}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var ts int64
		var strategy, tradeType, posType, side string
		var posID sql.NullInt64
		var marketState, feeCurrency, txid, notes sql.NullString
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &strategy, &marketState, &tradeType,
			&posType, &side, &t.Price, &t.Volume, &t.Value, &t.Fee, &feeCurrency,
			&posID, &txid, &t.DryRun, &notes); err != nil {
			return nil, err
		}
		t.Timestamp = time.Unix(ts, 0)
		t.Strategy = types.StrategyKind(strategy)
		t.MarketState = marketState.String
		t.TradeType = types.TradeType(tradeType)
		t.PositionType = types.PositionType(posType)
		t.Side = types.Side(side)
		t.FeeCurrency = feeCurrency.String
		t.TxID = txid.String
		t.Notes = notes.String
		if posID.Valid {
			t.PositionID = &posID.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) recentClosedPositions(ctx context.Context, where string, args []any, limit int) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		positionColumnsQuery+` WHERE status = 'closed'`+where+`
		ORDER BY closed_time DESC, id DESC LIMIT ?`, append(append([]any{}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("recent positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) recentSwitches(ctx context.Context, filter OverviewFilter) ([]types.StrategySwitch, error) {
	var clauses []string
	var args []any
	if len(filter.Symbols) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(filter.Symbols)), ",")
		clauses = append(clauses, "symbol IN ("+ph+")")
		for _, s := range filter.Symbols {
			args = append(args, s)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, symbol, from_strategy, to_strategy, reason,
		       market_state, confidence, confirmations_received, switches_today,
		       trades_with_old, pnl_with_old
		FROM strategy_switches`+where+`
		ORDER BY timestamp DESC, id DESC LIMIT ?`, append(args, filter.limit())...)
	if err != nil {
		return nil, fmt.Errorf("recent switches: %w", err)
	}
	defer rows.Close()

	var out []types.StrategySwitch
	for rows.Next() {
		var sw types.StrategySwitch
		var ts int64
		var from, to string
		var reason, marketState sql.NullString
		var tradesOld sql.NullInt64
		var pnlOld sql.NullFloat64
		if err := rows.Scan(&sw.ID, &ts, &sw.Symbol, &from, &to, &reason,
			&marketState, &sw.Confidence, &sw.ConfirmationsReceived, &sw.SwitchesToday,
			&tradesOld, &pnlOld); err != nil {
			return nil, err
		}
		sw.Timestamp = time.Unix(ts, 0)
		sw.FromStrategy = types.StrategyKind(from)
		sw.ToStrategy = types.StrategyKind(to)
		sw.Reason = reason.String
		sw.MarketState = marketState.String
		if tradesOld.Valid {
			v := int(tradesOld.Int64)
			sw.TradesWithOldStrategy = &v
		}
		if pnlOld.Valid {
			sw.PnLWithOldStrategy = &pnlOld.Float64
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// dailyStats groups closed positions by UTC calendar day, oldest first.
func (s *Store) dailyStats(ctx context.Context, where string, args []any) ([]DailyStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(closed_time, 'unixepoch'), COUNT(*),
		       COALESCE(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(gross_pnl), 0),
		       COALESCE(SUM(net_pnl), 0),
		       COALESCE(SUM(total_fees), 0)
		FROM positions WHERE status = 'closed'`+where+`
		GROUP BY DATE(closed_time, 'unixepoch')
		ORDER BY DATE(closed_time, 'unixepoch')`, args...)
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Date, &d.Positions, &d.Wins, &d.GrossPnL, &d.NetPnL, &d.TotalFees); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// latestConditions returns the newest market_conditions row per symbol.
func (s *Store) latestConditions(ctx context.Context, symbols []string) ([]ConditionSnapshot, error) {
	where := ""
	var args []any
	if len(symbols) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
		where = " AND mc.symbol IN (" + ph + ")"
		for _, s := range symbols {
			args = append(args, s)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, symbol, state, adx, atr, range_percent, choppiness,
		       slope, confidence, price, volume, recommended_strategy, active_strategy
		FROM market_conditions mc
		WHERE mc.id = (SELECT MAX(id) FROM market_conditions WHERE symbol = mc.symbol)`+where+`
		ORDER BY symbol`, args...)
	if err != nil {
		return nil, fmt.Errorf("latest conditions: %w", err)
	}
	defer rows.Close()

	var out []ConditionSnapshot
	for rows.Next() {
		var c ConditionSnapshot
		var ts int64
		var adx, atr, rangePct, chop, slope, conf, price, volume sql.NullFloat64
		var recommended, active sql.NullString
		if err := rows.Scan(&ts, &c.Symbol, &c.State, &adx, &atr, &rangePct, &chop,
			&slope, &conf, &price, &volume, &recommended, &active); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(ts, 0)
		c.ADX = adx.Float64
		c.ATR = atr.Float64
		c.RangePct = rangePct.Float64
		c.Choppiness = chop.Float64
		c.Slope = slope.Float64
		c.Confidence = conf.Float64
		c.Price = price.Float64
		c.Volume = volume.Float64
		c.Recommended = types.StrategyKind(recommended.String)
		c.Active = types.StrategyKind(active.String)
		out = append(out, c)
	}
	return out, rows.Err()
}
