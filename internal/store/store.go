// Package store persists trading activity to a local SQLite database:
// executed trades, position round trips, strategy switches, and market
// condition snapshots. The engine is the only writer; the dashboard
// reads through the query methods in analytics.go.
//
// The database opens in WAL mode with a busy timeout so the dashboard's
// reads never block the trading loop's writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kraken-adaptive/pkg/types"
)

// Store is the SQLite-backed trading ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// The single connection serializes writers; readers go through WAL.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     INTEGER NOT NULL,
	symbol        TEXT    NOT NULL,
	strategy      TEXT    NOT NULL,
	market_state  TEXT,
	trade_type    TEXT    NOT NULL,
	position_type TEXT    NOT NULL,
	side          TEXT    NOT NULL,
	price         REAL    NOT NULL,
	volume        REAL    NOT NULL,
	value         REAL    NOT NULL,
	fee           REAL    NOT NULL DEFAULT 0,
	fee_currency  TEXT,
	position_id   INTEGER,
	txid          TEXT,
	dry_run       INTEGER NOT NULL DEFAULT 0,
	notes         TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol        TEXT    NOT NULL,
	strategy      TEXT    NOT NULL,
	market_state  TEXT,
	position_type TEXT    NOT NULL,
	entry_time    INTEGER NOT NULL,
	entry_price   REAL    NOT NULL,
	entry_volume  REAL    NOT NULL,
	entry_fee     REAL    NOT NULL DEFAULT 0,
	exit_time     INTEGER,
	exit_price    REAL,
	exit_volume   REAL,
	exit_fee      REAL,
	gross_pnl     REAL,
	total_fees    REAL,
	net_pnl       REAL,
	pnl_percent   REAL,
	status        TEXT    NOT NULL DEFAULT 'open',
	dry_run       INTEGER NOT NULL DEFAULT 0,
	closed_time   INTEGER
);

CREATE TABLE IF NOT EXISTS strategy_switches (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp              INTEGER NOT NULL,
	symbol                 TEXT    NOT NULL,
	from_strategy          TEXT    NOT NULL,
	to_strategy            TEXT    NOT NULL,
	reason                 TEXT,
	market_state           TEXT,
	confidence             REAL,
	confirmations_received INTEGER,
	switches_today         INTEGER,
	trades_with_old        INTEGER,
	pnl_with_old           REAL
);

CREATE TABLE IF NOT EXISTS market_conditions (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            INTEGER NOT NULL,
	symbol               TEXT    NOT NULL,
	state                TEXT    NOT NULL,
	adx                  REAL,
	atr                  REAL,
	range_percent        REAL,
	choppiness           REAL,
	slope                REAL,
	confidence           REAL,
	price                REAL,
	volume               REAL,
	recommended_strategy TEXT,
	active_strategy      TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_time   ON trades(symbol, timestamp);
CREATE INDEX IF NOT EXISTS idx_positions_sym_status ON positions(symbol, status);
CREATE INDEX IF NOT EXISTS idx_positions_sym_strat  ON positions(symbol, strategy);
CREATE INDEX IF NOT EXISTS idx_conditions_sym_time  ON market_conditions(symbol, timestamp);
`

// RecordTrade inserts one executed order leg and returns its row ID.
func (s *Store) RecordTrade(ctx context.Context, t *types.Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(timestamp, symbol, strategy, market_state, trade_type, position_type,
		 side, price, volume, value, fee, fee_currency, position_id, txid, dry_run, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.Unix(), t.Symbol, string(t.Strategy), t.MarketState,
		string(t.TradeType), string(t.PositionType), string(t.Side),
		t.Price, t.Volume, t.Value, t.Fee, t.FeeCurrency,
		t.PositionID, t.TxID, t.DryRun, t.Notes)
	if err != nil {
		return 0, fmt.Errorf("record trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// OpenPosition inserts a new open position together with its entry
// trade in one transaction. On return p.ID and entry.PositionID are
// populated.
func (s *Store) OpenPosition(ctx context.Context, p *types.Position, entry *types.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO positions
		(symbol, strategy, market_state, position_type,
		 entry_time, entry_price, entry_volume, entry_fee, status, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'open', ?)`,
		p.Symbol, string(p.Strategy), p.MarketState, string(p.PositionType),
		p.EntryTime.Unix(), p.EntryPrice, p.EntryVolume, p.EntryFee, p.DryRun)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	posID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO trades
		(timestamp, symbol, strategy, market_state, trade_type, position_type,
		 side, price, volume, value, fee, fee_currency, position_id, txid, dry_run, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.Unix(), entry.Symbol, string(entry.Strategy), entry.MarketState,
		string(types.TradeEntry), string(entry.PositionType), string(entry.Side),
		entry.Price, entry.Volume, entry.Value, entry.Fee, entry.FeeCurrency,
		posID, entry.TxID, entry.DryRun, entry.Notes)
	if err != nil {
		return fmt.Errorf("insert entry trade: %w", err)
	}
	tradeID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("open position: %w", err)
	}

	p.ID = posID
	p.Status = types.PositionOpen
	entry.ID = tradeID
	entry.PositionID = &posID
	s.logger.Info("position opened",
		"symbol", p.Symbol,
		"position_id", posID,
		"price", p.EntryPrice,
		"volume", p.EntryVolume,
	)
	return nil
}

// ClosePosition settles an open position and inserts its exit trade in
// one transaction. P&L is derived here so every closed row satisfies
// total_fees = entry_fee + exit_fee and net_pnl = gross_pnl - total_fees.
func (s *Store) ClosePosition(ctx context.Context, positionID int64, exit *types.Trade) (*types.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT symbol, position_type, entry_price, entry_volume, entry_fee
		FROM positions WHERE id = ? AND status = 'open'`, positionID)

	var symbol, posType string
	var entryPrice, entryVolume, entryFee float64
	if err := row.Scan(&symbol, &posType, &entryPrice, &entryVolume, &entryFee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("close position %d: no open row", positionID)
		}
		return nil, fmt.Errorf("close position: %w", err)
	}

	gross := (exit.Price - entryPrice) * exit.Volume
	if types.PositionType(posType) == types.Short {
		gross = (entryPrice - exit.Price) * exit.Volume
	}
	totalFees := entryFee + exit.Fee
	net := gross - totalFees
	pnlPct := 0.0
	if entryPrice*exit.Volume > 0 {
		pnlPct = net / (entryPrice * exit.Volume) * 100
	}

	now := exit.Timestamp.Unix()
	if _, err := tx.ExecContext(ctx, `
		UPDATE positions SET
			exit_time = ?, exit_price = ?, exit_volume = ?, exit_fee = ?,
			gross_pnl = ?, total_fees = ?, net_pnl = ?, pnl_percent = ?,
			status = 'closed', closed_time = ?
		WHERE id = ?`,
		now, exit.Price, exit.Volume, exit.Fee,
		gross, totalFees, net, pnlPct, now, positionID); err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades
		(timestamp, symbol, strategy, market_state, trade_type, position_type,
		 side, price, volume, value, fee, fee_currency, position_id, txid, dry_run, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now, exit.Symbol, string(exit.Strategy), exit.MarketState,
		string(types.TradeExit), posType, string(exit.Side),
		exit.Price, exit.Volume, exit.Value, exit.Fee, exit.FeeCurrency,
		positionID, exit.TxID, exit.DryRun, exit.Notes); err != nil {
		return nil, fmt.Errorf("insert exit trade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}

	s.logger.Info("position closed",
		"symbol", symbol,
		"position_id", positionID,
		"gross_pnl", gross,
		"net_pnl", net,
		"pnl_percent", pnlPct,
	)
	return s.GetPosition(ctx, positionID)
}

// GetPosition loads one position row by ID.
func (s *Store) GetPosition(ctx context.Context, id int64) (*types.Position, error) {
	return scanPosition(s.db.QueryRowContext(ctx, positionColumnsQuery+` WHERE id = ?`, id))
}

// GetOpenPosition returns the newest open position for a symbol, or nil
// when the symbol is flat.
func (s *Store) GetOpenPosition(ctx context.Context, symbol string) (*types.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		positionColumnsQuery+` WHERE symbol = ? AND status = 'open' ORDER BY entry_time DESC, id DESC LIMIT 1`,
		symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// RecordSwitch inserts one confirmed strategy switch.
func (s *Store) RecordSwitch(ctx context.Context, sw *types.StrategySwitch) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_switches
		(timestamp, symbol, from_strategy, to_strategy, reason, market_state,
		 confidence, confirmations_received, switches_today, trades_with_old, pnl_with_old)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.Timestamp.Unix(), sw.Symbol, string(sw.FromStrategy), string(sw.ToStrategy),
		sw.Reason, sw.MarketState, sw.Confidence, sw.ConfirmationsReceived,
		sw.SwitchesToday, sw.TradesWithOldStrategy, sw.PnLWithOldStrategy)
	if err != nil {
		return 0, fmt.Errorf("record switch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	sw.ID = id
	return id, nil
}

// RecordCondition inserts one market condition snapshot.
func (s *Store) RecordCondition(ctx context.Context, symbol string, cond *types.MarketCondition, price, volume float64, recommended, active types.StrategyKind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_conditions
		(timestamp, symbol, state, adx, atr, range_percent, choppiness, slope,
		 confidence, price, volume, recommended_strategy, active_strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), symbol, string(cond.State),
		cond.ADX, cond.ATR, cond.RangePercent, cond.Choppiness, cond.Slope,
		cond.Confidence, price, volume, string(recommended), string(active))
	if err != nil {
		return fmt.Errorf("record condition: %w", err)
	}
	return nil
}

const positionColumnsQuery = `
	SELECT id, symbol, strategy, market_state, position_type,
	       entry_time, entry_price, entry_volume, entry_fee,
	       exit_time, exit_price, exit_volume, exit_fee,
	       gross_pnl, total_fees, net_pnl, pnl_percent,
	       status, dry_run, closed_time
	FROM positions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*types.Position, error) {
	var p types.Position
	var strategy, status, posType string
	var entryTime int64
	var exitTime, closedTime sql.NullInt64
	var exitPrice, exitVolume, exitFee, gross, fees, net, pnlPct sql.NullFloat64

	err := row.Scan(&p.ID, &p.Symbol, &strategy, &p.MarketState, &posType,
		&entryTime, &p.EntryPrice, &p.EntryVolume, &p.EntryFee,
		&exitTime, &exitPrice, &exitVolume, &exitFee,
		&gross, &fees, &net, &pnlPct,
		&status, &p.DryRun, &closedTime)
	if err != nil {
		return nil, err
	}

	p.Strategy = types.StrategyKind(strategy)
	p.PositionType = types.PositionType(posType)
	p.Status = types.PositionStatus(status)
	p.EntryTime = time.Unix(entryTime, 0)
	p.ExitTime = nullTime(exitTime)
	p.ClosedTime = nullTime(closedTime)
	p.ExitPrice = nullFloat(exitPrice)
	p.ExitVolume = nullFloat(exitVolume)
	p.ExitFee = nullFloat(exitFee)
	p.GrossPnL = nullFloat(gross)
	p.TotalFees = nullFloat(fees)
	p.NetPnL = nullFloat(net)
	p.PnLPercent = nullFloat(pnlPct)
	return &p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
