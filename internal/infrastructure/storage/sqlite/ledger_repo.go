package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// LedgerRepo 账本的 sqlite 存储
// Save 在单个事务内重写全量状态并追加交易历史，保证崩溃时磁盘
// 要么是旧状态要么是新状态，绝不会处于半写状态。
type LedgerRepo struct {
	db *sql.DB
}

func New(path string) (*LedgerRepo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &LedgerRepo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *LedgerRepo) Close() error { return r.db.Close() }

func (r *LedgerRepo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  base_size REAL NOT NULL,
  notional_usd REAL NOT NULL,
  entry_price REAL NOT NULL,
  open_time INTEGER NOT NULL,
  receipt TEXT NOT NULL,
  current_price REAL NOT NULL,
  unrealized_pnl REAL NOT NULL,
  funding_collected REAL NOT NULL,
  last_update INTEGER NOT NULL,
  flagged INTEGER NOT NULL DEFAULT 0,
  flag_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);

CREATE TABLE IF NOT EXISTS pairs (
  id TEXT PRIMARY KEY,
  asset TEXT NOT NULL,
  long_id TEXT NOT NULL,
  short_id TEXT NOT NULL,
  open_time INTEGER NOT NULL,
  total_notional_usd REAL NOT NULL,
  target_spread_apy REAL NOT NULL,
  status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pairs_asset ON pairs(asset);
CREATE INDEX IF NOT EXISTS idx_pairs_status ON pairs(status);

CREATE TABLE IF NOT EXISTS ledger_totals (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  total_funding_collected REAL NOT NULL,
  total_realized_pnl REAL NOT NULL,
  last_update INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  position_id TEXT NOT NULL,
  type TEXT NOT NULL,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  size REAL NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  receipt TEXT NOT NULL,
  pnl REAL NOT NULL,
  funding REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_history_ts ON trade_history(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trade_history_position ON trade_history(position_id);
`)
	return err
}

// Load 重建账本镜像与最近交易历史
func (r *LedgerRepo) Load(ctx context.Context) (*model.LedgerState, []*model.TradeEntry, error) {
	state := &model.LedgerState{}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, venue, symbol, side, base_size, notional_usd, entry_price, open_time,
		       receipt, current_price, unrealized_pnl, funding_collected, last_update, flagged, flag_reason
		FROM positions ORDER BY open_time`)
	if err != nil {
		return nil, nil, fmt.Errorf("load positions: %w", err)
	}
	for rows.Next() {
		var p model.Position
		var flagged int
		if err := rows.Scan(&p.ID, &p.Venue, &p.Symbol, &p.Side, &p.BaseSize, &p.NotionalUsd,
			&p.EntryPrice, &p.OpenTime, &p.Receipt, &p.CurrentPrice, &p.UnrealizedPnl,
			&p.FundingCollected, &p.LastUpdate, &flagged, &p.FlagReason); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan position: %w", err)
		}
		p.Flagged = flagged != 0
		state.Positions = append(state.Positions, &p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT id, asset, long_id, short_id, open_time, total_notional_usd, target_spread_apy, status
		FROM pairs ORDER BY open_time`)
	if err != nil {
		return nil, nil, fmt.Errorf("load pairs: %w", err)
	}
	for rows.Next() {
		var a model.ArbitragePair
		if err := rows.Scan(&a.ID, &a.Asset, &a.LongID, &a.ShortID, &a.OpenTime,
			&a.TotalNotionalUsd, &a.TargetSpreadApy, &a.Status); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan pair: %w", err)
		}
		state.Pairs = append(state.Pairs, &a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	err = r.db.QueryRowContext(ctx,
		`SELECT total_funding_collected, total_realized_pnl, last_update FROM ledger_totals WHERE id=1`).
		Scan(&state.TotalFundingCollected, &state.TotalRealizedPnl, &state.LastUpdate)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, fmt.Errorf("load totals: %w", err)
	}

	history, err := r.loadHistory(ctx)
	if err != nil {
		return nil, nil, err
	}
	return state, history, nil
}

func (r *LedgerRepo) loadHistory(ctx context.Context) ([]*model.TradeEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, type, venue, symbol, side, size, price, ts_ms, receipt, pnl, funding
		FROM trade_history ORDER BY id DESC LIMIT ?`, model.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []*model.TradeEntry
	for rows.Next() {
		var e model.TradeEntry
		if err := rows.Scan(&e.PositionID, &e.Type, &e.Venue, &e.Symbol, &e.Side,
			&e.Size, &e.Price, &e.Time, &e.Receipt, &e.Pnl, &e.Funding); err != nil {
			return nil, fmt.Errorf("scan trade entry: %w", err)
		}
		history = append(history, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// 倒序读出，翻回时间正序
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// Save 单事务写穿：重写全量状态，追加交易历史并裁剪到上限
func (r *LedgerRepo) Save(ctx context.Context, state *model.LedgerState, trades ...*model.TradeEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairs`); err != nil {
		return err
	}

	for _, p := range state.Positions {
		flagged := 0
		if p.Flagged {
			flagged = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions(id, venue, symbol, side, base_size, notional_usd, entry_price,
			  open_time, receipt, current_price, unrealized_pnl, funding_collected, last_update, flagged, flag_reason)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Venue, p.Symbol, p.Side, p.BaseSize, p.NotionalUsd, p.EntryPrice,
			p.OpenTime, p.Receipt, p.CurrentPrice, p.UnrealizedPnl, p.FundingCollected,
			p.LastUpdate, flagged, p.FlagReason)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}
	}

	for _, a := range state.Pairs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pairs(id, asset, long_id, short_id, open_time, total_notional_usd, target_spread_apy, status)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Asset, a.LongID, a.ShortID, a.OpenTime, a.TotalNotionalUsd, a.TargetSpreadApy, a.Status)
		if err != nil {
			return fmt.Errorf("insert pair %s: %w", a.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_totals(id, total_funding_collected, total_realized_pnl, last_update)
		VALUES(1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		total_funding_collected=excluded.total_funding_collected,
		total_realized_pnl=excluded.total_realized_pnl,
		last_update=excluded.last_update`,
		state.TotalFundingCollected, state.TotalRealizedPnl, state.LastUpdate); err != nil {
		return fmt.Errorf("upsert totals: %w", err)
	}

	for _, e := range trades {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trade_history(position_id, type, venue, symbol, side, size, price, ts_ms, receipt, pnl, funding)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.PositionID, e.Type, e.Venue, e.Symbol, e.Side, e.Size, e.Price, e.Time, e.Receipt, e.Pnl, e.Funding)
		if err != nil {
			return fmt.Errorf("insert trade entry: %w", err)
		}
	}

	if len(trades) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM trade_history WHERE id NOT IN (
			  SELECT id FROM trade_history ORDER BY id DESC LIMIT ?
			)`, model.HistoryLimit); err != nil {
			return fmt.Errorf("trim trade history: %w", err)
		}
	}

	return tx.Commit()
}

var _ port.LedgerStore = (*LedgerRepo)(nil)
