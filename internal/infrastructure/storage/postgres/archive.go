package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// Archive 交易流水的 postgres 归档（追加写，供离线分析）
type Archive struct {
	db *sql.DB
}

func New(dsn string) (*Archive, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	a := &Archive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trade_archive (
  id BIGSERIAL PRIMARY KEY,
  position_id TEXT NOT NULL,
  type TEXT NOT NULL,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  size DOUBLE PRECISION NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  receipt TEXT NOT NULL,
  pnl DOUBLE PRECISION NOT NULL,
  funding DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_archive_ts ON trade_archive(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trade_archive_symbol ON trade_archive(symbol);
`)
	return err
}

func (a *Archive) ArchiveTrade(ctx context.Context, entry *model.TradeEntry) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO trade_archive(position_id, type, venue, symbol, side, size, price, ts_ms, receipt, pnl, funding)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.PositionID, entry.Type, entry.Venue, entry.Symbol, entry.Side,
		entry.Size, entry.Price, entry.Time, entry.Receipt, entry.Pnl, entry.Funding)
	return err
}

var _ port.TradeArchiver = (*Archive)(nil)
