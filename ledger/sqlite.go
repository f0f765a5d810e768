package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ Sink = (*SQLiteLedger)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_us          INTEGER NOT NULL,
	client_id      INTEGER NOT NULL,
	venue_id       INTEGER NOT NULL,
	symbol         TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	qty            INTEGER NOT NULL,
	price          REAL    NOT NULL,
	position_after INTEGER NOT NULL
);`

// SQLiteLedger 把成交流水写入 SQLite，便于事后查询。
type SQLiteLedger struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenSQLite opens (or creates) the database at path and ensures the fills table exists.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// 单连接，避免写入与查询互相锁库
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO fills
		(ts_us, client_id, venue_id, symbol, side, qty, price, position_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: prepare insert: %w", err)
	}
	return &SQLiteLedger{db: db, insert: stmt}, nil
}

func (l *SQLiteLedger) Append(r Record) error {
	_, err := l.insert.Exec(r.TsMicros, r.ClientID, r.VenueID, r.Symbol, r.Side, r.Qty, r.Price, r.PositionAfter)
	if err != nil {
		return fmt.Errorf("ledger: insert fill: %w", err)
	}
	return nil
}

// Records 返回最近的 limit 条记录，按写入顺序排列；limit<=0 表示全部。
func (l *SQLiteLedger) Records(ctx context.Context, limit int) ([]Record, error) {
	const cols = `ts_us, client_id, venue_id, symbol, side, qty, price, position_after`
	q := `SELECT ` + cols + ` FROM fills ORDER BY id`
	args := []any{}
	if limit > 0 {
		q = `SELECT ` + cols + ` FROM (SELECT id, ` + cols + ` FROM fills ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query fills: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.TsMicros, &r.ClientID, &r.VenueID, &r.Symbol, &r.Side, &r.Qty, &r.Price, &r.PositionAfter); err != nil {
			return nil, fmt.Errorf("ledger: scan fill: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the prepared statement and the database.
func (l *SQLiteLedger) Close() error {
	_ = l.insert.Close()
	return l.db.Close()
}
