package ledger

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"WhaleMirror/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists positions and the trade journal to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so reads don't block the engine's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS active_positions (
			wallet              TEXT NOT NULL,
			market_id           TEXT NOT NULL,
			owned_size          REAL NOT NULL,
			average_entry_price REAL NOT NULL,
			budget_committed    REAL NOT NULL,
			stop_loss_pct       REAL NOT NULL,
			take_profit_pct     REAL NOT NULL,
			status              TEXT NOT NULL,
			opened_at           INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL,
			version             INTEGER NOT NULL,
			PRIMARY KEY (wallet, market_id)
		)`,

		`CREATE TABLE IF NOT EXISTS trade_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			wallet       TEXT,
			market_id    TEXT NOT NULL,
			side         TEXT NOT NULL,
			size         REAL NOT NULL,
			price        REAL NOT NULL,
			order_id     TEXT,
			trigger_type TEXT,
			is_dry_run   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_market ON trade_history(market_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_ts ON trade_history(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load() ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT wallet, market_id, owned_size, average_entry_price,
		budget_committed, stop_loss_pct, take_profit_pct, status, opened_at, updated_at, version
		FROM active_positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var status string
		var openedAt, updatedAt int64
		if err := rows.Scan(&p.Wallet, &p.MarketID, &p.OwnedSize, &p.AvgEntryPrice,
			&p.BudgetCommitted, &p.StopLossPct, &p.TakeProfitPct, &status,
			&openedAt, &updatedAt, &p.Version); err != nil {
			return nil, err
		}
		p.Status = model.PositionStatus(status)
		p.OpenedAt = time.Unix(openedAt, 0).UTC()
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(pos model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO active_positions
		(wallet, market_id, owned_size, average_entry_price, budget_committed,
		 stop_loss_pct, take_profit_pct, status, opened_at, updated_at, version)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(wallet, market_id) DO UPDATE SET
		 owned_size=excluded.owned_size,
		 average_entry_price=excluded.average_entry_price,
		 budget_committed=excluded.budget_committed,
		 stop_loss_pct=excluded.stop_loss_pct,
		 take_profit_pct=excluded.take_profit_pct,
		 status=excluded.status,
		 updated_at=excluded.updated_at,
		 version=excluded.version`,
		pos.Wallet, pos.MarketID, pos.OwnedSize, pos.AvgEntryPrice, pos.BudgetCommitted,
		pos.StopLossPct, pos.TakeProfitPct, string(pos.Status),
		pos.OpenedAt.Unix(), pos.UpdatedAt.Unix(), pos.Version,
	)
	return err
}

func (s *SQLiteStore) Delete(wallet, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM active_positions WHERE wallet = ? AND market_id = ?`, wallet, marketID)
	return err
}

func (s *SQLiteStore) RecordTrade(rec TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	dryRun := 0
	if rec.DryRun {
		dryRun = 1
	}
	_, err := s.db.Exec(`INSERT INTO trade_history
		(timestamp, wallet, market_id, side, size, price, order_id, trigger_type, is_dry_run)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		at.Unix(), rec.Wallet, rec.MarketID, string(rec.Side),
		rec.Size, rec.Price, rec.OrderID, rec.Trigger, dryRun,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}
