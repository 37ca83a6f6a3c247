// Package sqlitestore implements ports.Store on top of SQLite with a
// single physical writer.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements ports.Store.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config configures a new Store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// New opens (creating if absent) the SQLite database at cfg.DBPath, enables
// WAL mode, limits the pool to a single physical writer, and runs schema
// migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for sqlite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trader.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory %q: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %q: %w", dbPath, err)
	}

	// SQLite tolerates exactly one writer at a time; limiting the pool to a
	// single connection turns the driver's own lock contention into simple
	// request serialization instead of SQLITE_BUSY errors under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	cfg.Logger.Info(context.Background(), "sqlite store ready", map[string]interface{}{"path": dbPath})
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	entry_time TIMESTAMP NOT NULL,
	leverage INTEGER NOT NULL,
	fees_open REAL NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	sl REAL,
	tp REAL,
	status TEXT NOT NULL,
	close_price REAL,
	close_time TIMESTAMP,
	fees_close REAL NOT NULL DEFAULT 0,
	realized_pnl REAL NOT NULL DEFAULT 0,
	funding_pnl REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);

CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	price REAL NOT NULL,
	qty REAL NOT NULL,
	fee REAL NOT NULL,
	ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_position ON fills (position_id);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
	event TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_position ON events (position_id);

CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	taker_fee REAL NOT NULL,
	maker_fee REAL NOT NULL,
	enable_funding INTEGER NOT NULL,
	base_balance REAL NOT NULL,
	default_stop_loss_percent REAL NOT NULL,
	default_take_profit_percent REAL NOT NULL,
	number_format TEXT NOT NULL,
	timezone TEXT NOT NULL
);
`

// additiveColumns lists ALTER TABLE statements applied after the base schema,
// each guarded by a PRAGMA table_info lookup so re-running migrate against a
// database that already has the column is a no-op. New columns are appended
// here as the schema evolves; existing rows keep their defaults.
var additiveColumns = []struct {
	table, column, ddl string
}{}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	for _, c := range additiveColumns {
		has, err := s.hasColumn(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return s.seedSettings(ctx)
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) seedSettings(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings WHERE id = 1`).Scan(&count); err != nil {
		return fmt.Errorf("count settings: %w", err)
	}
	if count > 0 {
		return nil
	}
	d := domain.DefaultSettings()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, taker_fee, maker_fee, enable_funding, base_balance,
			default_stop_loss_percent, default_take_profit_percent, number_format, timezone)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TakerFee, d.MakerFee, d.EnableFunding, d.BaseBalance,
		d.DefaultStopLossPercent, d.DefaultTakeProfitPercent, d.NumberFormat, d.Timezone)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreatePosition derives qty from req.SizeMode, writes the position and its
// paired OPEN fill and POSITION_CREATED event in one transaction.
func (s *Store) CreatePosition(ctx context.Context, req ports.CreatePositionRequest, entryPrice, openFee float64) (*domain.Position, error) {
	qty := req.SizeValue
	if req.SizeMode == domain.SizeUSDT {
		qty = req.SizeValue / entryPrice
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ports.ErrStorage, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, qty, entry_price, entry_time, leverage,
			fees_open, notes, sl, tp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Symbol, req.Side, qty, entryPrice, now, req.Leverage,
		openFee, req.Notes, req.SL, req.TP, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("%w: insert position: %v", ports.ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: last insert id: %v", ports.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fills (position_id, type, price, qty, fee, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		id, domain.FillOpen, entryPrice, qty, openFee, now); err != nil {
		return nil, fmt.Errorf("%w: insert open fill: %v", ports.ErrStorage, err)
	}

	if err := insertEvent(ctx, tx, id, domain.EventPositionCreated, map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "qty": qty, "entryPrice": entryPrice,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ports.ErrStorage, err)
	}
	return s.GetPosition(ctx, id)
}

func insertEvent(ctx context.Context, tx *sql.Tx, positionID int64, event domain.EventType, payload map[string]interface{}, ts time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal event payload: %v", ports.ErrInternal, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (position_id, event, payload, ts) VALUES (?, ?, ?, ?)`,
		positionID, event, string(raw), ts); err != nil {
		return fmt.Errorf("%w: insert event: %v", ports.ErrStorage, err)
	}
	return nil
}

const positionColumns = `id, symbol, side, qty, entry_price, entry_time, leverage, fees_open, notes,
	sl, tp, status, close_price, close_time, fees_close, realized_pnl, funding_pnl`

func scanPosition(sc interface{ Scan(...interface{}) error }) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var closePriceF sql.NullFloat64
	var closeTimeT sql.NullTime
	err := sc.Scan(
		&p.ID, &p.Symbol, &side, &p.Qty, &p.EntryPrice, &p.EntryTime, &p.Leverage, &p.FeesOpen, &p.Notes,
		&p.SL, &p.TP, &status, &closePriceF, &closeTimeT, &p.FeesClose, &p.RealizedPnl, &p.FundingPnl,
	)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.Status(status)
	if closePriceF.Valid {
		v := closePriceF.Float64
		p.ClosePrice = &v
	}
	if closeTimeT.Valid {
		t := closeTimeT.Time
		p.CloseTime = &t
	}
	return p, nil
}

// GetPosition returns the position with the given id, or ports.ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, id int64) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: position %d", ports.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: query position %d: %v", ports.ErrStorage, id, err)
	}
	return p, nil
}

// ListPositions returns positions ordered by entryTime descending, optionally
// filtered by status.
func (s *Store) ListPositions(ctx context.Context, status *domain.Status) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY entry_time DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list positions: %v", ports.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]*domain.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan position: %v", ports.ErrStorage, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateSLTP updates only the provided fields on an OPEN position.
func (s *Store) UpdateSLTP(ctx context.Context, id int64, patch ports.SLTPPatch) (*domain.Position, error) {
	if patch.SL == nil && patch.TP == nil {
		return s.GetPosition(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ports.ErrStorage, err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, id).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: position %d", ports.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: lookup position %d: %v", ports.ErrStorage, id, err)
	}
	if domain.Status(status) != domain.StatusOpen {
		return nil, fmt.Errorf("%w: position %d is not open", ports.ErrConflict, id)
	}

	var event domain.EventType
	payload := map[string]interface{}{}
	if patch.SL != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE positions SET sl = ? WHERE id = ?`, *patch.SL, id); err != nil {
			return nil, fmt.Errorf("%w: update sl: %v", ports.ErrStorage, err)
		}
		event = domain.EventSLUpdated
		payload["sl"] = *patch.SL
	}
	if patch.TP != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE positions SET tp = ? WHERE id = ?`, *patch.TP, id); err != nil {
			return nil, fmt.Errorf("%w: update tp: %v", ports.ErrStorage, err)
		}
		if event == "" {
			event = domain.EventTPUpdated
		}
		payload["tp"] = *patch.TP
	}

	if err := insertEvent(ctx, tx, id, event, payload, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ports.ErrStorage, err)
	}
	return s.GetPosition(ctx, id)
}

// ClosePosition is a guarded, idempotent write. If the row is already CLOSED
// it returns (nil, nil) and writes nothing.
func (s *Store) ClosePosition(ctx context.Context, id int64, closePrice, closeFee float64, event domain.EventType) (*domain.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ports.ErrStorage, err)
	}
	defer tx.Rollback()

	var symbol, side string
	var qty, entryPrice, feesOpen float64
	err = tx.QueryRowContext(ctx, `
		SELECT symbol, side, qty, entry_price, fees_open FROM positions WHERE id = ?`, id).
		Scan(&symbol, &side, &qty, &entryPrice, &feesOpen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: position %d", ports.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: lookup position %d: %v", ports.ErrStorage, id, err)
	}

	grossPnl := (closePrice - entryPrice) * qty
	if domain.Side(side) == domain.Short {
		grossPnl = (entryPrice - closePrice) * qty
	}
	realizedPnl := grossPnl - feesOpen - closeFee

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, close_price = ?, close_time = ?, fees_close = ?, realized_pnl = ?
		WHERE id = ? AND status = ?`,
		domain.StatusClosed, closePrice, now, closeFee, realizedPnl, id, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("%w: close position %d: %v", ports.ErrStorage, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", ports.ErrStorage, err)
	}
	if affected == 0 {
		// Already CLOSED by a concurrent attempt; no-op per the at-most-once
		// closure guarantee.
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fills (position_id, type, price, qty, fee, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		id, domain.FillClose, closePrice, qty, closeFee, now); err != nil {
		return nil, fmt.Errorf("%w: insert close fill: %v", ports.ErrStorage, err)
	}

	if err := insertEvent(ctx, tx, id, event, map[string]interface{}{
		"closePrice": closePrice, "realizedPnl": realizedPnl,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ports.ErrStorage, err)
	}
	return s.GetPosition(ctx, id)
}

// DeletePosition unconditionally deletes a position, cascading to its fills
// and events.
func (s *Store) DeletePosition(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete position %d: %v", ports.ErrStorage, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", ports.ErrStorage, err)
	}
	return affected > 0, nil
}

// ListEvents returns events ordered newest first, optionally filtered by
// position and bounded by limit (0 means unbounded).
func (s *Store) ListEvents(ctx context.Context, positionID *int64, limit int) ([]*domain.Event, error) {
	query := `SELECT id, position_id, event, payload, ts FROM events`
	var args []interface{}
	if positionID != nil {
		query += ` WHERE position_id = ?`
		args = append(args, *positionID)
	}
	query += ` ORDER BY ts DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", ports.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]*domain.Event, 0)
	for rows.Next() {
		e := &domain.Event{}
		var eventType, payload string
		if err := rows.Scan(&e.ID, &e.PositionID, &eventType, &payload, &e.Ts); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ports.ErrStorage, err)
		}
		e.Event = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("%w: unmarshal event payload: %v", ports.ErrInternal, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSettings returns the single settings row.
func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var d domain.Settings
	var enableFunding int
	err := s.db.QueryRowContext(ctx, `
		SELECT taker_fee, maker_fee, enable_funding, base_balance,
			default_stop_loss_percent, default_take_profit_percent, number_format, timezone
		FROM settings WHERE id = 1`).Scan(
		&d.TakerFee, &d.MakerFee, &enableFunding, &d.BaseBalance,
		&d.DefaultStopLossPercent, &d.DefaultTakeProfitPercent, &d.NumberFormat, &d.Timezone)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("%w: get settings: %v", ports.ErrStorage, err)
	}
	d.EnableFunding = enableFunding != 0
	return d, nil
}

// UpdateSettings applies a partial update to the single settings row.
func (s *Store) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	current, err := s.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if patch.TakerFee != nil {
		current.TakerFee = *patch.TakerFee
	}
	if patch.MakerFee != nil {
		current.MakerFee = *patch.MakerFee
	}
	if patch.EnableFunding != nil {
		current.EnableFunding = *patch.EnableFunding
	}
	if patch.BaseBalance != nil {
		current.BaseBalance = *patch.BaseBalance
	}
	if patch.DefaultStopLossPercent != nil {
		current.DefaultStopLossPercent = *patch.DefaultStopLossPercent
	}
	if patch.DefaultTakeProfitPercent != nil {
		current.DefaultTakeProfitPercent = *patch.DefaultTakeProfitPercent
	}
	if patch.NumberFormat != nil {
		current.NumberFormat = *patch.NumberFormat
	}
	if patch.Timezone != nil {
		current.Timezone = *patch.Timezone
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE settings SET taker_fee=?, maker_fee=?, enable_funding=?, base_balance=?,
			default_stop_loss_percent=?, default_take_profit_percent=?, number_format=?, timezone=?
		WHERE id = 1`,
		current.TakerFee, current.MakerFee, current.EnableFunding, current.BaseBalance,
		current.DefaultStopLossPercent, current.DefaultTakeProfitPercent, current.NumberFormat, current.Timezone)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("%w: update settings: %v", ports.ErrStorage, err)
	}
	return current, nil
}
