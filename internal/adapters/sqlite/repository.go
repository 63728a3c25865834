package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"

	"github.com/mattn/go-sqlite3"
)

// Repository implements the ports.TradeLedger, ports.PositionStore,
// ports.RealizedPnLStore, ports.ExclusionStore, and ports.AnalyticsStore
// interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		quote_qty REAL NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		commission_asset TEXT NOT NULL DEFAULT 'USDT',
		timestamp INTEGER NOT NULL,
		order_type TEXT NOT NULL DEFAULT 'MARKET',
		exchange_trade_id TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		asset TEXT PRIMARY KEY,
		free_qty REAL NOT NULL,
		locked_qty REAL NOT NULL DEFAULT 0,
		avg_cost REAL NOT NULL,
		total_invested REAL NOT NULL,
		current_price REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		unrealized_pnl_percent REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS realized_pnl (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT DEFAULT NULL,
		quantity REAL NOT NULL,
		sell_price REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS excluded_assets (
		asset TEXT PRIMARY KEY,
		reason TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analytics_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		report TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_timestamp ON trades (symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_realized_pnl_timestamp ON realized_pnl (timestamp);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// txCtxKey carries an open transaction through the InTx callback's context.
type txCtxKey struct{}

// dbtx is the subset of database operations shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q resolves the handle store methods go through: the transaction carried by
// the context inside InTx, the plain connection otherwise.
func (r *Repository) q(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txCtxKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

// InTx runs fn with a context whose store calls all land in one transaction.
// Any error from fn rolls every write back. Calls made with an already
// transactional context join the open transaction.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txCtxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError(err, "failed to begin transaction")
	}

	if err := fn(context.WithValue(ctx, txCtxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError(err, "failed to commit transaction")
	}
	return nil
}

// wrapDBError maps driver-level busy/locked conditions to the retryable
// concurrency sentinel so callers can distinguish contention from corruption.
func wrapDBError(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w: %v", msg, ports.ErrConcurrency, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// --- TradeLedger Implementation ---

// Append durably stores a trade record.
func (r *Repository) Append(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (id, symbol, side, quantity, price, quote_qty, commission, commission_asset, timestamp, order_type, exchange_trade_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var exchangeTradeID sql.NullString
	if trade.ExchangeTradeID != "" {
		exchangeTradeID = sql.NullString{String: trade.ExchangeTradeID, Valid: true}
	}

	_, err := r.q(ctx).ExecContext(ctx, query,
		trade.ID, trade.Symbol, trade.Side, trade.Quantity, trade.Price, trade.QuoteQty,
		trade.Commission, trade.CommissionAsset, trade.Timestamp, trade.OrderType, exchangeTradeID)
	if err != nil {
		return wrapDBError(err, "failed to insert trade %s for symbol %s", trade.ID, trade.Symbol)
	}
	r.logger.Debug(ctx, "Trade appended", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol, "side": trade.Side})
	return nil
}

const tradeColumns = `id, symbol, side, quantity, price, quote_qty, commission, commission_asset, timestamp, order_type, COALESCE(exchange_trade_id, '')`

// Query retrieves trades within [startTs, endTs], ascending by timestamp.
func (r *Repository) Query(ctx context.Context, startTs, endTs int64) ([]*domain.Trade, error) {
	if startTs >= endTs {
		return nil, fmt.Errorf("%w: start=%d end=%d", ports.ErrInvalidTimeRange, startTs, endTs)
	}

	query := `SELECT ` + tradeColumns + ` FROM trades WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`
	rows, err := r.q(ctx).QueryContext(ctx, query, startTs, endTs)
	if err != nil {
		return nil, wrapDBError(err, "failed to query trades in range [%d, %d]", startTs, endTs)
	}
	defer rows.Close()

	return r.collectTrades(ctx, rows)
}

// All retrieves the full trade history, ascending by timestamp.
func (r *Repository) All(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY timestamp ASC`
	rows, err := r.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError(err, "failed to query all trades")
	}
	defer rows.Close()

	return r.collectTrades(ctx, rows)
}

// Find retrieves trades matching the filter, most recent first.
func (r *Repository) Find(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	var conds []string
	var args []interface{}
	if filter.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		if !filter.Side.IsValid() {
			return nil, fmt.Errorf("%w: invalid side filter %q", ports.ErrValidation, filter.Side)
		}
		conds = append(conds, "side = ?")
		args = append(args, filter.Side)
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError(err, "failed to query trade history")
	}
	defer rows.Close()

	return r.collectTrades(ctx, rows)
}

// collectTrades scans all rows, skipping records that fail integrity checks
// with a warning rather than failing the whole read.
func (r *Repository) collectTrades(ctx context.Context, rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		if err := trade.Validate(); err != nil {
			r.logger.Warn(ctx, "Skipping malformed stored trade", map[string]interface{}{
				"tradeID": trade.ID,
				"reason":  fmt.Errorf("%w: %v", ports.ErrDataIntegrity, err).Error(),
			})
			continue
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// --- PositionStore Implementation ---

// Upsert saves the position keyed by its asset, replacing any prior state.
func (r *Repository) Upsert(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (asset, free_qty, locked_qty, avg_cost, total_invested, current_price, unrealized_pnl, unrealized_pnl_percent, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(asset) DO UPDATE SET
		free_qty = excluded.free_qty,
		locked_qty = excluded.locked_qty,
		avg_cost = excluded.avg_cost,
		total_invested = excluded.total_invested,
		current_price = excluded.current_price,
		unrealized_pnl = excluded.unrealized_pnl,
		unrealized_pnl_percent = excluded.unrealized_pnl_percent,
		last_updated = excluded.last_updated`

	_, err := r.q(ctx).ExecContext(ctx, query,
		pos.Asset, pos.FreeQty, pos.LockedQty, pos.AvgCost, pos.TotalInvested,
		pos.CurrentPrice, pos.UnrealizedPnl, pos.UnrealizedPnlPercent, pos.LastUpdated)
	if err != nil {
		return wrapDBError(err, "failed to upsert position for asset %s", pos.Asset)
	}
	r.logger.Debug(ctx, "Position upserted", map[string]interface{}{"asset": pos.Asset, "freeQty": pos.FreeQty})
	return nil
}

// Delete removes the position for an asset.
func (r *Repository) Delete(ctx context.Context, asset string) error {
	_, err := r.q(ctx).ExecContext(ctx, `DELETE FROM positions WHERE asset = ?`, asset)
	if err != nil {
		return wrapDBError(err, "failed to delete position for asset %s", asset)
	}
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"asset": asset})
	return nil
}

// FindAll retrieves every stored position keyed by asset.
func (r *Repository) FindAll(ctx context.Context) (map[string]*domain.Position, error) {
	const query = `
	SELECT asset, free_qty, locked_qty, avg_cost, total_invested, current_price, unrealized_pnl, unrealized_pnl_percent, last_updated
	FROM positions`

	rows, err := r.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError(err, "failed to query positions")
	}
	defer rows.Close()

	positions := make(map[string]*domain.Position)
	for rows.Next() {
		p := &domain.Position{}
		err := rows.Scan(&p.Asset, &p.FreeQty, &p.LockedQty, &p.AvgCost, &p.TotalInvested,
			&p.CurrentPrice, &p.UnrealizedPnl, &p.UnrealizedPnlPercent, &p.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		if p.Asset == "" {
			r.logger.Warn(ctx, "Skipping stored position with empty asset", map[string]interface{}{
				"reason": ports.ErrDataIntegrity.Error(),
			})
			continue
		}
		positions[p.Asset] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- RealizedPnLStore Implementation ---

// RealizedStore exposes the realized-PnL log backed by the same database.
// It is a separate view because its Append signature differs from the ledger's.
type RealizedStore struct {
	repo *Repository
}

// Realized returns the realized-PnL store view of this repository.
func (r *Repository) Realized() *RealizedStore {
	return &RealizedStore{repo: r}
}

// Append stores one realized-PnL record.
func (s *RealizedStore) Append(ctx context.Context, entry *domain.RealizedPnLEntry) error {
	const query = `
	INSERT INTO realized_pnl (asset, trade_id, symbol, quantity, sell_price, realized_pnl, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.repo.q(ctx).ExecContext(ctx, query,
		entry.Asset, entry.TradeID, entry.Symbol, entry.Quantity, entry.SellPrice, entry.RealizedPnl, entry.Timestamp)
	if err != nil {
		return wrapDBError(err, "failed to insert realized PnL entry for asset %s", entry.Asset)
	}
	s.repo.logger.Debug(ctx, "Realized PnL entry appended", map[string]interface{}{
		"asset": entry.Asset, "tradeID": entry.TradeID, "realizedPnl": entry.RealizedPnl,
	})
	return nil
}

// All retrieves the full realized-PnL log, ascending by timestamp.
func (s *RealizedStore) All(ctx context.Context) ([]*domain.RealizedPnLEntry, error) {
	const query = `
	SELECT asset, trade_id, COALESCE(symbol, ''), quantity, sell_price, realized_pnl, timestamp
	FROM realized_pnl ORDER BY timestamp ASC, id ASC`

	rows, err := s.repo.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError(err, "failed to query realized PnL log")
	}
	defer rows.Close()

	entries := make([]*domain.RealizedPnLEntry, 0)
	for rows.Next() {
		e := &domain.RealizedPnLEntry{}
		err := rows.Scan(&e.Asset, &e.TradeID, &e.Symbol, &e.Quantity, &e.SellPrice, &e.RealizedPnl, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan realized PnL row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realized PnL rows: %w", err)
	}
	return entries, nil
}

// TotalRealized sums realized PnL over the whole log.
func (s *RealizedStore) TotalRealized(ctx context.Context) (float64, error) {
	var total float64
	err := s.repo.q(ctx).QueryRowContext(ctx, `SELECT COALESCE(SUM(realized_pnl), 0) FROM realized_pnl`).Scan(&total)
	if err != nil {
		return 0, wrapDBError(err, "failed to sum realized PnL")
	}
	return total, nil
}

// --- ExclusionStore Implementation ---

// ExclusionSet exposes the exclusion registry backed by the same database.
type ExclusionSet struct {
	repo *Repository
}

// Exclusions returns the exclusion-store view of this repository.
func (r *Repository) Exclusions() *ExclusionSet {
	return &ExclusionSet{repo: r}
}

// Add records an exclusion. Adding an already-excluded asset is a no-op.
func (s *ExclusionSet) Add(ctx context.Context, entry *domain.ExclusionEntry) error {
	const query = `INSERT INTO excluded_assets (asset, reason, added_at) VALUES (?, ?, ?) ON CONFLICT(asset) DO NOTHING`
	_, err := s.repo.q(ctx).ExecContext(ctx, query, entry.Asset, entry.Reason, entry.AddedAt)
	if err != nil {
		return wrapDBError(err, "failed to add exclusion for asset %s", entry.Asset)
	}
	s.repo.logger.Info(ctx, "Asset excluded from views", map[string]interface{}{"asset": entry.Asset, "reason": entry.Reason})
	return nil
}

// Remove deletes an exclusion.
func (s *ExclusionSet) Remove(ctx context.Context, asset string) error {
	_, err := s.repo.q(ctx).ExecContext(ctx, `DELETE FROM excluded_assets WHERE asset = ?`, asset)
	if err != nil {
		return wrapDBError(err, "failed to remove exclusion for asset %s", asset)
	}
	s.repo.logger.Info(ctx, "Asset exclusion removed", map[string]interface{}{"asset": asset})
	return nil
}

// Contains reports whether the asset is currently excluded.
func (s *ExclusionSet) Contains(ctx context.Context, asset string) (bool, error) {
	var count int
	err := s.repo.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM excluded_assets WHERE asset = ?`, asset).Scan(&count)
	if err != nil {
		return false, wrapDBError(err, "failed to check exclusion for asset %s", asset)
	}
	return count > 0, nil
}

// List retrieves all exclusion entries.
func (s *ExclusionSet) List(ctx context.Context) ([]*domain.ExclusionEntry, error) {
	rows, err := s.repo.q(ctx).QueryContext(ctx, `SELECT asset, reason, added_at FROM excluded_assets ORDER BY added_at ASC`)
	if err != nil {
		return nil, wrapDBError(err, "failed to list exclusions")
	}
	defer rows.Close()

	entries := make([]*domain.ExclusionEntry, 0)
	for rows.Next() {
		e := &domain.ExclusionEntry{}
		if err := rows.Scan(&e.Asset, &e.Reason, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exclusion rows: %w", err)
	}
	return entries, nil
}

// --- AnalyticsStore Implementation ---

// SaveSnapshot replaces the stored analytics snapshot.
func (r *Repository) SaveSnapshot(ctx context.Context, report *domain.AnalyticsReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics snapshot: %w", err)
	}

	const query = `
	INSERT INTO analytics_snapshot (id, report, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at`
	_, err = r.q(ctx).ExecContext(ctx, query, string(payload), report.LastUpdated)
	if err != nil {
		return wrapDBError(err, "failed to save analytics snapshot")
	}
	return nil
}

// LoadSnapshot retrieves the stored analytics snapshot, or nil when absent.
func (r *Repository) LoadSnapshot(ctx context.Context) (*domain.AnalyticsReport, error) {
	var payload string
	err := r.q(ctx).QueryRowContext(ctx, `SELECT report FROM analytics_snapshot WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not computed yet
		}
		return nil, wrapDBError(err, "failed to load analytics snapshot")
	}

	report := &domain.AnalyticsReport{}
	if err := json.Unmarshal([]byte(payload), report); err != nil {
		return nil, fmt.Errorf("%w: stored analytics snapshot is not valid JSON: %v", ports.ErrDataIntegrity, err)
	}
	return report, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side string
	err := s.Scan(
		&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.QuoteQty,
		&t.Commission, &t.CommissionAsset, &t.Timestamp, &t.OrderType, &t.ExchangeTradeID)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	return t, nil
}
