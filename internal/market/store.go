package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个 symbol 的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	MinDate    string `json:"min_date"`
	MaxDate    string `json:"max_date"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
}

// Store 把日线落在单个 sqlite 文件里，(symbol, date) 唯一。
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("bar db path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol  TEXT NOT NULL,
			date    TEXT NOT NULL,
			open    REAL NOT NULL,
			high    REAL NOT NULL,
			low     REAL NOT NULL,
			close   REAL NOT NULL,
			volume  REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (symbol, date)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			symbol TEXT PRIMARY KEY,
			min_date TEXT,
			max_date TEXT,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertBars 批量写入日线（重复 (symbol,date) 将被覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol string, bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	symbol = normalizeSymbol(symbol)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.DateKey(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, symbol); err != nil {
		return count, err
	}
	return count, nil
}

func (s *Store) refreshManifest(ctx context.Context, symbol string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest (symbol, min_date, max_date, rows, last_sync_at)
		SELECT ?, MIN(date), MAX(date), COUNT(1), ? FROM bars WHERE symbol = ?
		ON CONFLICT(symbol) DO UPDATE SET
		    min_date=excluded.min_date,
		    max_date=excluded.max_date,
		    rows=excluded.rows,
		    last_sync_at=excluded.last_sync_at`, symbol, now, symbol)
	return err
}

// Manifest 返回 symbol 的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	symbol = normalizeSymbol(symbol)
	row := s.db.QueryRowContext(ctx, `SELECT symbol, min_date, max_date, rows, last_sync_at FROM manifest WHERE symbol = ?`, symbol)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.MinDate, &m.MaxDate, &m.Rows, &m.LastSyncAt); err != nil {
		if err == sql.ErrNoRows {
			return Manifest{}, ErrNoData
		}
		return Manifest{}, err
	}
	return m, nil
}

// Symbols 返回库内全部 symbol。
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM manifest ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// GetBars 实现 Source。
func (s *Store) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	symbol = normalizeSymbol(symbol)
	query := `SELECT date, open, high, low, close, volume FROM bars WHERE symbol = ?`
	args := []any{symbol}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.UTC().Format(DateLayout))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.UTC().Format(DateLayout))
	}
	query += ` ORDER BY date ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Bar
	for rows.Next() {
		var dateStr string
		var b Bar
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Date, err = ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("bad date %q for %s: %w", dateStr, symbol, err)
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoData
	}
	return list, nil
}

// LatestClose 实现 Source。
func (s *Store) LatestClose(ctx context.Context, symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)
	row := s.db.QueryRowContext(ctx, `SELECT close FROM bars WHERE symbol = ? ORDER BY date DESC LIMIT 1`, symbol)
	var close float64
	if err := row.Scan(&close); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNoData
		}
		return 0, err
	}
	return close, nil
}

// CloseAtOrAfter 返回 date 当日或之后第一根日线的收盘价，反馈结算用。
func (s *Store) CloseAtOrAfter(ctx context.Context, symbol string, date time.Time) (float64, time.Time, error) {
	symbol = normalizeSymbol(symbol)
	row := s.db.QueryRowContext(ctx, `
		SELECT date, close FROM bars
		WHERE symbol = ? AND date >= ?
		ORDER BY date ASC LIMIT 1`, symbol, date.UTC().Format(DateLayout))
	var dateStr string
	var close float64
	if err := row.Scan(&dateStr, &close); err != nil {
		if err == sql.ErrNoRows {
			return 0, time.Time{}, ErrNoData
		}
		return 0, time.Time{}, err
	}
	d, err := ParseDate(dateStr)
	if err != nil {
		return 0, time.Time{}, err
	}
	return close, d, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
