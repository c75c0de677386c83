package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"BourseCast/internal/errs"
	"BourseCast/internal/model"
)

// SQLite persists everything to a single SQLite database. Writes are
// committed synchronously per call and serialized by a mutex; the last
// writer wins on a (symbol, date) collision.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(dbPath string, log zerolog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboard reads do not block engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol       TEXT PRIMARY KEY,
			display_name TEXT,
			updated_at   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS bars (
			symbol     TEXT NOT NULL,
			date       INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_symbol_date ON bars(symbol, date DESC)`,

		`CREATE TABLE IF NOT EXISTS forecasts (
			id            TEXT PRIMARY KEY,
			symbol        TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			horizon_kind  TEXT NOT NULL,
			model_tag     TEXT NOT NULL,
			params_digest TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_forecasts_symbol_ts ON forecasts(symbol, created_at)`,

		`CREATE TABLE IF NOT EXISTS forecast_points (
			forecast_id    TEXT NOT NULL,
			forecast_ts    INTEGER NOT NULL,
			yhat           REAL NOT NULL,
			yhat_lower     REAL NOT NULL,
			yhat_upper     REAL NOT NULL,
			interval_width REAL NOT NULL,
			FOREIGN KEY (forecast_id) REFERENCES forecasts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_forecast ON forecast_points(forecast_id, forecast_ts)`,

		`CREATE TABLE IF NOT EXISTS preferences (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			kind      TEXT NOT NULL,
			symbol    TEXT,
			payload   TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}

// UpsertBars writes bars idempotently on (symbol, date). Invalid bars
// are skipped rather than failing the batch.
func (s *SQLite) UpsertBars(ctx context.Context, symbol, displayName string, bars []model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StoreError, symbol, err, "begin upsert")
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if displayName != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO symbols (symbol, display_name, updated_at) VALUES (?,?,?)
			 ON CONFLICT(symbol) DO UPDATE SET display_name=excluded.display_name, updated_at=excluded.updated_at`,
			symbol, displayName, now); err != nil {
			return errs.Wrap(errs.StoreError, symbol, err, "upsert symbol")
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bars (symbol, date, open, high, low, close, volume, source, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(symbol, date) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume,
			source=excluded.source, updated_at=excluded.updated_at`)
	if err != nil {
		return errs.Wrap(errs.StoreError, symbol, err, "prepare upsert")
	}
	defer stmt.Close()

	skipped := 0
	for _, b := range bars {
		if !b.Valid() {
			skipped++
			continue
		}
		day := model.DayKey(b.Date)
		if _, err := stmt.ExecContext(ctx, symbol, day.Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Source, now); err != nil {
			return errs.Wrap(errs.StoreError, symbol, err, "upsert bar")
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.StoreError, symbol, err, "commit upsert")
	}
	if skipped > 0 {
		s.log.Warn().Str("symbol", symbol).Int("skipped", skipped).Msg("dropped invalid bars on upsert")
	}
	return nil
}

// GetBars returns up to nDays bars newest-first. Callers sort ascending.
func (s *SQLite) GetBars(ctx context.Context, symbol string, nDays int) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, open, high, low, close, volume, source, updated_at
		 FROM bars WHERE symbol = ? ORDER BY date DESC LIMIT ?`, symbol, nDays)
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, symbol, err, "query bars")
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var date, updated int64
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source, &updated); err != nil {
			return nil, errs.Wrap(errs.StoreError, symbol, err, "scan bar")
		}
		b.Symbol = symbol
		b.Date = time.Unix(date, 0).UTC()
		b.UpdatedAt = time.Unix(updated, 0).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.StoreError, symbol, err, "iterate bars")
	}
	return bars, nil
}

// CountBars returns the number of stored bars for symbol.
func (s *SQLite) CountBars(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bars WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.StoreError, symbol, err, "count bars")
	}
	return n, nil
}

// LastClose returns the most recent close and its date. A symbol with
// no bars yields (0, zero time, nil).
func (s *SQLite) LastClose(ctx context.Context, symbol string) (float64, time.Time, error) {
	var px float64
	var date int64
	err := s.db.QueryRowContext(ctx,
		`SELECT close, date FROM bars WHERE symbol = ? ORDER BY date DESC LIMIT 1`, symbol).
		Scan(&px, &date)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, errs.Wrap(errs.StoreError, symbol, err, "query last close")
	}
	return px, time.Unix(date, 0).UTC(), nil
}

// AppendForecast writes a record and its points in one transaction.
func (s *SQLite) AppendForecast(ctx context.Context, rec *model.ForecastRecord) error {
	if rec == nil || len(rec.Points) == 0 {
		return errs.New(errs.BadInput, "", "forecast record must carry at least one point")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StoreError, rec.Symbol, err, "begin forecast")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO forecasts (id, symbol, created_at, horizon_kind, model_tag, params_digest)
		 VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.Symbol, rec.CreatedAt.Unix(), string(rec.HorizonKind), rec.ModelTag, rec.ParamsDigest); err != nil {
		return errs.Wrap(errs.StoreError, rec.Symbol, err, "insert forecast")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO forecast_points (forecast_id, forecast_ts, yhat, yhat_lower, yhat_upper, interval_width)
		 VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return errs.Wrap(errs.StoreError, rec.Symbol, err, "prepare points")
	}
	defer stmt.Close()

	for _, p := range rec.Points {
		if _, err := stmt.ExecContext(ctx, rec.ID, p.ForecastTS.Unix(),
			p.Yhat, p.YhatLower, p.YhatUpper, p.IntervalWidth); err != nil {
			return errs.Wrap(errs.StoreError, rec.Symbol, err, "insert point")
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.StoreError, rec.Symbol, err, "commit forecast")
	}
	return nil
}

// QueryForecasts returns records created at or after since, points
// sorted ascending by forecast timestamp.
func (s *SQLite) QueryForecasts(ctx context.Context, symbol string, since time.Time) ([]model.ForecastRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, horizon_kind, model_tag, params_digest
		 FROM forecasts WHERE symbol = ? AND created_at >= ? ORDER BY created_at`,
		symbol, since.Unix())
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, symbol, err, "query forecasts")
	}
	defer rows.Close()

	var recs []model.ForecastRecord
	for rows.Next() {
		var rec model.ForecastRecord
		var created int64
		var kind string
		if err := rows.Scan(&rec.ID, &created, &kind, &rec.ModelTag, &rec.ParamsDigest); err != nil {
			return nil, errs.Wrap(errs.StoreError, symbol, err, "scan forecast")
		}
		rec.Symbol = symbol
		rec.CreatedAt = time.Unix(created, 0).UTC()
		rec.HorizonKind = model.HorizonKind(kind)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.StoreError, symbol, err, "iterate forecasts")
	}

	for i := range recs {
		pts, err := s.forecastPoints(ctx, symbol, recs[i].ID, recs[i].ModelTag)
		if err != nil {
			return nil, err
		}
		recs[i].Points = pts
	}
	return recs, nil
}

func (s *SQLite) forecastPoints(ctx context.Context, symbol, forecastID, modelTag string) ([]model.ForecastPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT forecast_ts, yhat, yhat_lower, yhat_upper, interval_width
		 FROM forecast_points WHERE forecast_id = ? ORDER BY forecast_ts`, forecastID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, symbol, err, "query points")
	}
	defer rows.Close()

	var pts []model.ForecastPoint
	for rows.Next() {
		var p model.ForecastPoint
		var ts int64
		if err := rows.Scan(&ts, &p.Yhat, &p.YhatLower, &p.YhatUpper, &p.IntervalWidth); err != nil {
			return nil, errs.Wrap(errs.StoreError, symbol, err, "scan point")
		}
		p.Symbol = symbol
		p.ForecastTS = time.Unix(ts, 0).UTC()
		p.ModelTag = modelTag
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// PutPreference stores value as JSON under key.
func (s *SQLite) PutPreference(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.BadInput, "", err, "encode preference")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(data)); err != nil {
		return errs.Wrap(errs.StoreError, "", err, "put preference")
	}
	return nil
}

// GetPreference decodes the stored JSON into dest. The bool reports
// whether the key existed; callers keep their default otherwise.
func (s *SQLite) GetPreference(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.StoreError, "", err, "get preference")
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, errs.Wrap(errs.StoreError, "", err, "decode preference")
	}
	return true, nil
}

// AppendEvent appends one row to the event log.
func (s *SQLite) AppendEvent(ctx context.Context, evt Event) error {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (kind, symbol, payload, timestamp) VALUES (?,?,?,?)`,
		evt.Kind, evt.Symbol, evt.Payload, ts.Unix()); err != nil {
		return errs.Wrap(errs.StoreError, evt.Symbol, err, "append event")
	}
	return nil
}

func (s *SQLite) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}
