package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			spec TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			channel TEXT NOT NULL,
			kind TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload TEXT,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts run unless a run with the same idempotency key exists, in
// which case run is overwritten with the stored one and created is false.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run, idempotencyKey string) (bool, error) {
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal spec: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, idempotency_key, spec, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		run.RunID, idempotencyKey, string(spec), run.Status, run.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	existing, err := s.GetRunByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("run for idempotency key %q vanished", idempotencyKey)
	}
	*run = *existing
	return false, nil
}

const runColumns = `run_id, spec, status, created_at, ended_at, error`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
}

// GetRunByIdempotencyKey retrieves the run created with key.
func (s *SQLiteStore) GetRunByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE idempotency_key = ?`, key))
}

func (s *SQLiteStore) scanRun(row *sql.Row) (*domain.Run, error) {
	var run domain.Run
	var spec string
	var errData sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(&run.RunID, &spec, &run.Status, &run.CreatedAt, &endedAt, &errData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(spec), &run.Spec); err != nil {
		return nil, fmt.Errorf("failed to decode spec of run %s: %w", run.RunID, err)
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	if errData.Valid {
		run.Error = json.RawMessage(errData.String)
	}
	return &run, nil
}

// UpdateRunStatus updates the status of a run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`,
		status, runID)
	return err
}

// UpdateRunCompleted moves a run to a terminal status.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errData []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ? WHERE run_id = ?`,
		status, time.Now(), nullStringBytes(errData), runID)
	return err
}

// AppendEvent stores record with the next cursor of its run and sets
// record.Seq accordingly.
func (s *SQLiteStore) AppendEvent(ctx context.Context, record *domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE run_id = ?`, record.RunID).Scan(&seq); err != nil {
		return err
	}
	if record.Ts == 0 {
		record.Ts = time.Now().UnixMilli()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, channel, kind, ts, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		record.RunID, seq, record.Channel, record.Kind, record.Ts, nullStringBytes(record.Payload)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event: %w", err)
	}
	record.Seq = seq
	return nil
}

// GetEventsAfter returns the records of a run with seq > afterSeq in cursor
// order. A non-positive limit returns everything.
func (s *SQLiteStore) GetEventsAfter(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Record, error) {
	query := `SELECT run_id, seq, channel, kind, ts, payload FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	args := []interface{}{runID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var rec domain.Record
		var payload sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Channel, &rec.Kind, &rec.Ts, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
