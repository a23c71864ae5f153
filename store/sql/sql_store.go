// Package sql provides SQL-based store implementations for MySQL, PostgreSQL, and TiDB.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// MySQL driver registered for the default dialect.
	_ "github.com/go-sql-driver/mysql"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/store"
	"github.com/modstack/imagesieve/utils"
)

// Dialect represents the SQL dialect.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectTiDB     Dialect = "tidb"
)

// Config holds the configuration for SQL store.
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default SQL store configuration.
func DefaultConfig() Config {
	return Config{
		Dialect:         DialectMySQL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// querier is the subset of database/sql used by the store's queries. Both
// *sql.DB and *sql.Tx satisfy it, so the same methods serve transactional and
// non-transactional calls.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the store.Store interface using a SQL database.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	idGen   *utils.IDGenerator
}

// rebind converts MySQL-style placeholders (?) to the appropriate format for
// the dialect. For PostgreSQL, converts ? to $1, $2, etc.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var result []byte
	paramIndex := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, []byte(fmt.Sprintf("%d", paramIndex))...)
			paramIndex++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// New creates a new SQL store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:      db,
		q:       db,
		dialect: cfg.Dialect,
		idGen:   utils.NewIDGenerator(),
	}, nil
}

// NewWithDB creates a new SQL store with an existing database connection.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		q:       db,
		dialect: dialect,
		idGen:   utils.NewIDGenerator(),
	}
}

// withQuerier returns a copy of the store whose queries run on q.
func (s *Store) withQuerier(q querier) *Store {
	c := *s
	c.q = q
	return &c
}

// SaveEvaluation persists a completed evaluation record.
func (s *Store) SaveEvaluation(ctx context.Context, rec sieve.EvaluationRecord) error {
	if rec.ID == "" {
		rec.ID = s.idGen.Generate()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}

	query := s.rebind(`INSERT INTO evaluation (id, image_ref, image_hash, context_type, model_id, trace_id,
              status, risk_score, risk_level, decision_json, risk_json, signals_json, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.q.ExecContext(ctx, query,
		rec.ID, rec.ImageRef, rec.ImageHash, rec.ContextType, rec.ModelID, rec.TraceID,
		rec.Status, rec.RiskScore, rec.RiskLevel, rec.DecisionJSON, rec.RiskJSON, rec.SignalsJSON,
		rec.CreatedAt)
	if err != nil {
		return sieve.NewStoreError("create", "evaluation", err)
	}

	return nil
}

const evaluationColumns = `id, image_ref, image_hash, context_type, model_id, trace_id,
              status, risk_score, risk_level, decision_json, risk_json, signals_json, created_at`

func scanEvaluation(row interface{ Scan(...any) error }) (*sieve.EvaluationRecord, error) {
	var rec sieve.EvaluationRecord
	err := row.Scan(
		&rec.ID, &rec.ImageRef, &rec.ImageHash, &rec.ContextType, &rec.ModelID, &rec.TraceID,
		&rec.Status, &rec.RiskScore, &rec.RiskLevel, &rec.DecisionJSON, &rec.RiskJSON, &rec.SignalsJSON,
		&rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetEvaluation gets an evaluation record by ID.
func (s *Store) GetEvaluation(ctx context.Context, id string) (*sieve.EvaluationRecord, error) {
	query := s.rebind(`SELECT ` + evaluationColumns + ` FROM evaluation WHERE id = ?`)

	rec, err := scanEvaluation(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, sieve.ErrEvaluationNotFound
	}
	if err != nil {
		return nil, sieve.NewStoreError("get", "evaluation", err)
	}
	return rec, nil
}

// GetLatestByImageHash gets the most recent evaluation for an image hash.
// Used for deduplicating repeat submissions of the same image.
func (s *Store) GetLatestByImageHash(ctx context.Context, hash string) (*sieve.EvaluationRecord, error) {
	query := s.rebind(`SELECT ` + evaluationColumns + ` FROM evaluation WHERE image_hash = ?
              ORDER BY created_at DESC LIMIT 1`)

	rec, err := scanEvaluation(s.q.QueryRowContext(ctx, query, hash))
	if err == sql.ErrNoRows {
		return nil, sieve.ErrEvaluationNotFound
	}
	if err != nil {
		return nil, sieve.NewStoreError("get", "evaluation", err)
	}
	return rec, nil
}

// ListByStatus lists evaluations with the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]sieve.EvaluationRecord, error) {
	query := s.rebind(`SELECT ` + evaluationColumns + ` FROM evaluation WHERE status = ?
              ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.q.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, sieve.NewStoreError("list", "evaluation", err)
	}
	defer rows.Close()

	var records []sieve.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, sieve.NewStoreError("scan", "evaluation", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

// SaveStageLog persists a stage log entry.
func (s *Store) SaveStageLog(ctx context.Context, entry analyzers.StageLogEntry) error {
	if entry.ID == "" {
		entry.ID = s.idGen.Generate()
	}

	var extraJSON []byte
	if entry.Extra != nil {
		var err error
		extraJSON, err = json.Marshal(entry.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal extra: %w", err)
		}
	}

	query := s.rebind(`INSERT INTO stage_log (id, analyzer, category, operation, image_ref, trace_id,
              duration_ms, success, status_code, error_code, error_message, extra_json, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.q.ExecContext(ctx, query,
		entry.ID, entry.Analyzer, string(entry.Category), entry.Operation, entry.ImageRef, entry.TraceID,
		entry.Duration.Milliseconds(), entry.Success, entry.StatusCode, entry.ErrorCode, entry.ErrorMessage,
		string(extraJSON), entry.Timestamp.UnixMilli())
	if err != nil {
		return sieve.NewStoreError("create", "stage_log", err)
	}

	return nil
}

// ListStageLogsByTrace lists stage logs for a trace ID, oldest first.
func (s *Store) ListStageLogsByTrace(ctx context.Context, traceID string) ([]analyzers.StageLogEntry, error) {
	query := s.rebind(`SELECT id, analyzer, category, operation, image_ref, trace_id,
              duration_ms, success, status_code, error_code, error_message, extra_json, created_at
              FROM stage_log WHERE trace_id = ? ORDER BY created_at ASC`)

	rows, err := s.q.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, sieve.NewStoreError("list", "stage_log", err)
	}
	defer rows.Close()

	var entries []analyzers.StageLogEntry
	for rows.Next() {
		var entry analyzers.StageLogEntry
		var category string
		var durationMS, createdAt int64
		var extraJSON sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Analyzer, &category, &entry.Operation, &entry.ImageRef,
			&entry.TraceID, &durationMS, &entry.Success, &entry.StatusCode, &entry.ErrorCode,
			&entry.ErrorMessage, &extraJSON, &createdAt); err != nil {
			return nil, sieve.NewStoreError("scan", "stage_log", err)
		}
		entry.Category = sieve.SignalCategory(category)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entry.Timestamp = time.UnixMilli(createdAt)
		if extraJSON.Valid && extraJSON.String != "" {
			_ = json.Unmarshal([]byte(extraJSON.String), &entry.Extra)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// WithTx executes a function within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(s.withQuerier(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
