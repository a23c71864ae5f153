// Package store provides the data storage interface for evaluation records.
package store

import (
	"context"
	"time"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
)

// Store defines the interface for persisting evaluations and stage logs.
type Store interface {
	// Evaluation operations
	SaveEvaluation(ctx context.Context, rec sieve.EvaluationRecord) error
	GetEvaluation(ctx context.Context, id string) (*sieve.EvaluationRecord, error)
	GetLatestByImageHash(ctx context.Context, hash string) (*sieve.EvaluationRecord, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]sieve.EvaluationRecord, error)

	// Stage log operations
	SaveStageLog(ctx context.Context, entry analyzers.StageLogEntry) error
	ListStageLogsByTrace(ctx context.Context, traceID string) ([]analyzers.StageLogEntry, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// QueryOptions provides common query options.
type QueryOptions struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
