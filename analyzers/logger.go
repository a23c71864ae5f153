package analyzers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	sieve "github.com/modstack/imagesieve"
)

// StageLogEntry represents a single analyzer invocation log record.
type StageLogEntry struct {
	ID           string               `json:"id"`
	Timestamp    time.Time            `json:"timestamp"`
	Analyzer     string               `json:"analyzer"`
	Category     sieve.SignalCategory `json:"category"`
	Operation    string               `json:"operation"` // detect_nudity, analyze_pose, ...
	ImageRef     string               `json:"image_ref,omitempty"`
	TraceID      string               `json:"trace_id,omitempty"`
	Duration     time.Duration        `json:"duration_ms"`
	Success      bool                 `json:"success"`
	StatusCode   int                  `json:"status_code,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Extra        map[string]any       `json:"extra,omitempty"`
}

// StageLogger defines the interface for logging analyzer invocations.
type StageLogger interface {
	// Log records a stage log entry.
	Log(ctx context.Context, entry StageLogEntry)

	// LogAsync records a stage log entry asynchronously.
	LogAsync(ctx context.Context, entry StageLogEntry)
}

// StageLogStore defines the interface for persisting stage logs.
type StageLogStore interface {
	SaveStageLog(ctx context.Context, entry StageLogEntry) error
}

// LoggerConfig configures the stage logger behavior.
type LoggerConfig struct {
	// Zap is the structured logger used for console output. Nil disables
	// console output.
	Zap *zap.Logger

	// Store is an optional persistent storage for stage logs.
	Store StageLogStore

	// ErrorsOnly suppresses logging for successful invocations.
	ErrorsOnly bool

	// AsyncBufferSize is the buffer size for async logging.
	AsyncBufferSize int
}

// DefaultLoggerConfig returns sensible defaults for logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Zap:             zap.NewNop(),
		AsyncBufferSize: 1000,
	}
}

// StandardLogger is the default implementation of StageLogger.
type StandardLogger struct {
	config    LoggerConfig
	asyncChan chan StageLogEntry
	wg        sync.WaitGroup
	closed    bool
	mu        sync.RWMutex
}

// NewStandardLogger creates a new standard stage logger.
func NewStandardLogger(config LoggerConfig) *StandardLogger {
	if config.AsyncBufferSize == 0 {
		config.AsyncBufferSize = 1000
	}
	if config.Zap == nil {
		config.Zap = zap.NewNop()
	}

	l := &StandardLogger{
		config:    config,
		asyncChan: make(chan StageLogEntry, config.AsyncBufferSize),
	}

	l.wg.Add(1)
	go l.processAsyncLogs()

	return l
}

// Log records a stage log entry synchronously.
func (l *StandardLogger) Log(ctx context.Context, entry StageLogEntry) {
	l.logEntry(ctx, entry)
}

// LogAsync records a stage log entry asynchronously.
func (l *StandardLogger) LogAsync(ctx context.Context, entry StageLogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	select {
	case l.asyncChan <- entry:
	default:
		// Buffer full, log synchronously
		l.logEntry(ctx, entry)
	}
}

func (l *StandardLogger) logEntry(ctx context.Context, entry StageLogEntry) {
	if l.config.ErrorsOnly && entry.Success {
		return
	}

	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%s_%s_%d", entry.Analyzer, entry.Operation, time.Now().UnixNano())
	}

	l.printLog(entry)

	if l.config.Store != nil {
		if err := l.config.Store.SaveStageLog(ctx, entry); err != nil {
			l.config.Zap.Warn("failed to save stage log",
				zap.String("analyzer", entry.Analyzer),
				zap.Error(err))
		}
	}
}

func (l *StandardLogger) printLog(entry StageLogEntry) {
	fields := []zap.Field{
		zap.String("analyzer", entry.Analyzer),
		zap.String("category", string(entry.Category)),
		zap.String("operation", entry.Operation),
		zap.Duration("duration", entry.Duration),
	}
	if entry.TraceID != "" {
		fields = append(fields, zap.String("trace_id", entry.TraceID))
	}

	if entry.Success {
		l.config.Zap.Info("analyzer stage completed", fields...)
		return
	}

	fields = append(fields,
		zap.String("error_code", entry.ErrorCode),
		zap.String("error", entry.ErrorMessage))
	if entry.StatusCode > 0 {
		fields = append(fields, zap.Int("status_code", entry.StatusCode))
	}
	l.config.Zap.Warn("analyzer stage failed", fields...)
}

func (l *StandardLogger) processAsyncLogs() {
	defer l.wg.Done()

	for entry := range l.asyncChan {
		l.logEntry(context.Background(), entry)
	}
}

// Close shuts down the logger and waits for pending logs to be processed.
func (l *StandardLogger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	close(l.asyncChan)
	l.wg.Wait()
}

// LogTimer is a helper for timing analyzer invocations.
type LogTimer struct {
	entry     StageLogEntry
	startTime time.Time
	logger    StageLogger
}

// StartLog starts timing an analyzer invocation and returns a LogTimer.
func StartLog(logger StageLogger, analyzer string, category sieve.SignalCategory, operation string) *LogTimer {
	return &LogTimer{
		entry: StageLogEntry{
			Analyzer:  analyzer,
			Category:  category,
			Operation: operation,
			Timestamp: time.Now(),
		},
		startTime: time.Now(),
		logger:    logger,
	}
}

// WithImage sets the image reference.
func (t *LogTimer) WithImage(imageRef string) *LogTimer {
	t.entry.ImageRef = imageRef
	return t
}

// WithTrace sets the trace ID.
func (t *LogTimer) WithTrace(traceID string) *LogTimer {
	t.entry.TraceID = traceID
	return t
}

// WithExtra adds extra metadata.
func (t *LogTimer) WithExtra(key string, value any) *LogTimer {
	if t.entry.Extra == nil {
		t.entry.Extra = make(map[string]any)
	}
	t.entry.Extra[key] = value
	return t
}

// Success logs a successful invocation.
func (t *LogTimer) Success(ctx context.Context) {
	t.entry.Duration = time.Since(t.startTime)
	t.entry.Success = true
	t.logger.LogAsync(ctx, t.entry)
}

// Error logs a failed invocation.
func (t *LogTimer) Error(ctx context.Context, err error) {
	t.entry.Duration = time.Since(t.startTime)
	t.entry.Success = false

	var ae *sieve.AnalyzerError
	if e, ok := err.(*sieve.AnalyzerError); ok {
		ae = e
	}

	if ae != nil {
		t.entry.ErrorCode = ae.Code
		t.entry.ErrorMessage = ae.Message
		t.entry.StatusCode = ae.StatusCode
	} else if err != nil {
		t.entry.ErrorCode = string(sieve.GetErrorCategory(err))
		t.entry.ErrorMessage = err.Error()
	}

	t.logger.LogAsync(ctx, t.entry)
}

// NopLogger is a no-op logger that discards all entries.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, entry StageLogEntry)      {}
func (NopLogger) LogAsync(ctx context.Context, entry StageLogEntry) {}
