package hooks

import (
	"time"

	sieve "github.com/modstack/imagesieve"
)

// EvaluatedEvent is emitted after every completed evaluation, regardless of
// outcome.
type EvaluatedEvent struct {
	// Image that was evaluated
	ImageRef  string `json:"image_ref"`
	ImageHash string `json:"image_hash,omitempty"`

	// Usage context the thresholds were drawn from
	ContextType sieve.ContextType `json:"context_type"`

	// Final outcome
	Decision sieve.ModerationDecision `json:"decision"`
	Risk     sieve.RiskAssessment     `json:"risk"`

	// IDs for tracing
	EvaluationID string `json:"evaluation_id"`
	TraceID      string `json:"trace_id"`

	Timestamp time.Time `json:"timestamp"`
}

// HumanReviewRequiredEvent is emitted when a decision requires human review,
// whether from a flagged middle band or a rejection.
type HumanReviewRequiredEvent struct {
	ImageRef    string            `json:"image_ref"`
	ContextType sieve.ContextType `json:"context_type"`

	Decision sieve.ModerationDecision `json:"decision"`
	Risk     sieve.RiskAssessment     `json:"risk"`

	EvaluationID string `json:"evaluation_id"`
	TraceID      string `json:"trace_id"`

	Timestamp time.Time `json:"timestamp"`
}

// UnderageSuspectedEvent is emitted when the underage override fires. Handlers
// typically escalate to a priority review queue.
type UnderageSuspectedEvent struct {
	ImageRef    string            `json:"image_ref"`
	ContextType sieve.ContextType `json:"context_type"`

	// Youngest estimated age among detected faces
	MinDetectedAge int `json:"min_detected_age"`

	Decision sieve.ModerationDecision `json:"decision"`

	EvaluationID string `json:"evaluation_id"`
	TraceID      string `json:"trace_id"`

	Timestamp time.Time `json:"timestamp"`
}
