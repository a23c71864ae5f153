package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/config"
	"github.com/modstack/imagesieve/fusion"
	"github.com/modstack/imagesieve/hooks"
	"github.com/modstack/imagesieve/metrics"
	"github.com/modstack/imagesieve/policy"
	"github.com/modstack/imagesieve/store"
	"github.com/modstack/imagesieve/utils"
	"github.com/modstack/imagesieve/validate"
)

// Request describes one image to evaluate.
type Request struct {
	// ImageRef is a URL or opaque reference understood by the analyzers.
	ImageRef string

	// Context selects the policy threshold pair. Unknown values fall back to
	// the public gallery pair.
	Context sieve.ContextType

	// ModelID selects an analyzer-side model variant, where supported.
	ModelID int

	// TraceID is generated when empty.
	TraceID string

	// ComponentOverrides is a flat toggle map merged over the configured
	// component defaults for this request only.
	ComponentOverrides map[string]string
}

// Evaluation is the complete outcome of one pipeline run.
type Evaluation struct {
	EvaluationID string                `json:"evaluation_id"`
	TraceID      string                `json:"trace_id"`
	ImageRef     string                `json:"image_ref"`
	ImageHash    string                `json:"image_hash"`
	Components   sieve.ComponentConfig `json:"components"`

	Signals  sieve.SignalSet          `json:"signals"`
	Risk     sieve.RiskAssessment     `json:"risk"`
	Decision sieve.ModerationDecision `json:"decision"`

	// Deduped is set when the result was served from a stored evaluation of
	// the same image hash instead of re-running the analyzers.
	Deduped bool          `json:"deduped,omitempty"`
	Elapsed time.Duration `json:"elapsed_ms"`
}

// Pipeline orchestrates analyzer stages, signal fusion, and policy.
type Pipeline struct {
	set         analyzers.Set
	cfg         *config.Manager
	hooks       hooks.Hooks
	store       store.Store
	metrics     *metrics.Metrics
	log         *zap.Logger
	idGen       *utils.IDGenerator
	stageLogger *analyzers.StandardLogger
	enableDedup bool
}

// New creates a moderation pipeline.
func New(opts Options) (*Pipeline, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	settings := opts.Config.Current()

	var logStore analyzers.StageLogStore
	if opts.Store != nil {
		logStore = opts.Store
	}
	stageLogger := analyzers.NewStandardLogger(analyzers.LoggerConfig{
		Zap:   opts.Logger,
		Store: logStore,
	})

	p := &Pipeline{
		set: analyzers.WrapSet(opts.Analyzers, analyzers.InstrumentConfig{
			Timeout: settings.StageTimeout,
			Logger:  stageLogger,
		}),
		cfg:         opts.Config,
		hooks:       opts.Hooks,
		store:       opts.Store,
		metrics:     opts.metrics(),
		log:         opts.Logger,
		idGen:       utils.NewIDGenerator(),
		stageLogger: stageLogger,
		enableDedup: opts.EnableDedup && opts.Store != nil,
	}

	return p, nil
}

// Close flushes pending stage logs.
func (p *Pipeline) Close() {
	p.stageLogger.Close()
}

// Evaluate runs the full pipeline for one image. Analyzer failures never
// surface here; they degrade to fail-closed fallback signals. The returned
// error covers only invalid requests and context cancellation.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (*Evaluation, error) {
	if strings.TrimSpace(req.ImageRef) == "" {
		return nil, sieve.ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	imageHash := utils.HashImageRef(req.ImageRef)

	// One settings snapshot per request. Stages, fusion and the decision all
	// read this snapshot, so a concurrent configuration swap never splits a
	// request across two tables.
	settings := p.cfg.Current()

	if p.enableDedup {
		if eval, ok := p.lookupDedup(ctx, req, imageHash); ok {
			eval.TraceID = traceID
			eval.Elapsed = time.Since(start)
			return eval, nil
		}
	}

	components := settings.Components.Merge(req.ComponentOverrides)

	signals := p.runStages(ctx, req, traceID, components, settings)
	signals = validate.Validate(signals)

	combiner := fusion.NewCombiner(fusion.Options{
		ChildKeywords: settings.ChildKeywords,
		RiskyTags:     settings.RiskyTags,
	})
	risk := combiner.Combine(signals)

	decision := policy.Decide(settings.ContextTable(), req.Context, risk, signals)

	eval := &Evaluation{
		EvaluationID: p.idGen.GenerateWithPrefix("eval"),
		TraceID:      traceID,
		ImageRef:     req.ImageRef,
		ImageHash:    imageHash,
		Components:   components,
		Signals:      signals,
		Risk:         risk,
		Decision:     decision,
		Elapsed:      time.Since(start),
	}

	p.observe(eval)
	p.persist(ctx, req, eval)
	p.emit(ctx, eval)

	return eval, nil
}

// lookupDedup serves a stored decision for the same image in the same
// context. Requests with component overrides always re-run; the stored
// decision was made under different toggles.
func (p *Pipeline) lookupDedup(ctx context.Context, req Request, imageHash string) (*Evaluation, bool) {
	if len(req.ComponentOverrides) > 0 {
		return nil, false
	}

	rec, err := p.store.GetLatestByImageHash(ctx, imageHash)
	if err != nil {
		return nil, false
	}
	if rec.ContextType != string(req.Context) {
		return nil, false
	}

	eval := &Evaluation{
		EvaluationID: rec.ID,
		ImageRef:     rec.ImageRef,
		ImageHash:    rec.ImageHash,
		Deduped:      true,
	}
	if err := json.Unmarshal([]byte(rec.DecisionJSON), &eval.Decision); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(rec.RiskJSON), &eval.Risk); err != nil {
		return nil, false
	}
	if rec.SignalsJSON != "" {
		_ = json.Unmarshal([]byte(rec.SignalsJSON), &eval.Signals)
	}
	return eval, true
}

func (p *Pipeline) observe(eval *Evaluation) {
	p.metrics.ObserveDecision(eval.Decision, eval.Risk)
	for _, trace := range eval.Signals.Traces {
		p.metrics.ObserveStage(trace)
	}

	p.log.Info("image evaluated",
		zap.String("evaluation_id", eval.EvaluationID),
		zap.String("trace_id", eval.TraceID),
		zap.String("context_type", string(eval.Decision.ContextType)),
		zap.String("status", string(eval.Decision.Status)),
		zap.Float64("risk_score", eval.Risk.FinalRiskScore),
		zap.String("risk_level", eval.Risk.RiskLevel.String()),
		zap.Strings("reasoning", eval.Risk.Reasoning),
		zap.Duration("elapsed", eval.Elapsed))
}

// persist saves the evaluation record. Storage failures are logged, not
// surfaced; a completed decision is never lost to a database hiccup.
func (p *Pipeline) persist(ctx context.Context, req Request, eval *Evaluation) {
	if p.store == nil {
		return
	}

	decisionJSON, _ := json.Marshal(eval.Decision)
	riskJSON, _ := json.Marshal(eval.Risk)
	signalsJSON, _ := json.Marshal(eval.Signals)

	rec := sieve.EvaluationRecord{
		ID:           eval.EvaluationID,
		ImageRef:     eval.ImageRef,
		ImageHash:    eval.ImageHash,
		ContextType:  string(eval.Decision.ContextType),
		ModelID:      req.ModelID,
		TraceID:      eval.TraceID,
		Status:       string(eval.Decision.Status),
		RiskScore:    eval.Risk.FinalRiskScore,
		RiskLevel:    eval.Risk.RiskLevel.String(),
		DecisionJSON: string(decisionJSON),
		RiskJSON:     string(riskJSON),
		SignalsJSON:  string(signalsJSON),
		CreatedAt:    time.Now().UnixMilli(),
	}

	if err := p.store.SaveEvaluation(ctx, rec); err != nil {
		p.log.Error("failed to persist evaluation",
			zap.String("evaluation_id", eval.EvaluationID),
			zap.Error(err))
	}
}

// emit notifies hooks. Hook errors are logged and do not affect the decision.
func (p *Pipeline) emit(ctx context.Context, eval *Evaluation) {
	now := time.Now()

	err := p.hooks.OnEvaluated(ctx, hooks.EvaluatedEvent{
		ImageRef:     eval.ImageRef,
		ImageHash:    eval.ImageHash,
		ContextType:  eval.Decision.ContextType,
		Decision:     eval.Decision,
		Risk:         eval.Risk,
		EvaluationID: eval.EvaluationID,
		TraceID:      eval.TraceID,
		Timestamp:    now,
	})
	if err != nil {
		p.log.Warn("OnEvaluated hook failed", zap.Error(err))
	}

	if eval.Decision.HumanReviewRequired {
		err := p.hooks.OnHumanReviewRequired(ctx, hooks.HumanReviewRequiredEvent{
			ImageRef:     eval.ImageRef,
			ContextType:  eval.Decision.ContextType,
			Decision:     eval.Decision,
			Risk:         eval.Risk,
			EvaluationID: eval.EvaluationID,
			TraceID:      eval.TraceID,
			Timestamp:    now,
		})
		if err != nil {
			p.log.Warn("OnHumanReviewRequired hook failed", zap.Error(err))
		}
	}

	if eval.Decision.Action == sieve.ActionRejectMinor {
		err := p.hooks.OnUnderageSuspected(ctx, hooks.UnderageSuspectedEvent{
			ImageRef:       eval.ImageRef,
			ContextType:    eval.Decision.ContextType,
			MinDetectedAge: eval.Decision.MinDetectedAge,
			Decision:       eval.Decision,
			EvaluationID:   eval.EvaluationID,
			TraceID:        eval.TraceID,
			Timestamp:      now,
		})
		if err != nil {
			p.log.Warn("OnUnderageSuspected hook failed", zap.Error(err))
		}
	}
}
