package analyzers

import (
	"context"
	"time"

	sieve "github.com/modstack/imagesieve"
)

// InstrumentConfig configures the instrumented analyzer wrappers.
type InstrumentConfig struct {
	// Timeout bounds each analyzer invocation. A timeout is treated
	// identically to an analyzer failure by the pipeline; the wrapper does
	// not retry. Retry policy belongs inside the analyzer's own client.
	Timeout time.Duration

	// Logger receives one entry per invocation.
	Logger StageLogger
}

// DefaultInstrumentConfig returns sensible defaults.
func DefaultInstrumentConfig() InstrumentConfig {
	return InstrumentConfig{
		Timeout: sieve.DefaultStageTimeoutSeconds * time.Second,
		Logger:  NopLogger{},
	}
}

func (c InstrumentConfig) normalize() InstrumentConfig {
	if c.Timeout <= 0 {
		c.Timeout = sieve.DefaultStageTimeoutSeconds * time.Second
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	return c
}

// InstrumentedNudity wraps a NudityAnalyzer with timeout and logging.
type InstrumentedNudity struct {
	inner  NudityAnalyzer
	config InstrumentConfig
}

// WrapNudity wraps a nudity analyzer.
func WrapNudity(inner NudityAnalyzer, config InstrumentConfig) *InstrumentedNudity {
	return &InstrumentedNudity{inner: inner, config: config.normalize()}
}

// Name returns the underlying analyzer name.
func (w *InstrumentedNudity) Name() string { return w.inner.Name() }

// DetectNudity invokes the underlying analyzer under the configured timeout.
func (w *InstrumentedNudity) DetectNudity(ctx context.Context, req Request) (sieve.DetectionSignal, error) {
	timer := StartLog(w.config.Logger, w.inner.Name(), sieve.CategoryNudity, "detect_nudity").
		WithImage(req.ImageRef).
		WithTrace(req.TraceID)

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	sig, err := w.inner.DetectNudity(ctx, req)
	if err != nil {
		timer.Error(ctx, err)
		return sieve.DetectionSignal{}, err
	}

	timer.WithExtra("nudity_score", sig.NudityScore).Success(ctx)
	return sig, nil
}

// InstrumentedPose wraps a PoseAnalyzer with timeout and logging.
type InstrumentedPose struct {
	inner  PoseAnalyzer
	config InstrumentConfig
}

// WrapPose wraps a pose analyzer.
func WrapPose(inner PoseAnalyzer, config InstrumentConfig) *InstrumentedPose {
	return &InstrumentedPose{inner: inner, config: config.normalize()}
}

// Name returns the underlying analyzer name.
func (w *InstrumentedPose) Name() string { return w.inner.Name() }

// AnalyzePose invokes the underlying analyzer under the configured timeout.
func (w *InstrumentedPose) AnalyzePose(ctx context.Context, req Request) (sieve.PoseSignal, error) {
	timer := StartLog(w.config.Logger, w.inner.Name(), sieve.CategoryPose, "analyze_pose").
		WithImage(req.ImageRef).
		WithTrace(req.TraceID)

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	sig, err := w.inner.AnalyzePose(ctx, req)
	if err != nil {
		timer.Error(ctx, err)
		return sieve.PoseSignal{}, err
	}

	timer.WithExtra("pose_category", string(sig.Category)).Success(ctx)
	return sig, nil
}

// InstrumentedFace wraps a FaceAnalyzer with timeout and logging.
type InstrumentedFace struct {
	inner  FaceAnalyzer
	config InstrumentConfig
}

// WrapFace wraps a face analyzer.
func WrapFace(inner FaceAnalyzer, config InstrumentConfig) *InstrumentedFace {
	return &InstrumentedFace{inner: inner, config: config.normalize()}
}

// Name returns the underlying analyzer name.
func (w *InstrumentedFace) Name() string { return w.inner.Name() }

// AnalyzeFaces invokes the underlying analyzer under the configured timeout.
func (w *InstrumentedFace) AnalyzeFaces(ctx context.Context, req Request) (sieve.FaceSignal, error) {
	timer := StartLog(w.config.Logger, w.inner.Name(), sieve.CategoryFace, "analyze_faces").
		WithImage(req.ImageRef).
		WithTrace(req.TraceID)

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	sig, err := w.inner.AnalyzeFaces(ctx, req)
	if err != nil {
		timer.Error(ctx, err)
		return sieve.FaceSignal{}, err
	}

	timer.WithExtra("face_count", len(sig.Faces)).Success(ctx)
	return sig, nil
}

// InstrumentedDescription wraps a DescriptionAnalyzer with timeout and logging.
type InstrumentedDescription struct {
	inner  DescriptionAnalyzer
	config InstrumentConfig
}

// WrapDescription wraps a description analyzer.
func WrapDescription(inner DescriptionAnalyzer, config InstrumentConfig) *InstrumentedDescription {
	return &InstrumentedDescription{inner: inner, config: config.normalize()}
}

// Name returns the underlying analyzer name.
func (w *InstrumentedDescription) Name() string { return w.inner.Name() }

// Describe invokes the underlying analyzer under the configured timeout.
func (w *InstrumentedDescription) Describe(ctx context.Context, req Request) (sieve.DescriptionSignal, error) {
	timer := StartLog(w.config.Logger, w.inner.Name(), sieve.CategoryDescription, "describe").
		WithImage(req.ImageRef).
		WithTrace(req.TraceID)

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	sig, err := w.inner.Describe(ctx, req)
	if err != nil {
		timer.Error(ctx, err)
		return sieve.DescriptionSignal{}, err
	}

	timer.WithExtra("tag_count", len(sig.Tags)).Success(ctx)
	return sig, nil
}

// WrapSet wraps every non-nil analyzer in the set.
func WrapSet(set Set, config InstrumentConfig) Set {
	wrapped := set
	if set.Nudity != nil {
		wrapped.Nudity = WrapNudity(set.Nudity, config)
	}
	if set.Pose != nil {
		wrapped.Pose = WrapPose(set.Pose, config)
	}
	if set.Face != nil {
		wrapped.Face = WrapFace(set.Face, config)
	}
	if set.Description != nil {
		wrapped.Description = WrapDescription(set.Description, config)
	}
	return wrapped
}
