package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/config"
	"github.com/modstack/imagesieve/fusion"
)

// runStages executes the analyzer stages for one request. The nudity stage
// runs first; its result anchors cross-signal validation. The secondary
// stages run concurrently. Every failure degrades to the stage's fail-closed
// fallback signal; runStages itself never fails.
func (p *Pipeline) runStages(ctx context.Context, req Request, traceID string, comps sieve.ComponentConfig, settings config.Settings) sieve.SignalSet {
	areq := analyzers.Request{
		ImageRef: req.ImageRef,
		ModelID:  req.ModelID,
		TraceID:  traceID,
	}

	var signals sieve.SignalSet

	nudityTrace := p.runNudity(ctx, areq, comps, &signals)

	var poseTrace, faceTrace, descTrace sieve.StageTrace

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poseTrace = p.runPose(gctx, areq, comps, &signals)
		return nil
	})
	g.Go(func() error {
		faceTrace = p.runFace(gctx, areq, comps, &signals)
		return nil
	})
	g.Go(func() error {
		descTrace = p.runDescription(gctx, areq, comps, settings, &signals)
		return nil
	})
	_ = g.Wait()

	signals.Traces = []sieve.StageTrace{nudityTrace, poseTrace, faceTrace, descTrace}
	return signals
}

// runNudity runs the nudity stage. This is the safety-critical signal: a
// missing analyzer or a failed call both degrade to the maximal-risk fallback
// detection, never to a clean image.
func (p *Pipeline) runNudity(ctx context.Context, areq analyzers.Request, comps sieve.ComponentConfig, signals *sieve.SignalSet) sieve.StageTrace {
	if !comps.StageEnabled(sieve.CategoryNudity) {
		return sieve.StageTrace{Category: sieve.CategoryNudity, State: sieve.StageDisabled}
	}

	start := time.Now()

	if p.set.Nudity == nil {
		sig := sieve.FallbackDetectionSignal(sieve.ErrAnalyzerNotFound)
		signals.Nudity = &sig
		return sieve.StageTrace{
			Category: sieve.CategoryNudity,
			State:    sieve.StageFallback,
			Latency:  time.Since(start),
			Err:      sieve.ErrAnalyzerNotFound.Error(),
		}
	}

	sig, err := p.set.Nudity.DetectNudity(ctx, areq)
	if err != nil {
		p.metrics.ObserveAnalyzerError(sieve.CategoryNudity, sieve.GetErrorCategory(err))
		p.log.Warn("nudity stage failed, using fallback detection",
			zap.String("trace_id", areq.TraceID),
			zap.Error(err))
		fallback := sieve.FallbackDetectionSignal(err)
		signals.Nudity = &fallback
		return sieve.StageTrace{
			Category: sieve.CategoryNudity,
			State:    sieve.StageFallback,
			Latency:  time.Since(start),
			Err:      err.Error(),
		}
	}

	parts, locations := comps.FilterParts(sig.DetectedParts, sig.PartLocations)
	filtered := sieve.NewDetectionSignal(parts, locations)
	signals.Nudity = &filtered

	return sieve.StageTrace{
		Category: sieve.CategoryNudity,
		State:    sieve.StageRan,
		Latency:  time.Since(start),
	}
}

func (p *Pipeline) runPose(ctx context.Context, areq analyzers.Request, comps sieve.ComponentConfig, signals *sieve.SignalSet) sieve.StageTrace {
	if !comps.StageEnabled(sieve.CategoryPose) || p.set.Pose == nil {
		return sieve.StageTrace{Category: sieve.CategoryPose, State: sieve.StageDisabled}
	}

	start := time.Now()

	sig, err := p.set.Pose.AnalyzePose(ctx, areq)
	if err != nil {
		p.metrics.ObserveAnalyzerError(sieve.CategoryPose, sieve.GetErrorCategory(err))
		fallback := sieve.NeutralPoseSignal(sieve.PoseAnalysisError, sieve.ReasonAnalysisError)
		signals.Pose = &fallback
		return sieve.StageTrace{
			Category: sieve.CategoryPose,
			State:    sieve.StageFallback,
			Latency:  time.Since(start),
			Err:      err.Error(),
		}
	}

	signals.Pose = &sig
	return sieve.StageTrace{
		Category: sieve.CategoryPose,
		State:    sieve.StageRan,
		Latency:  time.Since(start),
	}
}

// runFace runs the face/age stage. Failure leaves FacesDetected false, which
// pushes fusion onto the stricter age-blind bucket table.
func (p *Pipeline) runFace(ctx context.Context, areq analyzers.Request, comps sieve.ComponentConfig, signals *sieve.SignalSet) sieve.StageTrace {
	if !comps.StageEnabled(sieve.CategoryFace) || p.set.Face == nil {
		return sieve.StageTrace{Category: sieve.CategoryFace, State: sieve.StageDisabled}
	}

	start := time.Now()

	sig, err := p.set.Face.AnalyzeFaces(ctx, areq)
	if err != nil {
		p.metrics.ObserveAnalyzerError(sieve.CategoryFace, sieve.GetErrorCategory(err))
		signals.Face = &sieve.FaceSignal{Err: err.Error()}
		return sieve.StageTrace{
			Category: sieve.CategoryFace,
			State:    sieve.StageFallback,
			Latency:  time.Since(start),
			Err:      err.Error(),
		}
	}

	signals.Face = &sig
	return sieve.StageTrace{
		Category: sieve.CategoryFace,
		State:    sieve.StageRan,
		Latency:  time.Since(start),
	}
}

func (p *Pipeline) runDescription(ctx context.Context, areq analyzers.Request, comps sieve.ComponentConfig, settings config.Settings, signals *sieve.SignalSet) sieve.StageTrace {
	if !comps.StageEnabled(sieve.CategoryDescription) || p.set.Description == nil {
		return sieve.StageTrace{Category: sieve.CategoryDescription, State: sieve.StageDisabled}
	}

	start := time.Now()

	sig, err := p.set.Description.Describe(ctx, areq)
	if err != nil {
		p.metrics.ObserveAnalyzerError(sieve.CategoryDescription, sieve.GetErrorCategory(err))
		signals.Description = &sieve.DescriptionSignal{Err: err.Error()}
		return sieve.StageTrace{
			Category: sieve.CategoryDescription,
			State:    sieve.StageFallback,
			Latency:  time.Since(start),
			Err:      err.Error(),
		}
	}

	if comps.ChildContentDetection {
		p.scanChildKeywords(ctx, &sig, settings)
	}

	signals.Description = &sig
	return sieve.StageTrace{
		Category: sieve.CategoryDescription,
		State:    sieve.StageRan,
		Latency:  time.Since(start),
	}
}

// scanChildKeywords sets the child keyword flag from the local list plus the
// optional remote text scanner. The remote scan is a secondary check; its
// failure is logged and ignored rather than degrading the whole stage.
func (p *Pipeline) scanChildKeywords(ctx context.Context, sig *sieve.DescriptionSignal, settings config.Settings) {
	matched := fusion.MatchKeywords(sig.Description, sig.Tags, settings.ChildKeywords)

	if p.set.Keywords != nil && sig.Description != "" {
		labels, err := p.set.Keywords.ScanText(ctx, sig.Description)
		if err != nil {
			p.log.Warn("keyword scan failed", zap.Error(err))
		} else {
			matched = mergeKeywords(matched, labels)
		}
	}

	sig.MatchedKeywords = matched
	sig.ContainsChildKeywords = len(matched) > 0
}

func mergeKeywords(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local))
	for _, kw := range local {
		seen[kw] = struct{}{}
	}
	for _, kw := range remote {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		local = append(local, kw)
	}
	return local
}
