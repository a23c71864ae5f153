package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/config"
	"github.com/modstack/imagesieve/hooks"
	"github.com/modstack/imagesieve/store"
)

type fakeNudity struct {
	parts map[string]float64
	err   error
}

func (f fakeNudity) Name() string { return "fake-nudity" }
func (f fakeNudity) DetectNudity(ctx context.Context, req analyzers.Request) (sieve.DetectionSignal, error) {
	if f.err != nil {
		return sieve.DetectionSignal{}, f.err
	}
	return sieve.NewDetectionSignal(f.parts, nil), nil
}

type fakePose struct {
	sig sieve.PoseSignal
	err error
}

func (f fakePose) Name() string { return "fake-pose" }
func (f fakePose) AnalyzePose(ctx context.Context, req analyzers.Request) (sieve.PoseSignal, error) {
	return f.sig, f.err
}

type fakeFace struct {
	faces []sieve.Face
	err   error
}

func (f fakeFace) Name() string { return "fake-face" }
func (f fakeFace) AnalyzeFaces(ctx context.Context, req analyzers.Request) (sieve.FaceSignal, error) {
	if f.err != nil {
		return sieve.FaceSignal{}, f.err
	}
	return sieve.NewFaceSignal(f.faces), nil
}

type fakeDescription struct {
	sig sieve.DescriptionSignal
	err error
}

func (f fakeDescription) Name() string { return "fake-description" }
func (f fakeDescription) Describe(ctx context.Context, req analyzers.Request) (sieve.DescriptionSignal, error) {
	return f.sig, f.err
}

// memStore is an in-memory store.Store for tests.
type memStore struct {
	mu     sync.Mutex
	byID   map[string]sieve.EvaluationRecord
	byHash map[string]sieve.EvaluationRecord
	logs   []analyzers.StageLogEntry
}

func newMemStore() *memStore {
	return &memStore{
		byID:   make(map[string]sieve.EvaluationRecord),
		byHash: make(map[string]sieve.EvaluationRecord),
	}
}

func (m *memStore) SaveEvaluation(ctx context.Context, rec sieve.EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[rec.ID] = rec
	m.byHash[rec.ImageHash] = rec
	return nil
}

func (m *memStore) GetEvaluation(ctx context.Context, id string) (*sieve.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, sieve.ErrEvaluationNotFound
	}
	return &rec, nil
}

func (m *memStore) GetLatestByImageHash(ctx context.Context, hash string) (*sieve.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byHash[hash]
	if !ok {
		return nil, sieve.ErrEvaluationNotFound
	}
	return &rec, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status string, limit int) ([]sieve.EvaluationRecord, error) {
	return nil, nil
}

func (m *memStore) SaveStageLog(ctx context.Context, entry analyzers.StageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) ListStageLogsByTrace(ctx context.Context, traceID string) ([]analyzers.StageLogEntry, error) {
	return nil, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(store.Store) error) error { return fn(m) }
func (m *memStore) Ping(ctx context.Context) error                               { return nil }
func (m *memStore) Close() error                                                 { return nil }

func cleanSet() analyzers.Set {
	return analyzers.Set{
		Nudity:      fakeNudity{parts: map[string]float64{sieve.PartFaceFemale: 5}},
		Pose:        fakePose{sig: sieve.PoseSignal{Detected: true, Category: sieve.PoseNeutral, SuggestiveScore: 0.05, Confidence: 0.9}},
		Face:        fakeFace{faces: []sieve.Face{{Age: 30, Confidence: 0.9}}},
		Description: fakeDescription{sig: sieve.DescriptionSignal{Description: "a person smiling outdoors"}},
	}
}

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestEvaluateCleanImageApproved(t *testing.T) {
	p := newPipeline(t, Options{Analyzers: cleanSet()})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/1.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)

	assert.Equal(t, sieve.StatusApproved, eval.Decision.Status)
	assert.Equal(t, sieve.ActionApprove, eval.Decision.Action)
	assert.False(t, eval.Decision.HumanReviewRequired)
	assert.Equal(t, 100-eval.Risk.FinalRiskScore, eval.Decision.Confidence)
	assert.NotEmpty(t, eval.EvaluationID)
	assert.NotEmpty(t, eval.TraceID)
	require.Len(t, eval.Signals.Traces, 4)
	for _, trace := range eval.Signals.Traces {
		assert.Equal(t, sieve.StageRan, trace.State, "category %s", trace.Category)
	}
}

func TestEvaluateNudityFailureFailsClosed(t *testing.T) {
	set := cleanSet()
	set.Nudity = fakeNudity{err: errors.New("connection refused")}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/2.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err, "analyzer failures must not surface as evaluation errors")

	assert.Equal(t, sieve.FallbackNudityScore, eval.Signals.Nudity.NudityScore)
	assert.Contains(t, eval.Signals.Nudity.DetectedParts, sieve.PartAnalysisError)
	assert.Contains(t, eval.Risk.Reasoning, sieve.ReasonAnalysisError)
	assert.Equal(t, sieve.StatusRejected, eval.Decision.Status)
	assert.True(t, eval.Decision.HumanReviewRequired)

	assert.Equal(t, sieve.StageFallback, eval.Signals.Traces[0].State)
	assert.NotEmpty(t, eval.Signals.Traces[0].Err)
}

func TestEvaluateUnderageOverride(t *testing.T) {
	set := cleanSet()
	set.Nudity = fakeNudity{parts: map[string]float64{sieve.PartBreastExposed: 40}}
	set.Face = fakeFace{faces: []sieve.Face{{Age: 14, Confidence: 0.9}}}

	var underageEvents []hooks.UnderageSuspectedEvent
	p := newPipeline(t, Options{
		Analyzers: set,
		Hooks: hooks.FuncHooks{
			OnUnderageSuspectedFunc: func(ctx context.Context, e hooks.UnderageSuspectedEvent) error {
				underageEvents = append(underageEvents, e)
				return nil
			},
		},
	})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/3.jpg",
		Context:  sieve.ContextPrivateGallery,
	})
	require.NoError(t, err)

	assert.Equal(t, sieve.StatusRejected, eval.Decision.Status)
	assert.Equal(t, sieve.ActionRejectMinor, eval.Decision.Action)
	assert.Equal(t, 99.0, eval.Decision.Confidence)
	assert.Equal(t, 14, eval.Decision.MinDetectedAge)

	require.Len(t, underageEvents, 1)
	assert.Equal(t, 14, underageEvents[0].MinDetectedAge)
}

func TestEvaluateChildKeywordOverride(t *testing.T) {
	set := cleanSet()
	set.Face = nil
	set.Description = fakeDescription{sig: sieve.DescriptionSignal{
		Description: "a young child playing in a park",
	}}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/4.jpg",
		Context:  sieve.ContextPaysite,
	})
	require.NoError(t, err)

	assert.True(t, eval.Signals.Description.ContainsChildKeywords)
	assert.Contains(t, eval.Signals.Description.MatchedKeywords, "child")
	assert.Equal(t, sieve.ActionRejectKeyword, eval.Decision.Action)
	assert.Equal(t, sieve.StatusRejected, eval.Decision.Status)
}

func TestEvaluateComponentOverrideDisablesStage(t *testing.T) {
	set := cleanSet()
	set.Description = fakeDescription{sig: sieve.DescriptionSignal{
		Description: "person in underwear in a bedroom",
		Tags:        []string{"bikini"},
	}}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/5.jpg",
		Context:  sieve.ContextPublicGallery,
		ComponentOverrides: map[string]string{
			sieve.KeyImageDescription: "false",
		},
	})
	require.NoError(t, err)

	assert.Nil(t, eval.Signals.Description, "disabled stage must yield no signal")
	assert.Zero(t, eval.Risk.DescriptionContribution)

	var descTrace sieve.StageTrace
	for _, trace := range eval.Signals.Traces {
		if trace.Category == sieve.CategoryDescription {
			descTrace = trace
		}
	}
	assert.Equal(t, sieve.StageDisabled, descTrace.State)
}

func TestEvaluateChildDetectionToggleRemovesTerm(t *testing.T) {
	set := cleanSet()
	set.Face = nil
	set.Description = fakeDescription{sig: sieve.DescriptionSignal{
		Description: "a young child playing in a park",
	}}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/6.jpg",
		Context:  sieve.ContextPublicGallery,
		ComponentOverrides: map[string]string{
			sieve.KeyChildDetection: "false",
		},
	})
	require.NoError(t, err)

	assert.False(t, eval.Signals.Description.ContainsChildKeywords)
	assert.Zero(t, eval.Risk.ChildKeywordContribution)
	assert.NotEqual(t, sieve.ActionRejectKeyword, eval.Decision.Action)
}

func TestEvaluateFaceOnlyPoseOverride(t *testing.T) {
	set := cleanSet()
	set.Nudity = fakeNudity{parts: map[string]float64{sieve.PartFaceFemale: 88}}
	set.Face = nil
	set.Pose = fakePose{sig: sieve.PoseSignal{
		Detected:        true,
		Category:        sieve.PoseBentOver,
		SuggestiveScore: 0.9,
		Confidence:      0.8,
		RawMetrics:      map[string]float64{"hip_bend_angle": 1.0},
	}}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/7.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)

	assert.Equal(t, sieve.PoseFaceOnly, eval.Signals.Pose.Category)
	assert.Zero(t, eval.Risk.PoseContribution)
	assert.Contains(t, eval.Signals.Pose.Reasoning, sieve.ReasonFaceOnlyOverride)
}

func TestEvaluateSecondaryFailuresDegrade(t *testing.T) {
	set := cleanSet()
	set.Pose = fakePose{err: errors.New("model server unavailable")}
	set.Face = fakeFace{err: errors.New("model server unavailable")}
	set.Description = fakeDescription{err: errors.New("model server unavailable")}
	p := newPipeline(t, Options{Analyzers: set})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/8.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)

	assert.Equal(t, sieve.PoseAnalysisError, eval.Signals.Pose.Category)
	assert.Zero(t, eval.Signals.Pose.SuggestiveScore)
	assert.False(t, eval.Signals.Face.FacesDetected)
	assert.NotEmpty(t, eval.Signals.Face.Err)
	assert.Equal(t, "age_blind", eval.Risk.BucketTable,
		"failed face stage must select the stricter bucket table")
}

func TestEvaluateRejectsEmptyImageRef(t *testing.T) {
	p := newPipeline(t, Options{Analyzers: cleanSet()})

	_, err := p.Evaluate(context.Background(), Request{Context: sieve.ContextPublicGallery})
	assert.ErrorIs(t, err, sieve.ErrNoImage)
}

func TestEvaluatePersistsRecord(t *testing.T) {
	st := newMemStore()
	p := newPipeline(t, Options{Analyzers: cleanSet(), Store: st})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/9.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)

	rec, err := st.GetEvaluation(context.Background(), eval.EvaluationID)
	require.NoError(t, err)
	assert.Equal(t, string(sieve.StatusApproved), rec.Status)
	assert.Equal(t, eval.ImageHash, rec.ImageHash)
	assert.NotEmpty(t, rec.DecisionJSON)
}

func TestEvaluateDedup(t *testing.T) {
	st := newMemStore()
	p := newPipeline(t, Options{Analyzers: cleanSet(), Store: st, EnableDedup: true})

	first, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/10.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)
	assert.False(t, first.Deduped)

	second, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/10.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)
	assert.True(t, second.Deduped)
	assert.Equal(t, first.EvaluationID, second.EvaluationID)
	assert.Equal(t, first.Decision.Status, second.Decision.Status)
}

func TestEvaluateDedupRequiresSameContext(t *testing.T) {
	st := newMemStore()
	set := cleanSet()
	set.Nudity = fakeNudity{parts: map[string]float64{sieve.PartBreastExposed: 50}}
	p := newPipeline(t, Options{Analyzers: set, Store: st, EnableDedup: true})

	const ref = "https://cdn.example.com/12.jpg"

	first, err := p.Evaluate(context.Background(), Request{ImageRef: ref, Context: sieve.ContextPrivateGallery})
	require.NoError(t, err)
	assert.False(t, first.Deduped)
	assert.Equal(t, sieve.StatusApproved, first.Decision.Status)

	// Same image in a stricter context must be decided fresh, not served the
	// private gallery verdict.
	second, err := p.Evaluate(context.Background(), Request{ImageRef: ref, Context: sieve.ContextPublicGallery})
	require.NoError(t, err)
	assert.False(t, second.Deduped)
	assert.Equal(t, sieve.StatusFlagged, second.Decision.Status)

	// A matching context is served from the store.
	third, err := p.Evaluate(context.Background(), Request{ImageRef: ref, Context: sieve.ContextPublicGallery})
	require.NoError(t, err)
	assert.True(t, third.Deduped)
	assert.Equal(t, second.EvaluationID, third.EvaluationID)

	// Component overrides change what the stages produce; never dedup those.
	fourth, err := p.Evaluate(context.Background(), Request{
		ImageRef:           ref,
		Context:            sieve.ContextPublicGallery,
		ComponentOverrides: map[string]string{sieve.KeyImageDescription: "false"},
	})
	require.NoError(t, err)
	assert.False(t, fourth.Deduped)
}

// settingsSwapNudity flips the public gallery thresholds while its stage is
// still running, then reports a mild detection.
type settingsSwapNudity struct {
	m *config.Manager
}

func (f settingsSwapNudity) Name() string { return "fake-nudity" }
func (f settingsSwapNudity) DetectNudity(ctx context.Context, req analyzers.Request) (sieve.DetectionSignal, error) {
	err := f.m.Apply(func(s *config.Settings) {
		s.Contexts[string(sieve.ContextPublicGallery)] = sieve.Thresholds{AutoApprove: 1, AutoReject: 2}
	})
	if err != nil {
		return sieve.DetectionSignal{}, err
	}
	return sieve.NewDetectionSignal(map[string]float64{sieve.PartBreastExposed: 15}, nil), nil
}

func TestEvaluateDecidesOnRequestSnapshot(t *testing.T) {
	m, err := config.Load("", nil)
	require.NoError(t, err)

	set := cleanSet()
	set.Nudity = settingsSwapNudity{m: m}
	p := newPipeline(t, Options{Analyzers: set, Config: m})

	// The swap lands mid-request; the decision must still use the thresholds
	// active when the request started.
	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/13.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)
	assert.Equal(t, sieve.StatusApproved, eval.Decision.Status)
	assert.Equal(t, sieve.Thresholds{AutoApprove: 20, AutoReject: 80}, eval.Decision.AppliedThresholds)

	// The next request starts on the swapped table.
	eval, err = p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/14.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)
	assert.Equal(t, sieve.StatusRejected, eval.Decision.Status)
	assert.Equal(t, sieve.Thresholds{AutoApprove: 1, AutoReject: 2}, eval.Decision.AppliedThresholds)
}

func TestEvaluateBatch(t *testing.T) {
	p := newPipeline(t, Options{Analyzers: cleanSet()})

	results := p.EvaluateBatch(context.Background(), []Request{
		{ImageRef: "https://cdn.example.com/a.jpg", Context: sieve.ContextPublicGallery},
		{ImageRef: "", Context: sieve.ContextPublicGallery},
		{ImageRef: "https://cdn.example.com/b.jpg", Context: sieve.ContextPrivateGallery},
	})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, sieve.StatusApproved, results[0].Evaluation.Decision.Status)
	assert.ErrorIs(t, results[1].Err, sieve.ErrNoImage)
	assert.NoError(t, results[2].Err)
	assert.False(t, Approved(results))
}

func TestEvaluateHumanReviewHook(t *testing.T) {
	set := cleanSet()
	set.Nudity = fakeNudity{parts: map[string]float64{sieve.PartBreastExposed: 50}}

	var reviewEvents []hooks.HumanReviewRequiredEvent
	p := newPipeline(t, Options{
		Analyzers: set,
		Hooks: hooks.FuncHooks{
			OnHumanReviewRequiredFunc: func(ctx context.Context, e hooks.HumanReviewRequiredEvent) error {
				reviewEvents = append(reviewEvents, e)
				return nil
			},
		},
	})

	eval, err := p.Evaluate(context.Background(), Request{
		ImageRef: "https://cdn.example.com/11.jpg",
		Context:  sieve.ContextPublicGallery,
	})
	require.NoError(t, err)

	assert.Equal(t, sieve.StatusFlagged, eval.Decision.Status)
	assert.Equal(t, 50.0, eval.Decision.Confidence)
	require.Len(t, reviewEvents, 1)
}
