package validate

import (
	"testing"

	sieve "github.com/modstack/imagesieve"
)

func faceOnlySignal() *sieve.DetectionSignal {
	sig := sieve.NewDetectionSignal(map[string]float64{
		sieve.PartFaceFemale: 88,
	}, nil)
	return &sig
}

func bodySignal() *sieve.DetectionSignal {
	sig := sieve.NewDetectionSignal(map[string]float64{
		sieve.PartFaceFemale:    88,
		sieve.PartBreastExposed: 72,
	}, nil)
	return &sig
}

func TestValidateFaceOnlyOverridesPose(t *testing.T) {
	pose := &sieve.PoseSignal{
		Detected:        true,
		Category:        sieve.PoseBentOver,
		SuggestiveScore: 0.9,
		Confidence:      0.8,
		RawMetrics:      map[string]float64{"hip_bend_angle": 1.2},
	}

	out := Validate(sieve.SignalSet{Nudity: faceOnlySignal(), Pose: pose})

	if out.Pose.Category != sieve.PoseFaceOnly {
		t.Fatalf("category = %q, want %q", out.Pose.Category, sieve.PoseFaceOnly)
	}
	if out.Pose.SuggestiveScore != 0 {
		t.Errorf("suggestive score = %v, want 0", out.Pose.SuggestiveScore)
	}
	if out.Pose.Detected {
		t.Error("pose should be marked undetected after override")
	}
	if len(out.Pose.Reasoning) == 0 || out.Pose.Reasoning[0] != sieve.ReasonFaceOnlyOverride {
		t.Errorf("reasoning = %v, want leading %q", out.Pose.Reasoning, sieve.ReasonFaceOnlyOverride)
	}
	// Raw evidence must survive the override.
	if out.Pose.RawMetrics["hip_bend_angle"] != 1.2 {
		t.Errorf("raw metrics lost: %v", out.Pose.RawMetrics)
	}
	if len(out.Pose.Reasoning) < 2 {
		t.Errorf("raw metrics not echoed into reasoning: %v", out.Pose.Reasoning)
	}
}

func TestValidateImplausibleGeometry(t *testing.T) {
	tests := []struct {
		name    string
		metrics map[string]float64
		flagged bool
	}{
		{"hip angle over bound", map[string]float64{"hip_bend_angle": 4.5}, true},
		{"torso angle over bound", map[string]float64{"torso_angle": 12.0}, true},
		{"both within bound", map[string]float64{"hip_bend_angle": 1.1, "torso_angle": 0.4}, false},
		{"exactly at bound", map[string]float64{"hip_bend_angle": 4.0}, false},
		{"no metrics", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pose := &sieve.PoseSignal{
				Detected:        true,
				Category:        sieve.PoseModeratelySuggestive,
				SuggestiveScore: 0.5,
				RawMetrics:      tt.metrics,
			}
			out := Validate(sieve.SignalSet{Nudity: bodySignal(), Pose: pose})

			if tt.flagged {
				if out.Pose.Category != sieve.PoseUncertain {
					t.Fatalf("category = %q, want %q", out.Pose.Category, sieve.PoseUncertain)
				}
				if out.Pose.SuggestiveScore != 0.5 {
					t.Errorf("score = %v, want preserved 0.5", out.Pose.SuggestiveScore)
				}
				found := false
				for _, r := range out.Pose.Reasoning {
					if r == sieve.ReasonExtremeMetrics {
						found = true
					}
				}
				if !found {
					t.Errorf("reasoning %v missing %q", out.Pose.Reasoning, sieve.ReasonExtremeMetrics)
				}
			} else if out.Pose.Category != sieve.PoseModeratelySuggestive {
				t.Errorf("category = %q, want unchanged", out.Pose.Category)
			}
		})
	}
}

func TestValidateFaceOnlyWinsOverGeometry(t *testing.T) {
	// Both rules match; the face-only rule is first and must win.
	pose := &sieve.PoseSignal{
		Detected:        true,
		Category:        sieve.PoseHighlySuggestive,
		SuggestiveScore: 0.95,
		RawMetrics:      map[string]float64{"hip_bend_angle": 9.0},
	}

	out := Validate(sieve.SignalSet{Nudity: faceOnlySignal(), Pose: pose})

	if out.Pose.Category != sieve.PoseFaceOnly {
		t.Fatalf("category = %q, want %q", out.Pose.Category, sieve.PoseFaceOnly)
	}
	for _, r := range out.Pose.Reasoning {
		if r == sieve.ReasonExtremeMetrics {
			t.Error("geometry rule should not run after face-only override")
		}
	}
}

func TestValidateMissingSignals(t *testing.T) {
	pose := &sieve.PoseSignal{Detected: true, Category: sieve.PoseBentOver, SuggestiveScore: 0.9}

	out := Validate(sieve.SignalSet{Pose: pose})
	if out.Pose.Category != sieve.PoseBentOver {
		t.Errorf("nil nudity: category = %q, want unchanged", out.Pose.Category)
	}

	out = Validate(sieve.SignalSet{Nudity: faceOnlySignal()})
	if out.Pose != nil {
		t.Error("nil pose should stay nil")
	}
}

func TestValidateUndetectedPoseNotOverridden(t *testing.T) {
	pose := &sieve.PoseSignal{Detected: false, Category: sieve.PoseUndetected}

	out := Validate(sieve.SignalSet{Nudity: faceOnlySignal(), Pose: pose})
	if out.Pose.Category != sieve.PoseUndetected {
		t.Errorf("category = %q, want %q", out.Pose.Category, sieve.PoseUndetected)
	}
}

func TestValidateIdempotent(t *testing.T) {
	pose := &sieve.PoseSignal{
		Detected:        true,
		Category:        sieve.PoseBentOver,
		SuggestiveScore: 0.9,
		RawMetrics:      map[string]float64{"torso_angle": 7.0},
	}

	once := Validate(sieve.SignalSet{Nudity: bodySignal(), Pose: pose})
	twice := Validate(once)

	if twice.Pose.Category != once.Pose.Category {
		t.Errorf("category changed on second pass: %q vs %q", twice.Pose.Category, once.Pose.Category)
	}
	if len(twice.Pose.Reasoning) != len(once.Pose.Reasoning) {
		t.Errorf("reasoning grew on second pass: %v vs %v", twice.Pose.Reasoning, once.Pose.Reasoning)
	}
}
