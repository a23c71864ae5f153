package policy

import (
	"testing"

	sieve "github.com/modstack/imagesieve"
)

func riskOf(score float64, reasons ...string) sieve.RiskAssessment {
	if len(reasons) == 0 {
		reasons = []string{sieve.ReasonCleanContent}
	}
	return sieve.RiskAssessment{FinalRiskScore: score, Reasoning: reasons}
}

func TestDecideThresholds(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		name       string
		ctx        sieve.ContextType
		score      float64
		wantStatus sieve.Status
		wantAction sieve.Action
		wantReview bool
		wantConf   float64
	}{
		{"public approve at boundary", sieve.ContextPublicGallery, 20, sieve.StatusApproved, sieve.ActionApprove, false, 80},
		{"public flag just above approve", sieve.ContextPublicGallery, 20.1, sieve.StatusFlagged, sieve.ActionHumanReview, true, 50},
		{"public reject at boundary", sieve.ContextPublicGallery, 80, sieve.StatusRejected, sieve.ActionReject, true, 80},
		{"public clean", sieve.ContextPublicGallery, 0, sieve.StatusApproved, sieve.ActionApprove, false, 100},
		{"private tolerates more", sieve.ContextPrivateGallery, 55, sieve.StatusApproved, sieve.ActionApprove, false, 45},
		{"paysite mid flag", sieve.ContextPaysite, 60, sieve.StatusFlagged, sieve.ActionHumanReview, true, 50},
		{"profile pic strict reject", sieve.ContextProfilePic, 65, sieve.StatusRejected, sieve.ActionReject, true, 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(tt.ctx, riskOf(tt.score), sieve.SignalSet{})
			if d.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", d.Status, tt.wantStatus)
			}
			if d.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", d.Action, tt.wantAction)
			}
			if d.HumanReviewRequired != tt.wantReview {
				t.Errorf("review = %v, want %v", d.HumanReviewRequired, tt.wantReview)
			}
			if d.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", d.Confidence, tt.wantConf)
			}
			if d.DecidedAt.IsZero() {
				t.Error("DecidedAt not set")
			}
		})
	}
}

func TestDecideUnknownContextFallsBack(t *testing.T) {
	r := NewRegistry(nil)

	d := r.Decide("livestream_thumbnail", riskOf(25), sieve.SignalSet{})
	if d.Status != sieve.StatusFlagged {
		t.Errorf("status = %q, want flagged under public gallery thresholds", d.Status)
	}
	if d.AppliedThresholds != (sieve.Thresholds{AutoApprove: 20, AutoReject: 80}) {
		t.Errorf("applied thresholds = %+v, want public gallery pair", d.AppliedThresholds)
	}

	if _, known := r.Thresholds("livestream_thumbnail"); known {
		t.Error("unknown context reported as known")
	}
}

func TestDecideUnderageOverride(t *testing.T) {
	r := NewRegistry(nil)
	face := sieve.NewFaceSignal([]sieve.Face{{Age: 13, Confidence: 0.9}})

	// Score low enough to auto-approve in any context; the override must win.
	d := r.Decide(sieve.ContextPrivateGallery, riskOf(5, sieve.ReasonUnderage), sieve.SignalSet{Face: &face})

	if d.Status != sieve.StatusRejected {
		t.Fatalf("status = %q, want rejected", d.Status)
	}
	if d.Action != sieve.ActionRejectMinor {
		t.Errorf("action = %q, want %q", d.Action, sieve.ActionRejectMinor)
	}
	if !d.HumanReviewRequired {
		t.Error("underage rejection must require human review")
	}
	if d.Confidence != 99 {
		t.Errorf("confidence = %v, want 99", d.Confidence)
	}
	if d.MinDetectedAge != 13 {
		t.Errorf("min detected age = %v, want 13", d.MinDetectedAge)
	}
}

func TestDecideChildKeywordOverride(t *testing.T) {
	r := NewRegistry(nil)
	desc := sieve.DescriptionSignal{
		Description:           "a young child at the beach",
		ContainsChildKeywords: true,
		MatchedKeywords:       []string{"young", "child"},
	}

	d := r.Decide(sieve.ContextPrivateGallery, riskOf(10, sieve.ReasonChildKeywords),
		sieve.SignalSet{Description: &desc})

	if d.Status != sieve.StatusRejected {
		t.Fatalf("status = %q, want rejected", d.Status)
	}
	if d.Action != sieve.ActionRejectKeyword {
		t.Errorf("action = %q, want %q", d.Action, sieve.ActionRejectKeyword)
	}
	if d.Confidence != 95 {
		t.Errorf("confidence = %v, want 95", d.Confidence)
	}
}

func TestDecideChildKeywordOverrideReadsSignalFlag(t *testing.T) {
	r := NewRegistry(nil)

	// The reasoning code alone carries no evidence; only the signal flag
	// triggers the override.
	d := r.Decide(sieve.ContextPrivateGallery, riskOf(10, sieve.ReasonChildKeywords), sieve.SignalSet{})
	if d.Status != sieve.StatusApproved {
		t.Errorf("status = %q, want approved without the signal flag", d.Status)
	}

	// And the flag triggers it even when the trail omits the code.
	desc := sieve.DescriptionSignal{ContainsChildKeywords: true}
	d = r.Decide(sieve.ContextPrivateGallery, riskOf(10), sieve.SignalSet{Description: &desc})
	if d.Action != sieve.ActionRejectKeyword {
		t.Errorf("action = %q, want %q from the signal flag", d.Action, sieve.ActionRejectKeyword)
	}
}

func TestDecideUnderageBeatsChildKeyword(t *testing.T) {
	r := NewRegistry(nil)
	face := sieve.NewFaceSignal([]sieve.Face{{Age: 10, Confidence: 0.9}})
	desc := sieve.DescriptionSignal{ContainsChildKeywords: true}

	d := r.Decide(sieve.ContextPublicGallery,
		riskOf(100, sieve.ReasonUnderage, sieve.ReasonChildKeywords),
		sieve.SignalSet{Face: &face, Description: &desc})

	if d.Action != sieve.ActionRejectMinor {
		t.Errorf("action = %q, want underage override to win", d.Action)
	}
}

func TestDecideWithCallerTable(t *testing.T) {
	table := map[sieve.ContextType]sieve.Thresholds{
		sieve.ContextPublicGallery: {AutoApprove: 50, AutoReject: 90},
	}

	d := Decide(table, sieve.ContextPublicGallery, riskOf(40), sieve.SignalSet{})
	if d.Status != sieve.StatusApproved {
		t.Errorf("status = %q, want approved under the caller's table", d.Status)
	}
	if d.AppliedThresholds != (sieve.Thresholds{AutoApprove: 50, AutoReject: 90}) {
		t.Errorf("applied thresholds = %+v, want the caller's pair", d.AppliedThresholds)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Replace(map[sieve.ContextType]sieve.Thresholds{
		sieve.ContextPublicGallery: {AutoApprove: 30, AutoReject: 70},
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	d := r.Decide(sieve.ContextPublicGallery, riskOf(25), sieve.SignalSet{})
	if d.Status != sieve.StatusApproved {
		t.Errorf("status = %q, want approved under replaced thresholds", d.Status)
	}
}

func TestRegistryReplaceValidation(t *testing.T) {
	r := NewRegistry(nil)

	tests := []struct {
		name  string
		table map[sieve.ContextType]sieve.Thresholds
	}{
		{"missing fallback", map[sieve.ContextType]sieve.Thresholds{
			sieve.ContextPaysite: {AutoApprove: 40, AutoReject: 90},
		}},
		{"approve above reject", map[sieve.ContextType]sieve.Thresholds{
			sieve.ContextPublicGallery: {AutoApprove: 90, AutoReject: 80},
		}},
		{"reject above hundred", map[sieve.ContextType]sieve.Thresholds{
			sieve.ContextPublicGallery: {AutoApprove: 20, AutoReject: 120},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Replace(tt.table); err == nil {
				t.Error("Replace accepted invalid table")
			}
		})
	}

	// Failed replace must leave the previous table active.
	d := r.Decide(sieve.ContextPublicGallery, riskOf(15), sieve.SignalSet{})
	if d.Status != sieve.StatusApproved {
		t.Errorf("status = %q, want approved under original table", d.Status)
	}
}

func TestRegistryContexts(t *testing.T) {
	r := NewRegistry(nil)
	contexts := r.Contexts()
	if len(contexts) != 4 {
		t.Fatalf("contexts = %v, want 4 entries", contexts)
	}
	for i := 1; i < len(contexts); i++ {
		if contexts[i-1] >= contexts[i] {
			t.Errorf("contexts not sorted: %v", contexts)
		}
	}
}
