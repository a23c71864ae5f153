package imagesieve

import (
	"math"
	"time"
)

// Box is a bounding box in pixel coordinates.
type Box struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"` // percent, 0-100
}

// DetectionSignal is the normalized output of the nudity analyzer: a mapping
// from body-part class to confidence (percent), with optional locations.
type DetectionSignal struct {
	DetectedParts map[string]float64 `json:"detected_parts"` // class -> confidence 0-100
	PartLocations map[string]Box     `json:"part_locations,omitempty"`
	NudityScore   float64            `json:"nudity_score"` // max confidence across classes
	HasNudity     bool               `json:"has_nudity"`
	Err           string             `json:"error,omitempty"` // analyzer failure, if any
}

// NewDetectionSignal builds a DetectionSignal from raw part confidences.
// Confidences are clamped to [0,100]; an empty map yields a zero score.
func NewDetectionSignal(parts map[string]float64, locations map[string]Box) DetectionSignal {
	sig := DetectionSignal{
		DetectedParts: make(map[string]float64, len(parts)),
		PartLocations: locations,
	}
	for class, conf := range parts {
		conf = clampPercent(conf)
		sig.DetectedParts[class] = conf
		if conf > sig.NudityScore {
			sig.NudityScore = conf
		}
	}
	sig.HasNudity = sig.NudityScore > NudityTrigger
	return sig
}

// FallbackDetectionSignal returns the fail-closed signal used when the nudity
// analyzer fails: a maximal-risk synthetic detection, never a clean image.
func FallbackDetectionSignal(err error) DetectionSignal {
	sig := NewDetectionSignal(map[string]float64{
		PartAnalysisError: FallbackNudityScore,
	}, nil)
	if err != nil {
		sig.Err = err.Error()
	}
	return sig
}

// PartClasses returns the detected part classes.
func (s DetectionSignal) PartClasses() []string {
	classes := make([]string, 0, len(s.DetectedParts))
	for class := range s.DetectedParts {
		classes = append(classes, class)
	}
	return classes
}

// FaceOnly reports whether exactly one part was detected and it is a face
// class. Used by cross-signal validation: a face-only crop cannot carry a
// body pose.
func (s DetectionSignal) FaceOnly() bool {
	if len(s.DetectedParts) != 1 {
		return false
	}
	for class := range s.DetectedParts {
		if class == PartFaceFemale || class == PartFaceMale {
			return true
		}
	}
	return false
}

// PoseSignal is the normalized output of the pose classifier.
type PoseSignal struct {
	Detected        bool               `json:"pose_detected"`
	Category        PoseCategory       `json:"pose_category"`
	SuggestiveScore float64            `json:"suggestive_score"` // 0-1
	Confidence      float64            `json:"pose_confidence"`  // 0-1, landmark visibility
	Reasoning       []string           `json:"reasoning,omitempty"`
	RawMetrics      map[string]float64 `json:"raw_metrics,omitempty"`
	LandmarkCount   int                `json:"landmark_count,omitempty"`
}

// NeutralPoseSignal returns a zero-contribution pose signal with the given
// category and reasoning code, used for disabled and failed pose stages.
func NeutralPoseSignal(category PoseCategory, reason string) PoseSignal {
	return PoseSignal{
		Detected:        false,
		Category:        category,
		SuggestiveScore: 0,
		Reasoning:       []string{reason},
	}
}

// Face is a single per-face record from the age estimator.
type Face struct {
	Age        int     `json:"age"`
	Gender     string  `json:"gender,omitempty"`
	Confidence float64 `json:"confidence"` // 0-1
	Box        Box     `json:"box,omitempty"`
}

// FaceSignal is the normalized output of the face/age estimator.
type FaceSignal struct {
	FacesDetected    bool   `json:"faces_detected"`
	Faces            []Face `json:"faces,omitempty"`
	MinAge           int    `json:"min_age,omitempty"`
	MaxAge           int    `json:"max_age,omitempty"`
	UnderageDetected bool   `json:"underage_detected"`
	SuspiciousAge    bool   `json:"suspicious_age"`
	Err              string `json:"error,omitempty"`
}

// NewFaceSignal derives the age flags from a face list. An empty list yields
// FacesDetected=false and both flags false; age comparisons never run against
// missing data.
func NewFaceSignal(faces []Face) FaceSignal {
	sig := FaceSignal{Faces: faces}
	if len(faces) == 0 {
		return sig
	}
	sig.FacesDetected = true
	sig.MinAge = faces[0].Age
	sig.MaxAge = faces[0].Age
	for _, f := range faces[1:] {
		if f.Age < sig.MinAge {
			sig.MinAge = f.Age
		}
		if f.Age > sig.MaxAge {
			sig.MaxAge = f.Age
		}
	}
	sig.UnderageDetected = sig.MinAge < MinAgeThreshold
	sig.SuspiciousAge = sig.MinAge < SuspiciousAgeThreshold
	return sig
}

// DescriptionSignal is the normalized output of the caption generator.
type DescriptionSignal struct {
	Description           string   `json:"description"`
	Tags                  []string `json:"tags,omitempty"`
	ContainsChildKeywords bool     `json:"contains_child_keywords"`
	MatchedKeywords       []string `json:"matched_keywords,omitempty"`
	Method                string   `json:"generation_method,omitempty"`
	Err                   string   `json:"error,omitempty"`
}

// StageTrace records how one analyzer stage concluded, for observability and
// audit. One trace is emitted per configured stage per request.
type StageTrace struct {
	Category SignalCategory `json:"category"`
	State    StageState     `json:"state"`
	Latency  time.Duration  `json:"latency_ms"`
	Err      string         `json:"error,omitempty"`
}

// SignalSet bundles the validated per-category signals for one request.
// A nil entry means the category was disabled for the request.
type SignalSet struct {
	Nudity      *DetectionSignal   `json:"nudity_detection,omitempty"`
	Pose        *PoseSignal        `json:"pose_analysis,omitempty"`
	Face        *FaceSignal        `json:"face_analysis,omitempty"`
	Description *DescriptionSignal `json:"image_description,omitempty"`
	Traces      []StageTrace       `json:"stage_traces,omitempty"`
}

// HasAgeEvidence reports whether the set carries an age-bearing signal.
// Selects the bucket table in risk fusion and suppresses the pose term.
func (s SignalSet) HasAgeEvidence() bool {
	return s.Face != nil && s.Face.FacesDetected
}

// RiskAssessment is the fused risk output for one request.
type RiskAssessment struct {
	FinalRiskScore float64   `json:"final_risk_score"` // 0-100
	RiskLevel      RiskLevel `json:"risk_level"`
	BucketTable    string    `json:"bucket_table"` // which bucket table applied
	Reasoning      []string  `json:"reasoning"`    // ordered contributing-factor codes

	// Per-factor contribution breakdown for audit traceability.
	NudityContribution       float64 `json:"nudity_contribution"`        // percent
	DescriptionContribution  float64 `json:"description_contribution"`   // percent
	PoseContribution         float64 `json:"pose_contribution"`          // percent
	ChildKeywordContribution float64 `json:"child_keyword_contribution"` // percent
	AgeMultiplier            float64 `json:"age_multiplier"`
}

// Thresholds is the per-context auto-approve/auto-reject pair.
type Thresholds struct {
	AutoApprove float64 `json:"auto_approve"`
	AutoReject  float64 `json:"auto_reject"`
}

// ModerationDecision is the final, immutable policy outcome for one request.
// It is computed once and never mutated after creation.
type ModerationDecision struct {
	Status              Status      `json:"status"`
	Action              Action      `json:"action"`
	HumanReviewRequired bool        `json:"human_review_required"`
	Confidence          float64     `json:"confidence"` // 0-100
	ContextType         ContextType `json:"context_type"`
	AppliedThresholds   Thresholds  `json:"applied_thresholds"`
	Reason              string      `json:"reason,omitempty"`
	MinDetectedAge      int         `json:"min_detected_age,omitempty"`
	DecidedAt           time.Time   `json:"decided_at"`
}

// EvaluationRecord is the persisted form of a completed evaluation.
type EvaluationRecord struct {
	ID           string  `json:"id" db:"id"`
	ImageRef     string  `json:"image_ref" db:"image_ref"`
	ImageHash    string  `json:"image_hash" db:"image_hash"`
	ContextType  string  `json:"context_type" db:"context_type"`
	ModelID      int     `json:"model_id" db:"model_id"`
	TraceID      string  `json:"trace_id" db:"trace_id"`
	Status       string  `json:"status" db:"status"`
	RiskScore    float64 `json:"risk_score" db:"risk_score"`
	RiskLevel    string  `json:"risk_level" db:"risk_level"`
	DecisionJSON string  `json:"decision_json" db:"decision_json"`
	RiskJSON     string  `json:"risk_json" db:"risk_json"`
	SignalsJSON  string  `json:"signals_json" db:"signals_json"`
	CreatedAt    int64   `json:"created_at" db:"created_at"`
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampRiskScore clamps a fused score to the [0,100] contract.
func ClampRiskScore(v float64) float64 {
	return clampPercent(v)
}
