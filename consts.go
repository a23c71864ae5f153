// Package imagesieve provides a decision-and-risk-fusion layer for image
// moderation: it combines the outputs of independent content analyzers
// (nudity detection, pose classification, face/age estimation, caption
// generation) into a single auditable moderation decision, tuned by a
// per-context policy and governed by a fail-closed error stance.
package imagesieve

// SignalCategory identifies one external analyzer category.
type SignalCategory string

const (
	CategoryNudity      SignalCategory = "nudity"
	CategoryPose        SignalCategory = "pose"
	CategoryFace        SignalCategory = "face"
	CategoryDescription SignalCategory = "description"
)

// Status represents the final moderation status for an image.
type Status string

const (
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged_for_review"
	StatusRejected Status = "rejected"
)

// Action represents the action code attached to a moderation decision.
type Action string

const (
	ActionApprove       Action = "approve_automatically"
	ActionReject        Action = "reject_automatically"
	ActionRejectMinor   Action = "reject_underage_content"
	ActionRejectKeyword Action = "reject_child_keyword_content"
	ActionHumanReview   Action = "require_human_review"
)

// RiskLevel represents the bucketed severity of a risk score.
type RiskLevel int

const (
	RiskMinimal RiskLevel = iota + 1
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the string representation of RiskLevel.
func (r RiskLevel) String() string {
	switch r {
	case RiskMinimal:
		return "minimal"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PoseCategory is the closed enumeration of pose classifications.
type PoseCategory string

const (
	PoseNeutral              PoseCategory = "neutral"
	PoseMildlySuggestive     PoseCategory = "mildly_suggestive"
	PoseModeratelySuggestive PoseCategory = "moderately_suggestive"
	PoseHighlySuggestive     PoseCategory = "highly_suggestive"
	PoseBentOver             PoseCategory = "bent_over"
	PoseFaceOnly             PoseCategory = "face_only_no_pose"
	PoseUndetected           PoseCategory = "undetected"
	PoseUncertain            PoseCategory = "uncertain_pose_detection"
	PoseAnalysisError        PoseCategory = "analysis_error"
)

// Pose score breakpoints. CategoryForPoseScore is the single bucketing used
// everywhere; score and category stay consistent by construction.
const (
	PoseHighBreakpoint     = 0.7
	PoseModerateBreakpoint = 0.4
	PoseMildBreakpoint     = 0.2
)

// CategoryForPoseScore buckets a suggestive score into a pose category.
// The mapping is monotone: a higher score never yields a milder category.
func CategoryForPoseScore(score float64) PoseCategory {
	switch {
	case score >= PoseHighBreakpoint:
		return PoseHighlySuggestive
	case score >= PoseModerateBreakpoint:
		return PoseModeratelySuggestive
	case score >= PoseMildBreakpoint:
		return PoseMildlySuggestive
	default:
		return PoseNeutral
	}
}

// StageState records how a pipeline stage concluded.
type StageState string

const (
	StageRan      StageState = "ran"
	StageDisabled StageState = "disabled"
	StageFallback StageState = "fallback"
)

// ContextType is an open string key selecting a policy threshold pair.
// Unknown contexts fall back to the strictest default (public gallery).
type ContextType string

const (
	ContextPublicGallery  ContextType = "public_gallery"
	ContextPrivateGallery ContextType = "private_gallery"
	ContextPaysite        ContextType = "paysite_content"
	ContextProfilePic     ContextType = "profile_pic"
)

// Detection part classes emitted by nudity analyzers.
const (
	PartBreastExposed   = "BREAST_EXPOSED"
	PartGenitalia       = "GENITALIA"
	PartButtocksExposed = "BUTTOCKS_EXPOSED"
	PartAnusExposed     = "ANUS_EXPOSED"
	PartFaceCovered     = "FACE_COVERED"
	PartFaceFemale      = "FACE_FEMALE"
	PartFaceMale        = "FACE_MALE"

	// PartAnalysisError is synthesized when the nudity analyzer fails.
	PartAnalysisError = "ANALYSIS_ERROR"
)

// Core fusion thresholds.
const (
	// NudityTrigger is the confidence (percent) above which HasNudity is set.
	NudityTrigger = 30.0

	// FallbackNudityScore is the synthetic score used when the nudity
	// analyzer fails. Failing open on the safety-critical signal is not
	// acceptable; a false positive merely costs a human review.
	FallbackNudityScore = 95.0

	// MinAgeThreshold marks a detected face as underage.
	MinAgeThreshold = 16

	// SuspiciousAgeThreshold marks a detected face as possibly underage.
	SuspiciousAgeThreshold = 18

	// ImplausibleAngleBound flags pose geometry as a numeric artifact.
	// Normalized angle ratios stay well below this in real detections.
	ImplausibleAngleBound = 4.0
)

// Age risk multipliers, applied after base risk is summed so that
// protected-class severity always dominates the additive terms.
const (
	UnderageRiskMultiplier   = 3.0
	SuspiciousRiskMultiplier = 1.5
)

// Additive risk terms.
const (
	// RiskyTagIncrement is added to description risk per matched risky tag.
	RiskyTagIncrement = 0.1

	// ChildKeywordTerm is the flat severity term added whenever child
	// keywords are present, independent of every other score.
	ChildKeywordTerm = 0.3

	// PoseWeightFactor scales the pose term when no age evidence exists.
	PoseWeightFactor = 0.3
)

// Reasoning codes shared across stages.
const (
	ReasonCleanContent     = "clean_content"
	ReasonAnalysisError    = "analysis_error"
	ReasonFaceOnlyOverride = "face_only_image_no_body_visible"
	ReasonExtremeMetrics   = "extreme_metrics_detected"

	ReasonNudityDetected = "nudity_detected"
	ReasonRiskyTags      = "risky_description_tags"
	ReasonSuggestivePose = "suggestive_pose_detected"
	ReasonChildKeywords  = "child_keywords_in_description"
	ReasonUnderage       = "underage_subject_detected"
	ReasonSuspiciousAge  = "suspicious_age_detected"
)

// DefaultChildKeywords is the default keyword list scanned against generated
// descriptions and tags.
var DefaultChildKeywords = []string{
	"child", "kid", "baby", "toddler", "minor", "young", "teen",
}

// DefaultRiskyTags is the default set of description tags that each add
// RiskyTagIncrement to the description risk term.
var DefaultRiskyTags = []string{
	"nude", "naked", "underwear", "bikini", "bedroom", "bathroom",
}

// Default operational values.
const (
	DefaultStageTimeoutSeconds = 10
	DefaultBatchConcurrency    = 4
)
