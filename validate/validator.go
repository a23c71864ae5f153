// Package validate detects and corrects implausible signal combinations
// before risk fusion. Validation is pure, deterministic, and total: it never
// performs I/O and never fails; implausible data is corrected with auditable
// reasoning codes, not rejected.
package validate

import (
	"fmt"

	sieve "github.com/modstack/imagesieve"
)

// Metric keys inspected by the geometry rule.
const (
	MetricHipBendAngle = "hip_bend_angle"
	MetricTorsoAngle   = "torso_angle"
)

// Validate applies the cross-signal rule set to the signal set, in order,
// first match wins. The returned set shares the unmodified signals with the
// input; only corrected signals are replaced.
func Validate(signals sieve.SignalSet) sieve.SignalSet {
	if signals.Nudity == nil || signals.Pose == nil {
		return signals
	}

	if pose, overridden := overrideFaceOnlyPose(*signals.Nudity, *signals.Pose); overridden {
		signals.Pose = &pose
		return signals
	}

	if pose, flagged := flagImplausibleGeometry(*signals.Pose); flagged {
		signals.Pose = &pose
	}

	return signals
}

// overrideFaceOnlyPose suppresses a body-pose result on an image where only a
// face was detected. A face crop has no body to pose; a reported pose there is
// a detector hallucination. The derived category is discarded, the raw metrics
// are kept in the reasoning trail so the evidence survives for audit.
func overrideFaceOnlyPose(nudity sieve.DetectionSignal, pose sieve.PoseSignal) (sieve.PoseSignal, bool) {
	if !nudity.FaceOnly() || !pose.Detected {
		return pose, false
	}

	reasoning := []string{sieve.ReasonFaceOnlyOverride}
	for key, val := range pose.RawMetrics {
		reasoning = append(reasoning, fmt.Sprintf("raw_%s_%.3f", key, val))
	}

	return sieve.PoseSignal{
		Detected:        false,
		Category:        sieve.PoseFaceOnly,
		SuggestiveScore: 0,
		Confidence:      pose.Confidence,
		Reasoning:       reasoning,
		RawMetrics:      pose.RawMetrics,
		LandmarkCount:   pose.LandmarkCount,
	}, true
}

// flagImplausibleGeometry downgrades the pose category when derived geometry
// exceeds the physical bound. NaN and divide-by-zero artifacts in landmark
// math show up as angle ratios far outside the real range. The score is NOT
// zeroed: uncertainty routes to human review, it is not silently dismissed.
func flagImplausibleGeometry(pose sieve.PoseSignal) (sieve.PoseSignal, bool) {
	if pose.Category == sieve.PoseUncertain {
		return pose, false
	}

	hipBend := pose.RawMetrics[MetricHipBendAngle]
	torso := pose.RawMetrics[MetricTorsoAngle]

	if hipBend <= sieve.ImplausibleAngleBound && torso <= sieve.ImplausibleAngleBound {
		return pose, false
	}

	pose.Category = sieve.PoseUncertain
	pose.Reasoning = append(pose.Reasoning, sieve.ReasonExtremeMetrics)
	return pose, true
}
