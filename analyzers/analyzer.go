// Package analyzers defines the analyzer interfaces and common types for the
// external perception services the pipeline consumes. The pipeline depends
// only on these output contracts, never on a specific detector implementation.
package analyzers

import (
	"context"
	"time"

	sieve "github.com/modstack/imagesieve"
)

// Request carries the per-invocation inputs shared by every analyzer.
type Request struct {
	// ImageRef is a URL or opaque reference understood by the analyzer.
	ImageRef string

	// ModelID selects an analyzer-side model variant, where supported.
	ModelID int

	// TraceID is propagated for cross-service log correlation.
	TraceID string
}

// NudityAnalyzer detects exposed body parts and returns per-class confidences.
type NudityAnalyzer interface {
	// Name returns the analyzer name (e.g. "aliyun", "tencent", "huawei").
	Name() string

	// DetectNudity analyzes the image and returns the raw detection signal.
	// Confidences are percent values; normalization and clamping happen in
	// sieve.NewDetectionSignal.
	DetectNudity(ctx context.Context, req Request) (sieve.DetectionSignal, error)
}

// PoseAnalyzer classifies body posture from skeletal landmarks.
type PoseAnalyzer interface {
	Name() string

	// AnalyzePose returns the pose classification for the image.
	AnalyzePose(ctx context.Context, req Request) (sieve.PoseSignal, error)
}

// FaceAnalyzer estimates per-face age, gender and confidence.
type FaceAnalyzer interface {
	Name() string

	// AnalyzeFaces returns the per-face records for the image.
	AnalyzeFaces(ctx context.Context, req Request) (sieve.FaceSignal, error)
}

// DescriptionAnalyzer generates a free-text description and derived tags.
type DescriptionAnalyzer interface {
	Name() string

	// Describe returns the generated description signal for the image.
	Describe(ctx context.Context, req Request) (sieve.DescriptionSignal, error)
}

// KeywordScanner is an optional secondary text check applied to generated
// descriptions, e.g. a remote text-moderation service flagging minor-related
// labels that the local keyword list misses.
type KeywordScanner interface {
	Name() string

	// ScanText returns the matched risk labels for the text.
	ScanText(ctx context.Context, text string) ([]string, error)
}

// Config is the base configuration for remote analyzer clients.
type Config struct {
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	Endpoint        string
	Timeout         time.Duration
}

// Set groups the analyzers wired into one pipeline. Nil entries mean the
// category has no analyzer configured; the stage then degrades to its
// fail-closed fallback.
type Set struct {
	Nudity      NudityAnalyzer
	Pose        PoseAnalyzer
	Face        FaceAnalyzer
	Description DescriptionAnalyzer
	Keywords    KeywordScanner
}
