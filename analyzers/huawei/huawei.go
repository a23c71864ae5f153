// Package huawei implements nudity detection on the Huawei Cloud Moderation
// v3 image check API.
package huawei

import (
	"context"
	"fmt"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	moderation "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/model"
	region "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/region"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
)

const analyzerName = "huawei"

// Config holds the configuration for the Huawei analyzer.
type Config struct {
	analyzers.Config

	// ProjectID scopes the credentials to one Huawei Cloud project.
	ProjectID string

	// EventType names the configured moderation scene.
	EventType string
}

// DefaultConfig returns the default Huawei configuration.
func DefaultConfig() Config {
	return Config{
		Config: analyzers.Config{
			Region:  "cn-north-4",
			Timeout: 30 * time.Second,
		},
		EventType: "head_image",
	}
}

// Analyzer detects exposed-body content through the Moderation image check.
type Analyzer struct {
	config Config
	client *moderation.ModerationClient
}

var _ analyzers.NudityAnalyzer = (*Analyzer)(nil)

// New creates a new Huawei analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.EventType == "" {
		cfg.EventType = DefaultConfig().EventType
	}

	a := &Analyzer{config: cfg}

	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("failed to init huawei client: %w", err)
	}

	return a, nil
}

func (a *Analyzer) initClient() error {
	auth := basic.NewCredentialsBuilder().
		WithAk(a.config.AccessKeyID).
		WithSk(a.config.AccessKeySecret).
		WithProjectId(a.config.ProjectID).
		Build()

	reg, err := region.SafeValueOf(a.config.Region)
	if err != nil {
		return fmt.Errorf("invalid region: %w", err)
	}

	a.client = moderation.NewModerationClient(
		moderation.ModerationClientBuilder().
			WithRegion(reg).
			WithCredential(auth).
			Build())
	return nil
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return analyzerName
}

// DetectNudity runs an image moderation check restricted to the porn
// category and translates the result into per-part confidences.
func (a *Analyzer) DetectNudity(ctx context.Context, req analyzers.Request) (sieve.DetectionSignal, error) {
	categories := []string{"porn"}

	imageReq := &model.CheckImageModerationRequest{
		Body: &model.ImageDetectionReq{
			EventType:  &a.config.EventType,
			Categories: &categories,
			Url:        &req.ImageRef,
		},
	}

	resp, err := a.client.CheckImageModeration(imageReq)
	if err != nil {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName, "request_failed", "image moderation call failed").
			WithCategory(sieve.GetErrorCategory(sieve.WrapNetworkError(err))).
			WithCause(err)
	}
	if resp.RequestId == nil {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName, "empty_response", "invalid response from huawei")
	}

	return parseImageResponse(resp), nil
}

// parseImageResponse maps detail labels to part classes, falling back to the
// top-level category when no detail matched. Detail confidences come back in
// [0,1] and are rescaled to percent.
func parseImageResponse(resp *model.CheckImageModerationResponse) sieve.DetectionSignal {
	parts := make(map[string]float64)

	if resp.Result == nil {
		return sieve.NewDetectionSignal(parts, nil)
	}
	r := resp.Result

	if r.Details != nil {
		for _, detail := range *r.Details {
			if detail.Label == nil {
				continue
			}
			part, ok := labelToPart[*detail.Label]
			if !ok {
				continue
			}

			confidence := float64(detail.Confidence) * 100
			if confidence > parts[part] {
				parts[part] = confidence
			}
		}
	}

	if len(parts) == 0 && r.Suggestion != nil && *r.Suggestion != "pass" &&
		r.Category != nil && *r.Category == "porn" {
		score := 90.0
		if *r.Suggestion == "review" {
			score = 60.0
		}
		parts[sieve.PartGenitalia] = score
	}

	return sieve.NewDetectionSignal(parts, nil)
}

// Moderation porn-family detail labels mapped to part classes.
var labelToPart = map[string]string{
	"porn":            sieve.PartGenitalia,
	"sexual_organs":   sieve.PartGenitalia,
	"nudity":          sieve.PartBreastExposed,
	"sexy":            sieve.PartBreastExposed,
	"breasts":         sieve.PartBreastExposed,
	"buttocks_behind": sieve.PartButtocksExposed,
}
