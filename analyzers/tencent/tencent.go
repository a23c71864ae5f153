// Package tencent implements nudity detection and description text scanning
// on Tencent Cloud IMS (image moderation) and TMS (text moderation).
package tencent

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"
	tms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tms/v20201229"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/utils"
)

const analyzerName = "tencent"

// Config holds the configuration for the Tencent analyzer.
type Config struct {
	analyzers.Config

	// BizType selects a moderation policy configured in the Tencent console.
	BizType string
}

// DefaultConfig returns the default Tencent configuration.
func DefaultConfig() Config {
	return Config{
		Config: analyzers.Config{
			Region:  "ap-guangzhou",
			Timeout: 30 * time.Second,
		},
	}
}

// Analyzer detects exposed-body content through IMS and scans description
// text through TMS.
type Analyzer struct {
	config     Config
	imsClient  *ims.Client
	tmsClient  *tms.Client
	credential *common.Credential
	retryer    *utils.Retryer
}

var (
	_ analyzers.NudityAnalyzer = (*Analyzer)(nil)
	_ analyzers.KeywordScanner = (*Analyzer)(nil)
)

// New creates a new Tencent analyzer.
func New(cfg Config) (*Analyzer, error) {
	a := &Analyzer{
		config:  cfg,
		retryer: utils.NewRetryer(utils.DefaultRetryConfig()),
	}

	if err := a.initClients(); err != nil {
		return nil, fmt.Errorf("failed to init tencent clients: %w", err)
	}

	return a, nil
}

func (a *Analyzer) initClients() error {
	a.credential = common.NewCredential(a.config.AccessKeyID, a.config.AccessKeySecret)

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "ims.tencentcloudapi.com"

	imsClient, err := ims.NewClient(a.credential, a.config.Region, cpf)
	if err != nil {
		return fmt.Errorf("failed to create ims client: %w", err)
	}
	a.imsClient = imsClient

	cpf.HttpProfile.Endpoint = "tms.tencentcloudapi.com"
	tmsClient, err := tms.NewClient(a.credential, a.config.Region, cpf)
	if err != nil {
		return fmt.Errorf("failed to create tms client: %w", err)
	}
	a.tmsClient = tmsClient

	return nil
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return analyzerName
}

// DetectNudity submits the image URL to IMS and translates the moderation
// labels into per-part confidences.
func (a *Analyzer) DetectNudity(ctx context.Context, req analyzers.Request) (sieve.DetectionSignal, error) {
	imageReq := ims.NewImageModerationRequest()
	imageReq.FileUrl = &req.ImageRef
	if a.config.BizType != "" {
		imageReq.BizType = &a.config.BizType
	}
	if req.TraceID != "" {
		imageReq.DataId = &req.TraceID
	}

	resp, err := utils.DoWithResult(ctx, a.retryer, func() (*ims.ImageModerationResponse, error) {
		return a.imsClient.ImageModerationWithContext(ctx, imageReq)
	})
	if err != nil {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName, "request_failed", "image moderation call failed").
			WithCategory(sieve.GetErrorCategory(sieve.WrapNetworkError(err))).
			WithCause(err)
	}

	return parseImageResponse(resp), nil
}

// parseImageResponse maps the IMS label hierarchy onto part classes. The
// SubLabel carries the finer distinction when present; the top-level Label
// alone still maps when it does not.
func parseImageResponse(resp *ims.ImageModerationResponse) sieve.DetectionSignal {
	parts := make(map[string]float64)

	if resp.Response == nil {
		return sieve.NewDetectionSignal(parts, nil)
	}
	r := resp.Response

	score := 100.0
	if r.Score != nil {
		score = float64(*r.Score)
	}

	part := ""
	if r.SubLabel != nil {
		part = subLabelToPart[*r.SubLabel]
	}
	if part == "" && r.Label != nil {
		part = labelToPart[*r.Label]
	}
	if part != "" {
		parts[part] = score
	}

	return sieve.NewDetectionSignal(parts, nil)
}

// ScanText submits the text to TMS and returns the minor-safety labels it
// flags, base64-encoded per the TMS contract.
func (a *Analyzer) ScanText(ctx context.Context, text string) ([]string, error) {
	textReq := tms.NewTextModerationRequest()
	content := base64.StdEncoding.EncodeToString([]byte(text))
	textReq.Content = &content
	if a.config.BizType != "" {
		textReq.BizType = &a.config.BizType
	}

	resp, err := utils.DoWithResult(ctx, a.retryer, func() (*tms.TextModerationResponse, error) {
		return a.tmsClient.TextModerationWithContext(ctx, textReq)
	})
	if err != nil {
		return nil, sieve.NewAnalyzerError(analyzerName, "request_failed", "text moderation call failed").
			WithCategory(sieve.GetErrorCategory(sieve.WrapNetworkError(err))).
			WithCause(err)
	}

	return parseTextResponse(resp), nil
}

// parseTextResponse collects the matched keywords plus any detail labels in
// the minor-safety family. A "Pass" with no keywords yields nil.
func parseTextResponse(resp *tms.TextModerationResponse) []string {
	if resp.Response == nil {
		return nil
	}
	r := resp.Response

	var labels []string
	for _, kw := range r.Keywords {
		if kw != nil && *kw != "" {
			labels = append(labels, *kw)
		}
	}

	for _, detail := range r.DetailResults {
		if detail == nil || detail.Label == nil {
			continue
		}
		if !minorLabels[*detail.Label] {
			continue
		}
		for _, kw := range detail.Keywords {
			if kw != nil && *kw != "" {
				labels = append(labels, *kw)
			}
		}
	}

	return dedupe(labels)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
