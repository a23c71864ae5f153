package aliyun

import (
	"context"
	"encoding/json"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	green "github.com/alibabacloud-go/green-20220302/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/utils"
)

const analyzerName = "aliyun"

// Analyzer detects exposed-body content through the Green image moderation
// service.
type Analyzer struct {
	config  Config
	client  *green.Client
	retryer *utils.Retryer
}

var _ analyzers.NudityAnalyzer = (*Analyzer)(nil)

// New creates a new Aliyun analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Service == "" {
		cfg.Service = DefaultConfig().Service
	}

	a := &Analyzer{
		config:  cfg,
		retryer: utils.NewRetryer(utils.DefaultRetryConfig()),
	}

	if err := a.initClient(); err != nil {
		return nil, fmt.Errorf("failed to init aliyun client: %w", err)
	}

	return a, nil
}

func (a *Analyzer) initClient() error {
	config := &openapi.Config{
		AccessKeyId:     tea.String(a.config.AccessKeyID),
		AccessKeySecret: tea.String(a.config.AccessKeySecret),
		RegionId:        tea.String(a.config.Region),
		Endpoint:        tea.String(a.config.Endpoint),
	}
	if a.config.Timeout > 0 {
		ms := int(a.config.Timeout.Milliseconds())
		config.ConnectTimeout = tea.Int(ms)
		config.ReadTimeout = tea.Int(ms)
	}

	client, err := green.NewClient(config)
	if err != nil {
		return err
	}

	a.client = client
	return nil
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return analyzerName
}

// DetectNudity submits the image for a moderation scan and translates the
// returned risk labels into per-part confidences.
func (a *Analyzer) DetectNudity(ctx context.Context, req analyzers.Request) (sieve.DetectionSignal, error) {
	serviceParams := map[string]interface{}{
		"imageUrl": req.ImageRef,
	}
	if req.TraceID != "" {
		serviceParams["dataId"] = req.TraceID
	}

	serviceParamsJSON, err := json.Marshal(serviceParams)
	if err != nil {
		return sieve.DetectionSignal{}, fmt.Errorf("failed to marshal service params: %w", err)
	}

	imageReq := &green.ImageModerationRequest{
		Service:           tea.String(a.config.Service),
		ServiceParameters: tea.String(string(serviceParamsJSON)),
	}

	runtime := &util.RuntimeOptions{}
	resp, err := utils.DoWithResult(ctx, a.retryer, func() (*green.ImageModerationResponse, error) {
		return a.client.ImageModerationWithOptions(imageReq, runtime)
	})
	if err != nil {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName, "request_failed", "image moderation call failed").
			WithCategory(sieve.GetErrorCategory(sieve.WrapNetworkError(err))).
			WithCause(err)
	}

	if resp.Body == nil || resp.Body.Code == nil {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName, "empty_response", "invalid response from aliyun")
	}
	if *resp.Body.Code != 200 {
		return sieve.DetectionSignal{}, sieve.NewAnalyzerError(analyzerName,
			fmt.Sprintf("%d", *resp.Body.Code), tea.StringValue(resp.Body.Msg)).
			WithStatusCode(int(*resp.Body.Code)).
			WithRaw(resp.Body)
	}

	return parseImageResponse(resp.Body), nil
}

// parseImageResponse translates the Green result items into a detection
// signal. Each part class keeps the highest confidence seen across labels.
func parseImageResponse(body *green.ImageModerationResponseBody) sieve.DetectionSignal {
	parts := make(map[string]float64)

	if body.Data != nil && body.Data.Result != nil {
		for _, item := range body.Data.Result {
			if item.Label == nil {
				continue
			}
			part, ok := translateLabel(*item.Label)
			if !ok {
				continue
			}

			confidence := 100.0
			if item.Confidence != nil {
				confidence = float64(*item.Confidence)
			}
			if confidence > parts[part] {
				parts[part] = confidence
			}
		}
	}

	return sieve.NewDetectionSignal(parts, nil)
}
