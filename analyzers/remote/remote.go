// Package remote implements the pose, face and description analyzers as
// clients of a self-hosted model server speaking JSON over HTTP.
package remote

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/utils"
)

const analyzerName = "remote"

const codeOK = 200

// Config holds the configuration for the model server client.
type Config struct {
	analyzers.Config

	// AppID identifies the calling application to the model server.
	AppID string

	// Retry overrides the retry behavior. Nil uses the defaults.
	Retry *utils.RetryConfig
}

// DefaultConfig returns the default model server configuration.
func DefaultConfig() Config {
	return Config{
		Config: analyzers.Config{
			Endpoint: "http://localhost:8501",
			Timeout:  30 * time.Second,
		},
	}
}

// Client calls the model server. It implements the pose, face and
// description analyzer interfaces plus the keyword scanner.
type Client struct {
	config     Config
	httpClient *http.Client
	retryer    *utils.Retryer
}

var (
	_ analyzers.PoseAnalyzer        = (*Client)(nil)
	_ analyzers.FaceAnalyzer        = (*Client)(nil)
	_ analyzers.DescriptionAnalyzer = (*Client)(nil)
	_ analyzers.KeywordScanner      = (*Client)(nil)
)

// New creates a new model server client.
func New(cfg Config) *Client {
	retryCfg := utils.DefaultRetryConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryer: utils.NewRetryer(retryCfg),
	}
}

// Name returns the analyzer name.
func (c *Client) Name() string {
	return analyzerName
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type poseResponse struct {
	envelope
	Detected        bool               `json:"detected"`
	SuggestiveScore float64            `json:"suggestive_score"`
	Confidence      float64            `json:"confidence"`
	RawMetrics      map[string]float64 `json:"raw_metrics"`
	LandmarkCount   int                `json:"landmark_count"`
}

// AnalyzePose classifies body posture for the image. The pose category is
// derived from the returned suggestive score, not trusted from the server.
func (c *Client) AnalyzePose(ctx context.Context, req analyzers.Request) (sieve.PoseSignal, error) {
	var resp poseResponse
	if err := c.post(ctx, "/v1/pose", c.imageBody(req), &resp); err != nil {
		return sieve.PoseSignal{}, err
	}

	if !resp.Detected {
		return sieve.PoseSignal{Detected: false, Category: sieve.PoseUndetected}, nil
	}

	return sieve.PoseSignal{
		Detected:        true,
		Category:        sieve.CategoryForPoseScore(resp.SuggestiveScore),
		SuggestiveScore: resp.SuggestiveScore,
		Confidence:      resp.Confidence,
		RawMetrics:      resp.RawMetrics,
		LandmarkCount:   resp.LandmarkCount,
	}, nil
}

type faceResponse struct {
	envelope
	Faces []struct {
		Age        int       `json:"age"`
		Gender     string    `json:"gender"`
		Confidence float64   `json:"confidence"`
		Box        sieve.Box `json:"box"`
	} `json:"faces"`
}

// AnalyzeFaces returns per-face age estimates. The age flags are derived
// locally so every face source applies the same thresholds.
func (c *Client) AnalyzeFaces(ctx context.Context, req analyzers.Request) (sieve.FaceSignal, error) {
	var resp faceResponse
	if err := c.post(ctx, "/v1/faces", c.imageBody(req), &resp); err != nil {
		return sieve.FaceSignal{}, err
	}

	faces := make([]sieve.Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		faces = append(faces, sieve.Face{
			Age:        f.Age,
			Gender:     f.Gender,
			Confidence: f.Confidence,
			Box:        f.Box,
		})
	}

	return sieve.NewFaceSignal(faces), nil
}

type describeResponse struct {
	envelope
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Method      string   `json:"method"`
}

// Describe returns the generated caption and tags for the image.
func (c *Client) Describe(ctx context.Context, req analyzers.Request) (sieve.DescriptionSignal, error) {
	var resp describeResponse
	if err := c.post(ctx, "/v1/describe", c.imageBody(req), &resp); err != nil {
		return sieve.DescriptionSignal{}, err
	}

	return sieve.DescriptionSignal{
		Description: resp.Description,
		Tags:        resp.Tags,
		Method:      resp.Method,
	}, nil
}

type scanResponse struct {
	envelope
	Labels []string `json:"labels"`
}

// ScanText returns the risk labels the model server flags for the text.
func (c *Client) ScanText(ctx context.Context, text string) ([]string, error) {
	body := map[string]interface{}{
		"appId": c.config.AppID,
		"text":  text,
	}

	var resp scanResponse
	if err := c.post(ctx, "/v1/scan-text", body, &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

func (c *Client) imageBody(req analyzers.Request) map[string]interface{} {
	body := map[string]interface{}{
		"appId": c.config.AppID,
		"image": req.ImageRef,
	}
	if req.ModelID != 0 {
		body["modelId"] = req.ModelID
	}
	if req.TraceID != "" {
		body["traceId"] = req.TraceID
	}
	return body
}

type statusCarrier interface {
	status() (int, string)
}

// post sends one JSON request and decodes the response into out, which must
// embed envelope. Transient failures are retried; a non-OK envelope code is
// terminal unless the HTTP status says otherwise.
func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out statusCarrier) error {
	if c.config.AccessKeyID != "" {
		body["accessKey"] = c.config.AccessKeyID
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.Endpoint + path

	return c.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.config.AccessKeySecret != "" {
			httpReq.Header.Set("X-App-Signature", c.sign(jsonBody))
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return sieve.WrapNetworkError(err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return sieve.WrapNetworkError(err)
		}

		if httpResp.StatusCode != http.StatusOK {
			return sieve.NewAnalyzerError(analyzerName, "http_error", string(respBody)).
				WithStatusCode(httpResp.StatusCode)
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if code, msg := out.status(); code != codeOK {
			return sieve.NewAnalyzerError(analyzerName, fmt.Sprintf("%d", code), msg)
		}
		return nil
	})
}

func (e *envelope) status() (int, string) {
	return e.Code, e.Message
}

// sign computes the request signature expected by servers configured with a
// shared secret.
func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.config.AccessKeySecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
