package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/utils"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.AppID = "test-app"
	cfg.Retry = &utils.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
	return New(cfg)
}

func TestAnalyzePose(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pose" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["image"] != "https://img.example/a.jpg" {
			t.Errorf("unexpected image ref %v", body["image"])
		}
		if body["appId"] != "test-app" {
			t.Errorf("unexpected appId %v", body["appId"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"code":             200,
			"detected":         true,
			"suggestive_score": 0.75,
			"confidence":       0.9,
			"raw_metrics":      map[string]float64{"hip_bend_angle": 1.2},
			"landmark_count":   17,
		})
	}))

	sig, err := client.AnalyzePose(context.Background(), analyzers.Request{
		ImageRef: "https://img.example/a.jpg",
		TraceID:  "t-1",
	})
	if err != nil {
		t.Fatalf("AnalyzePose: %v", err)
	}
	if !sig.Detected {
		t.Error("expected detected pose")
	}
	if sig.Category != sieve.PoseHighlySuggestive {
		t.Errorf("category = %s, want %s", sig.Category, sieve.PoseHighlySuggestive)
	}
	if sig.RawMetrics["hip_bend_angle"] != 1.2 {
		t.Errorf("raw metrics not carried through: %v", sig.RawMetrics)
	}
}

func TestAnalyzePoseUndetected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "detected": false})
	}))

	sig, err := client.AnalyzePose(context.Background(), analyzers.Request{ImageRef: "x"})
	if err != nil {
		t.Fatalf("AnalyzePose: %v", err)
	}
	if sig.Detected || sig.Category != sieve.PoseUndetected {
		t.Errorf("expected undetected pose, got %+v", sig)
	}
}

func TestAnalyzeFacesDerivesAgeFlags(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"faces": []map[string]any{
				{"age": 14, "gender": "female", "confidence": 0.88},
				{"age": 34, "gender": "male", "confidence": 0.91},
			},
		})
	}))

	sig, err := client.AnalyzeFaces(context.Background(), analyzers.Request{ImageRef: "x"})
	if err != nil {
		t.Fatalf("AnalyzeFaces: %v", err)
	}
	if !sig.FacesDetected || len(sig.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %+v", sig)
	}
	if sig.MinAge != 14 || sig.MaxAge != 34 {
		t.Errorf("age range = [%d,%d], want [14,34]", sig.MinAge, sig.MaxAge)
	}
	if !sig.UnderageDetected {
		t.Error("expected underage flag for age 14")
	}
}

func TestDescribe(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":        200,
			"description": "a person on a beach",
			"tags":        []string{"beach", "outdoors"},
			"method":      "caption-v2",
		})
	}))

	sig, err := client.Describe(context.Background(), analyzers.Request{ImageRef: "x"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if sig.Description != "a person on a beach" || len(sig.Tags) != 2 {
		t.Errorf("unexpected signal %+v", sig)
	}
}

func TestScanText(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scan-text" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code":   200,
			"labels": []string{"minor_context"},
		})
	}))

	labels, err := client.ScanText(context.Background(), "some caption")
	if err != nil {
		t.Fatalf("ScanText: %v", err)
	}
	if len(labels) != 1 || labels[0] != "minor_context" {
		t.Errorf("labels = %v", labels)
	}
}

func TestRequestSignedWhenSecretConfigured(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-App-Signature")
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "detected": false})
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.AccessKeyID = "ak"
	cfg.AccessKeySecret = "sk"
	client := New(cfg)

	if _, err := client.AnalyzePose(context.Background(), analyzers.Request{ImageRef: "x"}); err != nil {
		t.Fatalf("AnalyzePose: %v", err)
	}
	// 64 hex chars of HMAC-SHA256.
	if len(gotSig) != 64 {
		t.Errorf("signature header = %q, want 64 hex chars", gotSig)
	}
}

func TestServerErrorRetriedThenSurfaced(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))

	_, err := client.AnalyzePose(context.Background(), analyzers.Request{ImageRef: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !sieve.IsAnalyzerError(err) {
		t.Errorf("expected analyzer error, got %T", err)
	}
	// Initial attempt plus two retries.
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEnvelopeErrorNotRetried(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"code": 4001, "message": "bad image"})
	}))

	_, err := client.Describe(context.Background(), analyzers.Request{ImageRef: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if sieve.IsRetryable(err) {
		t.Error("envelope errors must not be retryable")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
