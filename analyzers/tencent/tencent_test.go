package tencent

import (
	"reflect"
	"testing"

	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"
	tms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tms/v20201229"

	sieve "github.com/modstack/imagesieve"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func TestParseImageResponse(t *testing.T) {
	tests := []struct {
		name      string
		resp      *ims.ImageModerationResponse
		wantPart  string
		wantScore float64
	}{
		{
			name: "sub label wins",
			resp: imageResp(&ims.ImageModerationResponseParams{
				Suggestion: strp("Block"),
				Label:      strp("Porn"),
				SubLabel:   strp("Breast"),
				Score:      i64p(87),
			}),
			wantPart:  sieve.PartBreastExposed,
			wantScore: 87,
		},
		{
			name: "top level fallback",
			resp: imageResp(&ims.ImageModerationResponseParams{
				Suggestion: strp("Review"),
				Label:      strp("Sexy"),
				Score:      i64p(55),
			}),
			wantPart:  sieve.PartBreastExposed,
			wantScore: 55,
		},
		{
			name: "unmapped label drops",
			resp: imageResp(&ims.ImageModerationResponseParams{
				Suggestion: strp("Block"),
				Label:      strp("Terror"),
				Score:      i64p(99),
			}),
		},
		{
			name: "clean",
			resp: imageResp(&ims.ImageModerationResponseParams{
				Suggestion: strp("Pass"),
				Label:      strp("Normal"),
				Score:      i64p(0),
			}),
		},
		{
			name: "empty response",
			resp: &ims.ImageModerationResponse{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := parseImageResponse(tt.resp)
			if tt.wantPart == "" {
				if len(sig.DetectedParts) != 0 {
					t.Fatalf("expected no parts, got %v", sig.DetectedParts)
				}
				return
			}
			if got := sig.DetectedParts[tt.wantPart]; got != tt.wantScore {
				t.Errorf("parts[%s] = %v, want %v", tt.wantPart, got, tt.wantScore)
			}
		})
	}
}

func imageResp(params *ims.ImageModerationResponseParams) *ims.ImageModerationResponse {
	resp := ims.NewImageModerationResponse()
	resp.Response = params
	return resp
}

func TestParseTextResponse(t *testing.T) {
	resp := tms.NewTextModerationResponse()
	resp.Response = &tms.TextModerationResponseParams{
		Suggestion: strp("Block"),
		Label:      strp("Minor"),
		Keywords:   []*string{strp("child"), strp("toddler")},
		DetailResults: []*tms.DetailResults{
			{
				Label:    strp("MinorSexual"),
				Keywords: []*string{strp("toddler"), strp("schoolgirl")},
			},
			{
				Label:    strp("Advert"),
				Keywords: []*string{strp("buy now")},
			},
		},
	}

	got := parseTextResponse(resp)
	want := []string{"child", "toddler", "schoolgirl"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseTextResponse = %v, want %v", got, want)
	}
}

func TestParseTextResponsePass(t *testing.T) {
	resp := tms.NewTextModerationResponse()
	resp.Response = &tms.TextModerationResponseParams{
		Suggestion: strp("Pass"),
		Label:      strp("Normal"),
	}

	if got := parseTextResponse(resp); len(got) != 0 {
		t.Errorf("expected no labels, got %v", got)
	}
}
