package providers

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`, false},
		{"invalid json", `{"model":`, true},
		{"not an object", `["model"]`, true},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, true},
		{"non-string model", `{"model":5,"messages":[{"role":"user","content":"hi"}]}`, true},
		{"empty messages", `{"model":"m","messages":[]}`, true},
		{"missing messages", `{"model":"m"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRequest_Fields(t *testing.T) {
	body := `{"model":"claude-opus-4","max_tokens":2048,"stream":false,
		"thinking":{"type":"enabled","budget_tokens":1024},
		"messages":[{"role":"user","content":"think hard"}]}`
	req, err := ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest() error: %v", err)
	}
	if req.Model != "claude-opus-4" {
		t.Errorf("Model = %q", req.Model)
	}
	if req.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", req.MaxTokens)
	}
	if !req.Thinking {
		t.Error("Thinking = false, want true")
	}
	if req.Stream {
		t.Error("Stream = true, want false")
	}
}

func TestRequestWithModel_PreservesOtherFields(t *testing.T) {
	body := `{"model":"a","tools":[{"name":"grep"}],"messages":[{"role":"user","content":"x"}]}`
	req, err := ParseRequest([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	out, err := req.WithModel("b")
	if err != nil {
		t.Fatalf("WithModel() error: %v", err)
	}
	if out.Model != "b" {
		t.Errorf("Model = %q, want b", out.Model)
	}
	if got := gjson.GetBytes(out.Raw, "model").String(); got != "b" {
		t.Errorf("raw model = %q, want b", got)
	}
	if got := gjson.GetBytes(out.Raw, "tools.0.name").String(); got != "grep" {
		t.Errorf("tools lost in rewrite: %s", out.Raw)
	}
	if gjson.GetBytes(req.Raw, "model").String() != "a" {
		t.Error("WithModel mutated the original request")
	}
}

func TestEndpointServes(t *testing.T) {
	ep := Endpoint{Name: "p", Models: []string{"m1", "m2"}}
	if !ep.Serves("m2") {
		t.Error("expected m2 to be served")
	}
	if ep.Serves("m3") {
		t.Error("did not expect m3 to be served")
	}
}

func TestEstimateTokens(t *testing.T) {
	body := `{"model":"m","system":"abcd",
		"messages":[
			{"role":"user","content":"12345678"},
			{"role":"assistant","content":[{"type":"text","text":"abcd"}]}
		]}`
	req, err := ParseRequest([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	// 4 + 8 + 4 chars
	if got := EstimateTokens(req); got != 4 {
		t.Errorf("EstimateTokens() = %d, want 4", got)
	}
}

func TestEstimateTokens_Empty(t *testing.T) {
	req := Request{Raw: []byte(`{"model":"m","messages":[{"role":"user","content":""}]}`)}
	if got := EstimateTokens(req); got != 0 {
		t.Errorf("EstimateTokens() = %d, want 0", got)
	}
}

func TestPingRequest(t *testing.T) {
	req := PingRequest("claude-3-5-haiku-20241022")
	parsed, err := ParseRequest(req.Raw)
	if err != nil {
		t.Fatalf("PingRequest produced invalid payload: %v", err)
	}
	if parsed.Model != req.Model {
		t.Errorf("Model = %q, want %q", parsed.Model, req.Model)
	}
}
