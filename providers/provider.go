// Package providers talks to the upstream LLM APIs a router configuration
// points at.
//
// Requests travel as raw Anthropic Messages payloads so fields the router
// does not understand (tools, metadata, cache control) reach the upstream
// untouched; only the model field is rewritten. Endpoints of type "openai"
// are served through the openai-go SDK and their responses are reshaped into
// Anthropic Messages responses.
//
// Core types: Endpoint, Request, Response, Usage, Client.
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind selects the wire protocol used for an endpoint.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	// ContentTypeText is the content-block type for plain text.
	ContentTypeText = "text"
)

// Endpoint is one configured upstream provider.
type Endpoint struct {
	Name    string
	Kind    Kind
	BaseURL string
	APIKey  string
	Models  []string
}

// Serves reports whether model is in the endpoint's configured model list.
func (e Endpoint) Serves(model string) bool {
	return slices.Contains(e.Models, model)
}

// Request is an inbound Messages payload plus the fields routing looks at.
type Request struct {
	Raw       []byte
	Model     string
	MaxTokens int
	Stream    bool
	Thinking  bool
}

// ParseRequest validates the minimal shape of a Messages payload and
// extracts the routing-relevant fields.
func ParseRequest(raw []byte) (Request, error) {
	if !gjson.ValidBytes(raw) {
		return Request{}, errors.New("request body is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Request{}, errors.New("request body must be a JSON object")
	}
	model := doc.Get("model")
	if model.Type != gjson.String || model.String() == "" {
		return Request{}, errors.New("model is required")
	}
	messages := doc.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return Request{}, errors.New("messages must be a non-empty array")
	}

	thinking := doc.Get("thinking")
	return Request{
		Raw:       raw,
		Model:     model.String(),
		MaxTokens: int(doc.Get("max_tokens").Int()),
		Stream:    doc.Get("stream").Bool(),
		Thinking:  thinking.Get("type").String() == "enabled" || (thinking.Type == gjson.True),
	}, nil
}

// WithModel returns a copy of r whose payload targets model.
func (r Request) WithModel(model string) (Request, error) {
	if model == r.Model {
		return r, nil
	}
	raw, err := sjson.SetBytes(r.Raw, "model", model)
	if err != nil {
		return Request{}, fmt.Errorf("rewrite model: %w", err)
	}
	r.Raw = raw
	r.Model = model
	return r, nil
}

// Usage carries token consumption reported by the upstream.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is an Anthropic-shaped Messages response body.
type Response struct {
	Raw   json.RawMessage
	ID    string
	Model string
	Usage Usage
}

// UpstreamError is a non-success answer from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// PingRequest builds the minimal payload used by ad-hoc model tests.
func PingRequest(model string) Request {
	raw, _ := json.Marshal(map[string]any{
		"model":      model,
		"max_tokens": 16,
		"messages": []map[string]string{
			{"role": RoleUser, "content": "ping"},
		},
	})
	return Request{Raw: raw, Model: model, MaxTokens: 16}
}
