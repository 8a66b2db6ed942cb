package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// anthropicTransport forwards raw Messages payloads to Anthropic-compatible APIs.
type anthropicTransport struct {
	httpClient *http.Client
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type anthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []anthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        anthropicUsage          `json:"usage"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorResponse struct {
	Type  string         `json:"type"`
	Error anthropicError `json:"error"`
}

func (t *anthropicTransport) setHeaders(r *http.Request, ep Endpoint) {
	r.Header.Set("x-api-key", ep.APIKey)
	r.Header.Set("anthropic-version", anthropicVersion)
	r.Header.Set("content-type", "application/json")
}

func (t *anthropicTransport) send(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(ep, "/v1/messages"), bytes.NewReader(req.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(httpReq, ep)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, anthropicUpstreamError(ep.Name, httpResp.StatusCode, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &Response{
		Raw:   body,
		ID:    parsed.ID,
		Model: parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens + parsed.Usage.CacheReadInputTokens + parsed.Usage.CacheCreationInputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

// check lists models, which every Anthropic-compatible API serves cheaply.
func (t *anthropicTransport) check(ctx context.Context, ep Endpoint) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL(ep, "/v1/models"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	t.setHeaders(httpReq, ep)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		return anthropicUpstreamError(ep.Name, httpResp.StatusCode, body)
	}
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return nil
}

func anthropicUpstreamError(provider string, status int, body []byte) error {
	var errResp anthropicErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	return &UpstreamError{Provider: provider, Status: status, Message: msg}
}

func endpointURL(ep Endpoint, path string) string {
	base := strings.TrimRight(ep.BaseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		base = strings.TrimSuffix(base, "/v1")
	}
	return base + path
}
