package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// openAITransport serves Messages payloads from OpenAI-compatible chat
// completion APIs. Only text content survives the translation.
type openAITransport struct {
	httpClient *http.Client
}

func (t *openAITransport) client(ep Endpoint) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(ep.APIKey),
		option.WithHTTPClient(t.httpClient),
		// Retries belong to the fallback loop, not the SDK.
		option.WithMaxRetries(0),
	}
	if ep.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ep.BaseURL))
	}
	return openai.NewClient(opts...)
}

func (t *openAITransport) send(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	client := t.client(ep)
	completion, err := client.Chat.Completions.New(ctx, buildOpenAIParams(req))
	if err != nil {
		return nil, openAIUpstreamError(ep.Name, err)
	}

	out := anthropicResponse{
		ID:    completion.ID,
		Type:  "message",
		Role:  RoleAssistant,
		Model: completion.Model,
		Usage: anthropicUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		Content: []anthropicContentBlock{},
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		out.Content = append(out.Content, anthropicContentBlock{Type: ContentTypeText, Text: choice.Message.Content})
		out.StopReason = anthropicStopReason(string(choice.FinishReason))
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &Response{
		Raw:   raw,
		ID:    out.ID,
		Model: out.Model,
		Usage: Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens},
	}, nil
}

func (t *openAITransport) check(ctx context.Context, ep Endpoint) error {
	client := t.client(ep)
	if _, err := client.Models.List(ctx); err != nil {
		return openAIUpstreamError(ep.Name, err)
	}
	return nil
}

// buildOpenAIParams converts a Messages payload to chat completion params.
func buildOpenAIParams(req Request) openai.ChatCompletionNewParams {
	doc := gjson.ParseBytes(req.Raw)

	var msgs []openai.ChatCompletionMessageParamUnion
	if system := contentText(doc.Get("system")); system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	doc.Get("messages").ForEach(func(_, m gjson.Result) bool {
		text := contentText(m.Get("content"))
		if m.Get("role").String() == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(text))
		} else {
			msgs = append(msgs, openai.UserMessage(text))
		}
		return true
	})

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if temp := doc.Get("temperature"); temp.Exists() {
		params.Temperature = openai.Float(temp.Float())
	}
	if topP := doc.Get("top_p"); topP.Exists() {
		params.TopP = openai.Float(topP.Float())
	}
	return params
}

// contentText flattens a string or content-block array into plain text.
func contentText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	var parts []string
	v.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case ContentTypeText:
			parts = append(parts, block.Get("text").String())
		case "tool_result":
			parts = append(parts, contentText(block.Get("content")))
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func anthropicStopReason(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "":
		return ""
	default:
		return "end_turn"
	}
}

func openAIUpstreamError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &UpstreamError{Provider: provider, Status: apiErr.StatusCode, Message: msg}
	}
	return fmt.Errorf("request failed: %w", err)
}
