package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultDispatchTimeout bounds one upstream completion call.
const DefaultDispatchTimeout = 5 * time.Minute

// Client dispatches requests and health checks to endpoints, picking the
// wire protocol from Endpoint.Kind.
type Client struct {
	anthropic *anthropicTransport
	openai    *openAITransport
}

// NewClient creates a Client. A nil httpClient gets DefaultDispatchTimeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultDispatchTimeout}
	}
	return &Client{
		anthropic: &anthropicTransport{httpClient: httpClient},
		openai:    &openAITransport{httpClient: httpClient},
	}
}

// Dispatch sends req to ep and returns an Anthropic-shaped response.
func (c *Client) Dispatch(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	switch ep.Kind {
	case KindAnthropic, "":
		return c.anthropic.send(ctx, ep, req)
	case KindOpenAI:
		return c.openai.send(ctx, ep, req)
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", ep.Name, ep.Kind)
	}
}

// Check performs one authenticated health request against ep.
func (c *Client) Check(ctx context.Context, ep Endpoint) error {
	switch ep.Kind {
	case KindAnthropic, "":
		return c.anthropic.check(ctx, ep)
	case KindOpenAI:
		return c.openai.check(ctx, ep)
	default:
		return fmt.Errorf("provider %s: unsupported type %q", ep.Name, ep.Kind)
	}
}
