package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/stream"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	userAgent      = "switchyard/1.0"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithVersion sets the API version header.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// Client is the HTTP client for Claude-style messages APIs.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewClient creates a new messages API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		version:    defaultVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMessage sends a non-streaming messages request.
func (c *Client) CreateMessage(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ClassifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ParseError(resp.StatusCode, respBody)
	}

	var result MessagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// StreamMessage sends a streaming messages request and returns a
// normalized pull-based stream once the upstream has accepted it.
func (c *Client) StreamMessage(ctx context.Context, req *MessagesRequest, meta stream.Meta) (*stream.Reader, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ClassifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ParseError(resp.StatusCode, respBody)
	}

	return stream.NewReader(resp.Body, eventDecoder{}, meta), nil
}

// Ping issues a lightweight reachability probe against the models
// endpoint. The response body is drained and discarded.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ClassifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ParseError(resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("User-Agent", userAgent)
}

// eventDecoder translates Claude-style SSE payloads into canonical stream
// events. The framing labels each payload with an "event:" line; the
// message_stop event ends consumption.
type eventDecoder struct{}

func (eventDecoder) Decode(eventType string, data []byte) (stream.Event, error) {
	switch eventType {
	case "message_start":
		var event MessageStartEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return stream.Event{}, err
		}
		prompt := event.Message.Usage.InputTokens
		return stream.Event{PromptTokens: &prompt}, nil

	case "content_block_delta":
		var event ContentBlockDeltaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return stream.Event{}, err
		}
		if event.Delta.Type != "text_delta" {
			return stream.Event{}, nil
		}
		return stream.Event{TextDelta: event.Delta.Text}, nil

	case "message_delta":
		var event MessageDeltaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return stream.Event{}, err
		}
		ev := stream.Event{}
		if event.Usage != nil {
			completion := event.Usage.OutputTokens
			ev.CompletionTokens = &completion
		}
		if event.Delta.StopReason != "" {
			ev.FinishReason = CanonicalStopReason(event.Delta.StopReason)
		}
		return ev, nil

	case "message_stop":
		return stream.Event{Done: true}, nil

	default:
		// ping, content_block_start, content_block_stop
		return stream.Event{}, nil
	}
}
