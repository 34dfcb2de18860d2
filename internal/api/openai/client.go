package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	userAgent      = "switchyard/1.0"
	doneSentinel   = "[DONE]"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL, e.g. for an OpenAI-compatible vendor.
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

// Client is the HTTP client for OpenAI-compatible APIs.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
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

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// StreamChatCompletion sends a streaming request and returns a normalized
// pull-based stream once the upstream has accepted it.
func (c *Client) StreamChatCompletion(ctx context.Context, req *ChatCompletionRequest, meta stream.Meta) (*stream.Reader, error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
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

	return stream.NewReader(resp.Body, chunkDecoder{}, meta), nil
}

// Ping issues a lightweight reachability probe against the models
// endpoint. The response body is drained and discarded.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)
}

// chunkDecoder translates OpenAI-style SSE payloads into canonical stream
// events. The framing uses bare "data:" lines with a [DONE] sentinel.
type chunkDecoder struct{}

func (chunkDecoder) Decode(_ string, data []byte) (stream.Event, error) {
	if string(data) == doneSentinel {
		return stream.Event{Done: true}, nil
	}

	var chunk ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return stream.Event{}, err
	}

	ev := stream.Event{}
	if chunk.Usage != nil {
		ev.PromptTokens = &chunk.Usage.PromptTokens
		ev.CompletionTokens = &chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		ev.TextDelta = choice.Delta.Content
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			ev.FinishReason = CanonicalFinishReason(*choice.FinishReason)
		}
	}
	return ev, nil
}
