// Package anthropic provides the wire types and HTTP client for
// Claude-style messages APIs.
package anthropic

import (
	"encoding/json"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// MessagesRequest represents a messages API request. System instructions
// live in a dedicated field rather than the message list.
type MessagesRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float32  `json:"temperature,omitempty"`
	TopP          *float32  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

// Message represents a conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesResponse represents a complete messages API response.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock is one element of a response's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage as reported by the vendor.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming event payloads.

// MessageStartEvent carries the initial message envelope, including
// prompt token usage.
type MessageStartEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string `json:"id"`
		Role  string `json:"role"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message"`
}

// ContentBlockDeltaEvent carries one text delta.
type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// MessageDeltaEvent carries the stop reason and final output token count.
type MessageDeltaEvent struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *Usage `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Type  string          `json:"type"`
	Error *APIErrorDetail `json:"error"`
}

// APIErrorDetail contains vendor error details.
type APIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CanonicalStopReason maps the wire stop_reason to the canonical enum.
func CanonicalStopReason(reason string) domain.FinishReason {
	switch reason {
	case "max_tokens":
		return domain.FinishLength
	case "refusal":
		return domain.FinishContentFilter
	case "end_turn", "stop_sequence", "":
		return domain.FinishStop
	default:
		return domain.FinishStop
	}
}

// ParseError builds a canonical provider error from a non-2xx response
// body.
func ParseError(status int, body []byte) *domain.ProviderError {
	message := string(body)
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		message = errResp.Error.Message
	}
	return &domain.ProviderError{
		Kind:       domain.KindFromStatus(status),
		StatusCode: status,
		Message:    message,
	}
}
