package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/stream"
	"github.com/switchyard-ai/switchyard/internal/testutil"
)

func TestPingReplaysCassette(t *testing.T) {
	r := testutil.NewVCR(t, "models")
	c := NewClient("test-key", WithHTTPClient(testutil.VCRClient(r)))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion failed: %v", err)
	}
	if resp.Choices[0].Message.Content != "Hi there" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestCreateChatCompletionErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusUnauthorized, domain.ErrKindAuth},
		{http.StatusTooManyRequests, domain.ErrKindRateLimited},
		{http.StatusInternalServerError, domain.ErrKindUpstream5xx},
		{http.StatusBadRequest, domain.ErrKindBadRequest},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, `{"error": {"message": "nope", "type": "test"}}`)
		}))

		c := NewClient("k", WithBaseURL(srv.URL))
		_, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})
		srv.Close()

		pe, ok := domain.AsProviderError(err)
		if !ok {
			t.Fatalf("status %d: expected ProviderError, got %v", tt.status, err)
		}
		if pe.Kind != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, pe.Kind, tt.want)
		}
		if pe.Message != "nope" {
			t.Errorf("status %d: message = %q, want vendor message", tt.status, pe.Message)
		}
	}
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`+"\n\n")
		io.WriteString(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`+"\n\n")
		io.WriteString(w, `data: {"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	s, err := c.StreamChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"}, stream.Meta{Model: "m", Provider: "p"})
	if err != nil {
		t.Fatalf("StreamChatCompletion failed: %v", err)
	}
	defer s.Close()

	var text strings.Builder
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		text.WriteString(chunk.Text)
	}

	if text.String() != "Hello" {
		t.Errorf("content = %q, want Hello", text.String())
	}
	sum := s.Summary()
	if sum.Usage.PromptTokens != 5 || sum.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", sum.Usage)
	}
	if sum.FinishReason != domain.FinishStop {
		t.Errorf("finish = %s", sum.FinishReason)
	}
}

func TestStreamChatCompletionUpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error": {"message": "overloaded"}}`)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.StreamChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"}, stream.Meta{})
	pe, ok := domain.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Kind != domain.ErrKindUpstream5xx {
		t.Errorf("kind = %s, want upstream_5xx", pe.Kind)
	}
}

func TestCanonicalFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want domain.FinishReason
	}{
		{"stop", domain.FinishStop},
		{"length", domain.FinishLength},
		{"content_filter", domain.FinishContentFilter},
		{"", domain.FinishStop},
		{"tool_calls", domain.FinishStop},
	}
	for _, tt := range tests {
		if got := CanonicalFinishReason(tt.in); got != tt.want {
			t.Errorf("CanonicalFinishReason(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
