package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openaiapi "github.com/switchyard-ai/switchyard/internal/api/openai"
	"github.com/switchyard-ai/switchyard/internal/domain"
)

func TestProcessPassesMessagesThrough(t *testing.T) {
	var captured openaiapi.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 1, "total_tokens": 8}
		}`)
	}))
	defer srv.Close()

	p := New("openai-main", "key", WithBaseURL(srv.URL))
	resp, err := p.Process(context.Background(), &domain.CanonicalRequest{
		Model:  "gpt-4o",
		UserID: "user-7",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Be brief."},
			{Role: domain.RoleUser, Content: "Hello"},
		},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// System messages stay in the list for this wire format.
	if len(captured.Messages) != 2 || captured.Messages[0].Role != domain.RoleSystem {
		t.Errorf("messages = %+v", captured.Messages)
	}
	if captured.User != "user-7" {
		t.Errorf("user = %q", captured.User)
	}

	if resp.FinishReason != domain.FinishLength {
		t.Errorf("finish = %s, want length", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestProcessDerivesTotalTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, `{
			"id": "chatcmpl-2",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 17}
		}`)
	}))
	defer srv.Close()

	p := New("openai-main", "key", WithBaseURL(srv.URL))
	resp, err := p.Process(context.Background(), &domain.CanonicalRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// An inconsistent upstream total never leaks through.
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want prompt+completion = 15", resp.Usage.TotalTokens)
	}
}

func TestProcessStreamEstablishmentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "rate limited"}}`)
	}))
	defer srv.Close()

	p := New("openai-main", "key", WithBaseURL(srv.URL))
	_, err := p.ProcessStream(context.Background(), &domain.CanonicalRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})

	pe, ok := domain.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Kind != domain.ErrKindRateLimited {
		t.Errorf("kind = %s, want rate_limited", pe.Kind)
	}
	if pe.ProviderID != "openai-main" {
		t.Errorf("provider id = %q", pe.ProviderID)
	}
}

func TestProcessStreamDelivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"id":"c1","choices":[{"index":0,"delta":{"content":"hey"},"finish_reason":null}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New("openai-main", "key", WithBaseURL(srv.URL))
	s, err := p.ProcessStream(context.Background(), &domain.CanonicalRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ProcessStream failed: %v", err)
	}
	defer s.Close()

	chunk, err := s.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if chunk.Text != "hey" {
		t.Errorf("chunk = %q", chunk.Text)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if s.Summary().Provider != "openai-main" {
		t.Errorf("summary provider = %q", s.Summary().Provider)
	}
}
