package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

type stubRouting struct {
	routeFn  func(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error)
	streamFn func(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error)
}

func (s *stubRouting) Route(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	return s.routeFn(ctx, req)
}

func (s *stubRouting) RouteStream(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error) {
	return s.streamFn(ctx, req)
}

type stubHealth struct{ snapshot []domain.ProviderHealth }

func (s *stubHealth) Snapshot() []domain.ProviderHealth { return s.snapshot }

type stubStream struct {
	chunks []string
	pos    int
}

func (s *stubStream) Recv() (domain.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return domain.Chunk{}, io.EOF
	}
	chunk := domain.Chunk{Text: s.chunks[s.pos]}
	s.pos++
	return chunk, nil
}

func (s *stubStream) Summary() domain.StreamSummary {
	return domain.StreamSummary{
		Provider:     "p1",
		Model:        "m1",
		Usage:        domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		FinishReason: domain.FinishStop,
	}
}

func (s *stubStream) Close() error { return nil }

func newTestServer(routing Routing, health HealthSource) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(0, 5*time.Second, routing, health, logger)
}

func TestChatCompletionsJSON(t *testing.T) {
	routing := &stubRouting{
		routeFn: func(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
			if req.ID == "" {
				t.Error("request id not propagated from middleware")
			}
			return &domain.CanonicalResponse{
				Provider: "p1",
				Model:    req.Model,
				Content:  "hi",
				Usage:    domain.Usage{TotalTokens: 5},
			}, nil
		},
	}
	srv := newTestServer(routing, &stubHealth{})

	body := `{"model": "chat-default", "messages": [{"role": "user", "content": "hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var resp domain.CanonicalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Content != "hi" || resp.Provider != "p1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatCompletionsValidation(t *testing.T) {
	srv := newTestServer(&stubRouting{}, &stubHealth{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing model", `{"messages": [{"role": "user", "content": "x"}]}`},
		{"missing messages", `{"model": "chat-default"}`},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
		}
	}
}

func TestChatCompletionsRoutingErrors(t *testing.T) {
	tests := []struct {
		kind domain.RoutingErrorKind
		want int
	}{
		{domain.RoutingInvalidRequest, http.StatusBadRequest},
		{domain.RoutingBudgetExceeded, http.StatusPaymentRequired},
		{domain.RoutingAllProvidersFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		routing := &stubRouting{
			routeFn: func(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
				return nil, &domain.RoutingError{Kind: tt.kind, Message: "scripted"}
			},
		}
		srv := newTestServer(routing, &stubHealth{})

		body := `{"model": "chat-default", "messages": [{"role": "user", "content": "x"}]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.kind, rec.Code, tt.want)
		}
		var eb errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &eb); err != nil {
			t.Fatalf("%s: invalid error body: %v", tt.kind, err)
		}
		if eb.Error.Kind != string(tt.kind) {
			t.Errorf("%s: error kind = %q", tt.kind, eb.Error.Kind)
		}
	}
}

func TestChatCompletionsSSE(t *testing.T) {
	routing := &stubRouting{
		streamFn: func(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error) {
			return &stubStream{chunks: []string{"Hel", "lo"}}, nil
		},
	}
	srv := newTestServer(routing, &stubHealth{})

	body := `{"model": "chat-default", "messages": [{"role": "user", "content": "x"}], "stream": true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	out := rec.Body.String()
	if !strings.Contains(out, `data: {"text":"Hel"}`) || !strings.Contains(out, `data: {"text":"lo"}`) {
		t.Errorf("missing chunk frames:\n%s", out)
	}
	if !strings.Contains(out, `"summary"`) {
		t.Errorf("missing summary frame:\n%s", out)
	}
	if !strings.Contains(out, "data: [DONE]") {
		t.Errorf("missing DONE frame:\n%s", out)
	}
}

func TestHealthEndpoint(t *testing.T) {
	health := &stubHealth{snapshot: []domain.ProviderHealth{
		{ProviderID: "p1", Status: domain.StatusHealthy},
		{ProviderID: "p2", Status: domain.StatusDegraded},
	}}
	srv := newTestServer(&stubRouting{}, health)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Providers []domain.ProviderHealth `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body.Providers) != 2 {
		t.Errorf("providers = %+v", body.Providers)
	}
}
