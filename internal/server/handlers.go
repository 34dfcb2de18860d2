package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Routing is the engine surface the HTTP host depends on.
type Routing interface {
	Route(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error)
	RouteStream(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error)
}

// HealthSource exposes the current provider health table.
type HealthSource interface {
	Snapshot() []domain.ProviderHealth
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Kind     string                `json:"kind"`
		Message  string                `json:"message"`
		Attempts []domain.AttemptError `json:"attempts,omitempty"`
	} `json:"error"`
}

// handleChatCompletions serves POST /v1/chat/completions for both JSON
// and SSE responses.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req domain.CanonicalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.RoutingInvalidRequest), "invalid JSON body", nil)
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, string(domain.RoutingInvalidRequest), "model and messages are required", nil)
		return
	}
	req.ID = GetRequestID(r.Context())

	if req.Stream {
		s.streamChatCompletion(w, r, &req)
		return
	}

	resp, err := s.routing.Route(r.Context(), &req)
	if err != nil {
		s.writeRoutingError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// streamChatCompletion writes the response as server-sent events: one
// data frame per text chunk, a final summary frame, then [DONE].
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, req *domain.CanonicalRequest) {
	stream, err := s.routing.RouteStream(r.Context(), req)
	if err != nil {
		s.writeRoutingError(w, r, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			writeSSE(w, map[string]any{"summary": stream.Summary()})
			writeSSERaw(w, "[DONE]")
			flusher.Flush()
			return
		}
		if err != nil {
			// Headers are sent; all that remains is an in-band error frame.
			writeSSE(w, map[string]any{"error": err.Error()})
			flusher.Flush()
			return
		}
		writeSSE(w, chunk)
		flusher.Flush()
	}
}

// handleHealth serves GET /v1/health with the provider health table.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"providers": s.health.Snapshot(),
	})
}

func (s *Server) writeRoutingError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := domain.AsRoutingError(err); ok {
		writeError(w, statusFor(re.Kind), string(re.Kind), re.Message, re.Attempts)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "timeout", "request deadline exceeded", nil)
		return
	}
	s.logger.Error("unexpected routing failure", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
}

func statusFor(kind domain.RoutingErrorKind) int {
	switch kind {
	case domain.RoutingInvalidRequest:
		return http.StatusBadRequest
	case domain.RoutingBudgetExceeded:
		return http.StatusPaymentRequired
	case domain.RoutingAllProvidersFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string, attempts []domain.AttemptError) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	body.Error.Attempts = attempts
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeSSE(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeSSERaw(w, string(data))
}

func writeSSERaw(w io.Writer, data string) {
	io.WriteString(w, "data: "+data+"\n\n")
}
