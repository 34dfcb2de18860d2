package stream

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// testDecoder decodes JSON payloads of the form
// {"text":"..","prompt":n,"completion":n,"finish":"..","done":true}.
type testDecoder struct{}

func (testDecoder) Decode(_ string, data []byte) (Event, error) {
	var payload struct {
		Text       string `json:"text"`
		Prompt     *int   `json:"prompt"`
		Completion *int   `json:"completion"`
		Finish     string `json:"finish"`
		Done       bool   `json:"done"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Event{}, err
	}
	return Event{
		TextDelta:        payload.Text,
		PromptTokens:     payload.Prompt,
		CompletionTokens: payload.Completion,
		FinishReason:     domain.FinishReason(payload.Finish),
		Done:             payload.Done,
	}, nil
}

func newTestReader(body string) *Reader {
	return NewReader(io.NopCloser(strings.NewReader(body)), testDecoder{}, Meta{
		Model:     "test-model",
		Provider:  "test-provider",
		RequestID: "req-1",
	})
}

func collect(t *testing.T, r *Reader) []string {
	t.Helper()
	var chunks []string
	for {
		chunk, err := r.Recv()
		if err == io.EOF {
			return chunks
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		chunks = append(chunks, chunk.Text)
	}
}

func TestReaderDeliversDeltas(t *testing.T) {
	body := "data: {\"text\":\"Hello\"}\n\n" +
		"data: {\"text\":\" world\"}\n\n" +
		"data: {\"prompt\":10,\"completion\":2,\"finish\":\"stop\",\"done\":true}\n\n"

	r := newTestReader(body)
	chunks := collect(t, r)

	if got := strings.Join(chunks, ""); got != "Hello world" {
		t.Errorf("content = %q, want %q", got, "Hello world")
	}

	sum := r.Summary()
	if sum.Usage.PromptTokens != 10 || sum.Usage.CompletionTokens != 2 || sum.Usage.TotalTokens != 12 {
		t.Errorf("unexpected usage: %+v", sum.Usage)
	}
	if sum.FinishReason != domain.FinishStop {
		t.Errorf("finish = %s, want stop", sum.FinishReason)
	}
	if sum.Provider != "test-provider" || sum.Model != "test-model" || sum.RequestID != "req-1" {
		t.Errorf("unexpected meta: %+v", sum)
	}
}

func TestReaderDeterministicForSameFraming(t *testing.T) {
	body := "data: {\"text\":\"one\"}\n\n" +
		"data: {\"text\":\"two\",\"prompt\":8}\n\n" +
		"data: {\"text\":\"three\"}\n\n" +
		"data: {\"completion\":3,\"finish\":\"stop\",\"done\":true}\n\n"

	first := collect(t, newTestReader(body))
	second := collect(t, newTestReader(body))

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d: %q vs %q", i, first[i], second[i])
		}
	}

	a, b := newTestReader(body), newTestReader(body)
	collect(t, a)
	collect(t, b)
	if !reflect.DeepEqual(a.Summary(), b.Summary()) {
		t.Errorf("summaries differ: %+v vs %+v", a.Summary(), b.Summary())
	}
}

func TestReaderSkipsMalformedChunk(t *testing.T) {
	body := "data: {\"text\":\"a\"}\n\n" +
		"data: {not json\n\n" +
		"data: {\"text\":\"b\"}\n\n" +
		"data: {\"done\":true}\n\n"

	r := newTestReader(body)
	chunks := collect(t, r)

	if got := strings.Join(chunks, ""); got != "ab" {
		t.Errorf("content = %q, want %q", got, "ab")
	}
}

func TestReaderCleanEOFWithoutSentinel(t *testing.T) {
	r := newTestReader("data: {\"text\":\"a\"}\n\n")
	chunks := collect(t, r)

	if len(chunks) != 1 || chunks[0] != "a" {
		t.Fatalf("chunks = %v", chunks)
	}
	if r.Summary().FinishReason != domain.FinishStop {
		t.Errorf("finish = %s, want stop", r.Summary().FinishReason)
	}
}

func TestReaderRecvAfterEOF(t *testing.T) {
	r := newTestReader("data: {\"done\":true}\n\n")
	if _, err := r.Recv(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, err := r.Recv(); err != io.EOF {
		t.Errorf("Recv after EOF = %v, want EOF", err)
	}
}

// brokenReader fails partway through the body.
type brokenReader struct {
	data string
	pos  int
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, errors.New("connection reset")
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func (b *brokenReader) Close() error { return nil }

func TestReaderMidStreamFailure(t *testing.T) {
	r := NewReader(&brokenReader{data: "data: {\"text\":\"partial\"}\n\n"}, testDecoder{}, Meta{Provider: "p1"})

	chunk, err := r.Recv()
	if err != nil {
		t.Fatalf("first Recv failed: %v", err)
	}
	if chunk.Text != "partial" {
		t.Errorf("chunk = %q", chunk.Text)
	}

	_, err = r.Recv()
	var se *domain.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if se.ProviderID != "p1" {
		t.Errorf("provider = %q, want p1", se.ProviderID)
	}
	if r.Summary().FinishReason != domain.FinishError {
		t.Errorf("finish = %s, want error", r.Summary().FinishReason)
	}

	// The error is sticky.
	if _, err2 := r.Recv(); !errors.As(err2, &se) {
		t.Errorf("second Recv = %v, want same StreamError", err2)
	}
}

func TestReaderCloseInvokesHook(t *testing.T) {
	r := newTestReader("data: {\"done\":true}\n\n")
	calls := 0
	r.OnClose(func() { calls++ })

	r.Close()
	r.Close()
	if calls != 1 {
		t.Errorf("close hook ran %d times, want 1", calls)
	}
}
