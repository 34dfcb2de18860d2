// Package stream normalizes vendor-framed event streams into a canonical
// pull-based sequence of text deltas terminated by a usage summary.
package stream

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Event is one decoded vendor event in canonical form. Token counts are
// pointers because vendors report them incrementally: prompt tokens often
// arrive once at stream start and completion tokens only at the end.
type Event struct {
	TextDelta        string
	PromptTokens     *int
	CompletionTokens *int
	FinishReason     domain.FinishReason
	Done             bool
}

// Decoder translates one vendor data payload into a canonical event.
// A decode error marks the payload as malformed; the reader drops it and
// keeps consuming rather than aborting the stream.
type Decoder interface {
	Decode(eventType string, data []byte) (Event, error)
}

// Meta identifies the stream for its terminal summary.
type Meta struct {
	Model     string
	Provider  string
	RequestID string
}

// Reader consumes a line-delimited event stream and implements
// domain.Stream. It is not safe for concurrent use and cannot be
// restarted.
type Reader struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	dec       Decoder
	meta      Meta
	eventType string

	promptTokens     int
	completionTokens int
	finish           domain.FinishReason
	done             bool
	err              error

	closeOnce sync.Once
	onClose   func()
}

// NewReader wraps a raw vendor byte stream.
func NewReader(body io.ReadCloser, dec Decoder, meta Meta) *Reader {
	scanner := bufio.NewScanner(body)
	// Large deltas can exceed the default token size.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	return &Reader{
		body:    body,
		scanner: scanner,
		dec:     dec,
		meta:    meta,
	}
}

// OnClose registers a hook invoked once when the stream is closed, used by
// adapters to release the request context.
func (r *Reader) OnClose(fn func()) {
	r.onClose = fn
}

// Recv returns the next text delta. It returns io.EOF once the vendor
// signals completion (or the stream ends cleanly), and a *domain.StreamError
// if the underlying read fails mid-flight.
func (r *Reader) Recv() (domain.Chunk, error) {
	if r.err != nil {
		return domain.Chunk{}, r.err
	}
	if r.done {
		return domain.Chunk{}, io.EOF
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			r.eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		ev, err := r.dec.Decode(r.eventType, []byte(data))
		if err != nil {
			// One corrupt chunk must not abort an otherwise-good stream.
			continue
		}
		r.absorb(ev)
		if ev.Done {
			r.done = true
			return domain.Chunk{}, io.EOF
		}
		if ev.TextDelta != "" {
			return domain.Chunk{Text: ev.TextDelta}, nil
		}
	}

	if err := r.scanner.Err(); err != nil {
		r.finish = domain.FinishError
		r.err = &domain.StreamError{ProviderID: r.meta.Provider, Err: err}
		return domain.Chunk{}, r.err
	}

	// Stream ended without an explicit sentinel; treat as a clean finish.
	r.done = true
	return domain.Chunk{}, io.EOF
}

func (r *Reader) absorb(ev Event) {
	if ev.PromptTokens != nil {
		r.promptTokens = *ev.PromptTokens
	}
	if ev.CompletionTokens != nil {
		r.completionTokens = *ev.CompletionTokens
	}
	if ev.FinishReason != "" {
		r.finish = ev.FinishReason
	}
}

// Summary returns the terminal record. It is meaningful once Recv has
// returned io.EOF or an error.
func (r *Reader) Summary() domain.StreamSummary {
	finish := r.finish
	if finish == "" {
		finish = domain.FinishStop
	}
	return domain.StreamSummary{
		Model:     r.meta.Model,
		Provider:  r.meta.Provider,
		RequestID: r.meta.RequestID,
		Usage: domain.Usage{
			PromptTokens:     r.promptTokens,
			CompletionTokens: r.completionTokens,
			TotalTokens:      r.promptTokens + r.completionTokens,
		},
		FinishReason: finish,
	}
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.body.Close()
		if r.onClose != nil {
			r.onClose()
		}
	})
	return err
}

var _ domain.Stream = (*Reader)(nil)
