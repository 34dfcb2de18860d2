// Package tokens estimates token usage for responses whose provider did
// not report counts. Estimates are flagged as such downstream; they feed
// cost attribution, never billing truth.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Estimator counts tokens with a tiktoken codec when one is known for
// the model, and falls back to a character heuristic otherwise.
type Estimator struct {
	mu       sync.Mutex
	fallback tokenizer.Codec
}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate produces approximate usage for a request and its response
// content.
func (e *Estimator) Estimate(req *domain.CanonicalRequest, content, model string) domain.Usage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += e.Count(m.Content, model)
		// Per-message framing overhead.
		prompt += 4
	}
	completion := e.Count(content, model)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Count returns the token count for one piece of text.
func (e *Estimator) Count(text, model string) int {
	if text == "" {
		return 0
	}
	codec, err := e.codec(model)
	if err != nil {
		return heuristic(text)
	}
	n, err := codec.Count(text)
	if err != nil {
		return heuristic(text)
	}
	return n
}

func (e *Estimator) codec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fallback != nil {
		return e.fallback, nil
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	e.fallback = codec
	return codec, nil
}

// heuristic approximates four characters per token.
func heuristic(text string) int {
	return (len(text) + 3) / 4
}
