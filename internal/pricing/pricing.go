// Package pricing computes per-response cost from a configured price
// table keyed by (provider, model).
package pricing

import (
	"errors"
	"fmt"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/domain"
)

// ErrUnknownPricing indicates no price entry exists for the pair. Cost
// attribution is best effort; callers treat this as "cost unavailable",
// not a failure.
var ErrUnknownPricing = errors.New("no pricing entry for provider/model")

const tokensPerUnit = 1_000_000

// Table holds per-million-token prices in USD. Immutable after
// construction.
type Table struct {
	entries map[string]config.PricingEntry
}

// NewTable builds a price table from configuration. A later duplicate
// entry for the same pair wins.
func NewTable(entries []config.PricingEntry) *Table {
	t := &Table{entries: make(map[string]config.PricingEntry, len(entries))}
	for _, e := range entries {
		t.entries[key(e.Provider, e.Model)] = e
	}
	return t
}

// Cost computes the charge for the given usage. It returns
// ErrUnknownPricing when the pair has no entry.
func (t *Table) Cost(usage domain.Usage, providerID, model string) (domain.Cost, error) {
	e, ok := t.entries[key(providerID, model)]
	if !ok {
		return domain.Cost{}, fmt.Errorf("%w: %s/%s", ErrUnknownPricing, providerID, model)
	}

	prompt := float64(usage.PromptTokens) / tokensPerUnit * e.PromptPer1M
	completion := float64(usage.CompletionTokens) / tokensPerUnit * e.CompletionPer1M
	return domain.Cost{
		PromptCost:     prompt,
		CompletionCost: completion,
		TotalCost:      prompt + completion,
		Currency:       "USD",
	}, nil
}

func key(provider, model string) string {
	return provider + "/" + model
}
