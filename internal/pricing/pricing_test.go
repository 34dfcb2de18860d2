package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/domain"
)

func TestTableCost(t *testing.T) {
	table := NewTable([]config.PricingEntry{
		{Provider: "openai-main", Model: "gpt-4o", PromptPer1M: 2.50, CompletionPer1M: 10.00},
	})

	cost, err := table.Cost(domain.Usage{PromptTokens: 1000, CompletionTokens: 500}, "openai-main", "gpt-4o")
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}

	wantPrompt := 0.0025
	wantCompletion := 0.005
	if math.Abs(cost.PromptCost-wantPrompt) > 1e-9 {
		t.Errorf("prompt cost = %f, want %f", cost.PromptCost, wantPrompt)
	}
	if math.Abs(cost.CompletionCost-wantCompletion) > 1e-9 {
		t.Errorf("completion cost = %f, want %f", cost.CompletionCost, wantCompletion)
	}
	if math.Abs(cost.TotalCost-(wantPrompt+wantCompletion)) > 1e-9 {
		t.Errorf("total cost = %f", cost.TotalCost)
	}
	if cost.Currency != "USD" {
		t.Errorf("currency = %q", cost.Currency)
	}
}

func TestTableUnknownPair(t *testing.T) {
	table := NewTable(nil)
	_, err := table.Cost(domain.Usage{PromptTokens: 10}, "nobody", "nothing")
	if !errors.Is(err, ErrUnknownPricing) {
		t.Errorf("expected ErrUnknownPricing, got %v", err)
	}
}

func TestTableZeroUsageIsFree(t *testing.T) {
	table := NewTable([]config.PricingEntry{
		{Provider: "p", Model: "m", PromptPer1M: 3, CompletionPer1M: 15},
	})
	cost, err := table.Cost(domain.Usage{}, "p", "m")
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost.TotalCost != 0 {
		t.Errorf("total cost = %f, want 0", cost.TotalCost)
	}
}
