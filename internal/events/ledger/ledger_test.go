package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/events"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func endEvent(provider string, tokens int, cost float64) events.Event {
	return events.Event{
		Type:      events.TypeRequestEnd,
		RequestID: "req-1",
		Model:     "chat-default",
		Provider:  provider,
		Usage:     domain.Usage{PromptTokens: tokens - 1, CompletionTokens: 1, TotalTokens: tokens},
		Cost:      &domain.Cost{TotalCost: cost, Currency: "USD"},
		Timestamp: time.Now().UTC(),
	}
}

func TestLedgerRecordsRequestEnd(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	l.Publish(ctx, endEvent("p1", 10, 0.001))
	l.Publish(ctx, endEvent("p1", 20, 0.002))
	l.Publish(ctx, endEvent("p2", 5, 0.0005))

	totals, err := l.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("totals = %+v", totals)
	}

	if totals[0].Provider != "p1" || totals[0].Requests != 2 || totals[0].TotalTokens != 30 {
		t.Errorf("p1 totals = %+v", totals[0])
	}
	if totals[1].Provider != "p2" || totals[1].Requests != 1 || totals[1].TotalTokens != 5 {
		t.Errorf("p2 totals = %+v", totals[1])
	}
}

func TestLedgerIgnoresOtherEventTypes(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	l.Publish(ctx, events.Event{Type: events.TypeRequestStart, RequestID: "r", Model: "m"})
	l.Publish(ctx, events.Event{Type: events.TypeAttemptFailed, RequestID: "r", Model: "m", Provider: "p"})

	totals, err := l.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if len(totals) != 0 {
		t.Errorf("totals = %+v, want empty", totals)
	}
}

func TestLedgerNilCost(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ev := endEvent("p1", 10, 0)
	ev.Cost = nil
	l.Publish(ctx, ev)

	totals, err := l.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if len(totals) != 1 || totals[0].TotalCostUSD != 0 {
		t.Errorf("totals = %+v", totals)
	}
}
