// Package ledger persists completed-request usage records to SQLite so
// cost and token consumption survive restarts.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/switchyard-ai/switchyard/internal/events"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS usage_ledger (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id         TEXT NOT NULL,
		model              TEXT NOT NULL,
		provider           TEXT NOT NULL,
		streaming          INTEGER NOT NULL DEFAULT 0,
		fallback_used      INTEGER NOT NULL DEFAULT 0,
		prompt_tokens      INTEGER NOT NULL DEFAULT 0,
		completion_tokens  INTEGER NOT NULL DEFAULT 0,
		total_tokens       INTEGER NOT NULL DEFAULT 0,
		usage_estimated    INTEGER NOT NULL DEFAULT 0,
		cost_usd           REAL,
		duration_ms        INTEGER NOT NULL DEFAULT 0,
		created_at         TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_ledger_provider ON usage_ledger(provider)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_ledger_created_at ON usage_ledger(created_at)`,
}

// Ledger is an events.Sink that records request_end events. Other event
// types pass through untouched.
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens or creates the ledger database at path and ensures the
// schema exists.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	return &Ledger{db: db, logger: logger}, nil
}

// Publish records a completed request. Insert failures are logged, not
// propagated; accounting must not fail requests.
func (l *Ledger) Publish(ctx context.Context, ev events.Event) {
	if ev.Type != events.TypeRequestEnd {
		return
	}

	var cost *float64
	if ev.Cost != nil {
		cost = &ev.Cost.TotalCost
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_ledger (
			request_id, model, provider, streaming, fallback_used,
			prompt_tokens, completion_tokens, total_tokens,
			usage_estimated, cost_usd, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Model, ev.Provider, ev.Streaming, ev.FallbackUsed,
		ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.TotalTokens,
		ev.UsageEstimated, cost, ev.DurationMs, ev.Timestamp)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to record usage",
			slog.String("request_id", ev.RequestID),
			slog.String("error", err.Error()))
	}
}

// ProviderTotals is an aggregate row from the ledger.
type ProviderTotals struct {
	Provider     string  `db:"provider"`
	Requests     int64   `db:"requests"`
	TotalTokens  int64   `db:"total_tokens"`
	TotalCostUSD float64 `db:"total_cost_usd"`
}

// Totals returns per-provider aggregates over the whole ledger.
func (l *Ledger) Totals(ctx context.Context) ([]ProviderTotals, error) {
	var rows []ProviderTotals
	err := l.db.SelectContext(ctx, &rows, `
		SELECT provider,
		       COUNT(*) AS requests,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(cost_usd), 0) AS total_cost_usd
		FROM usage_ledger
		GROUP BY provider
		ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger totals: %w", err)
	}
	return rows, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

var _ events.Sink = (*Ledger)(nil)
