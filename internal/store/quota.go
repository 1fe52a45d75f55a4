package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// QuotaBucket is a running usage counter for one provider over one rolling
// window (monthly, 5h, or 7d).
type QuotaBucket struct {
	Provider         string
	WindowKind       string // monthly | 5h | 7d
	WindowStart      time.Time
	PromptTokens     int64
	CompletionTokens int64
	RequestCount     int64
	CostUSD          float64
}

// RecordUsage adds usage to the bucket for (provider, windowKind,
// windowStart), creating it if absent. windowStart must already be
// normalized to the window's boundary by the caller (quota manager).
func (s *Store) RecordUsage(ctx context.Context, provider, windowKind string, windowStart time.Time, promptTokens, completionTokens int64, costUSD float64) error {
	ws := windowStart.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_buckets (provider, window_kind, window_start, prompt_tokens, completion_tokens, request_count, cost_usd)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(provider, window_kind, window_start) DO UPDATE SET
			prompt_tokens = prompt_tokens + excluded.prompt_tokens,
			completion_tokens = completion_tokens + excluded.completion_tokens,
			request_count = request_count + 1,
			cost_usd = cost_usd + excluded.cost_usd`,
		provider, windowKind, ws, promptTokens, completionTokens, costUSD)
	return err
}

// GetUsage returns the current bucket for (provider, windowKind,
// windowStart), or a zero-valued bucket if no usage has been recorded yet.
func (s *Store) GetUsage(ctx context.Context, provider, windowKind string, windowStart time.Time) (QuotaBucket, error) {
	ws := windowStart.UTC().Format(time.RFC3339Nano)
	qb := QuotaBucket{Provider: provider, WindowKind: windowKind, WindowStart: windowStart}
	row := s.db.QueryRowContext(ctx, `
		SELECT prompt_tokens, completion_tokens, request_count, cost_usd
		FROM quota_buckets WHERE provider = ? AND window_kind = ? AND window_start = ?`, provider, windowKind, ws)
	err := row.Scan(&qb.PromptTokens, &qb.CompletionTokens, &qb.RequestCount, &qb.CostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return qb, nil
	}
	return qb, err
}

// PurgeExpiredBuckets deletes quota buckets whose window started before
// cutoff, invoked by the retention job so the table doesn't grow
// unbounded across long-running deployments.
func (s *Store) PurgeExpiredBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quota_buckets WHERE window_start < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
