package store

import (
	"context"
	"time"
)

// RetentionResult reports how many rows were purged by RunRetention, per
// table, for the daily digest/cleanup system job to log.
type RetentionResult struct {
	EventsDeleted       int64
	HistoryDeleted      int64
	QuotaBucketsDeleted int64
}

// RunRetention deletes event, agent_history, and quota_bucket rows older
// than their respective cutoffs. Decisions and escalations are never
// purged here; they're the audit trail of governance outcomes.
func (s *Store) RunRetention(ctx context.Context, eventDays, historyDays, quotaDays int) (RetentionResult, error) {
	var res RetentionResult
	now := time.Now().UTC()

	eventCutoff := now.AddDate(0, 0, -eventDays).Format(time.RFC3339Nano)
	r, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, eventCutoff)
	if err != nil {
		return res, err
	}
	res.EventsDeleted, _ = r.RowsAffected()

	historyCutoff := now.AddDate(0, 0, -historyDays).Format(time.RFC3339Nano)
	r, err = s.db.ExecContext(ctx, `DELETE FROM agent_history WHERE created_at < ?`, historyCutoff)
	if err != nil {
		return res, err
	}
	res.HistoryDeleted, _ = r.RowsAffected()

	n, err := s.PurgeExpiredBuckets(ctx, now.AddDate(0, 0, -quotaDays))
	if err != nil {
		return res, err
	}
	res.QuotaBucketsDeleted = n

	return res, nil
}
