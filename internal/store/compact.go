package store

import (
	"context"
	"fmt"
	"time"
)

// compactBatchSize bounds how many rows one DELETE statement removes, so
// compaction never holds the write lock for long while dispatch is writing.
const compactBatchSize = 500

// CompactResult reports rows removed by Compact.
type CompactResult struct {
	Dedup int64 `json:"dedup"`
	Tasks int64 `json:"tasks"`
}

// Compact deletes dedup records created before olderThan and deferred tasks
// that expired before now. Rows are removed in batches, each batch its own
// statement.
func (s *Store) Compact(ctx context.Context, olderThan, now time.Time) (CompactResult, error) {
	var (
		res CompactResult
		err error
	)

	res.Dedup, err = s.deleteInBatches(ctx, `
		DELETE FROM dedup_records WHERE id IN (
			SELECT id FROM dedup_records WHERE created_at < ? LIMIT ?
		)
	`, unixSeconds(olderThan))
	if err != nil {
		return res, fmt.Errorf("compact dedup records: %w", err)
	}

	res.Tasks, err = s.deleteInBatches(ctx, `
		DELETE FROM deferred_tasks WHERE id IN (
			SELECT id FROM deferred_tasks WHERE expires_at < ? LIMIT ?
		)
	`, unixSeconds(now))
	if err != nil {
		return res, fmt.Errorf("compact deferred tasks: %w", err)
	}

	return res, nil
}

// deleteInBatches runs a DELETE taking (threshold, limit) until a batch
// removes fewer than compactBatchSize rows.
func (s *Store) deleteInBatches(ctx context.Context, query string, threshold int64) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result, err := s.db.ExecContext(ctx, query, threshold, compactBatchSize)
		if err != nil {
			return total, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < compactBatchSize {
			return total, nil
		}
	}
}
