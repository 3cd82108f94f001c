package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/rover/internal/model"
)

// HasReacted reports whether a dedup record exists for (itemID, handler).
func (s *Store) HasReacted(ctx context.Context, itemID, handler string) (bool, error) {
	hid, err := handlerID(ctx, s.db, handler)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM dedup_records WHERE item_id = ? AND handler_id = ?)
	`, itemID, hid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has reacted: %w", err)
	}
	return exists, nil
}

// RecordReaction writes the dedup record and the stats row of one reaction
// atomically: both rows are written or neither is.
//
// Uses ON CONFLICT(item_id, handler_id) DO NOTHING for the dedup record. If
// the record already exists, nothing is written and inserted=false.
func (s *Store) RecordReaction(ctx context.Context, rec model.DedupRecord, entry model.StatsEntry) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record reaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	hid, err := handlerID(ctx, tx, rec.Handler)
	if err != nil {
		return false, fmt.Errorf("record reaction: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_records (item_id, handler_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, handler_id) DO NOTHING
	`, rec.ItemID, hid, unixSeconds(rec.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("record reaction: insert dedup: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record reaction: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stats
		(id, item_id, handler_id, title, author, scope, permalink, created_at, author_score, handler_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.ItemID,
		hid,
		entry.Title,
		entry.Author,
		entry.Scope,
		entry.Permalink,
		unixSeconds(entry.CreatedAt),
		nullInt64(entry.AuthorScore),
		nullInt64(entry.HandlerScore),
	); err != nil {
		return false, fmt.Errorf("record reaction: insert stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record reaction: commit: %w", err)
	}
	return true, nil
}

// ListDedup returns the dedup records of a handler, oldest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListDedup(ctx context.Context, handler string) ([]model.DedupRecord, error) {
	hid, err := handlerID(ctx, s.db, handler)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, created_at FROM dedup_records
		WHERE handler_id = ?
		ORDER BY created_at ASC, id ASC
	`, hid)
	if err != nil {
		return nil, fmt.Errorf("list dedup: %w", err)
	}
	defer rows.Close()

	records := []model.DedupRecord{}
	for rows.Next() {
		rec := model.DedupRecord{Handler: handler}
		var created int64
		if err := rows.Scan(&rec.ItemID, &created); err != nil {
			return nil, fmt.Errorf("scan dedup: %w", err)
		}
		rec.CreatedAt = fromUnix(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dedup: %w", err)
	}
	return records, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
