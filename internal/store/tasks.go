package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rover/internal/model"
)

// DeferUpdate stores a deferred task for (req.ItemID, req.Handler) created at
// now. The task expires at now+Lifetime and fires every Interval.
//
// A repeated request for the same pair replaces expiry and interval and keeps
// the creation and last-invocation times.
func (s *Store) DeferUpdate(ctx context.Context, req model.DeferRequest, now time.Time) (model.DeferredTask, error) {
	if req.Interval < time.Second {
		return model.DeferredTask{}, fmt.Errorf("%w: interval %v must be at least one second", ErrInvalidTask, req.Interval)
	}
	if req.Lifetime < time.Second {
		return model.DeferredTask{}, fmt.Errorf("%w: lifetime %v must be at least one second", ErrInvalidTask, req.Lifetime)
	}
	if req.ItemID == "" {
		return model.DeferredTask{}, fmt.Errorf("%w: empty item id", ErrInvalidTask)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DeferredTask{}, fmt.Errorf("defer update: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	hid, err := handlerID(ctx, tx, req.Handler)
	if err != nil {
		return model.DeferredTask{}, fmt.Errorf("defer update: %w", err)
	}

	created := unixSeconds(now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deferred_tasks
		(item_id, handler_id, created_at, expires_at, last_invoked, interval_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, handler_id) DO UPDATE SET
			expires_at = excluded.expires_at,
			interval_seconds = excluded.interval_seconds
	`,
		req.ItemID,
		hid,
		created,
		created+int64(req.Lifetime/time.Second),
		created,
		int64(req.Interval/time.Second),
	); err != nil {
		return model.DeferredTask{}, fmt.Errorf("defer update: upsert: %w", err)
	}

	task, err := scanTaskRow(tx.QueryRowContext(ctx, `
		SELECT t.item_id, h.name, t.created_at, t.expires_at, t.last_invoked, t.interval_seconds
		FROM deferred_tasks t JOIN handlers h ON h.id = t.handler_id
		WHERE t.item_id = ? AND t.handler_id = ?
	`, req.ItemID, hid))
	if err != nil {
		return model.DeferredTask{}, fmt.Errorf("defer update: read back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.DeferredTask{}, fmt.Errorf("defer update: commit: %w", err)
	}
	return task, nil
}

// DueTasks returns the handler's tasks that are due at now: strictly more
// than one interval since the last invocation, and not expired.
// Ordered by last_invoked then item_id so the longest-waiting task fires first.
//
// Times are stored in whole seconds and now is truncated the same way, so a
// task becomes due only once now reaches the next full second past
// last_invoked+interval. A tick landing inside that second finds nothing and
// the task fires one tick later.
func (s *Store) DueTasks(ctx context.Context, handler string, now time.Time) ([]model.DeferredTask, error) {
	hid, err := handlerID(ctx, s.db, handler)
	if err != nil {
		return nil, err
	}

	ts := unixSeconds(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.item_id, h.name, t.created_at, t.expires_at, t.last_invoked, t.interval_seconds
		FROM deferred_tasks t JOIN handlers h ON h.id = t.handler_id
		WHERE t.handler_id = ?
		  AND ? > t.last_invoked + t.interval_seconds
		  AND ? <= t.expires_at
		ORDER BY t.last_invoked ASC, t.item_id COLLATE BINARY ASC
	`, hid, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	return collectTasks(rows)
}

// TouchTask advances last_invoked to now. It never moves the value
// backwards. Returns false if the task no longer exists.
func (s *Store) TouchTask(ctx context.Context, itemID, handler string, now time.Time) (bool, error) {
	hid, err := handlerID(ctx, s.db, handler)
	if err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deferred_tasks SET last_invoked = MAX(last_invoked, ?)
		WHERE item_id = ? AND handler_id = ?
	`, unixSeconds(now), itemID, hid)
	if err != nil {
		return false, fmt.Errorf("touch task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch task: rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteTask removes one deferred task. Deleting a missing task is a no-op.
func (s *Store) DeleteTask(ctx context.Context, itemID, handler string) error {
	hid, err := handlerID(ctx, s.db, handler)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM deferred_tasks WHERE item_id = ? AND handler_id = ?`,
		itemID, hid,
	); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListTasks returns deferred tasks ordered by handler registration then
// creation. An empty handler lists the tasks of every handler.
func (s *Store) ListTasks(ctx context.Context, handler string) ([]model.DeferredTask, error) {
	query := `
		SELECT t.item_id, h.name, t.created_at, t.expires_at, t.last_invoked, t.interval_seconds
		FROM deferred_tasks t JOIN handlers h ON h.id = t.handler_id
	`
	var args []any
	if handler != "" {
		hid, err := handlerID(ctx, s.db, handler)
		if err != nil {
			return nil, err
		}
		query += ` WHERE t.handler_id = ?`
		args = append(args, hid)
	}
	query += ` ORDER BY h.id ASC, t.created_at ASC, t.item_id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.DeferredTask, error) {
	var (
		task                               model.DeferredTask
		created, expires, invoked, seconds int64
	)
	if err := row.Scan(&task.ItemID, &task.Handler, &created, &expires, &invoked, &seconds); err != nil {
		return model.DeferredTask{}, err
	}
	task.CreatedAt = fromUnix(created)
	task.ExpiresAt = fromUnix(expires)
	task.LastInvoked = fromUnix(invoked)
	task.Interval = time.Duration(seconds) * time.Second
	return task, nil
}

func scanTaskRow(row *sql.Row) (model.DeferredTask, error) {
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeferredTask{}, fmt.Errorf("task not found: %w", err)
	}
	return task, err
}

// collectTasks drains rows into a slice and closes them.
func collectTasks(rows *sql.Rows) ([]model.DeferredTask, error) {
	defer rows.Close()

	tasks := []model.DeferredTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
