package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RegisterHandler records name in the handler registry.
// Idempotent: registering an existing name is a no-op and returns
// inserted=false. Returns ErrInconsistentRegistry if the name already maps to
// more than one row.
func (s *Store) RegisterHandler(ctx context.Context, name string) (inserted bool, err error) {
	if strings.TrimSpace(name) == "" {
		return false, fmt.Errorf("register handler: empty name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("register handler: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = handlerID(ctx, tx, name)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrHandlerNotRegistered):
		return false, fmt.Errorf("register handler %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO handlers (name, created_at) VALUES (?, ?)`,
		name, unixSeconds(s.now()),
	); err != nil {
		return false, fmt.Errorf("register handler %q: insert: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("register handler %q: commit: %w", name, err)
	}
	return true, nil
}

// HandlerID returns the registry row id for name.
func (s *Store) HandlerID(ctx context.Context, name string) (int64, error) {
	return handlerID(ctx, s.db, name)
}

// handlerID resolves a handler name to exactly one registry id.
func handlerID(ctx context.Context, q querier, name string) (int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM handlers WHERE name = ? ORDER BY id LIMIT 2`, name)
	if err != nil {
		return 0, fmt.Errorf("lookup handler: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan handler id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate handler ids: %w", err)
	}

	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, name)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInconsistentRegistry, name)
	}
}

// ListHandlers returns registered handler names in registration order.
// Returns an empty slice (not nil) if none are registered.
func (s *Store) ListHandlers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM handlers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list handlers: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan handler: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handlers: %w", err)
	}
	return names, nil
}

// WipeResult reports how many rows WipeHandler removed per table.
type WipeResult struct {
	Handler  string `json:"handler"`
	Dedup    int64  `json:"dedup"`
	Tasks    int64  `json:"tasks"`
	Bans     int64  `json:"bans"`
	Stats    int64  `json:"stats"`
	Messages int64  `json:"messages"`
}

// WipeHandler removes a handler and every record referencing it in a single
// transaction. Duplicate registry rows for the name are removed as well, which
// makes WipeHandler the repair path for ErrInconsistentRegistry.
func (s *Store) WipeHandler(ctx context.Context, name string) (WipeResult, error) {
	res := WipeResult{Handler: name}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("wipe handler: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM handlers WHERE name = ?`, name).Scan(&count); err != nil {
		return res, fmt.Errorf("wipe handler: count: %w", err)
	}
	if count == 0 {
		return res, fmt.Errorf("wipe handler: %w: %q", ErrHandlerNotRegistered, name)
	}

	targets := []struct {
		table string
		n     *int64
	}{
		{"dedup_records", &res.Dedup},
		{"deferred_tasks", &res.Tasks},
		{"bans", &res.Bans},
		{"stats", &res.Stats},
		{"messages", &res.Messages},
	}
	for _, target := range targets {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM `+target.table+` WHERE handler_id IN (SELECT id FROM handlers WHERE name = ?)`,
			name,
		)
		if err != nil {
			return res, fmt.Errorf("wipe handler: delete %s: %w", target.table, err)
		}
		if *target.n, err = result.RowsAffected(); err != nil {
			return res, fmt.Errorf("wipe handler: rows affected %s: %w", target.table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM handlers WHERE name = ?`, name); err != nil {
		return res, fmt.Errorf("wipe handler: delete registry row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("wipe handler: commit: %w", err)
	}
	return res, nil
}
