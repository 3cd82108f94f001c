package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/rover/internal/model"
)

// AddBan stores a ban. An empty Handler makes it global. The subject is
// stored normalized. Uniqueness is not enforced; callers check IsBanned first
// when duplicates matter.
func (s *Store) AddBan(ctx context.Context, ban model.Ban) (model.Ban, error) {
	if !ban.Kind.Valid() {
		return model.Ban{}, fmt.Errorf("add ban: invalid kind %q", ban.Kind)
	}
	ban.Subject = model.NormalizeSubject(ban.Subject)
	if ban.Subject == "" {
		return model.Ban{}, fmt.Errorf("add ban: empty subject")
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = s.now()
	}

	var hid sql.NullInt64
	if !ban.Global() {
		id, err := handlerID(ctx, s.db, ban.Handler)
		if err != nil {
			return model.Ban{}, fmt.Errorf("add ban: %w", err)
		}
		hid = sql.NullInt64{Int64: id, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bans (kind, subject, handler_id, created_at)
		VALUES (?, ?, ?, ?)
	`, string(ban.Kind), ban.Subject, hid, unixSeconds(ban.CreatedAt))
	if err != nil {
		return model.Ban{}, fmt.Errorf("add ban: %w", err)
	}
	if ban.ID, err = result.LastInsertId(); err != nil {
		return model.Ban{}, fmt.Errorf("add ban: last insert id: %w", err)
	}
	ban.CreatedAt = fromUnix(unixSeconds(ban.CreatedAt))
	return ban, nil
}

// IsBanned reports whether subject is banned for handler. A ban scoped to
// the handler is checked first, then a global ban. An empty handler checks
// global bans only.
func (s *Store) IsBanned(ctx context.Context, kind model.BanKind, subject, handler string) (bool, error) {
	subject = model.NormalizeSubject(subject)
	if subject == "" {
		return false, nil
	}

	if handler != "" {
		hid, err := handlerID(ctx, s.db, handler)
		if err != nil {
			return false, err
		}
		var scoped bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM bans WHERE kind = ? AND subject = ? AND handler_id = ?)
		`, string(kind), subject, hid).Scan(&scoped); err != nil {
			return false, fmt.Errorf("is banned: handler scope: %w", err)
		}
		if scoped {
			return true, nil
		}
	}

	var global bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bans WHERE kind = ? AND subject = ? AND handler_id IS NULL)
	`, string(kind), subject).Scan(&global); err != nil {
		return false, fmt.Errorf("is banned: global: %w", err)
	}
	return global, nil
}

// RemoveBan deletes bans on subject. With a handler, only that handler's
// bans are removed; with an empty handler, every ban on the subject goes,
// global and handler-scoped alike. Returns the number of rows removed.
func (s *Store) RemoveBan(ctx context.Context, kind model.BanKind, subject, handler string) (int64, error) {
	subject = model.NormalizeSubject(subject)

	var (
		result sql.Result
		err    error
	)
	if handler == "" {
		result, err = s.db.ExecContext(ctx,
			`DELETE FROM bans WHERE kind = ? AND subject = ?`,
			string(kind), subject,
		)
	} else {
		hid, lookupErr := handlerID(ctx, s.db, handler)
		if lookupErr != nil {
			return 0, lookupErr
		}
		result, err = s.db.ExecContext(ctx,
			`DELETE FROM bans WHERE kind = ? AND subject = ? AND handler_id = ?`,
			string(kind), subject, hid,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("remove ban: %w", err)
	}
	return result.RowsAffected()
}

// PurgeBans deletes every ban of the given kind.
func (s *Store) PurgeBans(ctx context.Context, kind model.BanKind) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bans WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("purge bans: %w", err)
	}
	return result.RowsAffected()
}

// ListBans returns all bans, oldest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.kind, b.subject, COALESCE(h.name, ''), b.created_at
		FROM bans b LEFT JOIN handlers h ON h.id = b.handler_id
		ORDER BY b.created_at ASC, b.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	bans := []model.Ban{}
	for rows.Next() {
		var (
			ban     model.Ban
			kind    string
			created int64
		)
		if err := rows.Scan(&ban.ID, &kind, &ban.Subject, &ban.Handler, &created); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		ban.Kind = model.BanKind(kind)
		ban.CreatedAt = fromUnix(created)
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}
