package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rover/internal/model"
)

// StatsQuery filters ListStats. Zero values mean "no filter".
type StatsQuery struct {
	Handler string
	Since   time.Time
	Limit   int
}

// ListStats returns reaction statistics, newest first.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListStats(ctx context.Context, q StatsQuery) ([]model.StatsEntry, error) {
	query := `
		SELECT s.id, s.item_id, h.name, s.title, s.author, s.scope, s.permalink,
		       s.created_at, s.author_score, s.handler_score
		FROM stats s JOIN handlers h ON h.id = s.handler_id
		WHERE 1 = 1
	`
	var args []any
	if q.Handler != "" {
		hid, err := handlerID(ctx, s.db, q.Handler)
		if err != nil {
			return nil, err
		}
		query += ` AND s.handler_id = ?`
		args = append(args, hid)
	}
	if !q.Since.IsZero() {
		query += ` AND s.created_at >= ?`
		args = append(args, unixSeconds(q.Since))
	}
	query += ` ORDER BY s.created_at DESC, s.id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	entries := []model.StatsEntry{}
	for rows.Next() {
		var (
			e                         model.StatsEntry
			created                   int64
			authorScore, handlerScore sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Handler, &e.Title, &e.Author, &e.Scope,
			&e.Permalink, &created, &authorScore, &handlerScore); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		e.CreatedAt = fromUnix(created)
		e.AuthorScore = ptrInt64(authorScore)
		e.HandlerScore = ptrInt64(handlerScore)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return entries, nil
}

// UpdateScores sets the score columns of a stats row. Nil leaves a column
// unchanged. Returns false if no row has the given id.
func (s *Store) UpdateScores(ctx context.Context, statsID string, authorScore, handlerScore *int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stats SET
			author_score = COALESCE(?, author_score),
			handler_score = COALESCE(?, handler_score)
		WHERE id = ?
	`, nullInt64(authorScore), nullInt64(handlerScore), statsID)
	if err != nil {
		return false, fmt.Errorf("update scores: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update scores: rows affected: %w", err)
	}
	return n > 0, nil
}

// AddMessage stores an inbound message for its handler.
// Uses ON CONFLICT DO NOTHING; a message seen twice returns inserted=false.
func (s *Store) AddMessage(ctx context.Context, msg model.Message) (inserted bool, err error) {
	hid, err := handlerID(ctx, s.db, msg.Handler)
	if err != nil {
		return false, fmt.Errorf("add message: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, handler_id, author, scope, subject, body, created_at, was_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, handler_id) DO NOTHING
	`, msg.ID, hid, msg.Author, msg.Scope, msg.Subject, msg.Body, unixSeconds(msg.CreatedAt), msg.WasComment)
	if err != nil {
		return false, fmt.Errorf("add message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add message: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns stored messages, newest first. An empty handler lists
// messages of every handler; limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, handler string, limit int) ([]model.Message, error) {
	query := `
		SELECT m.id, h.name, m.author, m.scope, m.subject, m.body, m.created_at, m.was_comment
		FROM messages m JOIN handlers h ON h.id = m.handler_id
	`
	var args []any
	if handler != "" {
		hid, err := handlerID(ctx, s.db, handler)
		if err != nil {
			return nil, err
		}
		query += ` WHERE m.handler_id = ?`
		args = append(args, hid)
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m       model.Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.Handler, &m.Author, &m.Scope, &m.Subject, &m.Body, &created, &m.WasComment); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromUnix(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AddDayCounts adds counts to the counters of day (YYYY-MM-DD).
func (s *Store) AddDayCounts(ctx context.Context, day string, counts model.DayCounts) error {
	if counts.IsZero() {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO day_stats (day, submissions, comments, cycles)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			submissions = submissions + excluded.submissions,
			comments = comments + excluded.comments,
			cycles = cycles + excluded.cycles
	`, day, counts.Submissions, counts.Comments, counts.Cycles); err != nil {
		return fmt.Errorf("add day counts: %w", err)
	}
	return nil
}

// DayStats returns the counters of one day. A day without activity returns
// zero counts.
func (s *Store) DayStats(ctx context.Context, day string) (model.DayStats, error) {
	ds := model.DayStats{Day: day}
	err := s.db.QueryRowContext(ctx, `
		SELECT submissions, comments, cycles FROM day_stats WHERE day = ?
	`, day).Scan(&ds.Submissions, &ds.Comments, &ds.Cycles)
	if errors.Is(err, sql.ErrNoRows) {
		return ds, nil
	}
	if err != nil {
		return ds, fmt.Errorf("day stats: %w", err)
	}
	return ds, nil
}

// ListDays returns daily counters, most recent day first. limit <= 0 means
// no limit.
func (s *Store) ListDays(ctx context.Context, limit int) ([]model.DayStats, error) {
	query := `SELECT day, submissions, comments, cycles FROM day_stats ORDER BY day DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer rows.Close()

	days := []model.DayStats{}
	for rows.Next() {
		var ds model.DayStats
		if err := rows.Scan(&ds.Day, &ds.Submissions, &ds.Comments, &ds.Cycles); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate days: %w", err)
	}
	return days, nil
}

// HandlerSummaries returns per-handler row counts in registration order.
func (s *Store) HandlerSummaries(ctx context.Context) ([]model.HandlerSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.name,
			(SELECT COUNT(*) FROM stats s WHERE s.handler_id = h.id),
			(SELECT COUNT(*) FROM deferred_tasks t WHERE t.handler_id = h.id),
			(SELECT COUNT(*) FROM bans b WHERE b.handler_id = h.id),
			(SELECT COUNT(*) FROM messages m WHERE m.handler_id = h.id)
		FROM handlers h
		ORDER BY h.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("handler summaries: %w", err)
	}
	defer rows.Close()

	summaries := []model.HandlerSummary{}
	for rows.Next() {
		var hs model.HandlerSummary
		if err := rows.Scan(&hs.Name, &hs.Reactions, &hs.Tasks, &hs.Bans, &hs.Messages); err != nil {
			return nil, fmt.Errorf("scan handler summary: %w", err)
		}
		summaries = append(summaries, hs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handler summaries: %w", err)
	}
	return summaries, nil
}

// ResponsesOnDay counts reactions recorded on day (YYYY-MM-DD, UTC). An empty
// handler counts every handler.
func (s *Store) ResponsesOnDay(ctx context.Context, day, handler string) (int64, error) {
	start, err := time.ParseInLocation(model.DayLayout, day, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("responses on day: %w", err)
	}
	query := `SELECT COUNT(*) FROM stats WHERE created_at >= ? AND created_at < ?`
	args := []any{start.Unix(), start.AddDate(0, 0, 1).Unix()}
	if handler != "" {
		hid, err := handlerID(ctx, s.db, handler)
		if err != nil {
			return 0, err
		}
		query += ` AND handler_id = ?`
		args = append(args, hid)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("responses on day: %w", err)
	}
	return n, nil
}
