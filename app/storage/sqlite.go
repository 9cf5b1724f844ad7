package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/community-tg-bot/pkg/entities"
)

// SQLite backs every repository interface the application packages declare:
// principals, broadcast sessions, aliases, template commands with their
// media pools, and the bookkeeping tables.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ObservePrincipal records the sender of an inbound event and returns the
// stored principal. Role and display overrides are never clobbered here;
// username and full name follow the platform when non-empty.
func (c *SQLite) ObservePrincipal(ctx context.Context, ev e.DispatchEvent) (e.Principal, error) {
	now := fmtTime(time.Now())

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO principals (user_id, role, username, full_name, custom_name, title, first_seen_at, updated_at)
			VALUES (?, '', ?, ?, '', '', ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				username   = CASE WHEN excluded.username <> '' THEN excluded.username ELSE username END,
				full_name  = CASE WHEN excluded.full_name <> '' THEN excluded.full_name ELSE full_name END,
				updated_at = excluded.updated_at`,
		ev.SenderID, ev.SenderUsername, ev.SenderFullName, now, now,
	)
	if err != nil {
		return e.Principal{}, fmt.Errorf("upserting principal: %w", err)
	}

	p, err := c.GetPrincipal(ctx, ev.SenderID)
	if err != nil {
		return e.Principal{}, err
	}
	if p == nil {
		return e.Principal{}, fmt.Errorf("principal %d vanished after upsert", ev.SenderID)
	}

	return *p, nil
}

func (c *SQLite) GetPrincipal(ctx context.Context, id int64) (*e.Principal, error) {
	return c.scanPrincipal(c.db.QueryRowContext(
		ctx,
		`SELECT user_id, role, username, full_name, custom_name, title
			FROM principals WHERE user_id = ?`,
		id,
	))
}

func (c *SQLite) scanPrincipal(row *sql.Row) (*e.Principal, error) {
	var p e.Principal
	var role string
	err := row.Scan(&p.ID, &role, &p.Username, &p.FullName, &p.CustomName, &p.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Role = e.Role(role)
	p.Username = strings.TrimPrefix(p.Username, "@")
	return &p, nil
}

func (c *SQLite) FindByUsernameExact(ctx context.Context, username string) (*e.Principal, error) {
	return c.scanPrincipal(c.db.QueryRowContext(
		ctx,
		`SELECT user_id, role, username, full_name, custom_name, title
			FROM principals
			WHERE username <> '' AND LOWER(username) = LOWER(?)
			ORDER BY user_id LIMIT 1`,
		username,
	))
}

func (c *SQLite) FindByUsernameSubstring(ctx context.Context, fragment string) (*e.Principal, error) {
	return c.scanPrincipal(c.db.QueryRowContext(
		ctx,
		`SELECT user_id, role, username, full_name, custom_name, title
			FROM principals
			WHERE username <> '' AND LOWER(username) LIKE '%' || LOWER(?) || '%'
			ORDER BY user_id LIMIT 1`,
		fragment,
	))
}

func (c *SQLite) SetRole(ctx context.Context, id int64, role e.Role) error {
	now := fmtTime(time.Now())
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO principals (user_id, role, username, full_name, custom_name, title, first_seen_at, updated_at)
			VALUES (?, ?, '', '', '', '', ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`,
		id, string(role), now, now,
	)
	return err
}

func (c *SQLite) SetCustomName(ctx context.Context, id int64, name string) error {
	_, err := c.db.ExecContext(
		ctx,
		`UPDATE principals SET custom_name = ?, updated_at = ? WHERE user_id = ?`,
		name, fmtTime(time.Now()), id,
	)
	return err
}

func (c *SQLite) SetTitle(ctx context.Context, id int64, title string) error {
	_, err := c.db.ExecContext(
		ctx,
		`UPDATE principals SET title = ?, updated_at = ? WHERE user_id = ?`,
		title, fmtTime(time.Now()), id,
	)
	return err
}

func (c *SQLite) GetSession(ctx context.Context, principalID int64) (*e.BroadcastSession, error) {
	var s e.BroadcastSession
	var mode, startedAt, lastActivity string
	var target sql.NullInt64

	err := c.db.QueryRowContext(
		ctx,
		`SELECT user_id, mode, source_chat_id, target_chat_id, started_at, last_activity
			FROM broadcast_sessions WHERE user_id = ?`,
		principalID,
	).Scan(&s.PrincipalID, &mode, &s.SourceChatID, &target, &startedAt, &lastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	s.Mode = e.SessionMode(mode)
	if target.Valid {
		s.TargetChatID = &target.Int64
	}
	s.StartedAt = parseTime(startedAt)
	s.LastActivityAt = parseTime(lastActivity)

	return &s, nil
}

func (c *SQLite) SetSession(ctx context.Context, s e.BroadcastSession) error {
	var target sql.NullInt64
	if s.TargetChatID != nil {
		target = sql.NullInt64{Int64: *s.TargetChatID, Valid: true}
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO broadcast_sessions (user_id, mode, source_chat_id, target_chat_id, started_at, last_activity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				mode = excluded.mode,
				source_chat_id = excluded.source_chat_id,
				target_chat_id = excluded.target_chat_id,
				started_at = excluded.started_at,
				last_activity = excluded.last_activity`,
		s.PrincipalID, string(s.Mode), s.SourceChatID, target, fmtTime(s.StartedAt), fmtTime(s.LastActivityAt),
	)
	return err
}

func (c *SQLite) ClearSession(ctx context.Context, principalID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM broadcast_sessions WHERE user_id = ?`, principalID)
	return err
}

func (c *SQLite) ClearAllSessions(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM broadcast_sessions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *SQLite) ClearIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(
		ctx,
		`DELETE FROM broadcast_sessions WHERE last_activity < ?`,
		fmtTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *SQLite) TouchSession(ctx context.Context, principalID int64, at time.Time) error {
	_, err := c.db.ExecContext(
		ctx,
		`UPDATE broadcast_sessions SET last_activity = ? WHERE user_id = ?`,
		fmtTime(at), principalID,
	)
	return err
}

func (c *SQLite) ListSessions(ctx context.Context) ([]e.SessionInfo, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT s.user_id, s.mode, s.source_chat_id, s.target_chat_id, s.started_at, s.last_activity,
				COALESCE(p.custom_name, ''), COALESCE(p.full_name, ''), COALESCE(p.username, '')
			FROM broadcast_sessions s
			LEFT JOIN principals p ON p.user_id = s.user_id
			ORDER BY s.started_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []e.SessionInfo
	for rows.Next() {
		var s e.BroadcastSession
		var mode, startedAt, lastActivity, customName, fullName, username string
		var target sql.NullInt64

		err = rows.Scan(&s.PrincipalID, &mode, &s.SourceChatID, &target, &startedAt, &lastActivity,
			&customName, &fullName, &username)
		if err != nil {
			return nil, err
		}

		s.Mode = e.SessionMode(mode)
		if target.Valid {
			s.TargetChatID = &target.Int64
		}
		s.StartedAt = parseTime(startedAt)
		s.LastActivityAt = parseTime(lastActivity)

		name := customName
		if name == "" {
			name = fullName
		}
		infos = append(infos, e.SessionInfo{
			Session:     s,
			DisplayName: name,
			Username:    strings.TrimPrefix(username, "@"),
		})
	}

	return infos, rows.Err()
}
