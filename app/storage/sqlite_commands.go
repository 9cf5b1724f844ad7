package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
)

// Aliases and template commands are keyed case-insensitively per chat; names
// are lowercased on write so lookups never need COLLATE tricks.

func (c *SQLite) UpsertAlias(ctx context.Context, a e.CommandAlias) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO command_aliases (chat_id, alias_name, target_command, created_by, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, alias_name) DO UPDATE SET
				target_command = excluded.target_command,
				created_by = excluded.created_by,
				created_at = excluded.created_at`,
		a.ChatID, normalizeName(a.Alias), a.Command, a.CreatorID, fmtTime(time.Now()),
	)
	return err
}

// GetAlias returns the canonical command the alias maps to, or "" when the
// chat has no such alias.
func (c *SQLite) GetAlias(ctx context.Context, chatID int64, alias string) (string, error) {
	var command string
	err := c.db.QueryRowContext(
		ctx,
		`SELECT target_command FROM command_aliases WHERE chat_id = ? AND alias_name = ?`,
		chatID, normalizeName(alias),
	).Scan(&command)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return command, nil
}

func (c *SQLite) DeleteAlias(ctx context.Context, chatID int64, alias string) (bool, error) {
	res, err := c.db.ExecContext(
		ctx,
		`DELETE FROM command_aliases WHERE chat_id = ? AND alias_name = ?`,
		chatID, normalizeName(alias),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *SQLite) ListAliases(ctx context.Context, chatID int64) ([]e.CommandAlias, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT chat_id, alias_name, target_command, created_by, created_at
			FROM command_aliases WHERE chat_id = ? ORDER BY alias_name`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []e.CommandAlias
	for rows.Next() {
		var a e.CommandAlias
		var createdAt string
		if err := rows.Scan(&a.ChatID, &a.Alias, &a.Command, &a.CreatorID, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(createdAt)
		aliases = append(aliases, a)
	}

	return aliases, rows.Err()
}

func (c *SQLite) UpsertTemplate(ctx context.Context, t e.TemplateCommand) (int64, error) {
	name := normalizeName(t.Name)

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO template_commands (chat_id, command_name, template_text, created_by, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, command_name) DO UPDATE SET
				template_text = excluded.template_text,
				created_by = excluded.created_by,
				created_at = excluded.created_at`,
		t.ChatID, name, t.Template, t.CreatorID, fmtTime(t.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting template command: %w", err)
	}

	var id int64
	err = c.db.QueryRowContext(
		ctx,
		`SELECT id FROM template_commands WHERE chat_id = ? AND command_name = ?`,
		t.ChatID, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading template command id: %w", err)
	}

	return id, nil
}

func (c *SQLite) GetTemplate(ctx context.Context, chatID int64, name string) (*e.TemplateCommand, error) {
	var t e.TemplateCommand
	var createdAt string
	err := c.db.QueryRowContext(
		ctx,
		`SELECT id, chat_id, command_name, template_text, created_by, created_at
			FROM template_commands WHERE chat_id = ? AND command_name = ?`,
		chatID, normalizeName(name),
	).Scan(&t.ID, &t.ChatID, &t.Name, &t.Template, &t.CreatorID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// DeleteTemplate removes the command and its whole media pool. The cascade
// is explicit so it does not depend on the foreign_keys pragma.
func (c *SQLite) DeleteTemplate(ctx context.Context, chatID int64, name string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`DELETE FROM template_media WHERE command_id IN
			(SELECT id FROM template_commands WHERE chat_id = ? AND command_name = ?)`,
		chatID, normalizeName(name),
	)
	if err != nil {
		return false, fmt.Errorf("deleting media pool: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`DELETE FROM template_commands WHERE chat_id = ? AND command_name = ?`,
		chatID, normalizeName(name),
	)
	if err != nil {
		return false, fmt.Errorf("deleting template command: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, tx.Commit()
}

func (c *SQLite) ListTemplates(ctx context.Context, chatID int64) ([]e.TemplateCommand, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT id, chat_id, command_name, template_text, created_by, created_at
			FROM template_commands WHERE chat_id = ? ORDER BY command_name`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []e.TemplateCommand
	for rows.Next() {
		var t e.TemplateCommand
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Name, &t.Template, &t.CreatorID, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		cmds = append(cmds, t)
	}

	return cmds, rows.Err()
}

// AddTemplateMedia appends to the pool. Duplicates are allowed on purpose:
// adding the same asset again weights it higher in the random draw.
func (c *SQLite) AddTemplateMedia(ctx context.Context, commandID int64, kind e.MediaKind, fileID string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO template_media (command_id, media_type, file_id, created_at)
			VALUES (?, ?, ?, ?)`,
		commandID, string(kind), fileID, fmtTime(time.Now()),
	)
	return err
}

func (c *SQLite) DeleteTemplateMedia(ctx context.Context, mediaID int64) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM template_media WHERE id = ?`, mediaID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *SQLite) GetMediaPool(ctx context.Context, commandID int64) ([]e.MediaRef, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT id, media_type, file_id FROM template_media WHERE command_id = ? ORDER BY created_at, id`,
		commandID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pool []e.MediaRef
	for rows.Next() {
		var m e.MediaRef
		var kind string
		if err := rows.Scan(&m.ID, &kind, &m.FileID); err != nil {
			return nil, err
		}
		m.Kind = e.MediaKind(kind)
		pool = append(pool, m)
	}

	return pool, rows.Err()
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
