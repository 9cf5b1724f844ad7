package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
)

func (c *SQLite) AddBan(ctx context.Context, userID, bannedBy int64, reason string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO bans (user_id, banned_by, reason, banned_at, is_active)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO UPDATE SET
				banned_by = excluded.banned_by,
				reason = excluded.reason,
				banned_at = excluded.banned_at,
				is_active = 1`,
		userID, bannedBy, reason, fmtTime(time.Now()),
	)
	return err
}

func (c *SQLite) RemoveBan(ctx context.Context, userID int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE bans SET is_active = 0 WHERE user_id = ?`, userID)
	return err
}

func (c *SQLite) AddMute(ctx context.Context, userID, mutedBy int64, reason string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO mutes (user_id, muted_by, reason, muted_at, is_active)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO UPDATE SET
				muted_by = excluded.muted_by,
				reason = excluded.reason,
				muted_at = excluded.muted_at,
				is_active = 1`,
		userID, mutedBy, reason, fmtTime(time.Now()),
	)
	return err
}

func (c *SQLite) RemoveMute(ctx context.Context, userID int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE mutes SET is_active = 0 WHERE user_id = ?`, userID)
	return err
}

// LogAction appends one row to the privileged-operation audit trail.
func (c *SQLite) LogAction(ctx context.Context, actionType string, userID, targetID *int64, details string) error {
	var actor, target sql.NullInt64
	if userID != nil {
		actor = sql.NullInt64{Int64: *userID, Valid: true}
	}
	if targetID != nil {
		target = sql.NullInt64{Int64: *targetID, Valid: true}
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO action_logs (action_type, user_id, target_user_id, details, created_at)
			VALUES (?, ?, ?, ?, ?)`,
		actionType, actor, target, details, fmtTime(time.Now()),
	)
	return err
}

// RecordForward logs one successful broadcast forward for the stats view.
func (c *SQLite) RecordForward(ctx context.Context, userID int64, messageType string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO forwarding_stats (user_id, message_type, forwarded_at)
			VALUES (?, ?, ?)`,
		userID, messageType, fmtTime(time.Now()),
	)
	return err
}

func (c *SQLite) DuePendingReminders(ctx context.Context, now time.Time) ([]e.Reminder, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT id, user_id, target_user_id, reminder_text, remind_at, chat_id
			FROM reminders WHERE is_sent = 0 AND remind_at <= ?`,
		fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []e.Reminder
	for rows.Next() {
		var r e.Reminder
		var remindAt string
		var target, chat sql.NullInt64
		if err := rows.Scan(&r.ID, &r.PrincipalID, &target, &r.Text, &remindAt, &chat); err != nil {
			return nil, err
		}
		if target.Valid {
			r.TargetID = &target.Int64
		}
		if chat.Valid {
			r.ChatID = &chat.Int64
		}
		r.RemindAt = parseTime(remindAt)
		due = append(due, r)
	}

	return due, rows.Err()
}

func (c *SQLite) MarkReminderSent(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE reminders SET is_sent = 1 WHERE id = ?`, id)
	return err
}

// TodaysBirthdays matches on the DD.MM prefix of the stored date.
func (c *SQLite) TodaysBirthdays(ctx context.Context, now time.Time) ([]e.Birthday, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT user_id, username, full_name, birth_date
			FROM birthdays WHERE substr(birth_date, 1, 5) = ?`,
		now.Format("02.01"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bs []e.Birthday
	for rows.Next() {
		var b e.Birthday
		if err := rows.Scan(&b.PrincipalID, &b.Username, &b.FullName, &b.Date); err != nil {
			return nil, err
		}
		bs = append(bs, b)
	}

	return bs, rows.Err()
}

func (c *SQLite) BirthdaySettings(ctx context.Context) (gifFileID, greeting string, err error) {
	err = c.db.QueryRowContext(
		ctx,
		`SELECT gif_file_id, greeting_text FROM birthday_settings WHERE id = 1`,
	).Scan(&gifFileID, &greeting)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return gifFileID, greeting, err
}
