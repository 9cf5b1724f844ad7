package jobs

import (
	"context"
	"fmt"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// Store is the persistence surface the recurring jobs need.
type Store interface {
	DuePendingReminders(ctx context.Context, now time.Time) ([]e.Reminder, error)
	MarkReminderSent(ctx context.Context, id int64) error
	TodaysBirthdays(ctx context.Context, now time.Time) ([]e.Birthday, error)
	BirthdaySettings(ctx context.Context) (gifFileID, greeting string, err error)
	GetPrincipal(ctx context.Context, id int64) (*e.Principal, error)
}

type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, kind e.MediaKind, fileID, caption string) error
}

// Poller runs the scheduled deliveries: due reminders and daily birthday
// greetings. Each run is independent; a failed send stays pending and gets
// retried on the next tick.
type Poller struct {
	Log    logger.Logger
	Store  Store
	Sender Transport

	// DefaultChatID receives reminders and greetings without an explicit
	// chat.
	DefaultChatID int64

	// Greeting is the fallback text when no stored greeting exists.
	Greeting string

	// Now is a clock override for tests; nil means time.Now.
	Now func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// DeliverDueReminders sends every pending reminder whose time has come and
// marks it sent only after a successful delivery.
func (p *Poller) DeliverDueReminders(ctx context.Context) {
	due, err := p.Store.DuePendingReminders(ctx, p.now())
	if err != nil {
		p.Log.Error("loading due reminders", "error", err)
		return
	}

	for _, r := range due {
		chatID := p.DefaultChatID
		if r.ChatID != nil {
			chatID = *r.ChatID
		}

		text := "Нагадування: " + r.Text
		if r.TargetID != nil {
			if target, err := p.Store.GetPrincipal(ctx, *r.TargetID); err == nil && target != nil {
				text = fmt.Sprintf("%s, нагадування: %s", target.DisplayName(), r.Text)
			}
		}

		if err := p.Sender.SendText(ctx, chatID, text); err != nil {
			p.Log.Error("delivering reminder", "reminder_id", r.ID, "error", err)
			continue
		}
		if err := p.Store.MarkReminderSent(ctx, r.ID); err != nil {
			p.Log.Error("marking reminder sent", "reminder_id", r.ID, "error", err)
		}
	}
}

// GreetBirthdays posts a greeting for everyone whose birthday is today.
// Runs once per day; the stored gif and greeting win over the configured
// fallback.
func (p *Poller) GreetBirthdays(ctx context.Context) {
	birthdays, err := p.Store.TodaysBirthdays(ctx, p.now())
	if err != nil {
		p.Log.Error("loading birthdays", "error", err)
		return
	}
	if len(birthdays) == 0 {
		return
	}

	gif, greeting, err := p.Store.BirthdaySettings(ctx)
	if err != nil {
		p.Log.Error("loading birthday settings", "error", err)
	}
	if greeting == "" {
		greeting = p.Greeting
	}

	for _, b := range birthdays {
		name := b.FullName
		if name == "" && b.Username != "" {
			name = "@" + b.Username
		}
		if name == "" {
			name = fmt.Sprintf("id%d", b.PrincipalID)
		}

		text := fmt.Sprintf("%s, %s", name, greeting)
		if gif != "" {
			if err := p.Sender.SendMedia(ctx, p.DefaultChatID, e.MediaAnimation, gif, text); err != nil {
				p.Log.Error("sending birthday greeting", "principal_id", b.PrincipalID, "error", err)
			}
			continue
		}
		if err := p.Sender.SendText(ctx, p.DefaultChatID, text); err != nil {
			p.Log.Error("sending birthday greeting", "principal_id", b.PrincipalID, "error", err)
		}
	}
}
