package broadcast

import (
	"context"
	"fmt"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
	"nuclight.org/community-tg-bot/pkg/mutex"
)

// SessionRepository is the persistent side of the session engine.
type SessionRepository interface {
	GetSession(ctx context.Context, principalID int64) (*e.BroadcastSession, error)
	SetSession(ctx context.Context, s e.BroadcastSession) error
	ClearSession(ctx context.Context, principalID int64) error
	ClearAllSessions(ctx context.Context) (int64, error)
	ClearIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	TouchSession(ctx context.Context, principalID int64, at time.Time) error
	ListSessions(ctx context.Context) ([]e.SessionInfo, error)
}

// ForwardLog records successful forwards for the stats view.
type ForwardLog interface {
	RecordForward(ctx context.Context, principalID int64, messageType string) error
}

// Transport is the slice of the messaging client the engine uses.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	ForwardMessage(ctx context.Context, chatID, fromChatID int64, messageID int) error
}

// Engine is the per-principal broadcast state machine: Inactive, Signed or
// Anonymous. Every mutation for a principal runs under that principal's
// lock so concurrent toggles cannot interleave.
type Engine struct {
	Log      logger.Logger
	Sessions SessionRepository
	Stats    ForwardLog
	Sender   Transport

	// DefaultChatID is the platform-wide broadcast context used when a
	// session has no explicit target.
	DefaultChatID int64

	// IdleTimeout is how long a session may sit without a forward before
	// the sweep clears it.
	IdleTimeout time.Duration

	// Now is a clock override for tests; nil means time.Now.
	Now func() time.Time

	locks mutex.KeyedMutex
}

func (en *Engine) now() time.Time {
	if en.Now != nil {
		return en.Now()
	}
	return time.Now()
}

// Toggle flips the principal's session for the given mode. Invoking the
// toggle of the currently active mode turns the session off (the idempotent
// pair); toggling the other mode replaces the session wholesale, matching
// the original INSERT OR REPLACE semantics. Returns whether a session is
// active afterwards.
func (en *Engine) Toggle(ctx context.Context, p e.Principal, mode e.SessionMode, sourceChatID int64, targetChatID *int64) (bool, error) {
	en.locks.Lock(p.ID)
	defer en.locks.Unlock(p.ID)

	cur, err := en.Sessions.GetSession(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("loading session: %w", err)
	}

	if cur != nil && cur.Mode == mode {
		if err := en.Sessions.ClearSession(ctx, p.ID); err != nil {
			return true, fmt.Errorf("clearing session: %w", err)
		}
		en.Log.Info("broadcast session off", "user_id", p.ID, "mode", mode)
		return false, nil
	}

	now := en.now()
	s := e.BroadcastSession{
		PrincipalID:    p.ID,
		Mode:           mode,
		SourceChatID:   sourceChatID,
		TargetChatID:   targetChatID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := en.Sessions.SetSession(ctx, s); err != nil {
		return false, fmt.Errorf("storing session: %w", err)
	}

	en.Log.Info("broadcast session on", "user_id", p.ID, "mode", mode, "source_chat_id", sourceChatID)
	return true, nil
}

// Disable turns the principal's session off regardless of mode. Returns
// whether a session existed.
func (en *Engine) Disable(ctx context.Context, principalID int64) (bool, error) {
	en.locks.Lock(principalID)
	defer en.locks.Unlock(principalID)

	cur, err := en.Sessions.GetSession(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("loading session: %w", err)
	}
	if cur == nil {
		return false, nil
	}

	if err := en.Sessions.ClearSession(ctx, principalID); err != nil {
		return true, fmt.Errorf("clearing session: %w", err)
	}
	return true, nil
}

// DisableAll clears every principal's session in one operation. Restricted
// to Owner and HeadAdmin.
func (en *Engine) DisableAll(ctx context.Context, actor e.Principal) (int64, error) {
	if !actor.Role.CanModerate() {
		return 0, e.ErrPermissionDenied
	}

	n, err := en.Sessions.ClearAllSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing all sessions: %w", err)
	}

	en.Log.Info("all broadcast sessions disabled", "by", actor.ID, "count", n)
	return n, nil
}

// List returns all active sessions with principal display data.
func (en *Engine) List(ctx context.Context) ([]e.SessionInfo, error) {
	return en.Sessions.ListSessions(ctx)
}

// HandleMessage forwards the message under the principal's active session.
// It reports whether a session consumed the event; once a session exists the
// event never falls through to later dispatch stages, even when source
// affinity blocks the forward.
func (en *Engine) HandleMessage(ctx context.Context, p e.Principal, ev e.DispatchEvent) (bool, error) {
	en.locks.Lock(p.ID)
	s, err := en.Sessions.GetSession(ctx, p.ID)
	en.locks.Unlock(p.ID)
	if err != nil {
		return false, fmt.Errorf("loading session: %w", err)
	}
	if s == nil {
		return false, nil
	}

	// Non-owners only forward from the chat the session was started in.
	if !p.Role.IsOwner() && ev.ChatID != s.SourceChatID {
		en.Log.Debug("forward skipped, source chat mismatch",
			"user_id", p.ID, "chat_id", ev.ChatID, "source_chat_id", s.SourceChatID)
		return true, nil
	}

	target := en.DefaultChatID
	if s.TargetChatID != nil {
		target = *s.TargetChatID
	}

	if !en.deliver(ctx, p, s, ev, target) {
		return true, nil
	}

	now := en.now()
	if err := en.Sessions.TouchSession(ctx, p.ID, now); err != nil {
		en.Log.Error("touching session", "user_id", p.ID, "error", err)
	}
	if err := en.Stats.RecordForward(ctx, p.ID, messageType(ev)); err != nil {
		en.Log.Error("recording forward", "user_id", p.ID, "error", err)
	}

	return true, nil
}

// deliver performs the actual sends. Transport failures are logged and
// never abort anything; it reports whether at least the primary unit went
// out.
func (en *Engine) deliver(ctx context.Context, p e.Principal, s *e.BroadcastSession, ev e.DispatchEvent, target int64) bool {
	if !ev.HasBody() {
		// Nothing to render, forward the message unit as-is.
		if err := en.Sender.ForwardMessage(ctx, target, ev.ChatID, ev.MessageID); err != nil {
			en.Log.Error("forwarding message", "user_id", p.ID, "target", target, "error", err)
			return false
		}
		if s.Mode == e.ModeSigned {
			if err := en.Sender.SendText(ctx, target, en.signature(p)); err != nil {
				en.Log.Error("sending signature", "user_id", p.ID, "target", target, "error", err)
			}
		}
		return true
	}

	text := ev.Body()
	if s.Mode == e.ModeSigned {
		text = text + "\n\n" + en.signature(p)
	}
	if err := en.Sender.SendText(ctx, target, text); err != nil {
		en.Log.Error("sending forward", "user_id", p.ID, "target", target, "error", err)
		return false
	}
	return true
}

func (en *Engine) signature(p e.Principal) string {
	if p.Username != "" {
		return fmt.Sprintf("— %s (@%s)", p.DisplayName(), p.Username)
	}
	return "— " + p.DisplayName()
}

// SweepIdle clears sessions without a forward for longer than IdleTimeout.
// Wired as a recurring job; safe to call concurrently with toggles since
// the repository delete is a single statement.
func (en *Engine) SweepIdle(ctx context.Context) {
	if en.IdleTimeout <= 0 {
		return
	}

	cutoff := en.now().Add(-en.IdleTimeout)
	n, err := en.Sessions.ClearIdleSessions(ctx, cutoff)
	if err != nil {
		en.Log.Error("sweeping idle sessions", "error", err)
		return
	}
	if n > 0 {
		en.Log.Info("idle broadcast sessions expired", "count", n)
	}
}

func messageType(ev e.DispatchEvent) string {
	if ev.Media != nil {
		return string(ev.Media.Kind)
	}
	return "text"
}
