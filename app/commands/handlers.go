package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nuclight.org/community-tg-bot/app/backup"
	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// Store is the slice of the persistent store the handlers need.
type Store interface {
	GetPrincipal(ctx context.Context, id int64) (*e.Principal, error)
	SetRole(ctx context.Context, id int64, role e.Role) error
	SetCustomName(ctx context.Context, id int64, name string) error
	SetTitle(ctx context.Context, id int64, title string) error
	AddBan(ctx context.Context, userID, bannedBy int64, reason string) error
	RemoveBan(ctx context.Context, userID int64) error
	AddMute(ctx context.Context, userID, mutedBy int64, reason string) error
	RemoveMute(ctx context.Context, userID int64) error
	LogAction(ctx context.Context, actionType string, userID, targetID *int64, details string) error
}

type Resolver interface {
	Resolve(ctx context.Context, token string) (*e.Principal, error)
}

// SessionEngine is the broadcast engine surface the toggle commands use.
type SessionEngine interface {
	Toggle(ctx context.Context, p e.Principal, mode e.SessionMode, sourceChatID int64, targetChatID *int64) (bool, error)
	Disable(ctx context.Context, principalID int64) (bool, error)
	DisableAll(ctx context.Context, actor e.Principal) (int64, error)
	List(ctx context.Context) ([]e.SessionInfo, error)
}

type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Restorer interface {
	Restore(ctx context.Context, code string) (backup.ImportStats, error)
}

// Handlers bundles the canonical command implementations. Each handler is a
// thin store-call + transport-call sequence; all real branching lives in
// the dispatch pipeline and the session engine.
type Handlers struct {
	Log       logger.Logger
	Store     Store
	Resolver  Resolver
	Sessions  SessionEngine
	Sender    Transport
	Backups   Restorer
	Templates TemplateStore
	AliasRepo AliasStore

	// known reports whether a canonical command name exists; set during
	// Register so addAlias can validate targets.
	known func(name string) bool
}

// Register wires every canonical command into the static table.
func (h *Handlers) Register(r *Registry) {
	r.MustRegister("online", h.toggle(e.ModeSigned))
	r.MustRegister("anonymous", h.toggle(e.ModeAnonymous))
	r.MustRegister("offline", h.offline)
	r.MustRegister("disable_all", h.disableAll)
	r.MustRegister("who_online", h.whoOnline)
	r.MustRegister("grant_all", h.grantAll)
	r.MustRegister("revoke_role", h.revokeRole)
	r.MustRegister("divorce", h.divorce)
	r.MustRegister("rename", h.rename)
	r.MustRegister("ban", h.ban(false))
	r.MustRegister("ban_silent", h.ban(true))
	r.MustRegister("unban", h.unban)
	r.MustRegister("mute", h.mute)
	r.MustRegister("unmute", h.unmute)
	r.MustRegister("restore", h.restore)
	h.registerManagement(r)
	h.known = r.Known
}

// target picks the command's subject: an explicit handle argument wins,
// then the reply target.
func (h *Handlers) target(ctx context.Context, inv Invocation) (*e.Principal, error) {
	for _, arg := range inv.Args {
		if strings.HasPrefix(arg, "@") {
			return h.Resolver.Resolve(ctx, arg)
		}
	}
	if len(inv.Args) > 0 {
		if p, err := h.Resolver.Resolve(ctx, inv.Args[0]); err == nil {
			return p, nil
		}
	}
	if inv.Event.ReplyToSenderID != nil {
		p, err := h.Store.GetPrincipal(ctx, *inv.Event.ReplyToSenderID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, e.ErrIdentityNotFound
}

func (h *Handlers) toggle(mode e.SessionMode) Handler {
	return func(ctx context.Context, inv Invocation) error {
		var targetChat *int64
		if len(inv.Args) > 0 {
			if id, err := strconv.ParseInt(inv.Args[0], 10, 64); err == nil {
				targetChat = &id
			}
		}

		active, err := h.Sessions.Toggle(ctx, inv.Actor, mode, inv.Event.ChatID, targetChat)
		if err != nil {
			return err
		}

		if active {
			return h.Sender.SendText(ctx, inv.Event.ChatID, modeOnText(mode))
		}
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Режим вимкнено.")
	}
}

func modeOnText(mode e.SessionMode) string {
	if mode == e.ModeAnonymous {
		return "Анонімний режим увімкнено."
	}
	return "Підписаний режим увімкнено."
}

func (h *Handlers) offline(ctx context.Context, inv Invocation) error {
	existed, err := h.Sessions.Disable(ctx, inv.Actor.ID)
	if err != nil {
		return err
	}
	if !existed {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Активного режиму немає.")
	}
	return h.Sender.SendText(ctx, inv.Event.ChatID, "Режим вимкнено.")
}

func (h *Handlers) disableAll(ctx context.Context, inv Invocation) error {
	n, err := h.Sessions.DisableAll(ctx, inv.Actor)
	if err != nil {
		return err
	}
	h.logAction(ctx, "disable_all_sessions", inv.Actor.ID, nil, fmt.Sprintf("cleared %d", n))
	return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Вимкнено режимів: %d.", n))
}

func (h *Handlers) whoOnline(ctx context.Context, inv Invocation) error {
	infos, err := h.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Ніхто не онлайн.")
	}

	var sb strings.Builder
	sb.WriteString("Зараз онлайн:\n")
	for _, info := range infos {
		name := info.DisplayName
		if name == "" && info.Username != "" {
			name = "@" + info.Username
		}
		if name == "" {
			name = fmt.Sprintf("id%d", info.Session.PrincipalID)
		}
		fmt.Fprintf(&sb, "%s (%s), активність %s\n",
			name, info.Session.Mode, info.Session.LastActivityAt.Format("15:04"))
	}
	return h.Sender.SendText(ctx, inv.Event.ChatID, sb.String())
}

func (h *Handlers) grantAll(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кому видати права.")
		}
		return err
	}

	if err := h.Store.SetRole(ctx, target.ID, e.RoleHeadAdmin); err != nil {
		return fmt.Errorf("setting role: %w", err)
	}
	h.logAction(ctx, "grant_all", inv.Actor.ID, &target.ID, "")
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s отримує всі права.", target.DisplayName()))
}

func (h *Handlers) revokeRole(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, у кого забрати права.")
		}
		return err
	}

	if err := h.Store.SetRole(ctx, target.ID, e.RoleMember); err != nil {
		return fmt.Errorf("resetting role: %w", err)
	}
	h.logAction(ctx, "revoke_role", inv.Actor.ID, &target.ID, "")
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s більше не має прав.", target.DisplayName()))
}

func (h *Handlers) divorce(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого розлучати.")
		}
		return err
	}

	if err := h.Store.SetTitle(ctx, target.ID, ""); err != nil {
		return fmt.Errorf("clearing title: %w", err)
	}
	h.logAction(ctx, "divorce", inv.Actor.ID, &target.ID, "")
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s тепер вільна людина.", target.DisplayName()))
}

// rename sets the display-name override used by template rendering and
// signed forwards. An empty new name clears the override.
func (h *Handlers) rename(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого перейменувати.")
		}
		return err
	}

	name := trailingText(inv.Args)
	if err := h.Store.SetCustomName(ctx, target.ID, name); err != nil {
		return fmt.Errorf("setting custom name: %w", err)
	}
	h.logAction(ctx, "rename", inv.Actor.ID, &target.ID, name)

	if name == "" {
		return h.Sender.SendText(ctx, inv.Event.ChatID,
			fmt.Sprintf("%s знову під своїм імʼям.", target.DisplayName()))
	}
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("Тепер %s звати %s.", target.DisplayName(), name))
}

func (h *Handlers) ban(silent bool) Handler {
	return func(ctx context.Context, inv Invocation) error {
		if !inv.Actor.Role.CanModerate() {
			return e.ErrPermissionDenied
		}

		target, err := h.target(ctx, inv)
		if err != nil {
			if errors.Is(err, e.ErrIdentityNotFound) {
				return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого банити.")
			}
			return err
		}

		reason := trailingText(inv.Args)
		if err := h.Store.AddBan(ctx, target.ID, inv.Actor.ID, reason); err != nil {
			return fmt.Errorf("storing ban: %w", err)
		}
		h.logAction(ctx, "ban", inv.Actor.ID, &target.ID, reason)

		if silent {
			return nil
		}
		return h.Sender.SendText(ctx, inv.Event.ChatID,
			fmt.Sprintf("%s забанено.", target.DisplayName()))
	}
}

func (h *Handlers) unban(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого розбанювати.")
		}
		return err
	}

	if err := h.Store.RemoveBan(ctx, target.ID); err != nil {
		return fmt.Errorf("removing ban: %w", err)
	}
	h.logAction(ctx, "unban", inv.Actor.ID, &target.ID, "")
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s розбанено.", target.DisplayName()))
}

func (h *Handlers) mute(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого мьютити.")
		}
		return err
	}

	reason := trailingText(inv.Args)
	if err := h.Store.AddMute(ctx, target.ID, inv.Actor.ID, reason); err != nil {
		return fmt.Errorf("storing mute: %w", err)
	}
	h.logAction(ctx, "mute", inv.Actor.ID, &target.ID, reason)
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s у мьюті.", target.DisplayName()))
}

func (h *Handlers) unmute(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	target, err := h.target(ctx, inv)
	if err != nil {
		if errors.Is(err, e.ErrIdentityNotFound) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Не знайшов, кого розмьючувати.")
		}
		return err
	}

	if err := h.Store.RemoveMute(ctx, target.ID); err != nil {
		return fmt.Errorf("removing mute: %w", err)
	}
	h.logAction(ctx, "unmute", inv.Actor.ID, &target.ID, "")
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("%s знову може писати.", target.DisplayName()))
}

// restore is invoked by the pipeline's restore-token stage; the owner gate
// already happened there, but the handler re-checks since aliases could
// also reach it.
func (h *Handlers) restore(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.IsOwner() {
		return e.ErrPermissionDenied
	}
	if len(inv.Args) == 0 {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Потрібен код бекапу.")
	}

	stats, err := h.Backups.Restore(ctx, inv.Args[0])
	if err != nil {
		return fmt.Errorf("restoring backup: %w", err)
	}
	h.logAction(ctx, "restore", inv.Actor.ID, nil, inv.Args[0])

	var sb strings.Builder
	fmt.Fprintf(&sb, "Відновлено %d записів:\n", stats.Total)
	for table, n := range stats.Tables {
		fmt.Fprintf(&sb, "%s: %d\n", table, n)
	}
	return h.Sender.SendText(ctx, inv.Event.ChatID, sb.String())
}

func (h *Handlers) logAction(ctx context.Context, actionType string, actorID int64, targetID *int64, details string) {
	if err := h.Store.LogAction(ctx, actionType, &actorID, targetID, details); err != nil {
		h.Log.Error("writing action log", "action", actionType, "error", err)
	}
}

// trailingText joins the non-handle arguments into a free-text reason.
func trailingText(args []string) string {
	var rest []string
	for _, a := range args {
		if strings.HasPrefix(a, "@") {
			continue
		}
		rest = append(rest, a)
	}
	return strings.Join(rest, " ")
}
