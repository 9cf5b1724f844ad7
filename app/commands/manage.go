package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nuclight.org/community-tg-bot/app/templates"
	e "nuclight.org/community-tg-bot/pkg/entities"
)

// TemplateStore is the template management surface.
type TemplateStore interface {
	Register(ctx context.Context, chatID int64, name, template string, creatorID int64) (int64, error)
	Get(ctx context.Context, chatID int64, name string) (*e.TemplateCommand, error)
	Delete(ctx context.Context, chatID int64, name string) (bool, error)
	ListForChat(ctx context.Context, chatID int64) ([]e.TemplateCommand, error)
	AddMedia(ctx context.Context, commandID int64, kind e.MediaKind, fileID string) error
	RemoveMedia(ctx context.Context, mediaID int64) (bool, error)
}

// AliasStore is the alias management surface.
type AliasStore interface {
	UpsertAlias(ctx context.Context, a e.CommandAlias) error
	DeleteAlias(ctx context.Context, chatID int64, alias string) (bool, error)
	ListAliases(ctx context.Context, chatID int64) ([]e.CommandAlias, error)
}

func (h *Handlers) registerManagement(r *Registry) {
	r.MustRegister("add_alias", h.addAlias)
	r.MustRegister("del_alias", h.delAlias)
	r.MustRegister("add_template", h.addTemplate)
	r.MustRegister("del_template", h.delTemplate)
	r.MustRegister("add_media", h.addMedia)
	r.MustRegister("del_media", h.delMedia)
	r.MustRegister("list_commands", h.listCommands)
}

// addAlias maps a phrase to a canonical command: the last argument is the
// command name, everything before it is the alias text.
func (h *Handlers) addAlias(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}
	if len(inv.Args) < 2 {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Формат: додай аліас <фраза> <команда>.")
	}

	command := strings.ToLower(inv.Args[len(inv.Args)-1])
	alias := strings.ToLower(strings.Join(inv.Args[:len(inv.Args)-1], " "))

	if h.known != nil && !h.known(command) {
		return h.Sender.SendText(ctx, inv.Event.ChatID,
			fmt.Sprintf("Невідома команда %q.", command))
	}

	err := h.AliasRepo.UpsertAlias(ctx, e.CommandAlias{
		ChatID:    inv.Event.ChatID,
		Alias:     alias,
		Command:   command,
		CreatorID: inv.Actor.ID,
	})
	if err != nil {
		return fmt.Errorf("storing alias: %w", err)
	}
	h.logAction(ctx, "add_alias", inv.Actor.ID, nil, alias+" -> "+command)
	return h.Sender.SendText(ctx, inv.Event.ChatID,
		fmt.Sprintf("Алiас %q тепер викликає %s.", alias, command))
}

func (h *Handlers) delAlias(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	alias := strings.ToLower(strings.Join(inv.Args, " "))
	existed, err := h.AliasRepo.DeleteAlias(ctx, inv.Event.ChatID, alias)
	if err != nil {
		return fmt.Errorf("deleting alias: %w", err)
	}
	if !existed {
		return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Алiасу %q немає.", alias))
	}
	h.logAction(ctx, "del_alias", inv.Actor.ID, nil, alias)
	return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Алiас %q видалено.", alias))
}

// addTemplate registers a template command. The name and the template body
// are separated by "|" since both may contain spaces.
func (h *Handlers) addTemplate(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	name, body, found := strings.Cut(strings.Join(inv.Args, " "), "|")
	if !found || strings.TrimSpace(body) == "" {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Формат: додай команду <назва> | <шаблон>.")
	}

	_, err := h.Templates.Register(ctx, inv.Event.ChatID, name, strings.TrimSpace(body), inv.Actor.ID)
	if err != nil {
		if errors.Is(err, templates.ErrNoPlaceholder) {
			return h.Sender.SendText(ctx, inv.Event.ChatID, "Шаблон має містити @s1, @s2 або @t.")
		}
		return fmt.Errorf("registering template: %w", err)
	}

	h.logAction(ctx, "add_template", inv.Actor.ID, nil, strings.TrimSpace(name))
	return h.Sender.SendText(ctx, inv.Event.ChatID, "Команду збережено.")
}

func (h *Handlers) delTemplate(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}

	name := strings.Join(inv.Args, " ")
	existed, err := h.Templates.Delete(ctx, inv.Event.ChatID, name)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	if !existed {
		return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Команди %q немає.", name))
	}
	h.logAction(ctx, "del_template", inv.Actor.ID, nil, name)
	return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Команду %q видалено.", name))
}

// addMedia appends the attached media to a template's pool. The message must
// carry a photo, animation, video or sticker with the command name in the
// caption.
func (h *Handlers) addMedia(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}
	if inv.Event.Media == nil {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Прикріпи медіа до повідомлення.")
	}

	name := strings.Join(inv.Args, " ")
	cmd, err := h.Templates.Get(ctx, inv.Event.ChatID, name)
	if err != nil {
		return fmt.Errorf("loading template: %w", err)
	}
	if cmd == nil {
		return h.Sender.SendText(ctx, inv.Event.ChatID, fmt.Sprintf("Команди %q немає.", name))
	}

	if err := h.Templates.AddMedia(ctx, cmd.ID, inv.Event.Media.Kind, inv.Event.Media.FileID); err != nil {
		return fmt.Errorf("storing media: %w", err)
	}
	h.logAction(ctx, "add_media", inv.Actor.ID, nil, name)
	return h.Sender.SendText(ctx, inv.Event.ChatID, "Медіа додано.")
}

func (h *Handlers) delMedia(ctx context.Context, inv Invocation) error {
	if !inv.Actor.Role.CanModerate() {
		return e.ErrPermissionDenied
	}
	if len(inv.Args) == 0 {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Потрібен номер медіа.")
	}

	id, err := strconv.ParseInt(inv.Args[0], 10, 64)
	if err != nil {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Номер медіа має бути числом.")
	}

	existed, err := h.Templates.RemoveMedia(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting media: %w", err)
	}
	if !existed {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "Такого медіа немає.")
	}
	h.logAction(ctx, "del_media", inv.Actor.ID, nil, inv.Args[0])
	return h.Sender.SendText(ctx, inv.Event.ChatID, "Медіа видалено.")
}

func (h *Handlers) listCommands(ctx context.Context, inv Invocation) error {
	cmds, err := h.Templates.ListForChat(ctx, inv.Event.ChatID)
	if err != nil {
		return fmt.Errorf("listing templates: %w", err)
	}
	aliases, err := h.AliasRepo.ListAliases(ctx, inv.Event.ChatID)
	if err != nil {
		return fmt.Errorf("listing aliases: %w", err)
	}

	if len(cmds) == 0 && len(aliases) == 0 {
		return h.Sender.SendText(ctx, inv.Event.ChatID, "У цьому чаті команд ще немає.")
	}

	var sb strings.Builder
	if len(cmds) > 0 {
		sb.WriteString("Команди:\n")
		for _, c := range cmds {
			fmt.Fprintf(&sb, "%s\n", c.Name)
		}
	}
	if len(aliases) > 0 {
		sb.WriteString("Алiаси:\n")
		for _, a := range aliases {
			fmt.Fprintf(&sb, "%s -> %s\n", a.Alias, a.Command)
		}
	}
	return h.Sender.SendText(ctx, inv.Event.ChatID, sb.String())
}
