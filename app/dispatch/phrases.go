package dispatch

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"nuclight.org/community-tg-bot/app/commands"
	e "nuclight.org/community-tg-bot/pkg/entities"
)

// phraseCommand maps one natural-language phrase to a canonical command.
// Exact phrases must match the whole message; prefix phrases pass the rest
// of the message as arguments.
type phraseCommand struct {
	phrase  string
	command string
	prefix  bool
}

// phraseTable is fixed at compile time. Per-chat customization goes through
// aliases, not here.
var phraseTable = []phraseCommand{
	{phrase: "видай всі права", command: "grant_all"},
	{phrase: "хто онлайн", command: "who_online"},
	{phrase: "вимкнути всі режими", command: "disable_all"},
	{phrase: "список команд", command: "list_commands"},
	{phrase: "розлучення", command: "divorce", prefix: true},
	{phrase: "додай аліас", command: "add_alias", prefix: true},
	{phrase: "видали аліас", command: "del_alias", prefix: true},
	{phrase: "додай команду", command: "add_template", prefix: true},
	{phrase: "видали команду", command: "del_template", prefix: true},
	{phrase: "додай медіа", command: "add_media", prefix: true},
	{phrase: "видали медіа", command: "del_media", prefix: true},
}

var restoreTokenRe = regexp.MustCompile(`^(?:code:\s*)?([0-9a-fA-F]{32})$`)

func (p *Pipeline) tryPhrases(ctx context.Context, actor e.Principal, ev e.DispatchEvent) bool {
	trimmed := strings.TrimSpace(ev.Body())
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	runes := []rune(trimmed)

	for _, pc := range phraseTable {
		var args []string
		switch {
		case !pc.prefix && lower == pc.phrase:
		case pc.prefix && strings.HasPrefix(lower, pc.phrase):
			// Arguments keep the original casing; template bodies and
			// handles pass through untouched.
			n := utf8.RuneCountInString(pc.phrase)
			args = strings.Fields(string(runes[n:]))
		default:
			continue
		}

		p.invoke(ctx, pc.command, commands.Invocation{Actor: actor, Event: ev, Args: args})
		return true
	}
	return false
}

// tryRestoreToken recognizes a bare 32-digit hex backup code, optionally
// labeled "code:". Owner only; everyone else gets told off.
func (p *Pipeline) tryRestoreToken(ctx context.Context, actor e.Principal, ev e.DispatchEvent) bool {
	m := restoreTokenRe.FindStringSubmatch(strings.TrimSpace(ev.Body()))
	if m == nil {
		return false
	}

	if !actor.Role.IsOwner() {
		if err := p.Sender.SendText(ctx, ev.ChatID, "Відновлення з бекапу доступне лише власнику."); err != nil {
			p.Log.Error("sending rejection", "chat_id", ev.ChatID, "error", err)
		}
		return true
	}

	p.invoke(ctx, "restore", commands.Invocation{
		Actor: actor,
		Event: ev,
		Args:  []string{strings.ToLower(m[1])},
	})
	return true
}

// tryAliases matches the longest leading token run against the chat's
// registered aliases, shrinking one token at a time. Trailing tokens become
// the command's arguments.
func (p *Pipeline) tryAliases(ctx context.Context, actor e.Principal, ev e.DispatchEvent) bool {
	tokens := strings.Fields(ev.Body())
	if len(tokens) == 0 {
		return false
	}

	for n := len(tokens); n > 0; n-- {
		key := strings.ToLower(strings.Join(tokens[:n], " "))
		command, err := p.Aliases.GetAlias(ctx, ev.ChatID, key)
		if err != nil {
			p.Log.Error("looking up alias", "chat_id", ev.ChatID, "alias", key, "error", err)
			return false
		}
		if command == "" {
			continue
		}

		p.invoke(ctx, command, commands.Invocation{Actor: actor, Event: ev, Args: tokens[n:]})
		return true
	}
	return false
}
