package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"unicode"

	"github.com/getsentry/sentry-go"

	"nuclight.org/community-tg-bot/app/commands"
	"nuclight.org/community-tg-bot/app/templates"
	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// PrincipalSource observes inbound senders and looks principals up by id.
type PrincipalSource interface {
	ObservePrincipal(ctx context.Context, ev e.DispatchEvent) (e.Principal, error)
	GetPrincipal(ctx context.Context, id int64) (*e.Principal, error)
}

// TemplateSource is the template store surface the match stage needs.
type TemplateSource interface {
	ListForChat(ctx context.Context, chatID int64) ([]e.TemplateCommand, error)
	MediaPool(ctx context.Context, commandID int64) ([]e.MediaRef, error)
}

// SessionEngine is the broadcast short-circuit. HandleMessage reports whether
// an active session consumed the event.
type SessionEngine interface {
	HandleMessage(ctx context.Context, p e.Principal, ev e.DispatchEvent) (bool, error)
}

// AliasSource resolves a chat-scoped alias to a canonical command name,
// returning "" when the alias is unknown.
type AliasSource interface {
	GetAlias(ctx context.Context, chatID int64, alias string) (string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, token string) (*e.Principal, error)
}

// Transport is the slice of the messaging client the pipeline sends through.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendMedia(ctx context.Context, chatID int64, kind e.MediaKind, fileID, caption string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

type CommandInvoker interface {
	Invoke(ctx context.Context, name string, inv commands.Invocation) error
}

// Pipeline routes one inbound text event through the dispatch stages:
// cleanup, template match, capability gate, session short-circuit, phrase
// commands, restore token, alias resolution. Stages run strictly in order
// and the first terminal stage wins.
type Pipeline struct {
	Log        logger.Logger
	Principals PrincipalSource
	Templates  TemplateSource
	Sessions   SessionEngine
	Aliases    AliasSource
	Identity   Resolver
	Sender     Transport
	Commands   CommandInvoker

	// randIntn is swapped out by tests to make media selection
	// deterministic.
	randIntn func(n int) int
}

func (p *Pipeline) rand(n int) int {
	if p.randIntn != nil {
		return p.randIntn(n)
	}
	return rand.Intn(n)
}

// HandleText is the single entry point, invoked once per inbound event by
// the update loop. No error ever propagates out; each stage is guarded so
// a failure in one event cannot poison the loop.
func (p *Pipeline) HandleText(ctx context.Context, ev e.DispatchEvent) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			p.Log.Error("panic in dispatch", "chat_id", ev.ChatID, "sender_id", ev.SenderID, "panic", r)
		}
	}()

	actor, err := p.Principals.ObservePrincipal(ctx, ev)
	if err != nil {
		p.Log.Error("observing sender", "sender_id", ev.SenderID, "error", err)
		return
	}

	// Stage 1: cosmetic cleanup of slash-looking messages. Never terminal.
	if looksLikeSlashCommand(ev.Body()) {
		if err := p.Sender.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
			p.Log.Debug("deleting slash message", "chat_id", ev.ChatID, "error", err)
		}
	}

	if p.tryTemplates(ctx, actor, ev) {
		return
	}

	// Capability gate: members never reach phrase, restore or alias stages.
	if !actor.Role.CanUseBot() {
		return
	}

	consumed, err := p.Sessions.HandleMessage(ctx, actor, ev)
	if err != nil {
		p.Log.Error("broadcast handling", "sender_id", ev.SenderID, "error", err)
		return
	}
	if consumed {
		return
	}

	if p.tryPhrases(ctx, actor, ev) {
		return
	}
	if p.tryRestoreToken(ctx, actor, ev) {
		return
	}
	if p.tryAliases(ctx, actor, ev) {
		return
	}

	p.Log.Debug("no dispatch stage matched", "chat_id", ev.ChatID, "sender_id", ev.SenderID)
}

// tryTemplates runs the match and render stages. A match is terminal no
// matter what happens afterwards, including the silent abort when a needed
// secondary participant cannot be resolved.
func (p *Pipeline) tryTemplates(ctx context.Context, actor e.Principal, ev e.DispatchEvent) bool {
	cmds, err := p.Templates.ListForChat(ctx, ev.ChatID)
	if err != nil {
		p.Log.Error("listing templates", "chat_id", ev.ChatID, "error", err)
		return false
	}

	cmd, remainder, ok := templates.Match(cmds, ev.Body())
	if !ok {
		return false
	}

	in := templates.RenderInput{Sender: actor, Tail: remainder}
	if cmd.NeedsSecondary() {
		secondary, tail, err := p.resolveSecondary(ctx, ev, remainder)
		if err != nil {
			p.Log.Debug("secondary participant unresolved",
				"chat_id", ev.ChatID, "command", cmd.Name, "error", err)
			return true
		}
		in.Secondary = secondary
		in.Tail = tail
	}

	text := templates.Render(cmd.Template, in)

	pool, err := p.Templates.MediaPool(ctx, cmd.ID)
	if err != nil {
		p.Log.Error("loading media pool", "command_id", cmd.ID, "error", err)
		pool = nil
	}

	if len(pool) == 0 {
		if err := p.Sender.SendText(ctx, ev.ChatID, text); err != nil {
			p.Log.Error("sending rendered template", "chat_id", ev.ChatID, "error", err)
		}
		return true
	}

	m := pool[p.rand(len(pool))]
	if m.Kind == e.MediaSticker {
		// Stickers cannot carry captions, so the text goes out separately.
		if err := p.Sender.SendMedia(ctx, ev.ChatID, m.Kind, m.FileID, ""); err != nil {
			p.Log.Error("sending sticker", "chat_id", ev.ChatID, "error", err)
		}
		if err := p.Sender.SendText(ctx, ev.ChatID, text); err != nil {
			p.Log.Error("sending rendered template", "chat_id", ev.ChatID, "error", err)
		}
		return true
	}

	if err := p.Sender.SendMedia(ctx, ev.ChatID, m.Kind, m.FileID, text); err != nil {
		p.Log.Error("sending template media", "chat_id", ev.ChatID, "error", err)
	}
	return true
}

// resolveSecondary finds the second participant for an @s2 template: the
// first handle token in the remainder wins, otherwise the reply target.
// The returned tail is the remainder minus the consumed handle token.
func (p *Pipeline) resolveSecondary(ctx context.Context, ev e.DispatchEvent, remainder string) (*e.Principal, string, error) {
	tokens := strings.Fields(remainder)
	for i, tok := range tokens {
		if !strings.HasPrefix(tok, "@") {
			continue
		}
		principal, err := p.Identity.Resolve(ctx, tok)
		if err != nil {
			return nil, "", err
		}
		rest := make([]string, 0, len(tokens)-1)
		rest = append(rest, tokens[:i]...)
		rest = append(rest, tokens[i+1:]...)
		return principal, strings.Join(rest, " "), nil
	}

	if ev.ReplyToSenderID != nil {
		principal, err := p.Principals.GetPrincipal(ctx, *ev.ReplyToSenderID)
		if err != nil {
			return nil, "", err
		}
		if principal != nil {
			return principal, remainder, nil
		}
	}

	return nil, "", e.ErrIdentityNotFound
}

// invoke runs a canonical command, translating a permission failure into a
// user-visible rejection and logging everything else.
func (p *Pipeline) invoke(ctx context.Context, name string, inv commands.Invocation) {
	err := p.Commands.Invoke(ctx, name, inv)
	switch {
	case err == nil:
	case errors.Is(err, e.ErrPermissionDenied):
		if err := p.Sender.SendText(ctx, inv.Event.ChatID, "Недостатньо прав."); err != nil {
			p.Log.Error("sending rejection", "chat_id", inv.Event.ChatID, "error", err)
		}
	default:
		p.Log.Error("canonical command failed", "command", name, "error", err)
	}
}

// looksLikeSlashCommand reports whether the message is an explicit
// slash-style command like "/start" or "/ban@somebot".
func looksLikeSlashCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 || trimmed[0] != '/' {
		return false
	}
	r := []rune(trimmed)[1]
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
