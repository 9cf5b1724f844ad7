package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// EventHandler consumes one inbound dispatch event. It must never panic its
// way out; the pipeline guards itself.
type EventHandler interface {
	HandleText(ctx context.Context, ev e.DispatchEvent)
}

// Client owns the long-poll update loop and implements the outbound
// transport used by dispatch, broadcast and the canonical commands.
type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	Handler    EventHandler

	bot *tgbotapi.BotAPI
	wg  sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) (err error) {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	log := c.Log

	c.bot, err = tgbotapi.NewBotAPI(c.APIToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	log.Info("bot api created", "username", c.bot.Self.UserName)

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60

	updatesChan := c.bot.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	return nil
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updatesChan:
			c.handleUpdate(ctx, update)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if err := recover(); err != nil {
			log.Error("panic", "error", err)
		}
	}()

	if update.Message == nil {
		return
	}

	msg := update.Message
	if msg.From == nil || msg.Chat == nil {
		log.Warn("message without sender or chat")
		return
	}

	log.Debug(
		"new message",
		"tg_message_id", msg.MessageID,
		"tg_user_id", msg.From.ID,
		"tg_user_nick", msg.From.UserName,
		"tg_chat_id", msg.Chat.ID,
		"text", msg.Text,
	)

	c.Handler.HandleText(ctx, makeEvent(msg))
}

// makeEvent flattens a platform message into the pipeline's event shape.
func makeEvent(msg *tgbotapi.Message) e.DispatchEvent {
	ev := e.DispatchEvent{
		MessageID:      msg.MessageID,
		ChatID:         msg.Chat.ID,
		SenderID:       msg.From.ID,
		SenderUsername: msg.From.UserName,
		SenderFullName: fullName(msg.From),
		Text:           msg.Text,
		Caption:        msg.Caption,
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		id := msg.ReplyToMessage.From.ID
		ev.ReplyToSenderID = &id
	}

	switch {
	case len(msg.Photo) > 0:
		// Largest size is last.
		ev.Media = &e.MediaRef{Kind: e.MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Animation != nil:
		ev.Media = &e.MediaRef{Kind: e.MediaAnimation, FileID: msg.Animation.FileID}
	case msg.Video != nil:
		ev.Media = &e.MediaRef{Kind: e.MediaVideo, FileID: msg.Video.FileID}
	case msg.Sticker != nil:
		ev.Media = &e.MediaRef{Kind: e.MediaSticker, FileID: msg.Sticker.FileID}
	}

	return ev
}

func fullName(user *tgbotapi.User) string {
	var sb strings.Builder
	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}
	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}
	return sb.String()
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true

	if _, err := c.bot.Send(msg); err != nil {
		return wrapTransportErr(fmt.Errorf("sending text: %w", err))
	}
	return nil
}

func (c *Client) SendMedia(ctx context.Context, chatID int64, kind e.MediaKind, fileID, caption string) error {
	var conf tgbotapi.Chattable

	switch kind {
	case e.MediaPhoto:
		m := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
		m.Caption = caption
		conf = m
	case e.MediaAnimation:
		m := tgbotapi.NewAnimation(chatID, tgbotapi.FileID(fileID))
		m.Caption = caption
		conf = m
	case e.MediaVideo:
		m := tgbotapi.NewVideo(chatID, tgbotapi.FileID(fileID))
		m.Caption = caption
		conf = m
	case e.MediaSticker:
		conf = tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID))
	default:
		return fmt.Errorf("unknown media kind: %s", kind)
	}

	if _, err := c.bot.Send(conf); err != nil {
		return wrapTransportErr(fmt.Errorf("sending %s: %w", kind, err))
	}
	return nil
}

func (c *Client) ForwardMessage(ctx context.Context, chatID, fromChatID int64, messageID int) error {
	conf := tgbotapi.NewForward(chatID, fromChatID, messageID)
	if _, err := c.bot.Send(conf); err != nil {
		return wrapTransportErr(fmt.Errorf("forwarding message: %w", err))
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	conf := tgbotapi.NewDeleteMessage(chatID, messageID)
	if _, err := c.bot.Request(conf); err != nil {
		return wrapTransportErr(fmt.Errorf("deleting message: %w", err))
	}
	return nil
}

// LookupHandle resolves a public username through the platform directory.
// Implements the identity resolver's external tier.
func (c *Client) LookupHandle(ctx context.Context, handle string) (*e.Principal, error) {
	handle = strings.TrimPrefix(handle, "@")

	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + handle},
	})
	if err != nil {
		return nil, wrapTransportErr(fmt.Errorf("looking up @%s: %w", handle, err))
	}
	if !chat.IsPrivate() {
		// Groups and channels share the username namespace with users.
		return nil, e.ErrIdentityNotFound
	}

	name := chat.FirstName
	if chat.LastName != "" {
		name += " " + chat.LastName
	}

	return &e.Principal{
		ID:       chat.ID,
		Username: chat.UserName,
		FullName: name,
	}, nil
}

// wrapTransportErr classifies platform errors into the shared taxonomy so
// callers can branch without importing the bot api.
func wrapTransportErr(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return &e.TransportError{Kind: e.TransportNetwork, Err: err}
	}

	switch {
	case apiErr.Code == 429:
		return &e.TransportError{Kind: e.TransportRateLimited, Err: err}
	case apiErr.Code == 403:
		return &e.TransportError{Kind: e.TransportPermissionDenied, Err: err}
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "not found"):
		return &e.TransportError{Kind: e.TransportNotFound, Err: err}
	default:
		return &e.TransportError{Kind: e.TransportNetwork, Err: err}
	}
}
