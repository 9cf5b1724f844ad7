package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// ErrNoPlaceholder rejects templates that contain none of the recognized
// placeholders and therefore could never render anything useful.
var ErrNoPlaceholder = errors.New("template contains none of @s1, @s2, @t")

// Repository is the persistent side of the template command store.
type Repository interface {
	UpsertTemplate(ctx context.Context, t e.TemplateCommand) (int64, error)
	GetTemplate(ctx context.Context, chatID int64, name string) (*e.TemplateCommand, error)
	DeleteTemplate(ctx context.Context, chatID int64, name string) (bool, error)
	ListTemplates(ctx context.Context, chatID int64) ([]e.TemplateCommand, error)
	AddTemplateMedia(ctx context.Context, commandID int64, kind e.MediaKind, fileID string) error
	DeleteTemplateMedia(ctx context.Context, mediaID int64) (bool, error)
	GetMediaPool(ctx context.Context, commandID int64) ([]e.MediaRef, error)
}

// Store owns chat-scoped template commands and their media pools.
type Store struct {
	Log  logger.Logger
	Repo Repository
}

// Register upserts a template command. Registration is case-insensitive on
// the name; re-registering replaces the template text but keeps the media
// pool.
func (s *Store) Register(ctx context.Context, chatID int64, name, template string, creatorID int64) (int64, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, fmt.Errorf("empty command name")
	}
	if !hasPlaceholder(template) {
		return 0, ErrNoPlaceholder
	}

	return s.Repo.UpsertTemplate(ctx, e.TemplateCommand{
		ChatID:    chatID,
		Name:      name,
		Template:  template,
		CreatorID: creatorID,
		CreatedAt: time.Now(),
	})
}

// AddMedia appends to the pool without deduplication.
func (s *Store) AddMedia(ctx context.Context, commandID int64, kind e.MediaKind, fileID string) error {
	return s.Repo.AddTemplateMedia(ctx, commandID, kind, fileID)
}

// RemoveMedia deletes exactly one pool entry.
func (s *Store) RemoveMedia(ctx context.Context, mediaID int64) (bool, error) {
	return s.Repo.DeleteTemplateMedia(ctx, mediaID)
}

// Get returns the named command for a chat, nil when absent.
func (s *Store) Get(ctx context.Context, chatID int64, name string) (*e.TemplateCommand, error) {
	return s.Repo.GetTemplate(ctx, chatID, name)
}

// Delete removes the command and cascades to its media pool.
func (s *Store) Delete(ctx context.Context, chatID int64, name string) (bool, error) {
	return s.Repo.DeleteTemplate(ctx, chatID, name)
}

func (s *Store) ListForChat(ctx context.Context, chatID int64) ([]e.TemplateCommand, error) {
	return s.Repo.ListTemplates(ctx, chatID)
}

func (s *Store) MediaPool(ctx context.Context, commandID int64) ([]e.MediaRef, error) {
	return s.Repo.GetMediaPool(ctx, commandID)
}

func hasPlaceholder(template string) bool {
	return strings.Contains(template, e.PlaceholderSender) ||
		strings.Contains(template, e.PlaceholderSecondary) ||
		strings.Contains(template, e.PlaceholderTail)
}
