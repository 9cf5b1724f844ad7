package entities

import (
	"strings"
	"time"
)

// Placeholders recognized in template command text. A template must contain
// at least one of them to be accepted.
const (
	PlaceholderSender    = "@s1"
	PlaceholderSecondary = "@s2"
	PlaceholderTail      = "@t"
)

// TemplateCommand is a chat-scoped phrase trigger. The command name is
// stored lowercased; matching is case-insensitive.
type TemplateCommand struct {
	ID        int64
	ChatID    int64
	Name      string
	Template  string
	CreatorID int64
	CreatedAt time.Time
}

// NeedsSecondary reports whether rendering this template requires a resolved
// secondary participant.
func (t TemplateCommand) NeedsSecondary() bool {
	return strings.Contains(t.Template, PlaceholderSecondary)
}

// MediaKind is the attachment type of a media pool entry.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaAnimation MediaKind = "animation"
	MediaVideo     MediaKind = "video"
	MediaSticker   MediaKind = "sticker"
)

// MediaRef is one entry of a template command's media pool. Entries are only
// ever appended; adding the same asset twice weights it higher in the random
// draw.
type MediaRef struct {
	ID     int64
	Kind   MediaKind
	FileID string
}

// CommandAlias maps a chat-scoped text trigger to a canonical command name.
// The alias text is unique per chat; the last registration wins.
type CommandAlias struct {
	ChatID    int64
	Alias     string
	Command   string
	CreatorID int64
	CreatedAt time.Time
}
