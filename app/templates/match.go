package templates

import (
	"sort"
	"strings"
	"unicode/utf8"

	e "nuclight.org/community-tg-bot/pkg/entities"
)

// Match picks the template command triggered by text. Candidates are tried
// longest name first, measured in words, so a short trigger phrase cannot
// shadow a longer, more specific one. The match is a case-insensitive
// prefix check; the returned remainder is the raw text after the matched
// prefix, trimmed.
func Match(cmds []e.TemplateCommand, text string) (*e.TemplateCommand, string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(cmds) == 0 {
		return nil, "", false
	}

	sorted := make([]e.TemplateCommand, len(cmds))
	copy(sorted, cmds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(strings.Fields(sorted[i].Name)) > len(strings.Fields(sorted[j].Name))
	})

	runes := []rune(trimmed)
	for i := range sorted {
		name := strings.ToLower(strings.TrimSpace(sorted[i].Name))
		n := utf8.RuneCountInString(name)
		if n == 0 || n > len(runes) {
			continue
		}
		if strings.ToLower(string(runes[:n])) != name {
			continue
		}

		rest := strings.TrimSpace(string(runes[n:]))
		return &sorted[i], rest, true
	}

	return nil, "", false
}

// RenderInput carries the resolved participants for placeholder
// substitution.
type RenderInput struct {
	Sender    e.Principal
	Secondary *e.Principal
	Tail      string
}

// Render substitutes the recognized placeholders. The tail goes in last so
// placeholder-looking text inside it stays literal.
func Render(template string, in RenderInput) string {
	out := strings.ReplaceAll(template, e.PlaceholderSender, in.Sender.DisplayName())
	if in.Secondary != nil {
		out = strings.ReplaceAll(out, e.PlaceholderSecondary, in.Secondary.DisplayName())
	}
	out = strings.ReplaceAll(out, e.PlaceholderTail, in.Tail)
	return strings.TrimSpace(out)
}
