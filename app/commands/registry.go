package commands

import (
	"context"
	"strings"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// Invocation is the argument bundle passed to a canonical command handler.
// Args are whatever the triggering stage derived: alias tail tokens, a
// phrase argument, a restore code.
type Invocation struct {
	Actor e.Principal
	Event e.DispatchEvent
	Args  []string
}

// Handler is one canonical command implementation.
type Handler func(ctx context.Context, inv Invocation) error

// Registry is the static canonical-command table. It is populated once
// during startup wiring; nothing is ever discovered at runtime.
type Registry struct {
	Log      logger.Logger
	handlers map[string]Handler
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		Log:      log,
		handlers: make(map[string]Handler),
	}
}

// MustRegister adds a handler and panics on duplicates. Registration only
// happens at startup, so a duplicate is a programming error.
func (r *Registry) MustRegister(name string, h Handler) {
	name = strings.ToLower(name)
	if _, dup := r.handlers[name]; dup {
		panic("duplicate canonical command: " + name)
	}
	r.handlers[name] = h
}

// Known reports whether a canonical command with this name exists.
func (r *Registry) Known(name string) bool {
	_, ok := r.handlers[strings.ToLower(name)]
	return ok
}

// Invoke runs the named command. Unknown names are logged and swallowed:
// a stale alias must never crash dispatch.
func (r *Registry) Invoke(ctx context.Context, name string, inv Invocation) error {
	h, ok := r.handlers[strings.ToLower(name)]
	if !ok {
		r.Log.Warn("unknown canonical command", "name", name)
		return nil
	}
	return h(ctx, inv)
}
