package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	e "nuclight.org/community-tg-bot/pkg/entities"
	"nuclight.org/community-tg-bot/pkg/logger"
)

// LocalDirectory is the principal lookup backed by the persistent store.
type LocalDirectory interface {
	FindByUsernameExact(ctx context.Context, username string) (*e.Principal, error)
	FindByUsernameSubstring(ctx context.Context, fragment string) (*e.Principal, error)
}

// ExternalDirectory resolves handles through the platform itself, used only
// when every local tier missed.
type ExternalDirectory interface {
	LookupHandle(ctx context.Context, handle string) (*e.Principal, error)
}

// Resolver turns a handle-like token into a concrete principal. Tiers run
// in strict order, stopping at the first hit: exact local match, the
// @-prefixed variant some imports carry, local substring match, external
// directory. ErrIdentityNotFound is a definite negative, never a retry
// signal.
type Resolver struct {
	Log      logger.Logger
	Local    LocalDirectory
	External ExternalDirectory
}

func (r *Resolver) Resolve(ctx context.Context, token string) (*e.Principal, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(token), "@")
	if handle == "" {
		return nil, e.ErrIdentityNotFound
	}

	p, err := r.Local.FindByUsernameExact(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("local exact lookup: %w", err)
	}
	if p != nil {
		return p, nil
	}

	// Imported directories sometimes store the handle with the reserved
	// @ prefix still attached.
	p, err = r.Local.FindByUsernameExact(ctx, "@"+handle)
	if err != nil {
		return nil, fmt.Errorf("local prefixed lookup: %w", err)
	}
	if p != nil {
		return p, nil
	}

	p, err = r.Local.FindByUsernameSubstring(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("local substring lookup: %w", err)
	}
	if p != nil {
		return p, nil
	}

	if r.External != nil {
		p, err = r.External.LookupHandle(ctx, handle)
		if err != nil && !errors.Is(err, e.ErrIdentityNotFound) {
			r.Log.Warn("external directory lookup failed", "handle", handle, "error", err)
			return nil, e.ErrIdentityNotFound
		}
		if p != nil {
			return p, nil
		}
	}

	return nil, e.ErrIdentityNotFound
}
