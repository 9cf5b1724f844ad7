package entities

import "time"

// SessionMode is a broadcast forwarding mode.
type SessionMode string

const (
	// ModeSigned appends a signature line to every forwarded message.
	ModeSigned SessionMode = "signed"

	// ModeAnonymous forwards the message body without attribution.
	ModeAnonymous SessionMode = "anon"
)

// BroadcastSession is the per-principal forwarding state. At most one
// session exists per principal at any time.
type BroadcastSession struct {
	PrincipalID  int64
	Mode         SessionMode
	SourceChatID int64

	// TargetChatID overrides the default broadcast chat when set.
	TargetChatID *int64

	StartedAt time.Time

	// LastActivityAt is bumped on every successful forward. It feeds the
	// idle sweep and the session listing, nothing else.
	LastActivityAt time.Time
}

// SessionInfo is a broadcast session joined with its principal's display
// data, for the "who is online" listing.
type SessionInfo struct {
	Session     BroadcastSession
	DisplayName string
	Username    string
}
