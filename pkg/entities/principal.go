package entities

import "fmt"

// Principal is a user known to the bot. Principals are created on the first
// observed message and never deleted; privileged commands may change the
// role or reset it back to member.
type Principal struct {
	ID       int64
	Role     Role
	Username string // platform handle without the @ prefix, may be empty
	FullName string

	// CustomName and Title are display overrides set by privileged
	// commands. Empty means no override.
	CustomName string
	Title      string
}

// DisplayName is the name used for placeholder substitution and forward
// signatures. The custom-name override wins over the platform name.
func (p Principal) DisplayName() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	if p.FullName != "" {
		return p.FullName
	}
	if p.Username != "" {
		return "@" + p.Username
	}
	return fmt.Sprintf("id%d", p.ID)
}
