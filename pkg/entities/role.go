package entities

// Role is a moderation role assigned to a principal. A principal without a
// stored role is a plain member.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleHeadAdmin Role = "head_admin"
	RoleGnome     Role = "gnome"
	RoleMember    Role = ""
)

func (r Role) IsOwner() bool { return r == RoleOwner }

func (r Role) IsHeadAdmin() bool { return r == RoleHeadAdmin }

// CanModerate reports whether the role may invoke moderation commands.
func (r Role) CanModerate() bool { return r == RoleOwner || r == RoleHeadAdmin }

// CanUseBot reports whether the role may reach the administrative dispatch
// stages at all. Plain members only get template commands.
func (r Role) CanUseBot() bool { return r != RoleMember }
