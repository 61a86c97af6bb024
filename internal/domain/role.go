package domain

// Role is the access level a user holds on one specific diagram
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// RoleFromString maps an account-default role string to a Role,
// defaulting to viewer for anything unrecognized
func RoleFromString(s string) Role {
	if s == string(RoleEditor) {
		return RoleEditor
	}
	return RoleViewer
}

// Identity is the authenticated caller. DefaultRole is the account-level
// role assigned at registration; it is threaded in explicitly so nothing
// downstream reads ambient global state.
type Identity struct {
	ID          string
	Email       string
	DefaultRole Role
}

// EffectiveDiagram is a diagram annotated with the caller's resolved
// role. Derived, never persisted; valid only within one aggregation.
type EffectiveDiagram struct {
	Diagram
	EffectiveRole Role `json:"effective_role"`
}
