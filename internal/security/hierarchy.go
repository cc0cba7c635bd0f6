package security

// RoleHierarchy describes which roles a given role may act as when rules are
// matched. It only widens rule matching for higher-privilege roles; it never
// grants access by itself.
type RoleHierarchy struct {
	table map[Role][]Role
}

// NewRoleHierarchy returns the platform's fixed hierarchy: admins may act as
// any role, teachers and students only as themselves.
func NewRoleHierarchy() *RoleHierarchy {
	return &RoleHierarchy{
		table: map[Role][]Role{
			RoleAdmin:   {RoleAdmin, RoleTeacher, RoleStudent},
			RoleTeacher: {RoleTeacher},
			RoleStudent: {RoleStudent},
		},
	}
}

// Expand returns the set of roles the given role may act as. Unknown roles
// expand to nothing.
func (h *RoleHierarchy) Expand(role Role) []Role {
	expanded, ok := h.table[role]
	if !ok {
		return nil
	}
	out := make([]Role, len(expanded))
	copy(out, expanded)
	return out
}

// Satisfies reports whether actor may act as required under the hierarchy.
func (h *RoleHierarchy) Satisfies(actor, required Role) bool {
	for _, r := range h.table[actor] {
		if r == required {
			return true
		}
	}
	return false
}
