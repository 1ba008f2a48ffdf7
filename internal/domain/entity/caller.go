package entity

// Caller is the authenticated identity performing an operation. It is passed
// explicitly into every mutating call.
type Caller struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}

// SystemCaller acts for background jobs such as SLA escalation.
var SystemCaller = Caller{UserID: "system", Name: "System", Role: RoleAdmin}

// HasRole reports whether the caller holds any of the given roles
func (c Caller) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// IsElevated reports whether the caller may act on behalf of others
func (c Caller) IsElevated() bool {
	return c.HasRole(RoleManager, RoleAdmin)
}
