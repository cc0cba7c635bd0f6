package security

import (
	"time"
)

// Role is the closed set of platform roles. Keeping it closed lets the
// default-permission table be checked exhaustively.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a raw role string onto the closed enum.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Permission is an explicit (resource, action) grant attached to a user.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// AuthContext is the per-request identity snapshot the pipeline constructs
// after session validation. It is immutable once built and lives only for
// the duration of the request.
type AuthContext struct {
	UserID      string       `json:"user_id"`
	Role        Role         `json:"role"`
	TenantID    string       `json:"tenant_id"`
	OrgID       string       `json:"org_id"`
	SchoolID    string       `json:"school_id,omitempty"`
	Active      bool         `json:"active"`
	Permissions []Permission `json:"permissions,omitempty"`
	SessionID   string       `json:"session_id"`
	IPAddress   string       `json:"ip_address"`
	UserAgent   string       `json:"user_agent"`
	Timestamp   time.Time    `json:"timestamp"`
}

// HasPermission reports whether the context carries an explicit grant for
// the resource/action pair.
func (c *AuthContext) HasPermission(resource, action string) bool {
	for _, p := range c.Permissions {
		if p.Resource == resource && p.Action == action {
			return true
		}
	}
	return false
}

// RuleCondition is an additional predicate a rule may carry. A nil condition
// always passes. Conditions receive the request's identity and whatever
// resource attributes the call site resolved.
type RuleCondition func(ctx *AuthContext, resourceData map[string]any) bool

// OwnerMatchCondition passes when the named resource attribute equals the
// caller's user id.
func OwnerMatchCondition(field string) RuleCondition {
	return func(ctx *AuthContext, resourceData map[string]any) bool {
		owner, _ := resourceData[field].(string)
		return owner != "" && owner == ctx.UserID
	}
}

// ActiveResourceCondition passes when the named boolean resource attribute
// is true.
func ActiveResourceCondition(field string) RuleCondition {
	return func(ctx *AuthContext, resourceData map[string]any) bool {
		active, _ := resourceData[field].(bool)
		return active
	}
}

// AccessRule grants (resource, action) to a set of roles, optionally gated
// by a condition. Higher priority rules are consulted first.
type AccessRule struct {
	Resource  string            `json:"resource"`
	Action    string            `json:"action"`
	Roles     map[Role]struct{} `json:"-"`
	Condition RuleCondition     `json:"-"`
	Priority  int               `json:"priority"`
}

// AllowsRole reports whether the rule's role set contains the given role.
func (r *AccessRule) AllowsRole(role Role) bool {
	_, ok := r.Roles[role]
	return ok
}

// RoleSet builds a rule role set from a list of roles.
func RoleSet(roles ...Role) map[Role]struct{} {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Policy is a named, ordered collection of access rules. Policies are never
// deleted, only deactivated.
type Policy struct {
	Name      string       `json:"name"`
	Rules     []AccessRule `json:"rules"`
	Active    bool         `json:"active"`
	CreatedBy string       `json:"created_by"`
	CreatedAt time.Time    `json:"created_at"`
}

// Decision is the engine's output. Denials are data, never errors.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// RateLimitWindow is the per-identifier counter state for the fixed-window
// limiter.
type RateLimitWindow struct {
	Identifier string    `json:"identifier"`
	Count      int       `json:"count"`
	ResetAt    time.Time `json:"reset_at"`
	Blocked    bool      `json:"blocked"`
}

// LoginAttemptRecord tracks consecutive authentication failures for a login
// identifier (email or IP).
type LoginAttemptRecord struct {
	Identifier   string     `json:"identifier"`
	FailureCount int        `json:"failure_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
}

// Audit action names emitted by the security core.
const (
	AuditAccessGranted     = "access_granted"
	AuditAccessDenied      = "access_denied"
	AuditRateLimitExceeded = "rate_limit_exceeded"
	AuditCORSViolation     = "cors_violation"
	AuditCSRFFailed        = "csrf_failed"
	AuditInvalidSession    = "invalid_session"
	AuditAccountLocked     = "account_locked"
)
