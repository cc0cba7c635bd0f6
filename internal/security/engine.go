package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/audit"
)

// DataProvider resolves user and resource facts the engine cannot derive
// from the request alone. Implementations call out over the network, so
// every method takes a context the engine time-boxes; an error or timeout
// always maps to a deny, never to an allow.
type DataProvider interface {
	UserOrganization(ctx context.Context, tenantID, userID string) (string, error)
	ProblemOwner(ctx context.Context, tenantID, problemID string) (string, error)
	ProblemActiveForStudent(ctx context.Context, tenantID, problemID, studentID string) (bool, error)
}

const defaultLookupTimeout = 3 * time.Second

// Deny reasons shared across evaluation passes.
const (
	reasonInactiveAccount = "inactive account"
	reasonAdminFullAccess = "admin full access"
	reasonLookupFailed    = "authorization check failed"
	reasonDefaultDeny     = "access denied"
	reasonNotOwnProblems  = "Teacher can only manage own problem sets"
)

// defaultRolePermissions is the static role default table consulted after
// policy rules and explicit grants. Ownership-gated operations (teacher
// update/delete/assign, student-answer reads, student problem reads) are
// deliberately absent; the resource-specific pass governs those.
var defaultRolePermissions = map[Role]map[string][]string{
	RoleStudent: {
		"assignment":     {"read"},
		"student_answer": {"create"},
		"review_queue":   {"read"},
	},
	RoleTeacher: {
		"problem":     {"create", "read"},
		"problem_set": {"create", "read"},
		"assignment":  {"create", "read", "update", "delete"},
		"grade":       {"read", "update"},
	},
	RoleAdmin: {}, // the admin bypass runs before this table is consulted
}

// PolicyEngine evaluates authorization requests against the policy store,
// the role default table and resource ownership. Every path returns a
// Decision; nothing here panics or propagates errors to callers.
type PolicyEngine struct {
	policies      *PolicyStore
	hierarchy     *RoleHierarchy
	provider      DataProvider
	sink          audit.Sink
	logger        *zap.Logger
	lookupTimeout time.Duration
}

// NewPolicyEngine wires the engine. A zero lookupTimeout selects the
// default.
func NewPolicyEngine(policies *PolicyStore, hierarchy *RoleHierarchy, provider DataProvider, sink audit.Sink, logger *zap.Logger, lookupTimeout time.Duration) *PolicyEngine {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	return &PolicyEngine{
		policies:      policies,
		hierarchy:     hierarchy,
		provider:      provider,
		sink:          sink,
		logger:        logger,
		lookupTimeout: lookupTimeout,
	}
}

// adminBypass is the single place the unconditional admin allow lives.
// No policy can restrict an admin while this holds; revisit here if that
// ever changes.
func adminBypass(ac *AuthContext) bool {
	return ac.Role == RoleAdmin
}

// Authorize runs the evaluation passes in order, short-circuiting on the
// first decisive outcome, and emits an audit event for the decision.
func (e *PolicyEngine) Authorize(ctx context.Context, ac *AuthContext, resource, action string, resourceData map[string]any) Decision {
	d := e.evaluate(ctx, ac, resource, action, resourceData)
	e.emitDecision(ctx, ac, resource, action, d)
	return d
}

func (e *PolicyEngine) evaluate(ctx context.Context, ac *AuthContext, resource, action string, resourceData map[string]any) Decision {
	if !ac.Active {
		return deny(reasonInactiveAccount)
	}
	if adminBypass(ac) {
		return allow(reasonAdminFullAccess)
	}

	// Policy rule pass: first matching rule wins; a failing condition on a
	// matched rule is an explicit deny, not a fallthrough.
	if d, decided := e.rulePass(ac, resource, action, resourceData); decided {
		return d
	}

	// Explicit grant pass.
	if ac.HasPermission(resource, action) {
		return allow("explicit permission grant")
	}

	// Role default table pass.
	if actions, ok := defaultRolePermissions[ac.Role][resource]; ok {
		for _, a := range actions {
			if a == action {
				return allow("role default permission")
			}
		}
	}

	// Resource-specific ownership pass.
	if d, decided := e.ownershipPass(ctx, ac, resource, action, resourceData); decided {
		return d
	}

	return deny(reasonDefaultDeny)
}

func (e *PolicyEngine) rulePass(ac *AuthContext, resource, action string, resourceData map[string]any) (Decision, bool) {
	for _, pr := range e.policies.ActiveRules() {
		for i := range pr.Rules {
			rule := &pr.Rules[i]
			if rule.Resource != resource || rule.Action != action {
				continue
			}
			if !e.roleMatches(ac.Role, rule) {
				continue
			}
			if rule.Condition != nil && !rule.Condition(ac, resourceData) {
				return deny("policy condition not met: " + pr.Policy), true
			}
			return allow("policy rule matched: " + pr.Policy), true
		}
	}
	return Decision{}, false
}

// roleMatches applies the hierarchy: a rule naming a lower-privilege role is
// satisfied by any role that may act as it.
func (e *PolicyEngine) roleMatches(role Role, rule *AccessRule) bool {
	for _, r := range e.hierarchy.Expand(role) {
		if rule.AllowsRole(r) {
			return true
		}
	}
	return false
}

func (e *PolicyEngine) ownershipPass(ctx context.Context, ac *AuthContext, resource, action string, resourceData map[string]any) (Decision, bool) {
	switch resource {
	case "problem", "problem_set":
		switch action {
		case "update", "delete", "assign":
			if ac.Role != RoleTeacher {
				return Decision{}, false
			}
			owner, _ := resourceData["teacherId"].(string)
			if owner != "" && owner == ac.UserID {
				return allow("resource owner"), true
			}
			return deny(reasonNotOwnProblems), true
		case "read":
			if ac.Role != RoleStudent {
				return Decision{}, false
			}
			if active, _ := resourceData["isActive"].(bool); active {
				return allow("active resource"), true
			}
			return deny("resource is not active"), true
		}

	case "student_answer":
		if action != "read" {
			return Decision{}, false
		}
		switch ac.Role {
		case RoleStudent:
			owner, _ := resourceData["studentId"].(string)
			if owner != "" && owner == ac.UserID {
				return allow("own answer"), true
			}
			return deny("students can only read their own answers"), true
		case RoleTeacher:
			problemID, _ := resourceData["problemId"].(string)
			if problemID == "" {
				return deny(reasonDefaultDeny), true
			}
			owner, err := e.problemOwner(ctx, ac.TenantID, problemID)
			if err != nil {
				return deny(reasonLookupFailed), true
			}
			if owner == ac.UserID {
				return allow("answer to owned problem"), true
			}
			return deny("teachers can only read answers to their own problems"), true
		case RoleAdmin:
			// Unreachable: the bypass decided already.
		}
	}
	return Decision{}, false
}

// AuthorizeTeacherAccess is the shortcut for teacher-scoped resources keyed
// by their owning teacher. Non-owners may read within their own organization
// only; everything else requires ownership.
func (e *PolicyEngine) AuthorizeTeacherAccess(ctx context.Context, ac *AuthContext, resourceOwnerID, action string) Decision {
	d := e.evaluateTeacherAccess(ctx, ac, resourceOwnerID, action)
	e.emitDecision(ctx, ac, "teacher_resource", action, d)
	return d
}

func (e *PolicyEngine) evaluateTeacherAccess(ctx context.Context, ac *AuthContext, resourceOwnerID, action string) Decision {
	if !ac.Active {
		return deny(reasonInactiveAccount)
	}
	if adminBypass(ac) {
		return allow(reasonAdminFullAccess)
	}
	if !e.hierarchy.Satisfies(ac.Role, RoleTeacher) {
		return deny("teacher role required")
	}
	if resourceOwnerID == ac.UserID {
		return allow("resource owner")
	}
	if action != "read" {
		return deny(reasonNotOwnProblems)
	}

	ownerOrg, err := e.userOrganization(ctx, ac.TenantID, resourceOwnerID)
	if err != nil {
		return deny(reasonLookupFailed)
	}
	if ownerOrg != "" && ownerOrg == ac.OrgID {
		return allow("same organization")
	}
	return deny("teachers can only read resources within their organization")
}

// AuthorizeStudentAccess is the shortcut for a student operating on a
// problem. Solving and viewing require the problem to be active for that
// student; viewing answers is always scoped to the caller's own.
func (e *PolicyEngine) AuthorizeStudentAccess(ctx context.Context, ac *AuthContext, problemID, action string) Decision {
	d := e.evaluateStudentAccess(ctx, ac, problemID, action)
	e.emitDecision(ctx, ac, "problem", action, d)
	return d
}

func (e *PolicyEngine) evaluateStudentAccess(ctx context.Context, ac *AuthContext, problemID, action string) Decision {
	if !ac.Active {
		return deny(reasonInactiveAccount)
	}
	if adminBypass(ac) {
		return allow(reasonAdminFullAccess)
	}
	if !e.hierarchy.Satisfies(ac.Role, RoleStudent) {
		return deny("student role required")
	}

	switch action {
	case "solve", "view":
		active, err := e.problemActive(ctx, ac.TenantID, problemID, ac.UserID)
		if err != nil {
			return deny(reasonLookupFailed)
		}
		if !active {
			return deny("problem is not available")
		}
		return allow("active problem")
	case "view_answer":
		return allow("own answers")
	}
	return deny(reasonDefaultDeny)
}

func (e *PolicyEngine) userOrganization(ctx context.Context, tenantID, userID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	org, err := e.provider.UserOrganization(ctx, tenantID, userID)
	if err != nil {
		e.logger.Error("organization lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	return org, err
}

func (e *PolicyEngine) problemOwner(ctx context.Context, tenantID, problemID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	owner, err := e.provider.ProblemOwner(ctx, tenantID, problemID)
	if err != nil {
		e.logger.Error("problem owner lookup failed", zap.String("problem_id", problemID), zap.Error(err))
	}
	return owner, err
}

func (e *PolicyEngine) problemActive(ctx context.Context, tenantID, problemID, studentID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	active, err := e.provider.ProblemActiveForStudent(ctx, tenantID, problemID, studentID)
	if err != nil {
		e.logger.Error("problem availability lookup failed", zap.String("problem_id", problemID), zap.Error(err))
	}
	return active, err
}

func (e *PolicyEngine) emitDecision(ctx context.Context, ac *AuthContext, resource, action string, d Decision) {
	event := audit.Event{
		TenantID:  ac.TenantID,
		ActorID:   ac.UserID,
		Role:      string(ac.Role),
		Action:    AuditAccessDenied,
		Resource:  resource,
		Operation: action,
		Reason:    d.Reason,
		SessionID: ac.SessionID,
		IPAddress: ac.IPAddress,
		UserAgent: ac.UserAgent,
		Timestamp: time.Now(),
	}
	if d.Allowed {
		event.Action = AuditAccessGranted
	}
	e.sink.Emit(ctx, event)
}
