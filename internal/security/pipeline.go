package security

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/audit"
	"github.com/lektio/lektio/pkg/middleware"
	"github.com/lektio/lektio/pkg/observability"
)

// Header names the pipeline reads.
const (
	CSRFTokenHeader    = "X-CSRF-Token"
	SessionTokenHeader = "X-Session-Token"
)

// authContextKey is the gin context key the pipeline stores the constructed
// AuthContext under.
const authContextKey = "lektio.authContext"

// SessionClaims is what a verified session token asserts.
type SessionClaims struct {
	UserID    string
	SessionID string
}

// SessionVerifier validates a session token and extracts its claims.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (SessionClaims, error)
}

// User is the directory's view of an account.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	OrgID       string       `json:"org_id"`
	SchoolID    string       `json:"school_id"`
	Active      bool         `json:"active"`
	Permissions []Permission `json:"permissions"`
}

// UserResolver turns a user id into the directory's account record.
type UserResolver interface {
	ResolveUser(ctx context.Context, tenantID, userID string) (User, error)
}

// Request is the transport-agnostic view of an inbound request the pipeline
// inspects.
type Request struct {
	Method       string
	Path         string
	Origin       string
	CSRFToken    string
	SessionToken string
	TenantID     string
	UserID       string // set when an upstream layer already authenticated
	IP           string
	UserAgent    string

	// When Resource is set the pipeline runs the authorization stage itself;
	// otherwise the route handler is expected to call the engine with the
	// attached AuthContext.
	Resource     string
	Action       string
	ResourceData map[string]any
}

// Result is the pipeline's verdict for one request.
type Result struct {
	Proceed     bool
	StatusCode  int
	Body        gin.H
	AuthContext *AuthContext
}

// Pipeline runs the fixed per-request stage sequence:
// rate-limit, origin check, CSRF check (state-changing methods only),
// session validation, authorization. The first failing stage terminates the
// request with its own status code and audit event.
type Pipeline struct {
	limiter  *RateLimiter
	origin   *OriginValidator
	csrf     *CsrfValidator
	verifier SessionVerifier
	resolver UserResolver
	engine   *PolicyEngine
	sink     audit.Sink
	logger   *zap.Logger
	metrics  *observability.Metrics

	csrfEnabled bool
	corsEnabled bool
}

// PipelineOptions carries the pipeline's collaborators and feature toggles.
type PipelineOptions struct {
	Limiter     *RateLimiter
	Origin      *OriginValidator
	CSRF        *CsrfValidator
	Verifier    SessionVerifier
	Resolver    UserResolver
	Engine      *PolicyEngine
	Sink        audit.Sink
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	CSRFEnabled bool
	CORSEnabled bool
}

// NewPipeline assembles the security pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		limiter:     opts.Limiter,
		origin:      opts.Origin,
		csrf:        opts.CSRF,
		verifier:    opts.Verifier,
		resolver:    opts.Resolver,
		engine:      opts.Engine,
		sink:        opts.Sink,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		csrfEnabled: opts.CSRFEnabled,
		corsEnabled: opts.CORSEnabled,
	}
}

// Handle runs every stage for one request. It always returns a Result; the
// pipeline itself never errors.
func (p *Pipeline) Handle(ctx context.Context, req Request) Result {
	now := time.Now()

	// Rate limit, keyed by authenticated user id when the upstream layer
	// resolved one, source IP otherwise.
	identifier := req.UserID
	if identifier == "" {
		identifier = req.IP
	}
	rl := p.limiter.Check(identifier, now)
	if !rl.Allowed {
		p.stageDenied("rate_limit")
		p.sink.Emit(ctx, p.stageEvent(req, AuditRateLimitExceeded, "rate limit exceeded"))
		return Result{
			StatusCode: http.StatusTooManyRequests,
			Body: gin.H{
				"error":     "too many requests",
				"remaining": rl.Remaining,
				"reset_at":  rl.ResetAt.UTC(),
			},
		}
	}

	// Origin check.
	if p.corsEnabled && !p.origin.Check(req.Origin) {
		p.stageDenied("origin")
		p.sink.Emit(ctx, p.stageEvent(req, AuditCORSViolation, "origin not allowed: "+req.Origin))
		return Result{
			StatusCode: http.StatusForbidden,
			Body:       gin.H{"error": "origin not allowed"},
		}
	}

	// CSRF check, state-changing methods only.
	if p.csrfEnabled && StateChanging(req.Method) {
		if !p.csrf.Check(req.CSRFToken, req.SessionToken) {
			p.stageDenied("csrf")
			p.sink.Emit(ctx, p.stageEvent(req, AuditCSRFFailed, "csrf token missing or mismatched"))
			return Result{
				StatusCode: http.StatusForbidden,
				Body:       gin.H{"error": "invalid csrf token"},
			}
		}
	}

	// Session validation. A missing session identifier fails the stage;
	// there is no anonymous fallback.
	ac, ok := p.validateSession(ctx, req, now)
	if !ok {
		p.stageDenied("session")
		p.sink.Emit(ctx, p.stageEvent(req, AuditInvalidSession, "session missing or invalid"))
		return Result{
			StatusCode: http.StatusUnauthorized,
			Body:       gin.H{"error": "invalid session"},
		}
	}

	// Authorization, when the route declared its resource up front.
	if req.Resource != "" {
		d := p.engine.Authorize(ctx, ac, req.Resource, req.Action, req.ResourceData)
		if p.metrics != nil {
			outcome := "denied"
			if d.Allowed {
				outcome = "allowed"
			}
			p.metrics.AuthzDecisions.WithLabelValues(outcome).Inc()
		}
		if !d.Allowed {
			p.stageDenied("authorize")
			return Result{
				StatusCode:  http.StatusForbidden,
				Body:        gin.H{"error": d.Reason},
				AuthContext: ac,
			}
		}
	}

	return Result{
		Proceed:     true,
		StatusCode:  http.StatusOK,
		AuthContext: ac,
	}
}

func (p *Pipeline) validateSession(ctx context.Context, req Request, now time.Time) (*AuthContext, bool) {
	if req.SessionToken == "" {
		return nil, false
	}
	claims, err := p.verifier.Verify(ctx, req.SessionToken)
	if err != nil {
		p.logger.Debug("session verification failed", zap.Error(err))
		return nil, false
	}

	user, err := p.resolver.ResolveUser(ctx, req.TenantID, claims.UserID)
	if err != nil {
		p.logger.Error("user resolution failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, false
	}

	return &AuthContext{
		UserID:      user.ID,
		Role:        user.Role,
		TenantID:    req.TenantID,
		OrgID:       user.OrgID,
		SchoolID:    user.SchoolID,
		Active:      user.Active,
		Permissions: user.Permissions,
		SessionID:   claims.SessionID,
		IPAddress:   req.IP,
		UserAgent:   req.UserAgent,
		Timestamp:   now,
	}, true
}

func (p *Pipeline) stageEvent(req Request, action, reason string) audit.Event {
	return audit.Event{
		TenantID:  req.TenantID,
		ActorID:   req.UserID,
		Action:    action,
		Resource:  req.Resource,
		Operation: req.Action,
		Reason:    reason,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Timestamp: time.Now(),
	}
}

func (p *Pipeline) stageDenied(stage string) {
	if p.metrics != nil {
		p.metrics.StageDenials.WithLabelValues(stage).Inc()
	}
}

// Middleware adapts the pipeline to gin. On success the constructed
// AuthContext is attached to the gin context for handlers to pass into the
// engine.
func (p *Pipeline) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, _ := middleware.TenantIDFromGinContext(c)

		req := Request{
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			Origin:       c.GetHeader("Origin"),
			CSRFToken:    c.GetHeader(CSRFTokenHeader),
			SessionToken: sessionTokenFrom(c),
			TenantID:     tenantID,
			IP:           c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
		}

		res := p.Handle(c.Request.Context(), req)
		if !res.Proceed {
			c.AbortWithStatusJSON(res.StatusCode, res.Body)
			return
		}
		SetAuthContext(c, res.AuthContext)
		c.Next()
	}
}

func sessionTokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return c.GetHeader(SessionTokenHeader)
}

// SetAuthContext attaches an AuthContext to the gin context the way the
// pipeline does. Handler tests use it to stand in for the middleware.
func SetAuthContext(c *gin.Context, ac *AuthContext) {
	c.Set(authContextKey, ac)
}

// AuthContextFrom extracts the AuthContext the pipeline attached.
func AuthContextFrom(c *gin.Context) (*AuthContext, bool) {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil, false
	}
	ac, ok := v.(*AuthContext)
	return ac, ok
}
