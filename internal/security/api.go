package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler exposes policy management. Every route is authorized through
// the engine itself; in practice only admins pass, via the bypass.
type HTTPHandler struct {
	store  *PolicyStore
	engine *PolicyEngine
	logger *zap.Logger
}

// NewHTTPHandler creates the policy management handler.
func NewHTTPHandler(store *PolicyStore, engine *PolicyEngine, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{store: store, engine: engine, logger: logger}
}

// RegisterRoutes registers policy routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	policies := rg.Group("/policies")
	{
		policies.GET("", h.listPolicies)
		policies.GET("/:name", h.getPolicy)
		policies.PUT("/:name", h.replacePolicy)
		policies.POST("/:name/rules", h.addRule)
		policies.POST("/:name/activate", h.setActive(true))
		policies.POST("/:name/deactivate", h.setActive(false))
	}
}

func (h *HTTPHandler) authorize(c *gin.Context, action string) (*AuthContext, bool) {
	ac, ok := AuthContextFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return nil, false
	}
	if d := h.engine.Authorize(c.Request.Context(), ac, "security_policy", action, nil); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": d.Reason})
		return nil, false
	}
	return ac, true
}

func (h *HTTPHandler) listPolicies(c *gin.Context) {
	if _, ok := h.authorize(c, "read"); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": h.store.List()})
}

func (h *HTTPHandler) getPolicy(c *gin.Context) {
	if _, ok := h.authorize(c, "read"); !ok {
		return
	}
	p, ok := h.store.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// ruleBody is the wire form of an access rule. Conditions come in as tagged
// variants so they stay inspectable at the API boundary.
type ruleBody struct {
	Resource  string   `json:"resource" binding:"required"`
	Action    string   `json:"action" binding:"required"`
	Roles     []string `json:"roles" binding:"required,min=1"`
	Priority  int      `json:"priority"`
	Condition *struct {
		Kind  string `json:"kind" binding:"required,oneof=owner_match active_resource"`
		Field string `json:"field" binding:"required"`
	} `json:"condition"`
}

func (b *ruleBody) rule() (AccessRule, bool) {
	roles := make(map[Role]struct{}, len(b.Roles))
	for _, raw := range b.Roles {
		role, ok := ParseRole(raw)
		if !ok {
			return AccessRule{}, false
		}
		roles[role] = struct{}{}
	}
	rule := AccessRule{
		Resource: b.Resource,
		Action:   b.Action,
		Roles:    roles,
		Priority: b.Priority,
	}
	if b.Condition != nil {
		switch b.Condition.Kind {
		case "owner_match":
			rule.Condition = OwnerMatchCondition(b.Condition.Field)
		case "active_resource":
			rule.Condition = ActiveResourceCondition(b.Condition.Field)
		}
	}
	return rule, true
}

func (h *HTTPHandler) addRule(c *gin.Context) {
	ac, ok := h.authorize(c, "update")
	if !ok {
		return
	}

	var body ruleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, ok := body.rule()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	h.store.AddRule(c.Param("name"), ac.UserID, rule)
	h.logger.Info("policy rule added",
		zap.String("policy", c.Param("name")),
		zap.String("resource", rule.Resource),
		zap.String("action", rule.Action),
		zap.Int("priority", rule.Priority))
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) replacePolicy(c *gin.Context) {
	ac, ok := h.authorize(c, "update")
	if !ok {
		return
	}

	var body struct {
		Rules []ruleBody `json:"rules" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rules := make([]AccessRule, 0, len(body.Rules))
	for i := range body.Rules {
		rule, ok := body.Rules[i].rule()
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
			return
		}
		rules = append(rules, rule)
	}

	h.store.Replace(c.Param("name"), ac.UserID, rules)
	h.logger.Info("policy replaced", zap.String("policy", c.Param("name")), zap.Int("rules", len(rules)))
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.authorize(c, "update"); !ok {
			return
		}
		var err error
		if active {
			err = h.store.Activate(c.Param("name"))
		} else {
			err = h.store.Deactivate(c.Param("name"))
		}
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
