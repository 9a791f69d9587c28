package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/auth"
	"call-lead-pipeline/internal/rbac"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/reporting"
	"call-lead-pipeline/internal/telephony"
	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	BootstrapKey string

	Records    records.Store
	Reports    *reporting.Service
	Reconciler Reconciler
	Audit      *audit.Service
	Agents     *agents.Directory

	Dialer Dialer
	// FromNumber is the caller id for outbound calls.
	FromNumber        string
	PublicBaseURL     string
	LiveTranscription bool

	Now func() time.Time
}

type Reconciler interface {
	Reconcile(ctx context.Context) (records.ReconcileResult, error)
}

type Dialer interface {
	CreateCall(ctx context.Context, oc telephony.OutboundCall) (string, error)
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

const headerBootstrapKey = "X-Bootstrap-Key"

// --- Auth ---

type tokenRequest struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// IssueToken issues a JWT token pair to callers holding the bootstrap key.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil || h.BootstrapKey == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token issuance disabled"})
		return
	}
	key := c.GetHeader(headerBootstrapKey)
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.BootstrapKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bootstrap key"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsKnown(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	if req.Role == rbac.RoleAgent {
		if _, err := h.Agents.Get(req.AgentID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent role requires a known agent_id"})
			return
		}
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{UserID: req.UserID, AgentID: req.AgentID, Role: req.Role})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken exchanges a refresh token for a new pair.
func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token issuance disabled"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, h.now())
	if err != nil {
		logger.FromGin(c).Debug("refresh rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Agents ---

type agentView struct {
	agents.Agent
	OpenNow bool `json:"open_now"`
}

// ListAgents returns the directory with current business-hours status.
func (h Handlers) ListAgents(c *gin.Context) {
	now := h.now()
	list := h.Agents.List()
	out := make([]agentView, 0, len(list))
	for _, a := range list {
		out = append(out, agentView{Agent: a, OpenNow: a.Available && a.OpenAt(now)})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// --- Admin ---

// Reconcile moves fallback-file records into the primary store.
// RBAC: admin or service.
func (h Handlers) Reconcile(c *gin.Context) {
	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not configured"})
		return
	}
	res, err := h.Reconciler.Reconcile(c.Request.Context())
	if errors.Is(err, records.ErrNoPrimary) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no primary store configured"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("reconcile failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	h.logAdmin(c, "", "reconcile", "")
	c.JSON(http.StatusOK, res)
}

func (h Handlers) logAdmin(c *gin.Context, callID, message, metadata string) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if err := h.Audit.LogAdminAction(ctx, userID, role, c.ClientIP(), callID, message, metadata); err != nil {
		logger.FromGin(c).Warn("audit write failed", "err", err)
	}
}

// Convenience middleware bundles.

func RequireAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireAgentBinding(), rbac.RequireAnyRole(roles...)}
}
