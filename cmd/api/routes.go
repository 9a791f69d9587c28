package main

import (
	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/auth"
	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/config"
	"call-lead-pipeline/internal/httpapi"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/internal/pipeline"
	"call-lead-pipeline/internal/rbac"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/reporting"
	"call-lead-pipeline/internal/routing"
	"call-lead-pipeline/internal/streaming"
	"call-lead-pipeline/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg        config.Config
	auth       *auth.Manager
	store      records.Store
	reconciler httpapi.Reconciler
	audit      *audit.Service
	agents     *agents.Directory
	pipeline   *pipeline.Orchestrator
	twilio     *telephony.TwilioClient
	hub        *broadcast.Hub
	publisher  broadcast.Publisher
	live       streaming.Provider // nil disables the media stream endpoint
	metrics    *metrics.Registry
	rdb        *redis.Client // nil keeps rate limits per instance
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) error {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", d.metrics.Handler())

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	{
		h := telephony.WebhookHandler{
			Pipeline:          d.pipeline,
			Store:             d.store,
			Agents:            d.agents,
			Router:            routing.NewEngine(d.agents, nil),
			PublicBaseURL:     d.cfg.App.PublicBaseURL,
			LiveTranscription: d.live != nil,
		}
		r.POST(telephony.PathRecordingStatus, h.HandleRecordingStatus)
		r.POST(telephony.PathCallStatus, h.HandleCallStatus)
		r.POST(telephony.PathVoice, h.HandleVoice)
		r.POST(telephony.PathVoice+"/:agent_id", h.HandleVoice)
	}
	if d.live != nil {
		sh := &streaming.Handler{Provider: d.live, Store: d.store, Pub: d.publisher, Metrics: d.metrics}
		r.GET(telephony.PathMediaStream, sh.ServeMediaStream())
	}

	h := httpapi.Handlers{
		Auth:              d.auth,
		BootstrapKey:      d.cfg.Auth.BootstrapKey,
		Records:           d.store,
		Reports:           reporting.NewService(d.store),
		Reconciler:        d.reconciler,
		Audit:             d.audit,
		Agents:            d.agents,
		Dialer:            d.twilio,
		FromNumber:        d.cfg.Twilio.FromNumber,
		PublicBaseURL:     d.cfg.App.PublicBaseURL,
		LiveTranscription: d.live != nil,
	}

	v1 := r.Group("/v1")

	// AUTH routes (token issuance, bootstrap key header).
	limit, err := httpapi.RateLimit(d.cfg.Auth.RateLimit, "auth", d.rdb)
	if err != nil {
		return err
	}
	authGroup := v1.Group("/auth", limit)
	{
		authGroup.POST("/token", h.IssueToken)
		authGroup.POST("/refresh", h.RefreshToken)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.auth))
	{
		protected.GET("/me", func(c *gin.Context) {
			id, _ := auth.IdentityFrom(c.Request.Context())
			c.JSON(200, id)
		})

		// Live dashboard events.
		protected.GET("/events", append(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleViewer), broadcast.ServeViewer(d.hub))...)

		protected.GET("/agents", append(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleViewer, rbac.RoleAgent), h.ListAgents)...)

		// CALLS routes
		callsGroup := protected.Group("/calls")
		callsGroup.Use(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleViewer, rbac.RoleAgent)...)
		{
			callsGroup.GET("", h.ListCalls)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.GET("/:call_id/history", h.CallHistory)
			callsGroup.POST("/:call_id/archive", append(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleAgent), h.ArchiveCall)...)
			callsGroup.POST("/outbound", append(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleAgent), h.StartOutboundCall)...)
		}

		exports := protected.Group("/exports")
		exports.Use(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleAgent)...)
		{
			exports.GET("/calls.xlsx", h.ExportCalls)
		}

		reports := protected.Group("/reports")
		reports.Use(httpapi.RequireAnyRole(rbac.RoleManager, rbac.RoleViewer, rbac.RoleAgent)...)
		{
			reports.GET("/summary", h.Summary)
			reports.GET("/agents", h.AgentSummary)
		}

		// ADMIN routes
		// Hidden service role is allowed so automation can trigger reconciliation.
		admin := protected.Group("/admin")
		admin.Use(httpapi.RequireAnyRole(rbac.RoleService)...)
		{
			admin.POST("/reconcile", h.Reconcile)
		}
	}
	return nil
}
