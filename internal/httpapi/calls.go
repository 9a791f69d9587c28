package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/export"
	"call-lead-pipeline/internal/rbac"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/reporting"
	"call-lead-pipeline/internal/telephony"
	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// filterFromQuery reads from, to (RFC3339), agent_id, stage, needs_review
// and include_archived. Agent-role callers are pinned to their own agent.
func filterFromQuery(c *gin.Context) (reporting.Filter, error) {
	var f reporting.Filter
	for _, q := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.Range.From}, {"to", &f.Range.To}} {
		if v := c.Query(q.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%s must be RFC3339", q.key)
			}
			*q.dst = t
		}
	}
	f.AgentID = c.Query("agent_id")
	if scope := rbac.AgentScope(c); scope != "" {
		f.AgentID = scope
	}
	f.Stage = calls.Stage(c.Query("stage"))
	if v := c.Query("needs_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("needs_review must be a boolean")
		}
		f.NeedsReview = &b
	}
	f.IncludeArchived = c.Query("include_archived") == "true"
	return f, nil
}

// ListCalls returns matching call records, newest first.
func (h Handlers) ListCalls(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	rows, err := h.Reports.Select(c.Request.Context(), f)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	total := len(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "count": len(rows), "total": total})
}

// GetCall returns one call record.
func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.visibleRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// visibleRecord loads :call_id and hides records outside the caller's
// agent scope. It writes the error response itself.
func (h Handlers) visibleRecord(c *gin.Context) (calls.Record, bool) {
	callID := c.Param("call_id")
	rec, err := h.Records.Get(c.Request.Context(), callID)
	if errors.Is(err, records.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Record{}, false
	}
	if err != nil {
		logger.FromGin(c).Error("get call failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return calls.Record{}, false
	}
	if !rbac.CanSee(c, rec.AgentID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Record{}, false
	}
	return rec, true
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

// ArchiveCall hides a call from default listings. A body of
// {"archived": false} restores it.
func (h Handlers) ArchiveCall(c *gin.Context) {
	rec, ok := h.visibleRecord(c)
	if !ok {
		return
	}
	archived := true
	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if req.Archived != nil {
			archived = *req.Archived
		}
	}
	out, err := h.Records.Upsert(c.Request.Context(), rec.CallID, calls.Patch{Archived: calls.Ptr(archived)})
	if err != nil {
		logger.FromGin(c).Error("archive failed", "call_id", rec.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "archive failed"})
		return
	}
	h.logAdmin(c, rec.CallID, "archive", fmt.Sprintf(`{"archived":%t}`, archived))
	c.JSON(http.StatusOK, out)
}

// CallHistory returns the pipeline and operator events for a call.
func (h Handlers) CallHistory(c *gin.Context) {
	rec, ok := h.visibleRecord(c)
	if !ok {
		return
	}
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	events, err := h.Audit.History(c.Request.Context(), rec.CallID)
	if errors.Is(err, audit.ErrHistoryUnavailable) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "history not available"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("history failed", "call_id", rec.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": rec.CallID, "events": events})
}

// ExportCalls streams matching records as an XLSX workbook.
func (h Handlers) ExportCalls(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.Reports.Select(c.Request.Context(), f)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("export select failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := fmt.Sprintf("calls-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", export.ContentType)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteCalls(c.Writer, rows); err != nil {
		logger.FromGin(c).Error("export write failed", "err", err)
		_ = c.Error(err)
	}
}

type outboundRequest struct {
	AgentID      string `json:"agent_id"`
	To           string `json:"to"`
	CustomerName string `json:"customer_name"`
}

// StartOutboundCall rings a customer and bridges them to an agent with the
// same recording and live stream setup as inbound calls.
func (h Handlers) StartOutboundCall(c *gin.Context) {
	if h.Dialer == nil || h.FromNumber == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "outbound calling not configured"})
		return
	}
	var req outboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.To = strings.TrimSpace(req.To)
	if scope := rbac.AgentScope(c); scope != "" {
		req.AgentID = scope
	}
	if req.To == "" || req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id and to required"})
		return
	}
	agent, err := h.Agents.Get(req.AgentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	opts := telephony.ConnectOptions{
		AgentName:   agent.Name,
		AgentPhone:  agent.Phone,
		RecordingCB: telephony.CallbackURL(h.PublicBaseURL, telephony.PathRecordingStatus),
	}
	if h.LiveTranscription {
		opts.StreamURL = telephony.StreamURL(h.PublicBaseURL)
	}
	twiml, err := telephony.RenderConnect(opts)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log := logger.FromGin(c).With("agent_id", agent.ID)
	callID, err := h.Dialer.CreateCall(c.Request.Context(), telephony.OutboundCall{
		To:             req.To,
		From:           h.FromNumber,
		TwiML:          twiml,
		StatusCallback: telephony.CallbackURL(h.PublicBaseURL, telephony.PathCallStatus),
	})
	if err != nil {
		log.Error("outbound call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call could not be placed"})
		return
	}

	now := h.now().UTC()
	p := calls.Patch{
		To:            calls.Ptr(req.To),
		From:          calls.Ptr(h.FromNumber),
		Direction:     calls.Ptr("outbound-api"),
		Status:        calls.Ptr(calls.CallStatusQueued),
		AgentID:       calls.Ptr(agent.ID),
		CustomerPhone: calls.Ptr(req.To),
		CreatedAt:     &now,
	}
	if name := strings.TrimSpace(req.CustomerName); name != "" {
		p.CustomerName = calls.Ptr(name)
	}
	if _, err := h.Records.Upsert(c.Request.Context(), callID, p); err != nil {
		log.Error("outbound call persist failed", "call_id", callID, "err", err)
	}
	log.Info("outbound call placed", "call_id", callID)
	c.JSON(http.StatusAccepted, gin.H{"call_id": callID})
}
