package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/auth"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/config"
	"call-lead-pipeline/internal/export"
	"call-lead-pipeline/internal/rbac"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/reporting"
	"call-lead-pipeline/internal/telephony"

	"github.com/gin-gonic/gin"
)

type fakeDialer struct {
	got telephony.OutboundCall
}

func (f *fakeDialer) CreateCall(_ context.Context, oc telephony.OutboundCall) (string, error) {
	f.got = oc
	return "CA-out", nil
}

type fakeReconciler struct{ calls int }

func (f *fakeReconciler) Reconcile(context.Context) (records.ReconcileResult, error) {
	f.calls++
	return records.ReconcileResult{Pending: 2, Migrated: 2}, nil
}

func newTestHandlers(t *testing.T) (Handlers, *records.MemoryStore) {
	t.Helper()
	store := records.NewMemoryStore()
	dir, err := agents.NewDirectory(
		agents.Agent{ID: "tony", Name: "Tony", Phone: "+13105550100", Available: true},
		agents.Agent{ID: "maria", Name: "Maria", Phone: "+13105550101"},
	)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	now := time.Unix(1700000000, 0).UTC()
	for id, agent := range map[string]string{"CA1": "tony", "CA2": "maria"} {
		if _, err := store.Upsert(context.Background(), id, calls.Patch{
			AgentID:   calls.Ptr(agent),
			Stage:     calls.Ptr(calls.StageDone),
			CreatedAt: calls.Ptr(now),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return Handlers{
		Auth:          am,
		BootstrapKey:  "boot",
		Records:       store,
		Reports:       reporting.NewService(store),
		Audit:         audit.NewService(audit.NewMemoryRepo()),
		Agents:        dir,
		FromNumber:    "+15550000000",
		PublicBaseURL: "https://calls.example.com",
		Now:           func() time.Time { return now },
	}, store
}

// as injects identity the way auth.RequireAccessToken does.
func as(agentID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "user-1", AgentID: agentID, Role: role}))
		c.Next()
	}
}

func serve(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIssueToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.POST("/token", h.IssueToken)

	body := []byte(`{"user_id":"u1","agent_id":"tony","role":"agent"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewReader(body))
	req.Header.Set(headerBootstrapKey, "boot")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := h.Auth.Verify(out.AccessToken, auth.TokenTypeAccess, h.Now())
	if err != nil || claims.AgentID != "tony" {
		t.Fatalf("unexpected claims %+v err %v", claims, err)
	}

	if w := serve(r, http.MethodPost, "/token", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should be rejected, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"user_id":"u1","agent_id":"ghost","role":"agent"}`))
	req.Header.Set(headerBootstrapKey, "boot")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown agent should be rejected, got %d", w.Code)
	}
}

func TestRefreshToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.POST("/refresh", h.RefreshToken)

	pair, err := h.Auth.IssuePair(h.Now(), auth.Identity{UserID: "u1", AgentID: "tony", Role: rbac.RoleAgent})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	w := serve(r, http.MethodPost, "/refresh", []byte(`{"refresh_token":"`+pair.RefreshToken+`"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var out auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := h.Auth.Verify(out.AccessToken, auth.TokenTypeAccess, h.Now())
	if err != nil || claims.Role != rbac.RoleAgent || claims.AgentID != "tony" {
		t.Fatalf("refreshed identity lost: %+v err %v", claims, err)
	}

	if w := serve(r, http.MethodPost, "/refresh", []byte(`{"refresh_token":"`+pair.AccessToken+`"}`)); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", w.Code)
	}
}

func TestListCallsAgentScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/staff", as("", rbac.RoleManager), h.ListCalls)
	r.GET("/agent", as("tony", rbac.RoleAgent), h.ListCalls)

	var out struct {
		Calls []calls.Record `json:"calls"`
		Total int            `json:"total"`
	}
	w := serve(r, http.MethodGet, "/staff", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Total != 2 {
		t.Fatalf("expected 2 calls for staff, got %s", w.Body.String())
	}

	w = serve(r, http.MethodGet, "/agent?agent_id=maria", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Total != 1 || out.Calls[0].CallID != "CA1" {
		t.Fatalf("agent must only see own calls, got %s", w.Body.String())
	}

	if w := serve(r, http.MethodGet, "/staff?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", w.Code)
	}
}

func TestGetCallHidesOtherAgents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/calls/:call_id", as("tony", rbac.RoleAgent), h.GetCall)

	if w := serve(r, http.MethodGet, "/calls/CA1", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/calls/CA2", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other agent's call, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/calls/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestArchiveCallAudited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, store := newTestHandlers(t)
	r := gin.New()
	r.POST("/calls/:call_id/archive", as("", rbac.RoleManager), h.ArchiveCall)
	r.GET("/calls/:call_id/history", as("", rbac.RoleManager), h.CallHistory)

	if w := serve(r, http.MethodPost, "/calls/CA1/archive", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	rec, _ := store.Get(context.Background(), "CA1")
	if !rec.Archived {
		t.Fatalf("expected archived record")
	}
	if w := serve(r, http.MethodPost, "/calls/nope/archive", nil); w.Code != http.StatusNotFound {
		t.Fatalf("archiving a missing call must not create it, got %d", w.Code)
	}

	w := serve(r, http.MethodGet, "/calls/CA1/history", nil)
	var out struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out.Events) != 1 || out.Events[0].Message != "archive" {
		t.Fatalf("expected archive event, got %s", w.Body.String())
	}
}

func TestExportCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/export", as("", rbac.RoleManager), h.ExportCalls)

	w := serve(r, http.MethodGet, "/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != export.ContentType {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip container")
	}
}

func TestSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/summary", as("", rbac.RoleManager), h.Summary)

	w := serve(r, http.MethodGet, "/summary", nil)
	var out reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.TotalCalls != 2 || out.LeadsCompleted != 2 {
		t.Fatalf("unexpected summary %s", w.Body.String())
	}
}

func TestListAgentsOpenNow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	r := gin.New()
	r.GET("/agents", h.ListAgents)

	w := serve(r, http.MethodGet, "/agents", nil)
	var out struct {
		Agents []struct {
			ID      string `json:"id"`
			OpenNow bool   `json:"open_now"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out.Agents) != 2 {
		t.Fatalf("unexpected agents %s", w.Body.String())
	}
	if !out.Agents[0].OpenNow || out.Agents[1].OpenNow {
		t.Fatalf("only the available agent without hours is open: %+v", out.Agents)
	}
}

func TestStartOutboundCall(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, store := newTestHandlers(t)
	d := &fakeDialer{}
	h.Dialer = d
	r := gin.New()
	r.POST("/outbound", as("tony", rbac.RoleAgent), h.StartOutboundCall)

	w := serve(r, http.MethodPost, "/outbound", []byte(`{"agent_id":"maria","to":"+15551234567","customer_name":"Jane"}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(d.got.TwiML, "+13105550100") {
		t.Fatalf("agent role must dial as itself: %s", d.got.TwiML)
	}
	if d.got.StatusCallback != "https://calls.example.com"+telephony.PathCallStatus {
		t.Fatalf("unexpected callback %s", d.got.StatusCallback)
	}
	rec, err := store.Get(context.Background(), "CA-out")
	if err != nil || rec.AgentID != "tony" || rec.CustomerName != "Jane" || rec.Status != calls.CallStatusQueued {
		t.Fatalf("unexpected record %+v err %v", rec, err)
	}
}

func TestReconcileAudited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandlers(t)
	rc := &fakeReconciler{}
	h.Reconciler = rc
	r := gin.New()
	r.POST("/reconcile", as("", rbac.RoleAdmin), h.Reconcile)

	w := serve(r, http.MethodPost, "/reconcile", nil)
	if w.Code != http.StatusOK || rc.calls != 1 {
		t.Fatalf("unexpected response %d calls=%d", w.Code, rc.calls)
	}
}
