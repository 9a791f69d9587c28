package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/pipeline"
	"call-lead-pipeline/internal/routing"

	"github.com/gin-gonic/gin"
)

type fakePipeline struct {
	mu     sync.Mutex
	events []pipeline.RecordingEvent
}

func (f *fakePipeline) HandleRecordingCompleted(_ context.Context, ev pipeline.RecordingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	patches map[string]calls.Patch
}

func (f *fakeWriter) Upsert(_ context.Context, callID string, p calls.Patch) (calls.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patches == nil {
		f.patches = map[string]calls.Patch{}
	}
	f.patches[callID] = p
	return calls.Record{CallID: callID}, nil
}

func newWebhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST(PathRecordingStatus, h.HandleRecordingStatus)
	r.POST(PathCallStatus, h.HandleCallStatus)
	r.POST(PathVoice, h.HandleVoice)
	r.POST(PathVoice+"/:agent_id", h.HandleVoice)
	return r
}

func TestRecordingStatusTriggersPipeline(t *testing.T) {
	p := &fakePipeline{}
	r := newWebhookRouter(WebhookHandler{Pipeline: p, Store: &fakeWriter{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathRecordingStatus, "CallSid=CA1&RecordingSid=RE1&RecordingUrl=https%3A%2F%2Fx%2FRE1&RecordingStatus=completed"))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
	if len(p.events) != 1 || p.events[0].RecordingID != "RE1" {
		t.Fatalf("expected one pipeline event, got %+v", p.events)
	}
}

func TestRecordingStatusIgnoresInProgress(t *testing.T) {
	p := &fakePipeline{}
	r := newWebhookRouter(WebhookHandler{Pipeline: p, Store: &fakeWriter{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathRecordingStatus, "CallSid=CA1&RecordingSid=RE1&RecordingStatus=in-progress"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(p.events) != 0 {
		t.Fatalf("in-progress recording must not trigger, got %+v", p.events)
	}
}

func TestCallStatusPersists(t *testing.T) {
	store := &fakeWriter{}
	r := newWebhookRouter(WebhookHandler{Pipeline: &fakePipeline{}, Store: store})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathCallStatus, "CallSid=CA7&CallStatus=completed&CallDuration=61&From=%2B1555"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	p, ok := store.patches["CA7"]
	if !ok || p.DurationSeconds == nil || *p.DurationSeconds != 61 || p.CreatedAt == nil {
		t.Fatalf("unexpected patch %+v", p)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathCallStatus, "CallStatus=completed"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing CallSid should be rejected, got %d", w.Code)
	}
}

func TestVoiceRendersConnect(t *testing.T) {
	dir, err := agents.NewDirectory(agents.Agent{ID: "tony", Name: "Tony", Phone: "+13105550100", Available: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	store := &fakeWriter{}
	r := newWebhookRouter(WebhookHandler{
		Pipeline:          &fakePipeline{},
		Store:             store,
		Agents:            dir,
		PublicBaseURL:     "https://calls.example.com",
		LiveTranscription: true,
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathVoice+"/tony", "CallSid=CA9&From=%2B15551234567&To=%2B15550000000&CallStatus=ringing"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "wss://calls.example.com/media-stream") || !strings.Contains(body, "+13105550100") {
		t.Fatalf("unexpected twiml: %s", body)
	}
	if p := store.patches["CA9"]; p.AgentID == nil || *p.AgentID != "tony" {
		t.Fatalf("expected agent recorded, got %+v", p)
	}
}

func TestVoiceUnknownAgent(t *testing.T) {
	dir, _ := agents.NewDirectory()
	r := newWebhookRouter(WebhookHandler{Pipeline: &fakePipeline{}, Store: &fakeWriter{}, Agents: dir})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathVoice+"/nobody", "CallSid=CA9"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<Dial") || !strings.Contains(w.Body.String(), "not available") {
		t.Fatalf("expected unavailable twiml, got %s", w.Body.String())
	}
}

type fixedRouter routing.Decision

func (f fixedRouter) Route() routing.Decision { return routing.Decision(f) }

func TestVoiceSharedLineUsesRouter(t *testing.T) {
	dir, err := agents.NewDirectory(agents.Agent{ID: "tony", Name: "Tony", Phone: "+13105550100", Available: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	store := &fakeWriter{}
	r := newWebhookRouter(WebhookHandler{
		Pipeline: &fakePipeline{},
		Store:    store,
		Agents:   dir,
		Router:   fixedRouter{Action: routing.ActionConnect, AgentID: "tony"},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathVoice, "CallSid=CA7&From=%2B15551234567"))
	if !strings.Contains(w.Body.String(), "+13105550100") {
		t.Fatalf("expected dial to routed agent, got %s", w.Body.String())
	}
	if p := store.patches["CA7"]; p.AgentID == nil || *p.AgentID != "tony" {
		t.Fatalf("expected agent recorded, got %+v", p)
	}
}

func TestVoiceSharedLineNoneOpen(t *testing.T) {
	dir, _ := agents.NewDirectory()
	r := newWebhookRouter(WebhookHandler{
		Pipeline: &fakePipeline{},
		Store:    &fakeWriter{},
		Agents:   dir,
		Router:   fixedRouter{Action: routing.ActionUnavailable},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest(PathVoice, "CallSid=CA8"))
	if !strings.Contains(w.Body.String(), "not available") {
		t.Fatalf("expected unavailable twiml, got %s", w.Body.String())
	}
}
