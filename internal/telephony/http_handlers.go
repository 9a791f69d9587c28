package telephony

import (
	"context"
	"net/http"
	"strings"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/pipeline"
	"call-lead-pipeline/internal/routing"
	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Webhook paths, relative to the public base URL.
const (
	PathRecordingStatus = "/webhooks/twilio/recording-status"
	PathCallStatus      = "/webhooks/twilio/call-status"
	PathVoice           = "/webhooks/twilio/voice"
	PathMediaStream     = "/media-stream"
)

type RecordingHandler interface {
	HandleRecordingCompleted(ctx context.Context, ev pipeline.RecordingEvent) (bool, error)
}

// AgentRouter picks an agent for calls to the shared line.
type AgentRouter interface {
	Route() routing.Decision
}

type CallWriter interface {
	Upsert(ctx context.Context, callID string, p calls.Patch) (calls.Record, error)
}

// WebhookHandler converts Twilio webhooks to internal types and hands them
// to the pipeline or the record store.
//
// No business logic here. Twilio retries non-2xx responses, so handlers
// acknowledge with 200 once the payload is understood.
type WebhookHandler struct {
	Pipeline RecordingHandler
	Store    CallWriter
	Agents   *agents.Directory
	// Router serves voice webhooks that name no agent. Nil rejects them.
	Router AgentRouter

	// PublicBaseURL is how Twilio reaches this service, e.g. https://calls.example.com.
	PublicBaseURL string
	// LiveTranscription adds a media stream fork to connect TwiML.
	LiveTranscription bool

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// HandleRecordingStatus starts the batch pipeline for completed recordings.
// The run continues after the response is written.
func (h WebhookHandler) HandleRecordingStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseRecordingStatus(c.Request)
	if err != nil {
		log.Warn("recording webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ev := form.ToRecordingEvent()
	log = log.With("call_id", ev.CallID, "recording_id", ev.RecordingID, "recording_status", ev.RecordingStatus)

	if !ev.Trigger() {
		log.Info("recording status received")
		c.String(http.StatusOK, "OK")
		return
	}
	started, err := h.Pipeline.HandleRecordingCompleted(logger.With(c.Request.Context(), log), ev)
	if err != nil {
		log.Error("pipeline trigger failed", "err", err)
	} else {
		log.Info("recording completed", "pipeline_started", started)
	}
	c.String(http.StatusOK, "OK")
}

// HandleCallStatus records call metadata from status callbacks.
func (h WebhookHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseCallStatus(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("call status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	p := form.ToPatch()
	now := h.now().UTC()
	p.CreatedAt = &now
	if _, err := h.Store.Upsert(c.Request.Context(), form.CallSid, p); err != nil {
		log.Error("call status persist failed", "call_id", form.CallSid, "err", err)
	}
	log.Info("call status", "call_id", form.CallSid, "status", form.CallStatus, "duration", form.CallDuration)
	c.String(http.StatusOK, "OK")
}

// HandleVoice answers a call for an agent with connect TwiML. Without an
// agent_id path parameter the Router chooses one.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	agentID := c.Param("agent_id")
	if agentID == "" && h.Router != nil {
		d := h.Router.Route()
		log.Info("shared line routed", "action", d.Action, "agent_id", d.AgentID, "reason", d.Reason)
		agentID = d.AgentID
	}

	agent, err := h.Agents.Get(agentID)
	if err != nil || !agent.Available {
		log.Warn("voice webhook for unavailable agent", "agent_id", agentID, "err", err)
		h.writeTwiML(c, func() (string, error) {
			return RenderUnavailable("Sorry, the loan officer is not available. Please try again later.")
		})
		return
	}

	if form, err := ParseCallStatus(c.Request); err == nil && form.CallSid != "" {
		p := form.ToPatch()
		p.AgentID = calls.Ptr(agent.ID)
		now := h.now().UTC()
		p.CreatedAt = &now
		if _, err := h.Store.Upsert(c.Request.Context(), form.CallSid, p); err != nil {
			log.Error("voice webhook persist failed", "call_id", form.CallSid, "err", err)
		}
	}

	opts := ConnectOptions{
		AgentName:   agent.Name,
		AgentPhone:  agent.Phone,
		RecordingCB: CallbackURL(h.PublicBaseURL, PathRecordingStatus),
	}
	if h.LiveTranscription {
		opts.StreamURL = StreamURL(h.PublicBaseURL)
	}
	h.writeTwiML(c, func() (string, error) { return RenderConnect(opts) })
}

func (h WebhookHandler) writeTwiML(c *gin.Context, render func() (string, error)) {
	twiml, err := render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twiml)
}

// CallbackURL joins the public base URL and a path.
func CallbackURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// StreamURL is the websocket form of the media stream endpoint.
func StreamURL(base string) string {
	u := CallbackURL(base, PathMediaStream)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
