package streaming

import (
	"context"
	"net/http"
	"time"

	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const finalizeTimeout = 15 * time.Second

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the telephony media stream socket.
type Handler struct {
	Provider Provider
	Store    Recorder
	Pub      broadcast.Publisher
	Metrics  *metrics.Registry
}

// ServeMediaStream runs one Session per socket. Closing the socket
// finalizes the session if stop was never received.
func (h *Handler) ServeMediaStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("media stream upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		h.Metrics.StreamOpened()
		defer h.Metrics.StreamClosed()

		// Sessions outlive the request context so finalization can persist.
		ctx := logger.With(context.WithoutCancel(c.Request.Context()), log)
		sess := NewSession(h.Provider, h.Store, h.Pub, h.Metrics)
		defer func() {
			fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
			defer cancel()
			if err := sess.Finalize(fctx); err != nil {
				log.Error("live stream finalize failed", "call_id", sess.CallID(), "err", err)
			}
			log.Info("live stream closed", "call_id", sess.CallID(), "dropped_frames", sess.Dropped())
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := ParseMessage(data)
			if err != nil {
				log.Debug("ignoring media stream message", "err", err)
				continue
			}
			if err := sess.Handle(ctx, msg); err != nil {
				log.Error("media stream", "call_id", sess.CallID(), "err", err)
			}
			if sess.State() == StateClosed {
				return
			}
		}
	}
}
