package broadcast

import (
	"net/http"
	"time"

	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var viewerUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeViewer streams hub events as JSON text frames. The optional call_id
// query parameter narrows the stream to one call.
func ServeViewer(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		conn, err := viewerUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("viewer upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		sub := h.Subscribe(c.Query("call_id"))
		defer sub.Close()

		// The read side only detects the viewer going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug("viewer write failed", "err", err)
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}
