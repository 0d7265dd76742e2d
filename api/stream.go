package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jdziat/logqueue/pkg/core"
)

// streamMessage is one frame of the queue stream.
type streamMessage struct {
	Type     string         `json:"type"` // "snapshot" or "error"
	Snapshot *core.Snapshot `json:"snapshot,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     core.Kind      `json:"code,omitempty"`
}

const writeWait = 10 * time.Second

// handleQueueStream upgrades to a websocket and pushes a snapshot on every
// tick until the client goes away or the server stops. A failed snapshot is
// reported as an error frame and the stream continues.
func (s *Server) handleQueueStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.cfg.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Clients send nothing; reading only detects disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.cfg.streamInterval)
	defer ticker.Stop()

	for {
		msg := streamMessage{Type: "snapshot"}
		snap, err := s.deps.Snapshots.Snapshot(ctx)
		if err != nil {
			msg = streamMessage{Type: "error", Error: err.Error(), Code: core.KindOf(err)}
		} else {
			msg.Snapshot = &snap
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
