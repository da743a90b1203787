package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single WebSocket frame write may block.
const writeWait = 5 * time.Second

// pingInterval keeps intermediary proxies from timing out an idle
// subscribe connection while a task makes slow progress.
const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribe upgrades to a WebSocket and streams every Frame the
// broadcaster emits for :task_id until the client disconnects (spec.md
// §4.6 subscribe: (task_id) -> bidirectional stream of {type, task_id,
// payload}).
func (s *Server) handleSubscribe(c *gin.Context) {
	taskID := c.Param("task_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed for task %s: %v", taskID, err)
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.broadcaster.Subscribe(taskID)
	defer unsubscribe()

	done := make(chan struct{})
	go discardInboundMessages(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// discardInboundMessages drains and discards client frames so the
// connection's read side never blocks on an unconsumed buffer; it closes
// done the moment the client disconnects or sends a close frame.
func discardInboundMessages(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
