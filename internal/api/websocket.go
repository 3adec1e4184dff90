package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/iot-relay/internal/relay"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin is not checked. Every connection must still authenticate
		// in-band with its register message before it can send anything.
		return true
	},
}

// handleWebSocket upgrades the request and runs the relay session on the
// handler goroutine until the connection ends. Authentication happens
// inside the session through the register message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if s.wsCfg.MaxMessageSize > 0 {
		ws.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	conn := relay.NewConn(ws, relay.ConnOptions{
		SendBuffer:   s.wsCfg.SendBuffer,
		WriteTimeout: time.Duration(s.wsCfg.WriteTimeout) * time.Second,
		RemoteAddr:   r.RemoteAddr,
	})
	s.relay.Serve(s.baseCtx, conn)
}
