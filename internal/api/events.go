package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// eventBufSize is the per-client event buffer. Slow clients miss
	// events rather than stalling publishers.
	eventBufSize = 64

	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is LAN-facing; browser dashboards connect cross-origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams bus events to a WebSocket client as JSON, one
// event per message.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "event stream disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventBufSize)
	defer s.bus.Unsubscribe(ch)

	s.logger.Debug("event stream client connected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client messages, but reading
	// is required to process close frames and detect dropped peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream client gone", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
