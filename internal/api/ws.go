package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The ops feed is same-origin tooling; skip origin checks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleOpsWS streams bus events to the client as JSON, one message
// per event. The connection closes when the client goes away or the
// bus subscription is drained.
func (s *Server) handleOpsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	s.logger.Debug("ops websocket connected", "remote", r.RemoteAddr)

	// Reader goroutine: we never expect client messages, but reading
	// is required to process close frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("ops websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
