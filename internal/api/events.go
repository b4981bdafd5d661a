package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventBuffer    = 64
	eventWriteWait = 10 * time.Second
	eventPingEvery = 30 * time.Second
)

// handleEvents upgrades to a WebSocket and forwards every bus event as
// one JSON text message until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ch := s.bus.Subscribe(eventBuffer)
	defer s.bus.Unsubscribe(ch)

	// The client never sends anything meaningful; reading is only how a
	// close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-closed
	}()

	s.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	ping := time.NewTicker(eventPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			s.logger.Debug("event stream closed by client", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(eventWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}
