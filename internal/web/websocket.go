package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams a transfer's record until it finishes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transfer_id")
	if id == "" {
		http.Error(w, "transfer_id required", http.StatusBadRequest)
		return
	}
	if _, err := s.transfers.Get(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the current state so no update is missed.
	updates := s.transfers.Subscribe(id)
	defer s.transfers.Unsubscribe(id, updates)

	t, err := s.transfers.Get(id)
	if err != nil {
		return
	}
	if err := s.send(conn, t); err != nil || t.Status.IsFinished() {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case t, ok := <-updates:
			if !ok {
				return
			}
			if err := s.send(conn, t); err != nil {
				s.logger.Error("Failed to write WebSocket message: %v", err)
				return
			}
			if t.Status.IsFinished() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(t.Status)))
				return
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, t Transfer) error {
	data, err := json.Marshal(toResponse(t))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
