package http

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dealradar/dealradar/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled at the middleware layer; the upgrade accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and pumps client frames into the
// hub until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := s.hub.Connect(userID, ws.NewConnTransport(conn))
	defer s.hub.Disconnect(sessionID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.HandleClientFrame(sessionID, raw)
	}
}
