package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// wsMessage tells the browser a new state version exists. The page fetches
// the fragment itself.
type wsMessage struct {
	Version uint64          `json:"version"`
	Notice  *session.Notice `json:"notice,omitempty"`
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id, st, ok := s.existing(r)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	log := s.log.With().Str(logging.FieldSessionID, id).Logger()

	sub := st.Subscribe(session.DefaultSubscriptionBuffer)
	defer sub.Close()

	// readPump only handles control frames; it reports when the peer goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("websocket closed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		<-gone
	}()

	for {
		select {
		case up, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session closed.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session expired"))
				return
			}
			if err := conn.WriteJSON(wsMessage{Version: up.Version, Notice: up.Notice}); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			// An open page keeps its session alive.
			s.sessions.Get(id)
		case <-gone:
			return
		}
	}
}
