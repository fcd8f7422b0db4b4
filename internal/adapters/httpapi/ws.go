package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Le flux est en lecture seule; les origines ne sont pas filtrées.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage est l'enveloppe des messages du flux WebSocket.
type StreamMessage struct {
	Type    string        `json:"type"`
	Session string        `json:"session,omitempty"`
	Topics  []string      `json:"topics,omitempty"`
	Event   *domain.Event `json:"event,omitempty"`
}

// handleEventStream diffuse les mêmes événements que /events sur une
// WebSocket. Le client ne fait que lire; sa fermeture termine l'abonnement.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		badRequest(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade a déjà répondu au client.
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	session := uuid.NewString()
	log := hlog.FromRequest(r).With().Str("session", session).Logger()

	events, cancel := s.bus.Subscribe(kinds...)
	defer cancel()

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	hello := StreamMessage{Type: "hello", Session: session}
	for _, k := range kinds {
		hello.Topics = append(hello.Topics, k.Topic())
	}
	if err := s.writeStream(conn, hello); err != nil {
		return
	}
	log.Debug().Strs("topics", hello.Topics).Msg("event stream opened")

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			log.Debug().Msg("event stream closed by client")
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(wsWriteWait))
				return
			}
			if err := s.writeStream(conn, StreamMessage{Type: "event", Event: &evt}); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStream(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}
