package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/auth"
	"github.com/tbourn/go-chat-realtime/internal/chat"
	"github.com/tbourn/go-chat-realtime/internal/config"
)

// Server terminates WebSocket connections and runs one handler per
// connection. Handlers for different connections run in parallel; events on
// a single connection are processed in arrival order by its read loop.
type Server struct {
	hub      *Hub
	codec    *Codec
	coord    *chat.Coordinator
	verifier *auth.Verifier
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
}

// NewServer wires the transport to the coordinator.
func NewServer(hub *Hub, coord *chat.Coordinator, verifier *auth.Verifier, cfg config.RealtimeConfig, allowedOrigins []string) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &Server{
		hub:      hub,
		codec:    NewCodec(),
		coord:    coord,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin; allow them.
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// ServeWS handles GET /ws: upgrade, authenticate, then serve the connection
// until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	identity, authErr := authenticate(r.Context(), s.verifier, r)
	if authErr != nil {
		// The connection is not registered yet; write the failure frame
		// directly and drop the socket. The client must reconnect with a
		// fresh credential.
		writeDirect(conn, EventAuthError, AuthErrorPayload{Error: authErr.Message, Code: authErr.Code})
		_ = conn.Close()
		return
	}

	connID := uuid.NewString()
	lg := log.With().Str("conn_id", connID).Str("user_id", identity.UserID).Logger()
	client := NewClient(connID, identity.UserID, conn, s.cfg.WriteBufferSize, lg)

	s.hub.Register(client)
	go client.writePump(s.cfg.PongTimeout)
	client.Emit(EventAuthSuccess, AuthSuccessPayload{UserID: client.UserID})

	s.readPump(client)
}

// readPump consumes frames until the connection drops, then runs the
// disconnect sequence: unregister from all rooms and schedule the presence
// grace timer.
func (s *Server) readPump(client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	defer func() {
		rooms := s.hub.Unregister(client)
		userID := client.UserID
		s.coord.Presence.ScheduleOffline(userID, func() {
			s.hub.BroadcastToRooms(rooms, EventPresenceUpdate, PresenceUpdatePayload{
				UserID: userID,
				Status: chat.PresenceOffline,
			}, nil)
		})
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			client.EmitError("", chat.CodeValidation, "malformed event frame", false, 0)
			eventsTotal.WithLabelValues("_malformed", "error").Inc()
			continue
		}

		s.dispatch(client, env)
	}
}

// writeDirect sends one frame on a connection that has no write pump yet.
// Used only during the handshake failure path.
func writeDirect(conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}
