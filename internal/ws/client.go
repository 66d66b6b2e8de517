package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// maxMessageSize bounds inbound frames; the largest legal payload is a
	// 4000-char message plus envelope overhead.
	maxMessageSize = 16 << 10
)

// Client is one authenticated WebSocket connection. A user may hold several
// clients at once (multiple tabs/devices); each gets its own outbound queue
// and room membership.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	log  zerolog.Logger

	// mu guards send and closed. Broadcasters snapshot room members outside
	// the hub lock and may Emit on a client that is being unregistered
	// concurrently; the closed flag keeps those late emits off the closed
	// channel.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is owned by the hub; access only while holding the hub's lock.
	rooms map[string]struct{}
}

// NewClient wraps an upgraded connection. The buffer size bounds how far a
// slow consumer may fall behind before frames are dropped.
func NewClient(id, userID string, conn *websocket.Conn, buffer int, lg zerolog.Logger) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		log:    lg,
		rooms:  make(map[string]struct{}),
	}
}

// Emit queues an event for delivery. Delivery is best effort: when the
// client's queue is full the frame is dropped rather than blocking the
// sender, matching the broadcast contract.
func (c *Client) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("payload marshal failed")
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("envelope marshal failed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Str("event", event).Msg("outbound queue full, dropping frame")
		eventsDropped.Inc()
	}
}

// EmitError sends a message:error frame for a failed send attempt.
func (c *Client) EmitError(clientMessageID, code, msg string, retryable bool, retryAfter time.Duration) {
	p := MessageErrorPayload{
		ClientMessageID: clientMessageID,
		Message:         msg,
		Code:            code,
		Retryable:       retryable,
	}
	if retryAfter > 0 {
		p.RetryAfter = int(retryAfter / time.Second)
	}
	c.Emit(EventMessageError, p)
}

// close shuts the outbound queue exactly once, which terminates writePump.
// After close, Emit is a no-op.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with periodic pings. One writePump per client is the
// only goroutine writing to the socket.
func (c *Client) writePump(pongTimeout time.Duration) {
	pingInterval := pongTimeout * 9 / 10
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
