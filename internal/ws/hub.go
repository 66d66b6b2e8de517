package ws

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// RoomName derives the deterministic broadcast-group name for a
// conversation.
func RoomName(conversationID string) string {
	return "conversation:" + conversationID
}

// Hub owns every connected client and the room membership index. It is the
// RoomRouter: join/leave are gated upstream by the participant check, and
// broadcast fans an event out to every member with no persistence side
// effects. All methods are safe for concurrent use by connection handlers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // by connection ID
	rooms   map[string]map[*Client]struct{} // by room name
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	connectionsGauge.Set(float64(n))
	log.Debug().Str("conn_id", c.ID).Str("user_id", c.UserID).Int("clients", n).Msg("client registered")
}

// Unregister removes a client from the hub and every room it joined,
// closing its outbound queue. It returns the rooms the client was in so the
// caller can emit presence updates to them.
func (h *Hub) Unregister(c *Client) []string {
	h.mu.Lock()
	delete(h.clients, c.ID)
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
		h.removeFromRoomLocked(c, room)
	}
	c.rooms = make(map[string]struct{})
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	connectionsGauge.Set(float64(n))
	log.Debug().Str("conn_id", c.ID).Int("clients", n).Msg("client unregistered")
	return rooms
}

// Join adds the client to a room, creating the room on first member.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes the client from a room. Leaving a room the client never
// joined is a no-op.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c, room)
	delete(c.rooms, room)
}

// InRoom reports whether the client currently belongs to the room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// removeFromRoomLocked drops c from the room's member set and deletes empty
// rooms. Caller must hold mu.
func (h *Hub) removeFromRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast emits an event to every member of the room, optionally skipping
// one client (typically the originator). Unreachable members are simply not
// notified; no error surfaces to the caller.
func (h *Hub) Broadcast(room, event string, payload any, except *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	broadcastFanout.Observe(float64(len(members)))
	for _, c := range members {
		c.Emit(event, payload)
	}
}

// BroadcastToRooms emits an event to the union of members across rooms,
// delivering at most once per client even when rooms overlap.
func (h *Hub) BroadcastToRooms(rooms []string, event string, payload any, except *Client) {
	h.mu.RLock()
	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if c != except {
				seen[c] = struct{}{}
			}
		}
	}
	members := make([]*Client, 0, len(seen))
	for c := range seen {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.Emit(event, payload)
	}
}

// RoomsOf returns a snapshot of the rooms the client currently belongs to.
func (h *Hub) RoomsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// RoomSize returns the current member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseAll unregisters every client, closing their outbound queues. Used on
// shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
