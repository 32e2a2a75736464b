package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the write side of a WebSocket connection. The gofiber websocket
// connection satisfies it; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a connected WebSocket client. RoomID is only
// meaningful while inRoom is set: room ids are caller-supplied and 0 is
// a valid room, so absence needs its own flag.
type Client struct {
	ID     string
	RoomID int64
	inRoom bool
	conn   Conn
	// Serializes writes: room broadcasts originate from other clients'
	// goroutines, and the underlying connection forbids concurrent writes.
	writeMu sync.Mutex
}

// Envelope is the frame sent to WebSocket clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks WebSocket connections and their room membership, and fans
// events out to them. Sends are synchronous: an event is written to every
// recipient before the next event is emitted, so clients observe events
// in the order the triggering operation produced them.
type Hub struct {
	clients map[string]*Client        // clientID -> Client
	rooms   map[int64]map[string]bool // roomID -> set of clientIDs
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[int64]map[string]bool),
	}
}

// Attach registers a connection under the given client ID. The client
// belongs to no room until JoinRoom is called.
func (h *Hub) Attach(clientID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[clientID] = &Client{ID: clientID, conn: conn}
	log.Printf("[hub] Client %s attached", clientID)
}

// Detach removes a client and its room membership. The connection itself
// is closed by the caller.
func (h *Hub) Detach(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(h.clients, clientID)
	h.removeFromRoomLocked(client)
	log.Printf("[hub] Client %s detached", clientID)
}

// JoinRoom moves a client into a room, leaving any previous room.
func (h *Hub) JoinRoom(clientID string, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	h.removeFromRoomLocked(client)

	client.RoomID = roomID
	client.inRoom = true
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][clientID] = true
	log.Printf("[hub] Client %s joined room %d", clientID, roomID)
}

// removeFromRoomLocked drops the client from its current room, pruning the
// room set when it empties. Callers must hold h.mu.
func (h *Hub) removeFromRoomLocked(client *Client) {
	if !client.inRoom {
		return
	}
	if members := h.rooms[client.RoomID]; members != nil {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, client.RoomID)
		}
	}
	client.RoomID = 0
	client.inRoom = false
}

// ToConn sends a single event to one client. Unknown client IDs are ignored.
func (h *Hub) ToConn(clientID, eventType string, payload any) {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("[hub] Failed to marshal %s event: %v", eventType, err)
		return
	}
	h.sendToClient(client, data)
}

// ToRoom sends an event to every client in a room, the sender included.
func (h *Hub) ToRoom(roomID int64, eventType string, payload any) {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("[hub] Failed to marshal %s event: %v", eventType, err)
		return
	}

	h.mu.RLock()
	var recipients []*Client
	for clientID := range h.rooms[roomID] {
		if client, ok := h.clients[clientID]; ok {
			recipients = append(recipients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		h.sendToClient(client, data)
	}
}

// sendToClient writes one frame, best-effort. A failed write is logged and
// the connection is left for the client's read loop to tear down.
func (h *Hub) sendToClient(client *Client, data []byte) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[hub] Failed to send to client %s: %v", client.ID, err)
	}
}

// CloseAll closes every connected client. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		_ = client.conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[int64]map[string]bool)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of clients in a room.
func (h *Hub) RoomClientCount(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
