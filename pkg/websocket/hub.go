package websocket

import (
	"log"
	"sync"
)

// MessageHandler is a function that handles incoming messages
type MessageHandler func(*Client, *Message)

// Hub maintains the set of active clients and broadcasts messages. Rooms
// are named generically ("type:rider"/"type:driver", "ride:<id>"); a single
// user is addressed by ID through the client map, not through a room. A
// client may belong to any number of rooms.
type Hub struct {
	// Registered clients by user ID
	clients map[string]*Client

	// Clients grouped by room name
	rooms map[string]map[string]*Client

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to specific rooms/users
	Broadcast chan *BroadcastMessage

	// Message handlers by message type
	handlers map[string]MessageHandler

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// BroadcastMessage represents a message to be broadcast
type BroadcastMessage struct {
	Target   string   // "user", "room", "all"
	TargetID string   // User ID or room name
	Message  *Message // Message to send
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *BroadcastMessage, 256),
		handlers:   make(map[string]MessageHandler),
	}
}

// RideRoom and TypeRoom name the room kinds §4.7 names as "ride:<id>" and
// "type:rider|driver".
func RideRoom(rideID string) string { return "ride:" + rideID }
func TypeRoom(userType string) string { return "type:" + userType }

// Run starts the hub's main loop
func (h *Hub) Run() {
	log.Println("WebSocket Hub started")
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case broadcast := <-h.Broadcast:
			h.broadcastMessage(broadcast)
		}
	}
}

// registerClient adds a client to the hub under its user ID and joins it to
// its per-type room; "register{userId, userType}" (§4.7) is implicit in the
// connection itself, so no separate inbound command is needed for it.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Remove existing client with same ID
	if existingClient, ok := h.clients[client.ID]; ok {
		close(existingClient.Send)
	}

	h.clients[client.ID] = client
	h.joinRoomLocked(client, TypeRoom(client.Role))
	log.Printf("Client registered: %s (role: %s)", client.ID, client.Role)
}

// unregisterClient removes a client from the hub and every room it joined
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)

		for room := range client.Rooms() {
			h.leaveRoomLocked(client.ID, room)
		}

		close(client.Send)
		log.Printf("Client unregistered: %s", client.ID)
	}
}

// broadcastMessage sends a message to target clients
func (h *Hub) broadcastMessage(broadcast *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch broadcast.Target {
	case "user":
		// Send to specific user
		if client, ok := h.clients[broadcast.TargetID]; ok {
			client.SendMessage(broadcast.Message)
		}

	case "room":
		// Send to all clients in a room
		if room, ok := h.rooms[broadcast.TargetID]; ok {
			for _, client := range room {
				client.SendMessage(broadcast.Message)
			}
		}

	case "all":
		// Send to all connected clients
		for _, client := range h.clients {
			client.SendMessage(broadcast.Message)
		}
	}
}

// HandleMessage routes incoming messages to appropriate handlers
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	handler, exists := h.handlers[msg.Type]
	h.mu.RUnlock()

	if exists {
		handler(client, msg)
	} else {
		log.Printf("No handler for message type: %s", msg.Type)
	}
}

// RegisterHandler registers a message handler for a specific type
func (h *Hub) RegisterHandler(msgType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
	log.Printf("Registered handler for message type: %s", msgType)
}

// joinRoomLocked adds client to room; caller holds h.mu.
func (h *Hub) joinRoomLocked(client *Client, room string) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][client.ID] = client
	client.joinRoom(room)
}

// leaveRoomLocked removes clientID from room; caller holds h.mu.
func (h *Hub) leaveRoomLocked(clientID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if client, ok := h.clients[clientID]; ok {
		client.leaveRoom(room)
	}
}

// JoinRoom adds a registered client to an arbitrary room, e.g. "ride:<id>".
func (h *Hub) JoinRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	h.joinRoomLocked(client, room)
	log.Printf("Client %s joined room %s", clientID, room)
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(clientID, room)
	log.Printf("Client %s left room %s", clientID, room)
}

// AddClientToRide is JoinRoom(clientID, RideRoom(rideID)).
func (h *Hub) AddClientToRide(clientID, rideID string) {
	h.JoinRoom(clientID, RideRoom(rideID))
}

// RemoveClientFromRide is LeaveRoom(clientID, RideRoom(rideID)).
func (h *Hub) RemoveClientFromRide(clientID, rideID string) {
	h.LeaveRoom(clientID, RideRoom(rideID))
}

// SendToUser sends a message to a specific user
func (h *Hub) SendToUser(userID string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:   "user",
		TargetID: userID,
		Message:  msg,
	}
}

// SendToRoom sends a message to every client in the named room.
func (h *Hub) SendToRoom(room string, msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:   "room",
		TargetID: room,
		Message:  msg,
	}
}

// SendToRide is SendToRoom(RideRoom(rideID), msg).
func (h *Hub) SendToRide(rideID string, msg *Message) {
	h.SendToRoom(RideRoom(rideID), msg)
}

// SendToAll broadcasts a message to all connected clients
func (h *Hub) SendToAll(msg *Message) {
	h.Broadcast <- &BroadcastMessage{
		Target:  "all",
		Message: msg,
	}
}

// GetClient returns a client by ID
func (h *Hub) GetClient(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	return client, ok
}

// GetClientsInRoom returns all clients currently in the named room.
func (h *Hub) GetClientsInRoom(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0)
	if members, ok := h.rooms[room]; ok {
		for _, client := range members {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetClientsInRide is GetClientsInRoom(RideRoom(rideID)).
func (h *Hub) GetClientsInRide(rideID string) []*Client {
	return h.GetClientsInRoom(RideRoom(rideID))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomCount returns the number of active rooms of any kind.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
