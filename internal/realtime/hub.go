package realtime

import "context"

// frame is an encoded message addressed to one room.
type frame struct {
	room string
	data []byte
}

// Hub owns the connected clients, grouped by room, and fans frames out to them.
type Hub struct {
	// Registered clients per room.
	rooms map[string]map[*Client]bool

	// Inbound frames to deliver to every client of a room.
	broadcast chan frame

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed once Run returns.
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan frame),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.rooms {
				for client := range clients {
					h.drop(client)
				}
			}
			return

		case client := <-h.register:
			clients, ok := h.rooms[client.room]
			if !ok {
				clients = make(map[*Client]bool)
				h.rooms[client.room] = clients
			}
			clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.rooms[client.room][client]; ok {
				h.drop(client)
			}

		case f := <-h.broadcast:
			for client := range h.rooms[f.room] {
				select {
				case client.send <- f.data:
				default:
					// slow consumer
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	clients := h.rooms[client.room]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
	close(client.send)
	if client.conn != nil {
		_ = client.conn.Close()
	}
}

// Deliver queues data for every client in room.
func (h *Hub) Deliver(ctx context.Context, room string, data []byte) {
	select {
	case h.broadcast <- frame{room: room, data: data}:
	case <-ctx.Done():
	case <-h.done:
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
