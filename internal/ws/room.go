package ws

import "sync"

// Room is the set of sockets this instance holds for one waiting-room room
type Room struct {
	mu      sync.RWMutex
	clients map[*Conn]struct{} // active connections in this room
	users   map[string]int     // live sockets per uid
}

// NewRoom creates an empty room
func NewRoom() *Room {
	return &Room{clients: map[*Conn]struct{}{}, users: map[string]int{}}
}

// Join adds a connection and returns how many sockets its user now holds
func (r *Room) Join(c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		r.clients[c] = struct{}{}
		r.users[c.uid]++
	}
	return r.users[c.uid]
}

// Leave removes a connection and reports how many sockets remain in the
// room and how many of them belong to the same user
func (r *Room) Leave(c *Conn) (left, mine int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		if r.users[c.uid]--; r.users[c.uid] <= 0 {
			delete(r.users, c.uid)
		}
	}
	return len(r.clients), r.users[c.uid]
}

// Socket returns one live connection of uid, or nil
func (r *Room) Socket(uid string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.users[uid] == 0 {
		return nil
	}
	for c := range r.clients {
		if c.uid == uid {
			return c
		}
	}
	return nil
}

// Len returns the number of local connections
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends a message to all connections without blocking
func (r *Room) Broadcast(b []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		select {
		case c.out <- b:
		default: // skip if send buffer is full
		}
	}
}
