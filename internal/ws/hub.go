package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"waiting-room/internal/waitlist"
	"waiting-room/pkg/auth"
	"waiting-room/pkg/clock"
	"waiting-room/pkg/metrics"
)

// Admission is the part of the coordinator the socket layer drives
type Admission interface {
	Check(ctx context.Context, room, uid string) (waitlist.Status, error)
	Connect(ctx context.Context, room, uid string, payload []byte) error
	Disconnect(ctx context.Context, room, uid string, buffer time.Duration, done waitlist.DisconnectFunc) error
	Count(ctx context.Context, room string) (int64, error)
}

// announceTimeout bounds fan-out work started outside a request
const announceTimeout = 5 * time.Second

type Hub struct {
	log    *slog.Logger
	bus    Bus
	wl     Admission
	clock  clock.Clock
	origin string // this instance on the bus

	mu    sync.RWMutex
	rooms map[string]*Room // rooms with at least one local socket
}

// NewHub sets up the hub with the bus, coordinator and logger
func NewHub(logger *slog.Logger, bus Bus, wl Admission, c clock.Clock) *Hub {
	return &Hub{
		log: logger, bus: bus, wl: wl, clock: c,
		origin: uuid.NewString(),
		rooms:  map[string]*Room{},
	}
}

// Run listens to the bus and forwards other instances' messages to local rooms
func (h *Hub) Run(ctx context.Context) {
	go h.bus.Subscribe(ctx, h.deliver)
	<-ctx.Done()
}

func (h *Hub) deliver(msg BusMessage) {
	if msg.Origin == h.origin {
		return
	}
	h.mu.RLock()
	rm := h.rooms[msg.Room]
	h.mu.RUnlock()
	if rm != nil {
		rm.Broadcast(msg.Payload)
	}
}

// room returns the Room for id, creating it if needed
func (h *Hub) room(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[id]
	if rm == nil {
		rm = NewRoom()
		h.rooms[id] = rm
	}
	return rm
}

// leave drops c, forgets the room once it has no local sockets and
// reports how many sockets c's user still holds here
func (h *Hub) leave(id string, rm *Room, c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	left, mine := rm.Leave(c)
	if left == 0 && h.rooms[id] == rm {
		delete(h.rooms, id)
	}
	return mine
}

// socket returns a live local socket of uid in room, or nil
func (h *Hub) socket(room, uid string) *Conn {
	h.mu.RLock()
	rm := h.rooms[room]
	h.mu.RUnlock()
	if rm == nil {
		return nil
	}
	return rm.Socket(uid)
}

// Announce sends payload to everyone in the room, here and on other instances
func (h *Hub) Announce(ctx context.Context, room string, payload []byte) {
	if err := h.bus.Publish(ctx, BusMessage{Room: room, Origin: h.origin, Payload: payload}); err != nil {
		h.log.Warn("bus.publish", "room", room, "err", err)
	}
	h.mu.RLock()
	rm := h.rooms[room]
	h.mu.RUnlock()
	if rm != nil {
		rm.Broadcast(payload)
	}
}

func (h *Hub) announceCount(ctx context.Context, room string) {
	n, err := h.wl.Count(ctx, room)
	if err != nil {
		h.log.Warn("ws.count", "room", room, "err", err)
		return
	}
	h.Announce(ctx, room, encodeCount(n))
}

// ServeWS admits the session user into ?room= if the waiting list lets
// them in, then relays their frames to the room until they leave
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	room := r.URL.Query().Get("room")
	uid := auth.UserID(ctx)
	if room == "" || uid == "" {
		http.Error(w, "room and session required", http.StatusBadRequest)
		return
	}

	st, err := h.wl.Check(ctx, room, uid)
	if err != nil {
		h.log.Error("ws.check", "room", room, "err", err)
		http.Error(w, "waiting list unavailable", http.StatusServiceUnavailable)
		return
	}
	if !st.IsReady() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(st)
		return
	}

	conn, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	payload := participantPayload(uid, r.URL.Query().Get("name"), h.clock.Now())
	if err := h.wl.Connect(ctx, room, uid, payload); err != nil {
		h.log.Error("ws.connect", "room", room, "uid", uid, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "waiting list unavailable")
		return
	}

	rm := h.room(room)
	c := NewConn(conn, room, uid, payload)
	sockets := rm.Join(c)
	metrics.Sockets.Inc()
	h.log.Info("ws.joined", "room", room, "uid", uid, "sockets", sockets)

	go c.WriteLoop(ctx)
	h.announceCount(ctx, room)

	for {
		frame, ok := c.Read(ctx)
		if !ok {
			break
		}
		h.Announce(ctx, room, frame)
	}

	others := h.leave(room, rm, c)
	_ = c.Close()
	metrics.Sockets.Dec()
	if others > 0 {
		// another tab or a reload still holds the seat
		h.log.Debug("ws.left", "room", room, "uid", uid, "sockets", others)
		return
	}
	h.release(room, uid)
}

// release files the disconnect and, once it is confirmed, tells the room
func (h *Hub) release(room, uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	err := h.wl.Disconnect(ctx, room, uid, 0, func(disconnected bool, err error) {
		if err != nil || !disconnected {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		if c := h.socket(room, uid); c != nil {
			// a socket joined after the release was filed; seat it again
			if err := h.wl.Connect(ctx, room, uid, c.payload); err != nil {
				h.log.Error("ws.reseat", "room", room, "uid", uid, "err", err)
			}
			return
		}
		h.Announce(ctx, room, encodeLeft(uid))
		h.announceCount(ctx, room)
	})
	if err != nil {
		h.log.Error("ws.disconnect", "room", room, "uid", uid, "err", err)
	}
}
