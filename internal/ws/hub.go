package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chat-relay/internal/models"

	"github.com/gorilla/websocket"
)

var (
	// ErrStaleMember is returned when enqueueing to a member that is closing.
	ErrStaleMember = errors.New("stale member")
	// ErrSendBufferFull is returned when a member cannot keep up with its room.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Member is a connection that receives room broadcasts.
type Member interface {
	ID() string
	// Enqueue hands payload to the member's writer without blocking.
	Enqueue(payload []byte) error
	Close(code int, reason string)
}

// Registry maps rooms to their members. Implementations must be safe for
// concurrent use.
type Registry interface {
	Join(roomID string, m Member)
	Leave(roomID string, m Member)
	// Broadcast delivers event to every member of roomID except exclude.
	// Delivery failures to single members are not returned.
	Broadcast(ctx context.Context, roomID string, event models.Outbound, exclude Member) error
}

type room struct {
	mu      sync.Mutex
	members map[string]Member
}

// Hub is the in-process Registry.
type Hub struct {
	// Registered members by room ID
	// Map: roomID -> room
	rooms map[string]*room

	// Guards rooms. Taken before a room's own lock, never after.
	mu sync.Mutex

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// Join adds m to roomID, creating the room on first join. Joining twice is a no-op.
func (h *Hub) Join(roomID string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		h.logger.Debug("[HUB] Creating new room", "room", roomID)
		r = &room{members: make(map[string]Member)}
		h.rooms[roomID] = r
	}

	r.mu.Lock()
	r.members[m.ID()] = m
	count := len(r.members)
	r.mu.Unlock()

	h.logger.Info("[HUB] Member joined", "room", roomID, "member", m.ID(), "members", count)
}

// Leave removes m from roomID and drops the room once it is empty.
func (h *Hub) Leave(roomID string, m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		h.logger.Debug("[HUB] Leave for non-existent room", "room", roomID, "member", m.ID())
		return
	}

	r.mu.Lock()
	_, member := r.members[m.ID()]
	delete(r.members, m.ID())
	count := len(r.members)
	r.mu.Unlock()

	if !member {
		return
	}

	h.logger.Info("[HUB] Member left", "room", roomID, "member", m.ID(), "members", count)

	if count == 0 {
		h.logger.Debug("[HUB] Room is now empty, removing from hub", "room", roomID)
		delete(h.rooms, roomID)
	}
}

func (h *Hub) Broadcast(ctx context.Context, roomID string, event models.Outbound, exclude Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := models.EncodeOutbound(event)
	if err != nil {
		return err
	}

	var excludeID string
	if exclude != nil {
		excludeID = exclude.ID()
	}

	h.Deliver(roomID, payload, excludeID)
	return nil
}

// Deliver enqueues an encoded payload to every member of roomID except the
// member whose ID is excludeID. Enqueues happen under the room lock so each
// member sees a room's broadcasts in the order they were made.
func (h *Hub) Deliver(roomID string, payload []byte, excludeID string) (sent, failed int) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()

	if !ok {
		h.logger.Debug("[HUB] No members in room", "room", roomID)
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.members {
		if id == excludeID {
			continue
		}
		if err := m.Enqueue(payload); err != nil {
			h.logger.Warn("[HUB] Failed to deliver to member", "room", roomID, "member", id, "error", err)
			failed++
			continue
		}
		sent++
	}

	h.logger.Debug("[HUB] Broadcast complete", "room", roomID, "sent", sent, "failed", failed)
	return sent, failed
}

// MemberCount returns the number of members currently in roomID.
func (h *Hub) MemberCount(roomID string) int {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) HasRoom(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[roomID]
	return ok
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown closes every member with a going-away code. Members leave their
// rooms as part of closing.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	var members []Member
	for _, r := range h.rooms {
		r.mu.Lock()
		for _, m := range r.members {
			members = append(members, m)
		}
		r.mu.Unlock()
	}
	h.mu.Unlock()

	h.logger.Info("[HUB] Shutting down", "members", len(members))

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Close(websocket.CloseGoingAway, "server shutting down")
	}
	return nil
}
