package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/GroupCall/internal/core"
	"github.com/dkeye/GroupCall/internal/domain"
)

// RoomManager owns the room directory and creation-on-demand. Creating a room
// allocates one media context from the engine; concurrent GetOrCreate calls
// for the same unseen name observe exactly one creation.
type RoomManager struct {
	engine  core.MediaEngine
	metrics *Metrics

	mu    sync.RWMutex
	rooms map[domain.RoomName]*Room
}

func NewRoomManager(engine core.MediaEngine, metrics *Metrics) *RoomManager {
	return &RoomManager{
		engine:  engine,
		metrics: metrics,
		rooms:   make(map[domain.RoomName]*Room),
	}
}

// GetOrCreate returns the room for name, creating it when unseen. The second
// return reports whether this call created it.
func (m *RoomManager) GetOrCreate(ctx context.Context, name domain.RoomName) (*Room, bool, error) {
	m.mu.RLock()
	room, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return room, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[name]; ok {
		return room, false, nil
	}
	mediaCtx, err := m.engine.CreateContext(ctx)
	if err != nil {
		m.metrics.MediaFailure()
		return nil, false, fmt.Errorf("create media context for room %q: %w", name, err)
	}
	room = NewRoom(name, mediaCtx, m.metrics)
	m.rooms[name] = room
	m.metrics.RoomOpened()
	return room, true, nil
}

func (m *RoomManager) Get(name domain.RoomName) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[name]
	return room, ok
}

func (m *RoomManager) Has(name domain.RoomName) bool {
	_, ok := m.Get(name)
	return ok
}

// Remove unpublishes the room and closes it. Removing a room that is already
// gone (or was replaced under the same name) is a no-op; the media context is
// never released twice.
func (m *RoomManager) Remove(ctx context.Context, room *Room) {
	m.mu.Lock()
	cur, ok := m.rooms[room.Name()]
	if ok && cur == room {
		delete(m.rooms, room.Name())
	}
	m.mu.Unlock()
	if !ok || cur != room {
		return
	}
	room.Close(ctx)
	m.metrics.RoomClosed()
	log.Info().Str("module", "app.rooms").Str("room", string(room.Name())).Msg("room removed")
}

// ListByPrefix returns a point-in-time snapshot of rooms whose name starts
// with prefix. No ordering is guaranteed.
func (m *RoomManager) ListByPrefix(prefix string) []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for name, room := range m.rooms {
		if name.HasPrefix(prefix) {
			out = append(out, room)
		}
	}
	return out
}

// RoomInfo is a read-only view for the HTTP listing.
type RoomInfo struct {
	Name             domain.RoomName `json:"name"`
	ParticipantCount int             `json:"participant_count"`
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for name, room := range m.rooms {
		out = append(out, RoomInfo{Name: name, ParticipantCount: room.ParticipantCount()})
	}
	return out
}

// Close tears down every room; used on process shutdown.
func (m *RoomManager) Close(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.rooms = make(map[domain.RoomName]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.Close(ctx)
		m.metrics.RoomClosed()
	}
}
