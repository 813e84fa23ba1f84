package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrRegistryClosed = errors.New("room registry closed")

type slotState int

const (
	slotCreating slotState = iota
	slotReady
)

// roomSlot is the per-id entry of the registry. While creating, ready is open
// and every other caller waits on it instead of creating a second context.
type roomSlot struct {
	state slotState
	ready chan struct{}
	room  *core.Room
	// callers between Acquire and release; a held room is never removed
	holds int
}

// EventHandler consumes engine events of one room, in order.
type EventHandler func(room *core.Room, ev core.EngineEvent)

// RoomRegistry maps room ids to live rooms. A room exists while it has
// members or somebody holds it.
type RoomRegistry struct {
	engine    core.RoutingContextFactory
	chatLimit int

	mu      sync.Mutex
	slots   map[domain.RoomID]*roomSlot
	onEvent EventHandler
	closed  bool
}

func NewRoomRegistry(engine core.RoutingContextFactory, chatLimit int) *RoomRegistry {
	return &RoomRegistry{
		engine:    engine,
		chatLimit: chatLimit,
		slots:     make(map[domain.RoomID]*roomSlot),
	}
}

// OnEngineEvent sets the handler for rooms created from now on.
func (m *RoomRegistry) OnEngineEvent(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = h
}

// Acquire returns the room for id, creating its routing context if needed.
// The room stays registered at least until release is called.
func (m *RoomRegistry) Acquire(ctx context.Context, id domain.RoomID) (*core.Room, func(), error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, nil, ErrRegistryClosed
		}
		slot, ok := m.slots[id]
		if !ok {
			slot = &roomSlot{state: slotCreating, ready: make(chan struct{}), holds: 1}
			m.slots[id] = slot
			m.mu.Unlock()
			room, err := m.create(ctx, id, slot)
			if err != nil {
				return nil, nil, err
			}
			return room, m.releaser(id, slot), nil
		}
		if slot.state == slotReady {
			slot.holds++
			m.mu.Unlock()
			return slot.room, m.releaser(id, slot), nil
		}
		ready := slot.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (m *RoomRegistry) create(ctx context.Context, id domain.RoomID, slot *roomSlot) (*core.Room, error) {
	logger := log.With().Str("module", "app.rooms").Str("room_id", string(id)).Logger()

	rc, err := m.engine.CreateRoutingContext(ctx, id)
	if err != nil {
		m.mu.Lock()
		if m.slots[id] == slot {
			delete(m.slots, id)
		}
		close(slot.ready)
		m.mu.Unlock()
		logger.Error().Err(err).Msg("create routing context")
		return nil, err
	}

	room := core.NewRoom(id, rc, m.chatLimit)

	m.mu.Lock()
	if m.closed {
		delete(m.slots, id)
		close(slot.ready)
		m.mu.Unlock()
		rc.Close()
		return nil, ErrRegistryClosed
	}
	slot.room = room
	slot.state = slotReady
	close(slot.ready)
	handler := m.onEvent
	m.mu.Unlock()

	go pumpEvents(room, handler)
	logger.Info().Str("routing_id", rc.ID()).Msg("room created")
	return room, nil
}

// pumpEvents runs until the routing context closes its event channel.
func pumpEvents(room *core.Room, handler EventHandler) {
	for ev := range room.Routing().Events() {
		if handler == nil {
			continue
		}
		handler(room, ev)
	}
}

func (m *RoomRegistry) releaser(id domain.RoomID, slot *roomSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			slot.holds--
			removed := m.tryRemoveLocked(id, slot)
			m.mu.Unlock()
			if removed {
				slot.room.Routing().Close()
			}
		})
	}
}

// TryRemove drops the room when it has no members and no holds, and closes
// its routing context. It reports whether the room is gone afterwards.
func (m *RoomRegistry) TryRemove(id domain.RoomID) bool {
	m.mu.Lock()
	slot, ok := m.slots[id]
	if !ok {
		m.mu.Unlock()
		return true
	}
	removed := m.tryRemoveLocked(id, slot)
	m.mu.Unlock()
	if removed {
		slot.room.Routing().Close()
	}
	return removed
}

func (m *RoomRegistry) tryRemoveLocked(id domain.RoomID, slot *roomSlot) bool {
	if slot.state != slotReady || slot.holds > 0 || m.slots[id] != slot {
		return false
	}
	if !slot.room.CloseIfEmpty() {
		return false
	}
	delete(m.slots, id)
	log.Info().Str("module", "app.rooms").Str("room_id", string(id)).Msg("room removed")
	return true
}

func (m *RoomRegistry) Get(id domain.RoomID) (*core.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok || slot.state != slotReady {
		return nil, false
	}
	return slot.room, true
}

// Rooms returns ready rooms ordered by id.
func (m *RoomRegistry) Rooms() []*core.Room {
	m.mu.Lock()
	out := make([]*core.Room, 0, len(m.slots))
	for _, slot := range m.slots {
		if slot.state == slotReady {
			out = append(out, slot.room)
		}
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *core.Room) int { return strings.Compare(string(a.ID()), string(b.ID())) })
	return out
}

func (m *RoomRegistry) Snapshot() []core.RoomInfo {
	rooms := m.Rooms()
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}

// ProducersByRoom lists the live producers of every room, empty for rooms
// that have none.
func (m *RoomRegistry) ProducersByRoom() map[domain.RoomID][]core.ProducerInfo {
	out := make(map[domain.RoomID][]core.ProducerInfo)
	for _, r := range m.Rooms() {
		out[r.ID()] = r.Producers()
	}
	return out
}

func (m *RoomRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Close tears down every room and rejects further Acquire calls.
func (m *RoomRegistry) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*core.Room, 0, len(m.slots))
	for id, slot := range m.slots {
		if slot.state == slotReady {
			rooms = append(rooms, slot.room)
			delete(m.slots, id)
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, room := range rooms {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			room.ForceClose()
			room.Routing().Close()
			return nil
		})
	}
	err := g.Wait()
	log.Info().Str("module", "app.rooms").Int("rooms", len(rooms)).Err(err).Msg("registry closed")
	return err
}
