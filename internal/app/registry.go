package app

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Signal core.SignalConnection
	Cancel context.CancelFunc
	slow   bool
}

// Registry binds session ids to their signaling connections and keeps the
// per-room broadcast groups. It implements core.Notifier.
type Registry struct {
	policy Policy

	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	groups   map[domain.RoomID]map[core.SessionID]struct{}
}

var _ core.Notifier = (*Registry)(nil)

func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		policy:   policy,
		sessions: make(map[core.SessionID]*sessionEntry),
		groups:   make(map[domain.RoomID]map[core.SessionID]struct{}),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// Unbind forgets the session and drops it from every broadcast group.
func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	for roomID, members := range r.groups {
		delete(members, sid)
		if len(members) == 0 {
			delete(r.groups, roomID)
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) JoinGroup(roomID domain.RoomID, sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[roomID]
	if !ok {
		members = make(map[core.SessionID]struct{})
		r.groups[roomID] = members
	}
	members[sid] = struct{}{}
}

func (r *Registry) LeaveGroup(roomID domain.RoomID, sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.groups[roomID]
	if !ok {
		return
	}
	delete(members, sid)
	if len(members) == 0 {
		delete(r.groups, roomID)
	}
}

// MembersOfRoom returns the broadcast group of roomID ordered by session id.
func (r *Registry) MembersOfRoom(roomID domain.RoomID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.groups[roomID]))
	for sid := range r.groups[roomID] {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Send(sid core.SessionID, n core.Notification) {
	frame, err := n.Frame()
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("method", n.Method).Msg("encode notification")
		return
	}
	r.deliver(sid, n, frame)
}

func (r *Registry) Broadcast(roomID domain.RoomID, except core.SessionID, n core.Notification) {
	frame, err := n.Frame()
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("method", n.Method).Msg("encode notification")
		return
	}
	sent := 0
	for _, sid := range r.MembersOfRoom(roomID) {
		if sid == except {
			continue
		}
		if r.deliver(sid, n, frame) {
			sent++
		}
	}
	log.Debug().
		Str("module", "app.registry").
		Str("room_id", string(roomID)).
		Str("method", n.Method).
		Int("sent_to", sent).
		Msg("broadcast result")
}

func (r *Registry) deliver(sid core.SessionID, n core.Notification, frame core.Frame) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok || e.Signal == nil {
		return false
	}
	err := e.Signal.TrySend(frame)
	if err == nil {
		return true
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.registry").Str("sid", string(sid)).Msg("send skipped")
		return false
	}

	action := r.policy.OnBackPressure(sid, n)
	log.Warn().
		Str("module", "app.registry").
		Str("sid", string(sid)).
		Str("method", n.Method).
		Stringer("action", action).
		Msg("backpressure")
	switch action {
	case KickMember:
		r.Cancel(sid)
	case MarkSlow:
		r.mu.Lock()
		e.slow = true
		r.mu.Unlock()
	case DropFrame, NoAction:
	}
	return false
}

// IsSlow reports whether the session was marked slow by the policy.
func (r *Registry) IsSlow(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return ok && e.slow
}

// Cancel ends the session's connection context. The signaling adapter then
// closes the socket, which runs the disconnect cleanup.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
