package orch

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// cleanup removes sid and everything it owns from room: producers first,
// then transports, then the member itself. The room is dropped from the
// registry once empty. It reports whether sid was a member; a second call is
// a no-op.
func (o *Orchestrator) cleanup(room *core.Room, sid core.SessionID) bool {
	roomID := room.ID()
	logger := log.With().
		Str("module", "orch.cleanup").
		Str("sid", string(sid)).
		Str("room_id", string(roomID)).
		Logger()

	var was bool
	err := room.Do(func(s *core.Scope) error {
		m, ok := s.Member(sid)
		if !ok {
			return nil
		}
		was = true

		for _, pid := range m.ProducerIDs {
			o.closeProducerLocked(s, pid, sid, true)
		}

		for _, tid := range m.TransportIDs {
			t, ok := s.RemoveTransport(tid)
			if !ok {
				continue
			}
			// consumers on this transport go down with it
			for _, c := range s.ConsumersWhere(func(c *core.ConsumerEntry) bool { return c.TransportID == tid }) {
				s.RemoveConsumer(c.ID)
			}
			t.Handle.Close()
		}
		for _, c := range s.ConsumersWhere(func(c *core.ConsumerEntry) bool { return c.Owner == sid }) {
			s.RemoveConsumer(c.ID)
			c.Handle.Close()
		}

		s.RemoveMember(sid)
		o.Registry.Broadcast(roomID, sid, core.Notification{
			Method: core.NotifyPeerLeft,
			Data:   peerPayload{SessionID: sid},
		})
		o.Registry.LeaveGroup(roomID, sid)

		tr, pr, co := s.Counts()
		logger.Info().
			Int("members_left", s.MemberCount()).
			Int("transports", tr).
			Int("producers", pr).
			Int("consumers", co).
			Msg("member cleaned up")
		return nil
	})
	if err != nil || !was {
		return false
	}
	if o.Rooms.TryRemove(roomID) {
		logger.Info().Msg("last member gone, room removed")
	}
	return true
}

// closeProducerLocked drops a producer and detaches its consumers. Each
// consumer owner hears about it directly before the room-wide notice goes
// out. except is left out of the room-wide notice. With direct set the engine
// producer is closed here; otherwise the engine already closed it.
func (o *Orchestrator) closeProducerLocked(s *core.Scope, producerID string, except core.SessionID, direct bool) {
	p, ok := s.RemoveProducer(producerID)
	if !ok {
		return
	}
	for _, c := range s.ConsumersOf(producerID) {
		s.RemoveConsumer(c.ID)
		o.Registry.Send(c.Owner, core.Notification{
			Method: core.NotifyProducerClosed,
			Data:   producerPayload{ProducerID: producerID, ConsumerID: c.ID},
		})
	}
	if direct {
		p.Handle.Close()
	}
	o.Registry.Broadcast(s.RoomID(), except, core.Notification{
		Method: core.NotifyProducerClosed,
		Data:   producerPayload{ProducerID: producerID},
	})
}
