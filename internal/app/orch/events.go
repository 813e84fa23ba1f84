package orch

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// HandleEngineEvent applies a closure the engine reported on its own.
// Entries that are already gone were cleaned up by a request and are ignored.
func (o *Orchestrator) HandleEngineEvent(room *core.Room, ev core.EngineEvent) {
	logger := log.With().
		Str("module", "orch.events").
		Str("room_id", string(room.ID())).
		Stringer("event", ev.Type).
		Str("id", ev.ID).
		Str("reason", string(ev.Reason)).
		Logger()

	_ = room.Do(func(s *core.Scope) error {
		switch ev.Type {
		case core.TransportClosed:
			if _, ok := s.RemoveTransport(ev.ID); !ok {
				return nil
			}
			// a Produce or Consume that finished while the engine was closing
			// the transport recorded its entry after the child event went by
			for _, pid := range s.ProducerIDsOn(ev.ID) {
				o.closeProducerLocked(s, pid, "", false)
			}
			for _, c := range s.ConsumersWhere(func(c *core.ConsumerEntry) bool { return c.TransportID == ev.ID }) {
				s.RemoveConsumer(c.ID)
			}
			logger.Warn().Msg("transport closed by engine")
		case core.ProducerClosed:
			if _, ok := s.Producer(ev.ID); ok {
				o.closeProducerLocked(s, ev.ID, "", false)
				logger.Info().Msg("producer closed by engine")
			}
		case core.ConsumerClosed:
			c, ok := s.RemoveConsumer(ev.ID)
			if !ok {
				return nil
			}
			if ev.Reason == core.ReasonProducerClose {
				o.Registry.Send(c.Owner, core.Notification{
					Method: core.NotifyProducerClosed,
					Data:   producerPayload{ProducerID: c.ProducerID, ConsumerID: c.ID},
				})
			}
			logger.Debug().Str("sid", string(c.Owner)).Msg("consumer closed by engine")
		}
		return nil
	})
}
