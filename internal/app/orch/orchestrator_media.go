package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type TransportResult struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

type ConsumeResult struct {
	ID             string           `json:"id"`
	ProducerID     string           `json:"producerId"`
	Kind           domain.MediaKind `json:"kind"`
	MediaParams    json.RawMessage  `json:"rtpParameters"`
	OwnerSessionID core.SessionID   `json:"ownerSessionId"`
}

type producerPayload struct {
	ProducerID string `json:"producerId"`
	ConsumerID string `json:"consumerId,omitempty"`
}

// CreateTransport allocates a relay transport owned by sid.
func (o *Orchestrator) CreateTransport(ctx context.Context, roomID domain.RoomID, sid core.SessionID) (*TransportResult, error) {
	room, err := o.memberRoom(roomID, sid)
	if err != nil {
		return nil, err
	}

	ectx, cancel := o.engineCtx(ctx)
	t, err := room.Routing().CreateTransport(ectx)
	cancel()
	if err != nil {
		return nil, engineErr("create transport", err)
	}

	err = room.Do(func(s *core.Scope) error {
		if _, ok := s.Member(sid); !ok {
			return core.ErrNotAMember
		}
		s.AddTransport(&core.TransportEntry{ID: t.ID(), Owner: sid, Handle: t})
		return nil
	})
	if err != nil {
		// the member left while the engine was busy
		t.Close()
		return nil, scopeErr(err)
	}

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room_id", string(roomID)).
		Str("transport_id", t.ID()).
		Msg("transport created")
	return &TransportResult{ID: t.ID(), Params: t.ConnectionParams()}, nil
}

// ConnectTransport hands the peer's security parameters to the engine.
func (o *Orchestrator) ConnectTransport(ctx context.Context, roomID domain.RoomID, sid core.SessionID, transportID string, params json.RawMessage) error {
	room, err := o.existingRoom(roomID)
	if err != nil {
		return err
	}
	var t core.Transport
	err = room.Do(func(s *core.Scope) error {
		e, ok := s.Transport(transportID)
		if !ok {
			return fmt.Errorf("%w: transport %s", core.ErrNotFound, transportID)
		}
		t = e.Handle
		return nil
	})
	if err != nil {
		return notFoundIfClosed(err)
	}

	ectx, cancel := o.engineCtx(ctx)
	defer cancel()
	if err := t.Connect(ectx, params); err != nil {
		return engineErr("connect transport", err)
	}
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("transport_id", transportID).
		Msg("transport connected")
	return nil
}

// Produce starts a stream from sid on one of its own transports.
func (o *Orchestrator) Produce(ctx context.Context, roomID domain.RoomID, sid core.SessionID, transportID string, kind domain.MediaKind, params json.RawMessage) (string, error) {
	if _, err := domain.ParseMediaKind(string(kind)); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	room, err := o.memberRoom(roomID, sid)
	if err != nil {
		return "", err
	}

	var t core.Transport
	err = room.Do(func(s *core.Scope) error {
		e, err := ownTransport(s, sid, transportID)
		if err != nil {
			return err
		}
		t = e.Handle
		return nil
	})
	if err != nil {
		return "", scopeErr(err)
	}

	ectx, cancel := o.engineCtx(ctx)
	p, err := t.Produce(ectx, kind, params)
	cancel()
	if err != nil {
		return "", engineErr("produce", err)
	}

	err = room.Do(func(s *core.Scope) error {
		if _, err := ownTransport(s, sid, transportID); err != nil {
			return err
		}
		s.AddProducer(&core.ProducerEntry{
			ID:          p.ID(),
			Owner:       sid,
			Kind:        kind,
			TransportID: transportID,
			Handle:      p,
		})
		o.Registry.Broadcast(roomID, sid, core.Notification{
			Method: core.NotifyNewProducer,
			Data:   core.ProducerInfo{ProducerID: p.ID(), Kind: kind, OwnerSessionID: sid},
		})
		return nil
	})
	if err != nil {
		p.Close()
		return "", scopeErr(err)
	}

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room_id", string(roomID)).
		Str("producer_id", p.ID()).
		Str("kind", string(kind)).
		Msg("producer created")
	return p.ID(), nil
}

func ownTransport(s *core.Scope, sid core.SessionID, transportID string) (*core.TransportEntry, error) {
	if _, ok := s.Member(sid); !ok {
		return nil, core.ErrNotAMember
	}
	e, ok := s.Transport(transportID)
	if !ok {
		return nil, fmt.Errorf("%w: transport %s", core.ErrNotFound, transportID)
	}
	if e.Owner != sid {
		return nil, fmt.Errorf("%w: transport %s", core.ErrNotOwner, transportID)
	}
	return e, nil
}

// Consume links a new paused consumer on transportID to producerID.
func (o *Orchestrator) Consume(ctx context.Context, roomID domain.RoomID, sid core.SessionID, transportID, producerID string, caps json.RawMessage) (*ConsumeResult, error) {
	room, err := o.memberRoom(roomID, sid)
	if err != nil {
		return nil, err
	}
	if !room.Routing().CanConsume(producerID, caps) {
		return nil, fmt.Errorf("%w: producer %s", core.ErrCannotConsume, producerID)
	}

	var (
		t     core.Transport
		owner core.SessionID
	)
	err = room.Do(func(s *core.Scope) error {
		te, pe, err := consumeTargets(s, sid, transportID, producerID)
		if err != nil {
			return err
		}
		t, owner = te.Handle, pe.Owner
		return nil
	})
	if err != nil {
		return nil, scopeErr(err)
	}

	ectx, cancel := o.engineCtx(ctx)
	c, err := t.Consume(ectx, producerID, caps)
	cancel()
	if err != nil {
		return nil, engineErr("consume", err)
	}

	err = room.Do(func(s *core.Scope) error {
		if _, _, err := consumeTargets(s, sid, transportID, producerID); err != nil {
			return err
		}
		s.AddConsumer(&core.ConsumerEntry{
			ID:          c.ID(),
			Owner:       sid,
			ProducerID:  producerID,
			TransportID: transportID,
			Paused:      true,
			Handle:      c,
		})
		return nil
	})
	if err != nil {
		c.Close()
		return nil, scopeErr(err)
	}

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room_id", string(roomID)).
		Str("producer_id", producerID).
		Str("consumer_id", c.ID()).
		Msg("consumer created")
	return &ConsumeResult{
		ID:             c.ID(),
		ProducerID:     producerID,
		Kind:           c.Kind(),
		MediaParams:    c.MediaParams(),
		OwnerSessionID: owner,
	}, nil
}

func consumeTargets(s *core.Scope, sid core.SessionID, transportID, producerID string) (*core.TransportEntry, *core.ProducerEntry, error) {
	if _, ok := s.Member(sid); !ok {
		return nil, nil, core.ErrNotAMember
	}
	te, ok := s.Transport(transportID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: transport %s", core.ErrNotFound, transportID)
	}
	pe, ok := s.Producer(producerID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: producer %s", core.ErrNotFound, producerID)
	}
	return te, pe, nil
}

// ResumeConsumer starts media flow on a consumer.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, roomID domain.RoomID, sid core.SessionID, consumerID string) error {
	room, err := o.existingRoom(roomID)
	if err != nil {
		return err
	}
	var c core.Consumer
	err = room.Do(func(s *core.Scope) error {
		e, ok := s.Consumer(consumerID)
		if !ok {
			return fmt.Errorf("%w: consumer %s", core.ErrNotFound, consumerID)
		}
		c = e.Handle
		return nil
	})
	if err != nil {
		return notFoundIfClosed(err)
	}

	ectx, cancel := o.engineCtx(ctx)
	defer cancel()
	if err := c.Resume(ectx); err != nil {
		return engineErr("resume consumer", err)
	}
	_ = room.Do(func(s *core.Scope) error {
		if e, ok := s.Consumer(consumerID); ok {
			e.Paused = false
		}
		return nil
	})
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("consumer_id", consumerID).Msg("consumer resumed")
	return nil
}

func (o *Orchestrator) PauseProducer(ctx context.Context, roomID domain.RoomID, sid core.SessionID, producerID string) error {
	return o.setProducerPaused(ctx, roomID, sid, producerID, true)
}

func (o *Orchestrator) ResumeProducer(ctx context.Context, roomID domain.RoomID, sid core.SessionID, producerID string) error {
	return o.setProducerPaused(ctx, roomID, sid, producerID, false)
}

func (o *Orchestrator) setProducerPaused(ctx context.Context, roomID domain.RoomID, sid core.SessionID, producerID string, paused bool) error {
	room, err := o.existingRoom(roomID)
	if err != nil {
		return err
	}
	var p core.Producer
	err = room.Do(func(s *core.Scope) error {
		e, ok := s.Producer(producerID)
		if !ok {
			return fmt.Errorf("%w: producer %s", core.ErrNotFound, producerID)
		}
		if e.Owner != sid {
			return fmt.Errorf("%w: producer %s", core.ErrNotOwner, producerID)
		}
		p = e.Handle
		return nil
	})
	if err != nil {
		return notFoundIfClosed(err)
	}

	op, method := "resume producer", core.NotifyProducerResumed
	if paused {
		op, method = "pause producer", core.NotifyProducerPaused
	}
	ectx, cancel := o.engineCtx(ctx)
	defer cancel()
	if paused {
		err = p.Pause(ectx)
	} else {
		err = p.Resume(ectx)
	}
	if err != nil {
		return engineErr(op, err)
	}

	return notFoundIfClosed(room.Do(func(s *core.Scope) error {
		e, ok := s.Producer(producerID)
		if !ok {
			return fmt.Errorf("%w: producer %s", core.ErrNotFound, producerID)
		}
		e.Paused = paused
		o.Registry.Broadcast(roomID, sid, core.Notification{
			Method: method,
			Data:   producerPayload{ProducerID: producerID},
		})
		return nil
	}))
}

func notFoundIfClosed(err error) error {
	if errors.Is(err, core.ErrRoomClosed) {
		return fmt.Errorf("%w: room closed", core.ErrNotFound)
	}
	return err
}
