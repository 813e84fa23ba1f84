package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

type transportRef struct {
	roomRef
	TransportID string `json:"transportId"`
}

type producerRef struct {
	roomRef
	ProducerID string `json:"producerId"`
}

type idPayload struct {
	ID string `json:"id"`
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	return ctl.Orch.CreateTransport(ctx, roomID, s.sid)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p struct {
		transportRef
		Params json.RawMessage `json:"params"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	return nil, ctl.Orch.ConnectTransport(ctx, roomID, s.sid, p.TransportID, p.Params)
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p struct {
		transportRef
		Kind          string          `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	id, err := ctl.Orch.Produce(ctx, roomID, s.sid, p.TransportID, domain.MediaKind(p.Kind), p.RTPParameters)
	if err != nil {
		return nil, err
	}
	return idPayload{ID: id}, nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p struct {
		transportRef
		ProducerID      string          `json:"producerId"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	return ctl.Orch.Consume(ctx, roomID, s.sid, p.TransportID, p.ProducerID, p.RTPCapabilities)
}

func (ctl *SignalWSController) handleResumeConsumer(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p struct {
		roomRef
		ConsumerID string `json:"consumerId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	return nil, ctl.Orch.ResumeConsumer(ctx, roomID, s.sid, p.ConsumerID)
}

func (ctl *SignalWSController) handlePauseProducer(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	return ctl.setProducerPaused(ctx, s, data, true)
}

func (ctl *SignalWSController) handleResumeProducer(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	return ctl.setProducerPaused(ctx, s, data, false)
}

func (ctl *SignalWSController) setProducerPaused(ctx context.Context, s *session, data json.RawMessage, paused bool) (any, error) {
	var p producerRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ctl.Orch.PauseProducer(ctx, roomID, s.sid, p.ProducerID)
	}
	return nil, ctl.Orch.ResumeProducer(ctx, roomID, s.sid, p.ProducerID)
}
