package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

// RoutingContextFactory is the media engine entry point.
type RoutingContextFactory interface {
	// CreateRoutingContext allocates the per-room routing context.
	CreateRoutingContext(ctx context.Context, roomID domain.RoomID) (RoutingContext, error)
	// Died yields an error once the engine can no longer serve any room.
	Died() <-chan error
}

// RoutingContext is the engine's per-room handle. Negotiation parameters are
// opaque to the core and only parsed by the engine.
type RoutingContext interface {
	ID() string
	// Capabilities are fixed for the lifetime of the context.
	Capabilities() json.RawMessage
	CreateTransport(ctx context.Context) (Transport, error)
	CanConsume(producerID string, caps json.RawMessage) bool
	// Events is closed after Close once pending events were delivered.
	Events() <-chan EngineEvent
	Close()
}

type Transport interface {
	ID() string
	ConnectionParams() json.RawMessage
	Connect(ctx context.Context, params json.RawMessage) error
	Produce(ctx context.Context, kind domain.MediaKind, params json.RawMessage) (Producer, error)
	Consume(ctx context.Context, producerID string, caps json.RawMessage) (Consumer, error)
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close()
}

// Consumer starts paused.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	MediaParams() json.RawMessage
	Resume(ctx context.Context) error
	Close()
}

type EngineEventType int

const (
	TransportClosed EngineEventType = iota
	ProducerClosed
	ConsumerClosed
)

func (t EngineEventType) String() string {
	switch t {
	case TransportClosed:
		return "transport_closed"
	case ProducerClosed:
		return "producer_closed"
	case ConsumerClosed:
		return "consumer_closed"
	default:
		return "unknown"
	}
}

type CloseReason string

const (
	ReasonTransportClose CloseReason = "transport-close"
	ReasonProducerClose  CloseReason = "producer-close"
	ReasonFailed         CloseReason = "failed"
)

// EngineEvent reports a closure the core did not ask for directly.
type EngineEvent struct {
	Type   EngineEventType
	ID     string
	Reason CloseReason
}
