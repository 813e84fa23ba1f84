package rtc

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type router struct {
	engine *Engine
	api    *webrtc.API
	id     string
	roomID domain.RoomID
	events *core.EventQueue
	relays *sfu.RelayManager

	// relay loops outlive the request that created their producer
	lifetime context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	transports map[string]*transport
	producers  map[string]*producer
	closed     bool
}

func (r *router) ID() string { return r.id }

func (r *router) Capabilities() json.RawMessage {
	b, _ := json.Marshal(Capabilities{Codecs: DefaultCodecs})
	return b
}

func (r *router) CreateTransport(ctx context.Context) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	t, err := newTransport(ctx, r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.teardown()
		return nil, ErrClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

// CanConsume requires the peer to list a codec matching the producer's.
func (r *router) CanConsume(producerID string, caps json.RawMessage) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	peer, err := parseCapabilities(caps)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(peer.Codecs, func(c Codec) bool { return p.codec.matches(c) })
}

func (r *router) Events() <-chan core.EngineEvent { return r.events.C() }

func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ts := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()

	for _, t := range ts {
		t.close(core.ReasonTransportClose, true)
	}
	r.cancel()
	r.events.Close()
	log.Info().Str("module", "rtc").Str("room_id", string(r.roomID)).Str("router_id", r.id).Msg("router closed")
}

func (r *router) producer(id string) (*producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *router) supported(kind domain.MediaKind, c Codec) (Codec, bool) {
	for _, known := range DefaultCodecs {
		if known.Kind == kind && known.matches(c) {
			return known, true
		}
	}
	return Codec{}, false
}
