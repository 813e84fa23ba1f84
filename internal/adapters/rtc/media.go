package rtc

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

type producer struct {
	transport *transport
	id        string
	kind      domain.MediaKind
	codec     Codec
	ssrc      uint32
	receiver  *webrtc.RTPReceiver

	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool
}

func (p *producer) ID() string             { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }

func (p *producer) Pause(ctx context.Context) error  { return p.setPaused(ctx, true) }
func (p *producer) Resume(ctx context.Context) error { return p.setPaused(ctx, false) }

// setPaused stops forwarding at the relay; the sender keeps transmitting.
func (p *producer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !p.transport.router.relays.SetPaused(p.id, paused) {
		return ErrClosed
	}
	return nil
}

// requestKeyframe asks the sending peer for a fresh keyframe so a consumer
// that just started can decode.
func (p *producer) requestKeyframe() {
	if p.kind != domain.MediaKindVideo {
		return
	}
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}}
	if _, err := p.transport.dtls.WriteRTCP(pli); err != nil {
		p.transport.logger.Debug().Err(err).Str("producer_id", p.id).Msg("keyframe request")
	}
}

func (p *producer) Close() { p.close() }

// close reports whether this call performed the close. Linked consumers are
// closed indirectly and reported as such.
func (p *producer) close() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	consumers := sortedValues(p.consumers)
	p.mu.Unlock()

	t := p.transport
	r := t.router
	for _, c := range consumers {
		if c.close() {
			r.events.Push(core.EngineEvent{Type: core.ConsumerClosed, ID: c.id, Reason: core.ReasonProducerClose})
		}
	}
	r.relays.StopRelay(p.id)
	// unblocks the relay's pending read
	if err := p.receiver.Stop(); err != nil {
		t.logger.Debug().Err(err).Str("producer_id", p.id).Msg("receiver stop")
	}

	t.mu.Lock()
	delete(t.producers, p.id)
	t.mu.Unlock()
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()
	t.logger.Info().Str("producer_id", p.id).Msg("producer closed")
	return true
}

type consumer struct {
	transport *transport
	producer  *producer
	id        string
	sender    *webrtc.RTPSender
	out       *sfu.OutTrack
	params    MediaParams

	mu     sync.Mutex
	closed bool
}

func (c *consumer) ID() string             { return c.id }
func (c *consumer) ProducerID() string     { return c.producer.id }
func (c *consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *consumer) MediaParams() json.RawMessage {
	b, _ := json.Marshal(c.params)
	return b
}

// Resume unmutes the relay output. A deleted output stays deleted.
func (c *consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.out.MarkOk()
	if c.out.GetState() == sfu.TrackStateDelete {
		return ErrClosed
	}
	c.producer.requestKeyframe()
	return nil
}

func (c *consumer) Close() { c.close() }

func (c *consumer) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	c.release()
	t := c.transport
	t.mu.Lock()
	delete(t.consumers, c.id)
	t.mu.Unlock()
	c.producer.mu.Lock()
	delete(c.producer.consumers, c.id)
	c.producer.mu.Unlock()
	t.logger.Info().Str("consumer_id", c.id).Msg("consumer closed")
	return true
}

func (c *consumer) release() {
	c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
	if err := c.sender.Stop(); err != nil {
		c.transport.logger.Debug().Err(err).Str("consumer_id", c.id).Msg("sender stop")
	}
}

// readRTCP drains receiver reports so the interceptors keep running, and
// passes keyframe requests on to the producing peer.
func (c *consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		if wantsKeyframe(pkts) {
			c.producer.requestKeyframe()
		}
	}
}

func wantsKeyframe(pkts []rtcp.Packet) bool {
	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			return true
		}
	}
	return false
}

type identified interface{ ID() string }

func sortedValues[T identified](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}
