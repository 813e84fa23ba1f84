package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type transport struct {
	router   *router
	id       string
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   json.RawMessage
	logger   zerolog.Logger

	// ready is closed once DTLS is up; done once the transport is closed
	ready chan struct{}
	done  chan struct{}

	mu         sync.Mutex
	connecting bool
	producers  map[string]*producer
	consumers  map[string]*consumer
	closed     bool
}

// newTransport gathers local candidates before returning, bounded by ctx.
func newTransport(ctx context.Context, r *router) (*transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers})
	if err != nil {
		return nil, fmt.Errorf("rtc: ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("rtc: dtls transport: %w", err)
	}

	t := &transport{
		router:    r,
		id:        uuid.NewString(),
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[string]*producer),
		consumers: make(map[string]*consumer),
	}
	t.logger = log.With().
		Str("module", "rtc").
		Str("room_id", string(r.roomID)).
		Str("transport_id", t.id).
		Logger()

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		t.teardown()
		return nil, fmt.Errorf("rtc: gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		t.teardown()
		return nil, ctx.Err()
	}

	if t.params, err = t.localParams(); err != nil {
		t.teardown()
		return nil, err
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed || s == webrtc.ICETransportStateClosed {
			// pion invokes this under its own locks; close elsewhere
			go t.close(core.ReasonFailed, true)
		}
	})
	t.logger.Info().Msg("transport created")
	return t, nil
}

func (t *transport) localParams() (json.RawMessage, error) {
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("rtc: local candidates: %w", err)
	}
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("rtc: local ice parameters: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("rtc: local dtls parameters: %w", err)
	}
	return json.Marshal(ConnectionParams{
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
	})
}

func (t *transport) ID() string                        { return t.id }
func (t *transport) ConnectionParams() json.RawMessage { return t.params }

// Connect hands the peer's parameters to ICE and DTLS and returns without
// waiting for the handshake; the peer only starts checks after the reply.
// A failed handshake closes the transport.
func (t *transport) Connect(ctx context.Context, raw json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := parseConnectionParams(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrClosed
	case t.connecting:
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.connecting = true
	t.mu.Unlock()

	if err := t.ice.SetRemoteCandidates(p.ICECandidates); err != nil {
		// nothing was started; the peer may retry with other candidates
		t.mu.Lock()
		t.connecting = false
		t.mu.Unlock()
		return fmt.Errorf("rtc: remote candidates: %w", err)
	}
	go t.start(p)
	return nil
}

func (t *transport) start(p ConnectionParams) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, p.ICEParameters, &role); err != nil {
		t.logger.Error().Err(err).Msg("ice start")
		t.close(core.ReasonFailed, true)
		return
	}
	if err := t.dtls.Start(p.DTLSParameters); err != nil {
		t.logger.Error().Err(err).Msg("dtls start")
		t.close(core.ReasonFailed, true)
		return
	}
	close(t.ready)
	t.logger.Info().Msg("transport connected")
}

// waitReady blocks until DTLS is up; SRTP streams cannot be opened before.
// A transport that was never connected fails at once.
func (t *transport) waitReady(ctx context.Context) error {
	t.mu.Lock()
	connecting := t.connecting
	t.mu.Unlock()
	if !connecting {
		return ErrNotConnected
	}
	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, raw json.RawMessage) (core.Producer, error) {
	mp, err := parseMediaParams(raw)
	if err != nil {
		return nil, err
	}
	codec, ok := t.router.supported(kind, mp.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mp.Codec.MimeType)
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	r := t.router
	receiver, err := r.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtc: rtp receiver: %w", err)
	}
	enc := mp.Encodings[0]
	pt := enc.PayloadType
	if pt == 0 {
		pt = codec.PayloadType
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(enc.SSRC),
				PayloadType: webrtc.PayloadType(pt),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtc: receive: %w", err)
	}

	p := &producer{
		transport: t,
		id:        uuid.NewString(),
		kind:      kind,
		codec:     codec,
		ssrc:      enc.SSRC,
		receiver:  receiver,
		consumers: make(map[string]*consumer),
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, ErrClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()

	r.relays.StartRelay(r.lifetime, p.id, receiver.Track())
	t.logger.Info().Str("producer_id", p.id).Str("mime", codec.MimeType).Uint32("ssrc", enc.SSRC).Msg("producer created")
	return p, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, _ json.RawMessage) (core.Consumer, error) {
	r := t.router
	p, ok := r.producer(producerID)
	if !ok {
		return nil, ErrUnknownProducer
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(p.codec.capability(), id, p.id)
	if err != nil {
		return nil, fmt.Errorf("rtc: local track: %w", err)
	}
	sender, err := r.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtc: rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtc: send: %w", err)
	}

	c := &consumer{
		transport: t,
		producer:  p,
		id:        id,
		sender:    sender,
		params: MediaParams{
			Codec: p.codec,
			Encodings: []Encoding{{
				SSRC:        uint32(sendParams.Encodings[0].SSRC),
				PayloadType: p.codec.PayloadType,
			}},
		},
	}
	out, ok := r.relays.AddSubscriber(p.id, c.id, track)
	if !ok {
		_ = sender.Stop()
		return nil, ErrUnknownProducer
	}
	c.out = out

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.release()
		return nil, ErrClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.close()
		return nil, ErrUnknownProducer
	}
	p.consumers[c.id] = c
	p.mu.Unlock()

	go c.readRTCP()
	t.logger.Info().Str("consumer_id", c.id).Str("producer_id", p.id).Msg("consumer created")
	return c, nil
}

func (t *transport) Close() { t.close(core.ReasonTransportClose, false) }

// close tears down the transport and everything on it. Children always close
// indirectly; the transport itself reports only when notifySelf is set.
func (t *transport) close(reason core.CloseReason, notifySelf bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	producers := sortedValues(t.producers)
	consumers := sortedValues(t.consumers)
	t.mu.Unlock()

	r := t.router
	for _, c := range consumers {
		if c.close() {
			r.events.Push(core.EngineEvent{Type: core.ConsumerClosed, ID: c.id, Reason: core.ReasonTransportClose})
		}
	}
	for _, p := range producers {
		if p.close() {
			r.events.Push(core.EngineEvent{Type: core.ProducerClosed, ID: p.id, Reason: core.ReasonTransportClose})
		}
	}
	t.teardown()

	r.mu.Lock()
	delete(r.transports, t.id)
	r.mu.Unlock()
	if notifySelf {
		r.events.Push(core.EngineEvent{Type: core.TransportClosed, ID: t.id, Reason: reason})
	}
	t.logger.Info().Str("reason", string(reason)).Msg("transport closed")
}

func (t *transport) teardown() {
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
}
