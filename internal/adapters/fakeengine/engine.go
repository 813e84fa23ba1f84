// Package fakeengine is an in-memory media engine. It follows the closure
// event contract of the real engine without moving any media.
package fakeengine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrClosed          = errors.New("fakeengine: closed")
	ErrUnknownProducer = errors.New("fakeengine: unknown producer")
)

// Capabilities lists codecs in the same shape the rtc engine uses.
type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

type Codec struct {
	Kind     domain.MediaKind `json:"kind"`
	MimeType string           `json:"mimeType"`
}

var DefaultCapabilities = Capabilities{Codecs: []Codec{
	{Kind: domain.MediaKindAudio, MimeType: "audio/opus"},
	{Kind: domain.MediaKindVideo, MimeType: "video/VP8"},
}}

func mimeFor(kind domain.MediaKind) string {
	for _, c := range DefaultCapabilities.Codecs {
		if c.Kind == kind {
			return c.MimeType
		}
	}
	return ""
}

type Engine struct {
	// CreateDelay stretches CreateRoutingContext so concurrent joins overlap.
	CreateDelay time.Duration
	// TransportDelay stretches CreateTransport; used to provoke timeouts.
	TransportDelay time.Duration
	// OnCreate runs inside CreateTransport, Produce and Consume once the
	// handle exists and before it is returned. No engine lock is held.
	OnCreate func(kind string, handle Handle)
	// OnClose observes every close the engine performs, direct or indirect.
	OnClose func(kind, id string)

	mu      sync.Mutex
	created map[domain.RoomID]int
	routers []*Router
	died    chan error
	dead    bool
}

func New() *Engine {
	return &Engine{
		created: make(map[domain.RoomID]int),
		died:    make(chan error, 1),
	}
}

func (e *Engine) CreateRoutingContext(ctx context.Context, roomID domain.RoomID) (core.RoutingContext, error) {
	if err := wait(ctx, e.CreateDelay); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return nil, ErrClosed
	}
	e.created[roomID]++
	r := &Router{
		engine:     e,
		id:         uuid.NewString(),
		events:     core.NewEventQueue(),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *Engine) Died() <-chan error { return e.died }

// Kill reports a fatal engine failure.
func (e *Engine) Kill(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	e.died <- err
}

// Created is the number of routing contexts ever created for roomID.
func (e *Engine) Created(roomID domain.RoomID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created[roomID]
}

// Routers returns every routing context created so far.
func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.routers)
}

// Handle is any transport, producer or consumer of this engine.
type Handle interface {
	ID() string
	Closed() bool
}

func (e *Engine) handleCreated(kind string, h Handle) {
	if e.OnCreate != nil {
		e.OnCreate(kind, h)
	}
}

func (e *Engine) observe(kind, id string) {
	if e.OnClose != nil {
		e.OnClose(kind, id)
	}
}

type Router struct {
	engine *Engine
	id     string
	events *core.EventQueue

	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	closed     bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() json.RawMessage {
	b, _ := json.Marshal(DefaultCapabilities)
	return b
}

func (r *Router) CreateTransport(ctx context.Context) (core.Transport, error) {
	if err := wait(ctx, r.engine.TransportDelay); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	t := &Transport{
		router:    r,
		id:        uuid.NewString(),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	r.engine.handleCreated("transport", t)
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps json.RawMessage) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	var peer Capabilities
	if err := json.Unmarshal(caps, &peer); err != nil {
		return false
	}
	want := mimeFor(p.kind)
	return slices.ContainsFunc(peer.Codecs, func(c Codec) bool { return c.MimeType == want })
}

func (r *Router) Events() <-chan core.EngineEvent { return r.events.C() }

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()

	for _, t := range ts {
		t.close(core.ReasonTransportClose, true)
	}
	r.engine.observe("router", r.id)
	r.events.Close()
}

// Closed reports whether Close was called.
func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Transport returns a live transport by id.
func (r *Router) Transport(id string) (*Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[id]
	return t, ok
}

func (r *Router) Producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

type Transport struct {
	router *Router
	id     string

	mu          sync.Mutex
	producers   map[string]*Producer
	consumers   map[string]*Consumer
	connects    []json.RawMessage
	closed      bool
	FailConnect error
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) ConnectionParams() json.RawMessage {
	b, _ := json.Marshal(map[string]string{"id": t.id, "ice": "fake"})
	return b
}

func (t *Transport) Connect(ctx context.Context, params json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connects = append(t.connects, params)
	return t.FailConnect
}

// Connects returns the parameters of every Connect call in order.
func (t *Transport) Connects() []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.connects)
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, _ json.RawMessage) (core.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	p := &Producer{
		transport: t,
		id:        uuid.NewString(),
		kind:      kind,
		consumers: make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	r := t.router
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	r.engine.handleCreated("producer", p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, _ json.RawMessage) (core.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.router.Producer(producerID)
	if !ok {
		return nil, ErrUnknownProducer
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	c := &Consumer{transport: t, producer: p, id: uuid.NewString(), paused: true}
	t.consumers[c.id] = c
	t.mu.Unlock()

	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
	t.router.engine.handleCreated("consumer", c)
	return c, nil
}

func (t *Transport) Close() { t.close(core.ReasonTransportClose, false) }

// Fail simulates a negotiation failure: the transport closes on its own.
func (t *Transport) Fail() { t.close(core.ReasonFailed, true) }

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// close tears down the transport and everything on it. Children always close
// indirectly; the transport itself reports only when notifySelf is set.
func (t *Transport) close(reason core.CloseReason, notifySelf bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
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
	r.mu.Lock()
	delete(r.transports, t.id)
	r.mu.Unlock()
	r.engine.observe("transport", t.id)
	if notifySelf {
		r.events.Push(core.EngineEvent{Type: core.TransportClosed, ID: t.id, Reason: reason})
	}
}

type Producer struct {
	transport *Transport
	id        string
	kind      domain.MediaKind

	mu        sync.Mutex
	consumers map[string]*Consumer
	paused    bool
	closed    bool
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Pause(ctx context.Context) error  { return p.setPaused(ctx, true) }
func (p *Producer) Resume(ctx context.Context) error { return p.setPaused(ctx, false) }

func (p *Producer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.paused = paused
	return nil
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Close() { p.close() }

// close reports whether this call performed the close. Linked consumers are
// closed indirectly and reported as such.
func (p *Producer) close() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	consumers := sortedValues(p.consumers)
	p.mu.Unlock()

	r := p.transport.router
	for _, c := range consumers {
		if c.close() {
			r.events.Push(core.EngineEvent{Type: core.ConsumerClosed, ID: c.id, Reason: core.ReasonProducerClose})
		}
	}
	p.transport.mu.Lock()
	delete(p.transport.producers, p.id)
	p.transport.mu.Unlock()
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()
	r.engine.observe("producer", p.id)
	return true
}

type Consumer struct {
	transport *Transport
	producer  *Producer
	id        string

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string             { return c.id }
func (c *Consumer) ProducerID() string     { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *Consumer) MediaParams() json.RawMessage {
	b, _ := json.Marshal(map[string]string{"mimeType": mimeFor(c.producer.kind)})
	return b
}

func (c *Consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.paused = false
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() { c.close() }

func (c *Consumer) close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	c.transport.mu.Lock()
	delete(c.transport.consumers, c.id)
	c.transport.mu.Unlock()
	c.producer.mu.Lock()
	delete(c.producer.consumers, c.id)
	c.producer.mu.Unlock()
	c.transport.router.engine.observe("consumer", c.id)
	return true
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

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
