package core

import (
	"cmp"
	"slices"
	"strings"

	"github.com/dkeye/Huddle/internal/domain"
)

type TransportEntry struct {
	ID     string
	Owner  SessionID
	Handle Transport
}

type ProducerEntry struct {
	ID          string
	Owner       SessionID
	Kind        domain.MediaKind
	TransportID string
	Paused      bool
	Handle      Producer

	seq uint64
}

func (p *ProducerEntry) Info() ProducerInfo {
	return ProducerInfo{ProducerID: p.ID, Kind: p.Kind, OwnerSessionID: p.Owner}
}

type ConsumerEntry struct {
	ID          string
	Owner       SessionID
	ProducerID  string
	TransportID string
	Paused      bool
	Handle      Consumer
}

// Ledger records the members of a room and every engine resource they own.
// It is not safe for concurrent use; Room guards it.
type Ledger struct {
	members    map[SessionID]*MemberSession
	transports map[string]*TransportEntry
	producers  map[string]*ProducerEntry
	consumers  map[string]*ConsumerEntry
	// producer id -> ids of consumers fed by it
	consumersOf map[string]map[string]struct{}

	seq uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		members:     make(map[SessionID]*MemberSession),
		transports:  make(map[string]*TransportEntry),
		producers:   make(map[string]*ProducerEntry),
		consumers:   make(map[string]*ConsumerEntry),
		consumersOf: make(map[string]map[string]struct{}),
	}
}

func (l *Ledger) Member(sid SessionID) (*MemberSession, bool) {
	m, ok := l.members[sid]
	return m, ok
}

// AddMember returns the existing record for sid if there is one.
func (l *Ledger) AddMember(sid SessionID) (m *MemberSession, created bool) {
	if m, ok := l.members[sid]; ok {
		return m, false
	}
	m = NewMemberSession(sid)
	l.members[sid] = m
	return m, true
}

func (l *Ledger) RemoveMember(sid SessionID) {
	delete(l.members, sid)
}

func (l *Ledger) MemberCount() int { return len(l.members) }

func (l *Ledger) MemberIDs() []SessionID {
	out := make([]SessionID, 0, len(l.members))
	for sid := range l.members {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

func (l *Ledger) Transport(id string) (*TransportEntry, bool) {
	t, ok := l.transports[id]
	return t, ok
}

func (l *Ledger) AddTransport(t *TransportEntry) {
	l.transports[t.ID] = t
	if m, ok := l.members[t.Owner]; ok {
		m.TransportIDs = append(m.TransportIDs, t.ID)
	}
}

func (l *Ledger) RemoveTransport(id string) (*TransportEntry, bool) {
	t, ok := l.transports[id]
	if ok {
		delete(l.transports, id)
	}
	return t, ok
}

func (l *Ledger) Producer(id string) (*ProducerEntry, bool) {
	p, ok := l.producers[id]
	return p, ok
}

func (l *Ledger) AddProducer(p *ProducerEntry) {
	l.seq++
	p.seq = l.seq
	l.producers[p.ID] = p
	if m, ok := l.members[p.Owner]; ok {
		m.ProducerIDs = append(m.ProducerIDs, p.ID)
	}
}

// RemoveProducer drops the producer entry. Linked consumers stay in the
// ledger; callers detach them with ConsumersOf and RemoveConsumer.
func (l *Ledger) RemoveProducer(id string) (*ProducerEntry, bool) {
	p, ok := l.producers[id]
	if ok {
		delete(l.producers, id)
	}
	return p, ok
}

// Producers lists live producers in creation order, skipping those owned by except.
func (l *Ledger) Producers(except SessionID) []ProducerInfo {
	entries := make([]*ProducerEntry, 0, len(l.producers))
	for _, p := range l.producers {
		if except != "" && p.Owner == except {
			continue
		}
		entries = append(entries, p)
	}
	slices.SortFunc(entries, func(a, b *ProducerEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]ProducerInfo, 0, len(entries))
	for _, p := range entries {
		out = append(out, p.Info())
	}
	return out
}

// ProducerIDsOn lists producers sent over transportID, oldest first.
func (l *Ledger) ProducerIDsOn(transportID string) []string {
	var entries []*ProducerEntry
	for _, p := range l.producers {
		if p.TransportID == transportID {
			entries = append(entries, p)
		}
	}
	slices.SortFunc(entries, func(a, b *ProducerEntry) int { return cmp.Compare(a.seq, b.seq) })
	ids := make([]string, 0, len(entries))
	for _, p := range entries {
		ids = append(ids, p.ID)
	}
	return ids
}

func (l *Ledger) ProducerCount() int { return len(l.producers) }

func (l *Ledger) Consumer(id string) (*ConsumerEntry, bool) {
	c, ok := l.consumers[id]
	return c, ok
}

func (l *Ledger) AddConsumer(c *ConsumerEntry) {
	l.consumers[c.ID] = c
	set, ok := l.consumersOf[c.ProducerID]
	if !ok {
		set = make(map[string]struct{})
		l.consumersOf[c.ProducerID] = set
	}
	set[c.ID] = struct{}{}
}

func (l *Ledger) RemoveConsumer(id string) (*ConsumerEntry, bool) {
	c, ok := l.consumers[id]
	if !ok {
		return nil, false
	}
	delete(l.consumers, id)
	if set, ok := l.consumersOf[c.ProducerID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(l.consumersOf, c.ProducerID)
		}
	}
	return c, true
}

// ConsumersOf returns the consumers linked to producerID, ordered by id.
func (l *Ledger) ConsumersOf(producerID string) []*ConsumerEntry {
	set := l.consumersOf[producerID]
	out := make([]*ConsumerEntry, 0, len(set))
	for id := range set {
		if c, ok := l.consumers[id]; ok {
			out = append(out, c)
		}
	}
	sortConsumers(out)
	return out
}

// ConsumersWhere returns consumers matching fn, ordered by id.
func (l *Ledger) ConsumersWhere(fn func(*ConsumerEntry) bool) []*ConsumerEntry {
	var out []*ConsumerEntry
	for _, c := range l.consumers {
		if fn(c) {
			out = append(out, c)
		}
	}
	sortConsumers(out)
	return out
}

func (l *Ledger) Counts() (transports, producers, consumers int) {
	return len(l.transports), len(l.producers), len(l.consumers)
}

func sortConsumers(cs []*ConsumerEntry) {
	slices.SortFunc(cs, func(a, b *ConsumerEntry) int { return strings.Compare(a.ID, b.ID) })
}
