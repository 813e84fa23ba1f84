package core

import (
	"sync"

	"github.com/gammazero/deque"
)

// EventQueue is an unbounded FIFO between engine callbacks and the room pump.
// Push never blocks, so engine goroutines cannot stall on a busy room.
type EventQueue struct {
	mu      sync.Mutex
	pending *deque.Deque[EngineEvent]
	wake    chan struct{}
	out     chan EngineEvent
	closed  bool
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{
		pending: deque.New[EngineEvent](),
		wake:    make(chan struct{}, 1),
		out:     make(chan EngineEvent),
	}
	go q.pump()
	return q
}

func (q *EventQueue) Push(ev EngineEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending.PushBack(ev)
	q.mu.Unlock()
	q.signal()
}

// Close stops accepting events. Already queued events are still delivered,
// then the output channel is closed.
func (q *EventQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *EventQueue) C() <-chan EngineEvent { return q.out }

func (q *EventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if q.pending.Len() == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		ev := q.pending.PopFront()
		q.mu.Unlock()
		q.out <- ev
	}
}
