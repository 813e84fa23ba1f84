package core

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	ID        domain.RoomID `json:"id"`
	Members   int           `json:"members"`
	Producers int           `json:"producers"`
	Consumers int           `json:"consumers"`

	// ChatMessages counts the retained history, not every message ever sent.
	ChatMessages int       `json:"chatMessages"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Room owns one routing context and the ledger of resources created on it.
// Every ledger mutation happens inside Do, which is the room's exclusion scope.
type Room struct {
	id        domain.RoomID
	rc        RoutingContext
	chatLimit int
	createdAt time.Time

	mu     sync.Mutex
	ledger *Ledger
	chat   *ChatLog
	closed bool
}

func NewRoom(id domain.RoomID, rc RoutingContext, chatLimit int) *Room {
	return &Room{
		id:        id,
		rc:        rc,
		chatLimit: chatLimit,
		createdAt: time.Now(),
		ledger:    NewLedger(),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Routing() RoutingContext { return r.rc }

// Scope is the room state reachable inside Do.
type Scope struct {
	*Ledger
	room *Room
}

func (s *Scope) RoomID() domain.RoomID { return s.room.id }

func (s *Scope) Routing() RoutingContext { return s.room.rc }

func (s *Scope) ChatHistory() []ChatMessage {
	if s.room.chat == nil {
		return []ChatMessage{}
	}
	return s.room.chat.History()
}

func (s *Scope) AppendChat(sid SessionID, text string) ChatMessage {
	if s.room.chat == nil {
		s.room.chat = NewChatLog(s.room.chatLimit)
	}
	return s.room.chat.Append(sid, text, time.Now())
}

// Do runs fn with the room locked. It fails with ErrRoomClosed once the room
// has been torn down.
func (r *Room) Do(fn func(s *Scope) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	return fn(&Scope{Ledger: r.ledger, room: r})
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.MemberCount()
}

func (r *Room) IsMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ledger.Member(sid)
	return ok && !r.closed
}

func (r *Room) Producers() []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.ledger.Producers("")
}

func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, producers, consumers := r.ledger.Counts()
	info := RoomInfo{
		ID:        r.id,
		Members:   r.ledger.MemberCount(),
		Producers: producers,
		Consumers: consumers,
		CreatedAt: r.createdAt,
	}
	if r.chat != nil {
		info.ChatMessages = r.chat.Len()
	}
	return info
}

// CloseIfEmpty marks the room closed when nobody is a member and drops the
// chat log. The caller closes the routing context.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	if r.ledger.MemberCount() > 0 {
		return false
	}
	r.closed = true
	r.chat = nil
	log.Info().Str("module", "core.room").Str("room_id", string(r.id)).Msg("room closed")
	return true
}

// ForceClose marks the room closed regardless of members.
func (r *Room) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.chat = nil
	log.Info().
		Str("module", "core.room").
		Str("room_id", string(r.id)).
		Int("members", r.ledger.MemberCount()).
		Msg("room force closed")
}
