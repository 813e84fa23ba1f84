package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	Capabilities      json.RawMessage                       `json:"routerRtpCapabilities"`
	ExistingProducers []core.ProducerInfo                   `json:"existingProducers"`
	ProducersByRoom   map[domain.RoomID][]core.ProducerInfo `json:"producersByRoom"`
	ChatHistory       []core.ChatMessage                    `json:"chatHistory"`
}

type peerPayload struct {
	SessionID core.SessionID `json:"sessionId"`
}

// Join makes sid a member of roomID, creating the room on first use.
// Joining twice is harmless and announces nothing the second time.
func (o *Orchestrator) Join(ctx context.Context, roomID domain.RoomID, sid core.SessionID) (*JoinResult, error) {
	ectx, cancel := o.engineCtx(ctx)
	defer cancel()
	room, release, err := o.Rooms.Acquire(ectx, roomID)
	if err != nil {
		return nil, engineErr("create routing context", err)
	}
	defer release()

	var res JoinResult
	err = room.Do(func(s *core.Scope) error {
		_, created := s.AddMember(sid)
		o.Registry.JoinGroup(roomID, sid)
		res.Capabilities = s.Routing().Capabilities()
		res.ExistingProducers = s.Producers(sid)
		res.ChatHistory = s.ChatHistory()
		if created {
			o.Registry.Broadcast(roomID, sid, core.Notification{
				Method: core.NotifyPeerJoined,
				Data:   peerPayload{SessionID: sid},
			})
		}
		return nil
	})
	if err != nil {
		return nil, scopeErr(err)
	}
	res.ProducersByRoom = o.Rooms.ProducersByRoom()

	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room_id", string(roomID)).
		Int("existing_producers", len(res.ExistingProducers)).
		Msg("joined room")
	return &res, nil
}

// Leave cleans up everything sid owns in roomID. Leaving a room one is not
// in is a no-op.
func (o *Orchestrator) Leave(_ context.Context, roomID domain.RoomID, sid core.SessionID) error {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	if o.cleanup(room, sid) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room_id", string(roomID)).Msg("left room")
	}
	return nil
}

// Disconnect runs Leave for every room sid is a member of.
func (o *Orchestrator) Disconnect(_ context.Context, sid core.SessionID) {
	left := 0
	for _, room := range o.Rooms.Rooms() {
		if !room.IsMember(sid) {
			continue
		}
		if o.cleanup(room, sid) {
			left++
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("rooms", left).Msg("disconnected")
}

// SendChat appends a message to the room chat and sends it to every member,
// the author included.
func (o *Orchestrator) SendChat(_ context.Context, roomID domain.RoomID, sid core.SessionID, text string) (*core.ChatMessage, error) {
	text, err := domain.NormalizeChatText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	room, err := o.memberRoom(roomID, sid)
	if err != nil {
		return nil, err
	}
	var msg core.ChatMessage
	err = room.Do(func(s *core.Scope) error {
		if _, ok := s.Member(sid); !ok {
			return core.ErrNotAMember
		}
		msg = s.AppendChat(sid, text)
		o.Registry.Broadcast(roomID, "", core.Notification{Method: core.NotifyChatMessage, Data: msg})
		return nil
	})
	if err != nil {
		return nil, scopeErr(err)
	}
	return &msg, nil
}
