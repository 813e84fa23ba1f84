package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomRef addresses a room. communityId is the older client's name for it.
type roomRef struct {
	RoomID      string `json:"roomId"`
	CommunityID string `json:"communityId"`
}

func (r roomRef) room() (domain.RoomID, error) {
	raw := r.RoomID
	if raw == "" {
		raw = r.CommunityID
	}
	id, err := domain.ParseRoomID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return id, nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Str("room_id", string(roomID)).Msg("join")
	return ctl.Orch.Join(ctx, roomID, s.sid)
}

// handleLeave leaves one room; the connection stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Str("room_id", string(roomID)).Msg("leave")
	return nil, ctl.Orch.Leave(ctx, roomID, s.sid)
}

func (ctl *SignalWSController) handleChat(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	var p struct {
		roomRef
		Message string `json:"message"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	roomID, err := p.room()
	if err != nil {
		return nil, err
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(s.sid) {
		return nil, fmt.Errorf("%w: chat", core.ErrRateLimited)
	}
	return ctl.Orch.SendChat(ctx, roomID, s.sid, p.Message)
}
