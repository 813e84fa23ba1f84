package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(context.Context, *session, json.RawMessage) (any, error) {
	return struct {
		Pong bool `json:"pong"`
	}{Pong: true}, nil
}

// handleLegacyCall acks the old lobby handshake and points the client at
// join-room.
func (ctl *SignalWSController) handleLegacyCall(_ context.Context, s *session, data json.RawMessage) (any, error) {
	var p roomRef
	_ = json.Unmarshal(data, &p)
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Str("room_id", p.CommunityID+p.RoomID).Msg("legacy call request")
	ctl.Orch.Registry.Send(s.sid, core.Notification{
		Method: core.NotifyServerOK,
		Data:   "Ready to join - please join the room",
	})
	return nil, nil
}
