package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type request struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID    json.RawMessage `json:"id,omitempty"`
	Type  string          `json:"type"`
	OK    bool            `json:"ok"`
	Data  any             `json:"data,omitempty"`
	Error *errorBody      `json:"error,omitempty"`
}

type handlerFunc func(ctx context.Context, s *session, data json.RawMessage) (any, error)

func (ctl *SignalWSController) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"join-room":         ctl.handleJoin,
		"leave-room":        ctl.handleLeave,
		"create-transport":  ctl.handleCreateTransport,
		"connect-transport": ctl.handleConnectTransport,
		"produce":           ctl.handleProduce,
		"consume":           ctl.handleConsume,
		"resume-consumer":   ctl.handleResumeConsumer,
		"pause-producer":    ctl.handlePauseProducer,
		"resume-producer":   ctl.handleResumeProducer,
		"chat-message":      ctl.handleChat,
		"call:chat-message": ctl.handleChat,
		"ping":              ctl.handlePing,
		"call:initiate":     ctl.handleLegacyCall,
		"call:join":         ctl.handleLegacyCall,
	}
}

func (ctl *SignalWSController) writePump(ctx context.Context, s *session) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	c := s.conn
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump serves requests in arrival order. Its exit is the session's
// disconnect: every room the session is in gets cleaned up.
func (ctl *SignalWSController) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("readPump closing")
		s.cancel()
		s.conn.Close()
		ctl.Orch.Disconnect(context.Background(), s.sid)
		ctl.Orch.Registry.Unbind(s.sid)
		if ctl.limiter != nil {
			ctl.limiter.Forget(s.sid)
		}
	}()

	ws := s.conn.conn
	ws.SetReadLimit(ctl.opts.ReadLimit)
	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	handlers := ctl.handlers()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("readPump read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, s, handlers, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *session, handlers map[string]handlerFunc, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.reply(s, nil, nil, fmt.Errorf("%w: bad json", core.ErrInvalidArgument))
		return
	}
	h, ok := handlers[req.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.reply(s, req.ID, nil, fmt.Errorf("%w: unknown method %q", core.ErrInvalidArgument, req.Type))
		return
	}
	out, err := h(ctx, s, req.Data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Str("type", req.Type).Msg("request failed")
	}
	ctl.reply(s, req.ID, out, err)
}

func (ctl *SignalWSController) reply(s *session, id json.RawMessage, data any, err error) {
	resp := response{ID: id, Type: "response", OK: err == nil}
	if err != nil {
		resp.Error = &errorBody{Code: core.ErrorCode(err), Message: err.Error()}
	} else {
		resp.Data = data
	}
	ctl.sendJSON(s, resp)
}

func (ctl *SignalWSController) sendJSON(s *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := s.conn.TrySend(b); errors.Is(err, core.ErrBackpressure) {
		log.Warn().Str("module", "signal").Str("sid", string(s.sid)).Msg("send buffer full, dropping session")
		s.cancel()
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", core.ErrInvalidArgument)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}
