package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const DefaultEngineTimeout = 10 * time.Second

// Orchestrator runs the room operations on behalf of signaling sessions.
type Orchestrator struct {
	Registry      *app.Registry
	Rooms         *app.RoomRegistry
	EngineTimeout time.Duration
}

// New wires the orchestrator as the engine event consumer of rooms.
func New(registry *app.Registry, rooms *app.RoomRegistry, engineTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		Registry:      registry,
		Rooms:         rooms,
		EngineTimeout: engineTimeout,
	}
	rooms.OnEngineEvent(o.HandleEngineEvent)
	return o
}

func (o *Orchestrator) engineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.EngineTimeout
	if d <= 0 {
		d = DefaultEngineTimeout
	}
	return context.WithTimeout(ctx, d)
}

// engineErr classifies a failed engine call.
func engineErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", core.ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", core.ErrEngineFailure, op, err)
}

// scopeErr turns a closed room into the membership error callers expect.
func scopeErr(err error) error {
	if errors.Is(err, core.ErrRoomClosed) {
		return fmt.Errorf("%w: room closed", core.ErrNotAMember)
	}
	return err
}

func (o *Orchestrator) memberRoom(roomID domain.RoomID, sid core.SessionID) (*core.Room, error) {
	room, ok := o.Rooms.Get(roomID)
	if !ok || !room.IsMember(sid) {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotAMember, roomID)
	}
	return room, nil
}

func (o *Orchestrator) existingRoom(roomID domain.RoomID) (*core.Room, error) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: room %s", core.ErrNotFound, roomID)
	}
	return room, nil
}
