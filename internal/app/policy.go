package app

import "github.com/dkeye/Huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case NoAction:
		return "none"
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "unknown"
	}
}

// Policy decides what happens to a session whose send buffer is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, n core.Notification) BackpressureAction
}

// SimplePolicy drops chat under pressure. Any other lost notification would
// leave the client with a stale view of the room, so the session is kicked.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.SessionID, n core.Notification) BackpressureAction {
	if n.Method == core.NotifyChatMessage {
		return DropFrame
	}
	return KickMember
}
