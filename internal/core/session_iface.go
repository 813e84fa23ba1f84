package core

import "github.com/dkeye/Huddle/internal/domain"

type SessionID string

// Notifier delivers notifications to sessions grouped by room.
// Delivery is best effort and never blocks the caller.
type Notifier interface {
	Send(sid SessionID, n Notification)
	// Broadcast sends n to every session in the room group except the given one.
	// An empty except reaches the whole group.
	Broadcast(roomID domain.RoomID, except SessionID, n Notification)
	JoinGroup(roomID domain.RoomID, sid SessionID)
	LeaveGroup(roomID domain.RoomID, sid SessionID)
}
