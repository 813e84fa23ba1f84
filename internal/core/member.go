package core

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// MemberSession is a session's membership record within one room.
// The id slices only grow until the member is cleaned up; ids of resources
// the engine already closed are skipped by cleanup.
type MemberSession struct {
	SessionID    SessionID
	JoinedAt     time.Time
	TransportIDs []string
	ProducerIDs  []string
}

func NewMemberSession(sid SessionID) *MemberSession {
	return &MemberSession{SessionID: sid, JoinedAt: time.Now()}
}

// ProducerInfo describes a producer to other members.
type ProducerInfo struct {
	ProducerID     string           `json:"producerId"`
	Kind           domain.MediaKind `json:"kind"`
	OwnerSessionID SessionID        `json:"ownerSessionId"`
}
