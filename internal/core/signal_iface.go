package core

import (
	"encoding/json"
	"errors"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notification is a server-initiated message for one or more sessions.
type Notification struct {
	Method string
	Data   any
}

// Frame encodes n into the signaling envelope.
func (n Notification) Frame() (Frame, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Method string `json:"method"`
		Data   any    `json:"data,omitempty"`
	}{
		Type:   "notification",
		Method: n.Method,
		Data:   n.Data,
	})
}

const (
	NotifyPeerJoined      = "peer-joined"
	NotifyPeerLeft        = "peer-left"
	NotifyNewProducer     = "new-producer"
	NotifyProducerClosed  = "producer-closed"
	NotifyProducerPaused  = "producer-paused"
	NotifyProducerResumed = "producer-resumed"
	NotifyChatMessage     = "chat-message"
	NotifyServerOK        = "server:ok"
)
