package core

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID SessionID `json:"sessionId"`
	Text      string    `json:"message"`
	TS        int64     `json:"ts"`
}

// ChatLog keeps the newest messages of a room, oldest first.
// A limit <= 0 keeps everything.
type ChatLog struct {
	limit int
	msgs  *deque.Deque[ChatMessage]
}

func NewChatLog(limit int) *ChatLog {
	return &ChatLog{limit: limit, msgs: deque.New[ChatMessage]()}
}

func (c *ChatLog) Append(sid SessionID, text string, at time.Time) ChatMessage {
	msg := ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sid,
		Text:      text,
		TS:        at.UnixMilli(),
	}
	c.msgs.PushBack(msg)
	for c.limit > 0 && c.msgs.Len() > c.limit {
		c.msgs.PopFront()
	}
	return msg
}

func (c *ChatLog) History() []ChatMessage {
	out := make([]ChatMessage, c.msgs.Len())
	for i := range out {
		out[i] = c.msgs.At(i)
	}
	return out
}

func (c *ChatLog) Len() int { return c.msgs.Len() }
