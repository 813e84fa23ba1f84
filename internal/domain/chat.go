// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const MaxChatTextLen = 2000

var (
	ErrChatTextEmpty   = errors.New("chat message empty")
	ErrChatTextTooLong = errors.New("chat message too long")
)

// NormalizeChatText trims the message and checks its length in runes.
func NormalizeChatText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", ErrChatTextEmpty
	}
	if utf8.RuneCountInString(text) > MaxChatTextLen {
		return "", ErrChatTextTooLong
	}
	return text, nil
}
