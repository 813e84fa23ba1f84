package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	id, err := ParseRoomID("  r1 ")
	require.NoError(t, err)
	require.Equal(t, RoomID("r1"), id)

	_, err = ParseRoomID("   ")
	require.ErrorIs(t, err, ErrRoomIDEmpty)

	_, err = ParseRoomID(strings.Repeat("x", MaxRoomIDLen+1))
	require.ErrorIs(t, err, ErrRoomIDTooLong)
}

func TestParseMediaKind(t *testing.T) {
	k, err := ParseMediaKind("video")
	require.NoError(t, err)
	require.Equal(t, MediaKindVideo, k)

	_, err = ParseMediaKind("screen")
	require.ErrorIs(t, err, ErrUnknownMediaKind)
}

func TestNormalizeChatText(t *testing.T) {
	text, err := NormalizeChatText(" hi there \n")
	require.NoError(t, err)
	require.Equal(t, "hi there", text)

	_, err = NormalizeChatText("")
	require.ErrorIs(t, err, ErrChatTextEmpty)

	_, err = NormalizeChatText(strings.Repeat("я", MaxChatTextLen+1))
	require.ErrorIs(t, err, ErrChatTextTooLong)
}
