package domain

import "errors"

var ErrUnknownMediaKind = errors.New("unknown media kind")

// MediaKind is the kind of a produced stream.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func ParseMediaKind(raw string) (MediaKind, error) {
	switch k := MediaKind(raw); k {
	case MediaKindAudio, MediaKindVideo:
		return k, nil
	default:
		return "", ErrUnknownMediaKind
	}
}
