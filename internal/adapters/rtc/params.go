package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrBadParams        = errors.New("rtc: malformed parameters")
	ErrUnsupportedCodec = errors.New("rtc: unsupported codec")
	ErrNotConnected     = errors.New("rtc: transport not connected")
	ErrAlreadyConnected = errors.New("rtc: transport already connected")
	ErrClosed           = errors.New("rtc: closed")
	ErrUnknownProducer  = errors.New("rtc: unknown producer")
)

// Codec is the wire form of a codec. pion's codec types carry no json tags.
type Codec struct {
	Kind        domain.MediaKind `json:"kind,omitempty"`
	MimeType    string           `json:"mimeType"`
	ClockRate   uint32           `json:"clockRate"`
	Channels    uint16           `json:"channels,omitempty"`
	SDPFmtpLine string           `json:"sdpFmtpLine,omitempty"`
	PayloadType uint8            `json:"payloadType,omitempty"`
}

func (c Codec) capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

// matches compares mime type (case-insensitive) and clock rate. A zero clock
// rate on the other side matches any.
func (c Codec) matches(o Codec) bool {
	if !strings.EqualFold(c.MimeType, o.MimeType) {
		return false
	}
	return o.ClockRate == 0 || c.ClockRate == o.ClockRate
}

type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

// ConnectionParams is exchanged in both directions: the server's are returned
// by create-transport, the peer's arrive with connect-transport.
type ConnectionParams struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type Encoding struct {
	SSRC        uint32 `json:"ssrc"`
	PayloadType uint8  `json:"payloadType,omitempty"`
}

// MediaParams describe one RTP stream: produce takes them from the peer,
// consume hands them back for the receiving side.
type MediaParams struct {
	Codec     Codec      `json:"codec"`
	Encodings []Encoding `json:"encodings"`
}

func parseConnectionParams(raw json.RawMessage) (ConnectionParams, error) {
	var p ConnectionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	if p.ICEParameters.UsernameFragment == "" || p.ICEParameters.Password == "" {
		return p, fmt.Errorf("%w: missing ice credentials", ErrBadParams)
	}
	if len(p.DTLSParameters.Fingerprints) == 0 {
		return p, fmt.Errorf("%w: missing dtls fingerprints", ErrBadParams)
	}
	return p, nil
}

func parseMediaParams(raw json.RawMessage) (MediaParams, error) {
	var p MediaParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	if p.Codec.MimeType == "" {
		return p, fmt.Errorf("%w: missing codec", ErrBadParams)
	}
	if len(p.Encodings) == 0 || p.Encodings[0].SSRC == 0 {
		return p, fmt.Errorf("%w: missing ssrc", ErrBadParams)
	}
	return p, nil
}

func parseCapabilities(raw json.RawMessage) (Capabilities, error) {
	var c Capabilities
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	return c, nil
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaKindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
