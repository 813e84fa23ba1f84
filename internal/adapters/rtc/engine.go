// Package rtc is the media engine built on pion's ORTC API. Each room gets a
// router with its own webrtc.API; transports are raw ICE+DTLS pairs and media
// is forwarded between them by sfu relays.
package rtc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DefaultCodecs is the fixed codec list every router supports.
var DefaultCodecs = []Codec{
	{Kind: domain.MediaKindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PayloadType: 111},
	{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, SDPFmtpLine: "x-google-start-bitrate=1000", PayloadType: 96},
	{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=2", PayloadType: 98},
	{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d0032", PayloadType: 102},
}

type Options struct {
	// ListenIP restricts candidates to one local address; empty means all.
	ListenIP    string
	AnnouncedIP string
	UDPPortMin  uint16
	UDPPortMax  uint16
	ICEServers  []webrtc.ICEServer
}

// Engine creates routers. It dies when a relay goroutine panics, since media
// state is no longer trustworthy after that.
type Engine struct {
	settings   webrtc.SettingEngine
	iceServers []webrtc.ICEServer

	died    chan error
	dieOnce sync.Once
}

func New(opts Options) (*Engine, error) {
	var s webrtc.SettingEngine
	s.LoggerFactory = loggerFactory{}
	if opts.UDPPortMin != 0 || opts.UDPPortMax != 0 {
		if err := s.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, fmt.Errorf("rtc: port range: %w", err)
		}
	}
	if opts.AnnouncedIP != "" {
		s.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if opts.ListenIP != "" {
		listen := net.ParseIP(opts.ListenIP)
		if listen == nil {
			return nil, fmt.Errorf("rtc: bad listen ip %q", opts.ListenIP)
		}
		if !listen.IsUnspecified() {
			s.SetIPFilter(func(ip net.IP) bool { return ip.Equal(listen) })
		}
	}
	return &Engine{
		settings:   s,
		iceServers: opts.ICEServers,
		died:       make(chan error, 1),
	}, nil
}

func (e *Engine) newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range DefaultCodecs {
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: c.capability(),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}
		if err := m.RegisterCodec(params, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("rtc: register %s: %w", c.MimeType, err)
		}
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("rtc: interceptors: %w", err)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(e.settings),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

func (e *Engine) CreateRoutingContext(ctx context.Context, roomID domain.RoomID) (core.RoutingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	api, err := e.newAPI()
	if err != nil {
		return nil, err
	}
	lifetime, cancel := context.WithCancel(context.Background())
	r := &router{
		engine:     e,
		api:        api,
		id:         uuid.NewString(),
		roomID:     roomID,
		events:     core.NewEventQueue(),
		lifetime:   lifetime,
		cancel:     cancel,
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
	}
	r.relays = sfu.NewRelayManager(e.die)
	log.Info().Str("module", "rtc").Str("room_id", string(roomID)).Str("router_id", r.id).Msg("router created")
	return r, nil
}

func (e *Engine) Died() <-chan error { return e.died }

func (e *Engine) die(err error) {
	e.dieOnce.Do(func() {
		log.Error().Err(err).Str("module", "rtc").Msg("engine died")
		e.died <- err
	})
}
