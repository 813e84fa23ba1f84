package rtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineOptions(t *testing.T) {
	_, err := New(Options{UDPPortMin: 50000, UDPPortMax: 40000})
	assert.Error(t, err, "inverted port range")

	_, err = New(Options{ListenIP: "not-an-ip"})
	assert.Error(t, err)

	e, err := New(Options{ListenIP: "0.0.0.0", AnnouncedIP: "203.0.113.7", UDPPortMin: 40000, UDPPortMax: 40100})
	require.NoError(t, err)
	assert.NotNil(t, e.Died())
}

func TestNewAPIRegistersCodecs(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	api, err := e.newAPI()
	require.NoError(t, err)
	assert.NotNil(t, api)
}

func TestCapabilities(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	rc, err := e.CreateRoutingContext(context.Background(), "room")
	require.NoError(t, err)
	defer rc.Close()

	var caps Capabilities
	require.NoError(t, json.Unmarshal(rc.Capabilities(), &caps))
	require.Len(t, caps.Codecs, len(DefaultCodecs))
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, uint32(48000), caps.Codecs[0].ClockRate)
	assert.Equal(t, uint16(2), caps.Codecs[0].Channels)
	assert.Equal(t, domain.MediaKindVideo, caps.Codecs[1].Kind)
}

func TestCodecMatches(t *testing.T) {
	opus := DefaultCodecs[0]
	assert.True(t, opus.matches(Codec{MimeType: "AUDIO/OPUS", ClockRate: 48000}))
	assert.True(t, opus.matches(Codec{MimeType: "audio/opus"}), "zero clock rate matches any")
	assert.False(t, opus.matches(Codec{MimeType: "audio/opus", ClockRate: 8000}))
	assert.False(t, opus.matches(Codec{MimeType: "audio/PCMU", ClockRate: 48000}))
}

func TestCanConsume(t *testing.T) {
	r := &router{producers: map[string]*producer{
		"p-audio": {id: "p-audio", kind: domain.MediaKindAudio, codec: DefaultCodecs[0]},
		"p-h264":  {id: "p-h264", kind: domain.MediaKindVideo, codec: DefaultCodecs[3]},
	}}

	caps := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000},{"mimeType":"video/VP8","clockRate":90000}]}`)
	assert.True(t, r.CanConsume("p-audio", caps))
	assert.False(t, r.CanConsume("p-h264", caps), "peer lacks H264")
	assert.False(t, r.CanConsume("missing", caps))
	assert.False(t, r.CanConsume("p-audio", json.RawMessage(`not json`)))
	assert.False(t, r.CanConsume("p-audio", json.RawMessage(`{"codecs":[]}`)))
}

func TestSupportedCodec(t *testing.T) {
	r := &router{}
	c, ok := r.supported(domain.MediaKindVideo, Codec{MimeType: "video/vp9", ClockRate: 90000})
	require.True(t, ok)
	assert.Equal(t, "profile-id=2", c.SDPFmtpLine)

	_, ok = r.supported(domain.MediaKindAudio, Codec{MimeType: "video/VP8"})
	assert.False(t, ok, "kind must agree with codec")
}

func TestParseConnectionParams(t *testing.T) {
	valid := `{
		"iceParameters": {"usernameFragment": "uf", "password": "pw"},
		"iceCandidates": [],
		"dtlsParameters": {"role": 2, "fingerprints": [{"algorithm": "sha-256", "value": "AB:CD"}]}
	}`
	p, err := parseConnectionParams(json.RawMessage(valid))
	require.NoError(t, err)
	assert.Equal(t, "uf", p.ICEParameters.UsernameFragment)
	assert.Equal(t, "sha-256", p.DTLSParameters.Fingerprints[0].Algorithm)

	for name, raw := range map[string]string{
		"not json":        `[`,
		"no ice":          `{"dtlsParameters": {"fingerprints": [{"algorithm": "sha-256", "value": "x"}]}}`,
		"no fingerprints": `{"iceParameters": {"usernameFragment": "uf", "password": "pw"}}`,
	} {
		_, err := parseConnectionParams(json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrBadParams, name)
	}
}

func TestParseMediaParams(t *testing.T) {
	p, err := parseMediaParams(json.RawMessage(`{"codec":{"mimeType":"audio/opus","clockRate":48000},"encodings":[{"ssrc":1234,"payloadType":111}]}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), p.Encodings[0].SSRC)

	_, err = parseMediaParams(json.RawMessage(`{"codec":{"mimeType":"audio/opus"},"encodings":[]}`))
	assert.ErrorIs(t, err, ErrBadParams)
	_, err = parseMediaParams(json.RawMessage(`{"encodings":[{"ssrc":1}]}`))
	assert.ErrorIs(t, err, ErrBadParams)
}

func TestWaitReadyRequiresConnect(t *testing.T) {
	tr := &transport{ready: make(chan struct{}), done: make(chan struct{})}
	assert.ErrorIs(t, tr.waitReady(context.Background()), ErrNotConnected)

	tr.connecting = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.waitReady(ctx), context.DeadlineExceeded)

	close(tr.ready)
	assert.NoError(t, tr.waitReady(context.Background()))
}

func TestConnectWithBadCandidatesCanRetry(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	api, err := e.newAPI()
	require.NoError(t, err)
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gatherer.Close() })

	tr := &transport{
		ice:    api.NewICETransport(gatherer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		logger: zerolog.Nop(),
	}
	// a candidate without a type cannot be handed to ICE
	raw := json.RawMessage(`{
		"iceParameters": {"usernameFragment": "uf", "password": "pw"},
		"iceCandidates": [{"foundation": "1", "address": "127.0.0.1", "port": 9}],
		"dtlsParameters": {"role": 2, "fingerprints": [{"algorithm": "sha-256", "value": "AB:CD"}]}
	}`)

	for range 2 {
		err := tr.Connect(context.Background(), raw)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBadParams)
		assert.NotErrorIs(t, err, ErrAlreadyConnected)
	}
	assert.ErrorIs(t, tr.waitReady(context.Background()), ErrNotConnected)
}

func TestRouterCloseEndsEvents(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	rc, err := e.CreateRoutingContext(context.Background(), "room")
	require.NoError(t, err)

	rc.Close()
	rc.Close()

	select {
	case _, ok := <-rc.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}

	_, err = rc.CreateTransport(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngineDiesOnce(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	e.die(assert.AnError)
	e.die(assert.AnError)

	select {
	case err := <-e.Died():
		assert.ErrorIs(t, err, assert.AnError)
	default:
		t.Fatal("no death reported")
	}
}

func TestWantsKeyframe(t *testing.T) {
	assert.True(t, wantsKeyframe([]rtcp.Packet{&rtcp.ReceiverReport{}, &rtcp.PictureLossIndication{MediaSSRC: 1}}))
	assert.True(t, wantsKeyframe([]rtcp.Packet{&rtcp.FullIntraRequest{}}))
	assert.False(t, wantsKeyframe([]rtcp.Packet{&rtcp.ReceiverReport{}}))
	assert.False(t, wantsKeyframe(nil))
}
