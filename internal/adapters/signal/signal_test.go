package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/fakeengine"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	ID     int             `json:"id"`
	Type   string          `json:"type"`
	OK     bool            `json:"ok"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
	Error  *errorBody      `json:"error"`
}

type client struct {
	t     *testing.T
	ws    *websocket.Conn
	seq   int
	notes []frame
}

func newServer(t *testing.T, opts Options) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rooms := app.NewRoomRegistry(fakeengine.New(), 50)
	o := orch.New(app.NewRegistry(nil), rooms, time.Second)
	ctl := NewSignalWSController(o, opts)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(context.Background(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(c.t, c.ws.ReadJSON(&f))
	return f
}

// call sends a request and returns its response, keeping notifications that
// arrive in between.
func (c *client) call(method string, data any) frame {
	c.t.Helper()
	c.seq++
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"id": c.seq, "type": method, "data": data}))
	for {
		f := c.read()
		if f.Type == "response" && f.ID == c.seq {
			return f
		}
		if f.Type == "notification" {
			c.notes = append(c.notes, f)
		}
	}
}

func (c *client) waitNote(method string) frame {
	c.t.Helper()
	for i, n := range c.notes {
		if n.Method == method {
			c.notes = append(c.notes[:i], c.notes[i+1:]...)
			return n
		}
	}
	for {
		f := c.read()
		if f.Type == "notification" && f.Method == method {
			return f
		}
		c.notes = append(c.notes, f)
	}
}

func room(id string) map[string]string { return map[string]string{"roomId": id} }

func TestJoinAndPeerNotifications(t *testing.T) {
	srv, o := newServer(t, Options{})
	alice := dial(t, srv)
	bob := dial(t, srv)

	resp := alice.call("join-room", room("r1"))
	require.True(t, resp.OK, "%+v", resp.Error)
	var joined orch.JoinResult
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	assert.NotEmpty(t, joined.Capabilities)
	assert.Empty(t, joined.ExistingProducers)

	resp = bob.call("join-room", map[string]string{"communityId": "r1"})
	require.True(t, resp.OK)

	n := alice.waitNote(core.NotifyPeerJoined)
	var peer struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(n.Data, &peer))
	assert.NotEmpty(t, peer.SessionID)

	require.NoError(t, bob.ws.Close())
	left := alice.waitNote(core.NotifyPeerLeft)
	require.NoError(t, json.Unmarshal(left.Data, &peer))
	assert.NotEmpty(t, peer.SessionID)

	assert.Eventually(t, func() bool {
		r, ok := o.Rooms.Get("r1")
		return ok && r.MemberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestErrors(t *testing.T) {
	srv, _ := newServer(t, Options{})
	c := dial(t, srv)

	resp := c.call("no-such-method", nil)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_argument", resp.Error.Code)

	resp = c.call("join-room", room(""))
	assert.Equal(t, "invalid_argument", resp.Error.Code)

	resp = c.call("create-transport", room("nowhere"))
	assert.Equal(t, "not_a_member", resp.Error.Code)

	resp = c.call("resume-consumer", map[string]string{"roomId": "nowhere", "consumerId": "x"})
	assert.Equal(t, "not_found", resp.Error.Code)

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("{")))
	f := c.read()
	assert.Equal(t, "response", f.Type)
	assert.Equal(t, "invalid_argument", f.Error.Code)
}

func TestMediaFlowOverSocket(t *testing.T) {
	srv, _ := newServer(t, Options{})
	alice := dial(t, srv)
	bob := dial(t, srv)
	require.True(t, alice.call("join-room", room("r1")).OK)
	require.True(t, bob.call("join-room", room("r1")).OK)

	resp := alice.call("create-transport", room("r1"))
	require.True(t, resp.OK)
	var tr orch.TransportResult
	require.NoError(t, json.Unmarshal(resp.Data, &tr))
	require.NotEmpty(t, tr.ID)

	resp = alice.call("connect-transport", map[string]any{"roomId": "r1", "transportId": tr.ID, "params": map[string]string{"dtls": "x"}})
	require.True(t, resp.OK)

	resp = alice.call("produce", map[string]any{"roomId": "r1", "transportId": tr.ID, "kind": "audio", "rtpParameters": map[string]any{}})
	require.True(t, resp.OK)
	var produced idPayload
	require.NoError(t, json.Unmarshal(resp.Data, &produced))

	n := bob.waitNote(core.NotifyNewProducer)
	var info core.ProducerInfo
	require.NoError(t, json.Unmarshal(n.Data, &info))
	assert.Equal(t, produced.ID, info.ProducerID)

	resp = bob.call("create-transport", room("r1"))
	require.NoError(t, json.Unmarshal(resp.Data, &tr))
	resp = bob.call("consume", map[string]any{
		"roomId": "r1", "transportId": tr.ID, "producerId": produced.ID,
		"rtpCapabilities": map[string]any{"codecs": []map[string]string{{"mimeType": "audio/opus"}}},
	})
	require.True(t, resp.OK, "%+v", resp.Error)
	var consumed orch.ConsumeResult
	require.NoError(t, json.Unmarshal(resp.Data, &consumed))
	assert.Equal(t, produced.ID, consumed.ProducerID)

	resp = bob.call("resume-consumer", map[string]string{"roomId": "r1", "consumerId": consumed.ID})
	assert.True(t, resp.OK)

	resp = bob.call("pause-producer", map[string]string{"roomId": "r1", "producerId": produced.ID})
	assert.Equal(t, "not_owner", resp.Error.Code)
	resp = alice.call("pause-producer", map[string]string{"roomId": "r1", "producerId": produced.ID})
	assert.True(t, resp.OK)
	bob.waitNote(core.NotifyProducerPaused)

	require.True(t, alice.call("leave-room", room("r1")).OK)
	bob.waitNote(core.NotifyProducerClosed)
}

func TestChatRateLimit(t *testing.T) {
	srv, _ := newServer(t, Options{RateLimit: 2, RateInterval: time.Minute})
	c := dial(t, srv)
	require.True(t, c.call("join-room", room("r1")).OK)

	msg := map[string]string{"roomId": "r1", "message": "hi"}
	assert.True(t, c.call("chat-message", msg).OK)
	assert.True(t, c.call("call:chat-message", msg).OK)
	resp := c.call("chat-message", msg)
	assert.Equal(t, "rate_limited", resp.Error.Code)

	n := c.waitNote(core.NotifyChatMessage)
	var m core.ChatMessage
	require.NoError(t, json.Unmarshal(n.Data, &m))
	assert.Equal(t, "hi", m.Text)
}

func TestPingAndLegacyCall(t *testing.T) {
	srv, _ := newServer(t, Options{})
	c := dial(t, srv)

	resp := c.call("ping", nil)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"pong":true}`, string(resp.Data))

	assert.True(t, c.call("call:initiate", map[string]string{"communityId": "r1"}).OK)
	n := c.waitNote(core.NotifyServerOK)
	assert.Contains(t, string(n.Data), "join")
}

func TestRoomRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRoomRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per session")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestTrySendBackpressure(t *testing.T) {
	c := &WsSignalConn{send: make(chan core.Frame, 1)}
	require.NoError(t, c.TrySend(core.Frame("a")))
	assert.ErrorIs(t, c.TrySend(core.Frame("b")), core.ErrBackpressure)
}
