// File: server/websocket_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"strings"
	"testing"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/control"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/pubsub"
	"github.com/momentics/hioload-app/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	testAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

func upgradeRequest(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + testKey + "\r\nSec-WebSocket-Version: 13\r\n\r\n"
}

// clientFrame builds a masked client frame.
func clientFrame(op protocol.Opcode, payload string, fin bool) string {
	b0 := byte(op)
	if fin {
		b0 |= protocol.FinBit
	}
	buf := []byte{b0}
	n := len(payload)
	switch {
	case n < 126:
		buf = append(buf, protocol.MaskBit|byte(n))
	case n <= 0xFFFF:
		buf = append(buf, protocol.MaskBit|126, byte(n>>8), byte(n))
	default:
		buf = append(buf, protocol.MaskBit|127, 0, 0, 0, 0, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	mask := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	buf = append(buf, mask[:]...)
	for i := 0; i < n; i++ {
		buf = append(buf, payload[i]^mask[i%4])
	}
	return string(buf)
}

func textFrame(payload string) string { return clientFrame(protocol.OpcodeText, payload, true) }

type serverFrame struct {
	op      protocol.Opcode
	payload string
}

func parseFrames(t *testing.T, raw string) []serverFrame {
	t.Helper()
	var out []serverFrame
	buf := []byte(raw)
	for len(buf) > 0 {
		h, ok, err := protocol.TryParseFrame(buf, protocol.MaxFramePayload)
		require.NoError(t, err)
		require.True(t, ok, "incomplete frame")
		assert.False(t, h.Masked, "server frames are never masked")
		out = append(out, serverFrame{op: h.Opcode, payload: string(h.Payload(buf))})
		buf = buf[h.Total:]
	}
	return out
}

func closeCode(t *testing.T, f serverFrame) uint16 {
	t.Helper()
	require.Equal(t, protocol.OpcodeClose, f.op)
	code, _ := protocol.ParseClosePayload([]byte(f.payload))
	return code
}

// chatFixture wires one endpoint at /ws/:room with join, leave and a few
// events recorded into the fixture.
type chatFixture struct {
	s      *Server
	joins  []map[string]string
	leaves []any
	got    []any
	states []any
	reject uint16
}

func newChatFixture(t *testing.T, cfg *control.Config) *chatFixture {
	f := &chatFixture{}
	rt := handlers{
		1: func(args ...any) (any, error) {
			ctx := args[0].(api.WsContext)
			f.joins = append(f.joins, ctx.Params())
			if f.reject != 0 {
				ctx.Reject(f.reject, "go away")
				return nil, nil
			}
			return "state:" + ctx.Params()["room"], nil
		},
		2: func(args ...any) (any, error) {
			f.leaves = append(f.leaves, args[1])
			return nil, nil
		},
		3: func(args ...any) (any, error) { // chat: echo to everyone else
			f.got = append(f.got, args[0])
			f.states = append(f.states, args[2])
			return nil, args[1].(api.WsContext).Except("chat", args[0])
		},
		4: func(args ...any) (any, error) { // message: record and bump state
			f.got = append(f.got, args[0])
			f.states = append(f.states, args[2])
			return "bumped", nil
		},
		5: func(args ...any) (any, error) { // binary
			f.got = append(f.got, args[0])
			return nil, nil
		},
		6: func(args ...any) (any, error) { // sub
			topic := args[0].(map[string]any)["topic"].(string)
			args[1].(api.WsContext).Listen(topic)
			return nil, nil
		},
		7: func(args ...any) (any, error) { // unsub
			topic := args[0].(map[string]any)["topic"].(string)
			args[1].(api.WsContext).Unlisten(topic)
			return nil, nil
		},
		8: func(args ...any) (any, error) { // pub
			m := args[0].(map[string]any)
			return nil, args[1].(api.WsContext).Publish(m["topic"].(string), "news", m["body"])
		},
		9: func(args ...any) (any, error) { // all
			return nil, args[1].(api.WsContext).Broadcast("all", args[0])
		},
		10: func(args ...any) (any, error) { // whoami
			ctx := args[1].(api.WsContext)
			return nil, ctx.Send("you", ctx.ConnID())
		},
	}
	f.s = newTestServer(t, cfg, RouteTable{WsRoutes: []WsRoute{{
		Pattern: "/ws/:room",
		Endpoint: pubsub.EndpointConfig{
			Join:  1,
			Leave: 2,
			Events: map[string]api.HandlerRef{
				"chat": 3, "message": 4, "binary": 5,
				"sub": 6, "unsub": 7, "pub": 8, "all": 9, "whoami": 10,
			},
		},
	}}}, rt)
	return f
}

func (f *chatFixture) connect(t *testing.T) *client {
	t.Helper()
	c := dial(t, f.s)
	out := c.send(upgradeRequest("/ws/lobby"))
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 101 Switching Protocols\r\n"), out)
	return c
}

func TestWebSocketUpgradeAndJoin(t *testing.T) {
	f := newChatFixture(t, nil)
	c := dial(t, f.s)

	out := c.send(upgradeRequest("/ws/lobby"))
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+testAccept+"\r\n\r\n", out)
	assert.True(t, c.conn.IsWebSocket())
	assert.Equal(t, []map[string]string{{"room": "lobby"}}, f.joins)
	assert.Equal(t, "state:lobby", c.conn.WebSocket().State)
	assert.Equal(t, []int{c.conn.Index}, f.s.pubsub.EndpointConnections(0))
}

func TestHandshakeErrorsKeepHTTP(t *testing.T) {
	f := newChatFixture(t, nil)
	c := dial(t, f.s)

	out := c.send("GET /ws/lobby HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n"))
	assert.True(t, strings.HasSuffix(out, "Missing Sec-WebSocket-Key header"))
	assert.False(t, c.conn.IsWebSocket())
	assert.False(t, c.sock.Closed())

	out = c.send("GET /ws/lobby HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: " + testKey + "\r\nSec-WebSocket-Version: 8\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 426 Upgrade Required\r\n"))

	// upgrade to a path with no WebSocket route is routed as plain HTTP
	out = c.send(upgradeRequest("/elsewhere"))
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"))
	assert.Empty(t, f.joins)
}

func TestEventDispatchAndExcept(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	b := f.connect(t)

	out := a.send(textFrame(`{"type":"chat","text":"hi"}`))
	assert.Empty(t, out, "sender is excluded")
	require.Len(t, f.got, 1)
	assert.Equal(t, map[string]any{"text": "hi"}, f.got[0])
	assert.Equal(t, "state:lobby", f.states[0])

	frames := parseFrames(t, string(b.sock.TakeWritten()))
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.OpcodeText, frames[0].op)
	assert.Equal(t, `{"type":"chat","text":"hi"}`, frames[0].payload)
}

func TestBroadcastAndSend(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	b := f.connect(t)

	out := a.send(textFrame(`{"type":"all","n":1}`))
	assert.Equal(t, []serverFrame{{protocol.OpcodeText, `{"type":"all","n":1}`}}, parseFrames(t, out))
	assert.Equal(t, []serverFrame{{protocol.OpcodeText, `{"type":"all","n":1}`}}, parseFrames(t, string(b.sock.TakeWritten())))

	out = b.send(textFrame(`{"type":"whoami"}`))
	assert.Equal(t, `{"type":"you","data":"`+b.conn.ID+`"}`, parseFrames(t, out)[0].payload)
	assert.Empty(t, a.sock.TakeWritten())
}

func TestDefaultHandlerAndState(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)

	a.send(textFrame(`{"type":"unknown","x":1}`))
	a.send(textFrame(`not json`))
	require.Len(t, f.got, 2)
	assert.Equal(t, map[string]any{"x": float64(1)}, f.got[0])
	assert.Equal(t, "not json", f.got[1])
	assert.Equal(t, []any{"state:lobby", "bumped"}, f.states)
}

func TestTopics(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	b := f.connect(t)

	a.send(textFrame(`{"type":"sub","topic":"news"}`))
	a.send(textFrame(`{"type":"sub","topic":"news"}`))
	assert.Len(t, a.conn.WebSocket().Subscriptions, 1)

	b.send(textFrame(`{"type":"pub","topic":"news","body":"extra"}`))
	frames := parseFrames(t, string(a.sock.TakeWritten()))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"type":"news","data":"extra"}`, frames[0].payload)
	assert.Empty(t, b.sock.TakeWritten(), "publisher is not subscribed")

	a.send(textFrame(`{"type":"unsub","topic":"news"}`))
	assert.Empty(t, a.conn.WebSocket().Subscriptions)
	assert.Equal(t, 0, f.s.pubsub.Topics())

	b.send(textFrame(`{"type":"pub","topic":"news","body":"late"}`))
	assert.Empty(t, a.sock.TakeWritten())
}

func TestBinaryMessage(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)

	a.send(clientFrame(protocol.OpcodeBinary, "\x00\x01\x02", true))
	require.Len(t, f.got, 1)
	assert.Equal(t, []byte{0, 1, 2}, f.got[0])
}

func TestPingPong(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)

	out := a.send(clientFrame(protocol.OpcodePing, "ping!", true))
	assert.Equal(t, []serverFrame{{protocol.OpcodePong, "ping!"}}, parseFrames(t, out))
	assert.False(t, a.sock.Closed())
}

func TestCloseHandshake(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	a.send(textFrame(`{"type":"sub","topic":"news"}`))

	out := a.send(clientFrame(protocol.OpcodeClose, "\x03\xe8bye", true))
	frames := parseFrames(t, out)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.CloseNormalClosure), closeCode(t, frames[0]))
	assert.True(t, a.sock.Closed())
	assert.Equal(t, []any{"state:lobby"}, f.leaves)
	assert.Empty(t, f.s.pubsub.EndpointConnections(0))
	assert.Equal(t, 0, f.s.pubsub.Topics())
}

func TestUnmaskedFrameIsProtocolError(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)

	out := a.send(string(protocol.AppendFrame(nil, protocol.OpcodeText, []byte(`{"type":"chat"}`))))
	frames := parseFrames(t, out)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.CloseProtocolError), closeCode(t, frames[0]))
	assert.True(t, a.sock.Closed())
	assert.Empty(t, f.got)
}

func TestOversizeMessage(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.WebSocket.MaxMessageSize = 16
	f := newChatFixture(t, cfg)
	a := f.connect(t)

	out := a.send(textFrame(strings.Repeat("x", 32)))
	assert.Equal(t, uint16(protocol.CloseMessageTooBig), closeCode(t, parseFrames(t, out)[0]))
	assert.True(t, a.sock.Closed())

	// fragments that are small alone but too big together
	b := f.connect(t)
	out = b.send(clientFrame(protocol.OpcodeText, strings.Repeat("y", 10), false) +
		clientFrame(protocol.OpcodeContinuation, strings.Repeat("y", 10), true))
	assert.Equal(t, uint16(protocol.CloseMessageTooBig), closeCode(t, parseFrames(t, out)[0]))
}

func TestFragmentedMessage(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)

	a.send(clientFrame(protocol.OpcodeText, `{"type":"message",`, false))
	assert.Empty(t, f.got)
	// a control frame may arrive between fragments
	out := a.send(clientFrame(protocol.OpcodePing, "", true) +
		clientFrame(protocol.OpcodeContinuation, `"v":2}`, true))
	assert.Equal(t, protocol.OpcodePong, parseFrames(t, out)[0].op)
	require.Len(t, f.got, 1)
	assert.Equal(t, map[string]any{"v": float64(2)}, f.got[0])
}

func TestRateLimit(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.WebSocket.MessagesPerSecond = 1
	cfg.WebSocket.Burst = 1
	f := newChatFixture(t, cfg)
	a := f.connect(t)

	out := a.send(textFrame(`"one"`) + textFrame(`"two"`))
	frames := parseFrames(t, out)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.ClosePolicyViolation), closeCode(t, frames[0]))
	assert.Equal(t, []any{"one"}, f.got)
}

func TestJoinReject(t *testing.T) {
	f := newChatFixture(t, nil)
	f.reject = 4001
	c := dial(t, f.s)

	out := c.send(upgradeRequest("/ws/vip"))
	head, rest, ok := strings.Cut(out, "\r\n\r\n")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 101 "))
	frames := parseFrames(t, rest)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(4001), closeCode(t, frames[0]))
	assert.Equal(t, "\x0f\xa1go away", frames[0].payload)
	assert.True(t, c.sock.Closed())
}

func TestEarlyFramesAfterUpgrade(t *testing.T) {
	f := newChatFixture(t, nil)
	c := dial(t, f.s)

	c.send(upgradeRequest("/ws/lobby") + textFrame(`{"type":"message","early":true}`))
	require.Len(t, f.got, 1)
	assert.Equal(t, map[string]any{"early": true}, f.got[0])
}

func TestDisconnectRunsLeave(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	b := f.connect(t)
	a.send(textFrame(`{"type":"sub","topic":"room"}`))
	a.send(textFrame(`"x"`)) // state becomes "bumped"

	a.sock.FeedEOF()
	a.send("")
	assert.True(t, a.sock.Closed())
	assert.Equal(t, []any{"bumped"}, f.leaves)
	assert.Equal(t, []int{b.conn.Index}, f.s.pubsub.EndpointConnections(0))
	assert.Empty(t, f.s.pubsub.TopicMembers("room"))

	// deliveries skip the closed connection
	b.send(textFrame(`{"type":"all"}`))
	assert.Empty(t, a.sock.Written())
}

func TestDirtySlotReusedBeforeFlush(t *testing.T) {
	f := newChatFixture(t, nil)
	a := f.connect(t)
	b := f.connect(t)
	slotA := a.conn.Index

	// b broadcasts, which marks a dirty; a hangs up in the same batch
	b.sock.FeedString(textFrame(`{"type":"all","n":1}`))
	f.s.service(b.conn.Index, reactor.Event{Token: int32(b.conn.Index), Readable: true})
	a.sock.FeedEOF()
	f.s.service(slotA, reactor.Event{Token: int32(slotA), Readable: true, Hangup: true})
	require.True(t, a.sock.Closed())

	// a new plain HTTP client takes the released slot before the flush
	c := dial(t, f.s)
	require.Equal(t, slotA, c.conn.Index)
	require.NotPanics(t, f.s.flushDirty)
	assert.Empty(t, c.sock.Written())
	assert.False(t, c.conn.IsWebSocket())

	out := c.send(get("/missing"))
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"), out)
	assert.Equal(t, []any{"state:lobby"}, f.leaves)
}
