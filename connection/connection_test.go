package connection_test

import (
	"strings"
	"testing"

	"github.com/momentics/hioload-app/connection"
	"github.com/momentics/hioload-app/fake"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(opts connection.Options) (*connection.Connection, *fake.Socket) {
	sock := fake.NewSocket()
	return connection.New(sock, 0, opts), sock
}

func TestTryReadCompleteRequest(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("POST /items?x=1 HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nX-Tag:  v \r\n\r\nhel")

	done, err := c.TryRead()
	require.NoError(t, err)
	assert.False(t, done, "body incomplete")
	assert.Equal(t, reactor.Readable, c.Interest())

	sock.FeedString("lo")
	done, err = c.TryRead()
	require.NoError(t, err)
	require.True(t, done)

	assert.Equal(t, "POST", c.Method())
	assert.Equal(t, "/items", c.Path())
	assert.Equal(t, "x=1", c.RawQuery())
	assert.Equal(t, "v", c.Header("x-tag"))
	assert.Equal(t, "hello", string(c.Body()))
	assert.True(t, c.KeepAlive())
	assert.NotEmpty(t, c.ID)
}

func TestResponseFramingAndKeepAlive(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HTTP/1.1\r\n\r\n")
	done, _ := c.TryRead()
	require.True(t, done)

	c.SetResponse(200, []byte("ok"), "")
	assert.Equal(t, connection.StateWriting, c.State())
	assert.Equal(t, reactor.Writable, c.Interest())

	flushed, err := c.TryWrite()
	require.NoError(t, err)
	require.True(t, flushed)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\nConnection: keep-alive\r\n\r\nok", string(sock.TakeWritten()))

	assert.True(t, c.FinishWrite())
	assert.Equal(t, connection.StateReading, c.State())
}

func TestConnectionCloseHeader(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	done, _ := c.TryRead()
	require.True(t, done)
	assert.False(t, c.KeepAlive())

	c.SetResponse(404, []byte("Route not found"), "")
	_, err := c.TryWrite()
	require.NoError(t, err)
	assert.Contains(t, string(sock.Written()), "Connection: close\r\n")
	assert.False(t, c.FinishWrite())
	assert.Equal(t, connection.StateClosed, c.State())
	assert.Equal(t, reactor.None, c.Interest())
}

func TestPartialWritesResume(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HTTP/1.1\r\n\r\n")
	c.TryRead()
	body := strings.Repeat("z", 1000)
	c.SetResponse(200, []byte(body), "text/plain")

	sock.SetBlocked(true)
	flushed, err := c.TryWrite()
	require.NoError(t, err)
	assert.False(t, flushed)

	sock.SetBlocked(false)
	sock.SetWriteLimit(100)
	flushed, err = c.TryWrite()
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.True(t, strings.HasSuffix(string(sock.Written()), body))
}

func TestPipelinedRequestsSurviveReset(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")

	done, _ := c.TryRead()
	require.True(t, done)
	assert.Equal(t, "/a", c.Path())
	c.SetResponse(200, nil, "")
	c.TryWrite()
	require.True(t, c.FinishWrite())

	done, _ = c.TryRead()
	require.True(t, done)
	assert.Equal(t, "/b", c.Path())
}

func TestHeadResponseOmitsBody(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("HEAD / HTTP/1.1\r\n\r\n")
	c.TryRead()
	c.WriteResponse(200, "application/json", []byte(`{"a":1}`), nil, true)
	c.TryWrite()
	out := string(sock.Written())
	assert.Contains(t, out, "Content-Length: 7\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestNoContentHasNoLength(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HTTP/1.1\r\n\r\n")
	c.TryRead()
	c.SetResponse(204, nil, "")
	c.TryWrite()
	assert.Equal(t, "HTTP/1.1 204 No Content\r\nConnection: keep-alive\r\n\r\n", string(sock.Written()))
}

func TestMalformedRequestsClose(t *testing.T) {
	for name, raw := range map[string]string{
		"no version":     "GET /\r\n\r\n",
		"bad header":     "GET / HTTP/1.1\r\nnocolon\r\n\r\n",
		"bad length":     "POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n",
		"chunked":        "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n",
		"obs-fold":       "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n",
		"space in token": "G ET / HTTP/1.1\r\n\r\n",
	} {
		c, sock := newConn(connection.Options{})
		sock.FeedString(raw)
		done, err := c.TryRead()
		assert.NoError(t, err, name)
		assert.False(t, done, name)
		assert.Equal(t, connection.StateClosed, c.State(), name)
	}
}

func TestInvalidUTF8IsFlagged(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.Feed([]byte("GET /\xff HTTP/1.1\r\n\r\n"))
	done, err := c.TryRead()
	require.NoError(t, err)
	require.True(t, done)
	assert.True(t, c.Malformed())
}

func TestBodyLimit(t *testing.T) {
	c, sock := newConn(connection.Options{BodyLimit: 4})
	sock.FeedString("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n")
	done, err := c.TryRead()
	require.NoError(t, err)
	require.True(t, done)
	assert.True(t, c.TooLarge())
	assert.Nil(t, c.Body())
}

func TestEOFCloses(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HT")
	sock.FeedEOF()
	done, err := c.TryRead()
	assert.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, connection.StateClosed, c.State())
}

func TestHeaderSectionLimit(t *testing.T) {
	c, sock := newConn(connection.Options{})
	sock.FeedString("GET / HTTP/1.1\r\nX: " + strings.Repeat("a", connection.MaxHeaderBytes) + "\r\n")
	done, _ := c.TryRead()
	assert.False(t, done)
	assert.Equal(t, connection.StateClosed, c.State())
}

func upgraded(t *testing.T) (*connection.Connection, *fake.Socket) {
	t.Helper()
	c, sock := newConn(connection.Options{MaxMessageSize: 64})
	mask := [4]byte{9, 8, 7, 6}
	frame := clientFrame(protocol.OpcodeText, true, mask, "hi")
	sock.Feed(append([]byte("GET /ws HTTP/1.1\r\nUpgrade: websocket\r\n\r\n"), frame...))
	done, err := c.TryRead()
	require.NoError(t, err)
	require.True(t, done)
	c.PrepareUpgrade(3, nil, protocol.ComputeAcceptKey("k"))
	flushed, err := c.TryWrite()
	require.NoError(t, err)
	require.True(t, flushed)
	require.True(t, c.FinishWrite())
	require.True(t, c.UpgradePending())
	ws := c.UpgradeToWebSocket()
	require.Equal(t, 3, ws.Endpoint)
	sock.TakeWritten()
	return c, sock
}

func clientFrame(op protocol.Opcode, fin bool, mask [4]byte, payload string) []byte {
	b0 := byte(op)
	if fin {
		b0 |= protocol.FinBit
	}
	out := []byte{b0, protocol.MaskBit | byte(len(payload))}
	out = append(out, mask[:]...)
	p := []byte(payload)
	protocol.UnmaskInPlace(p, mask)
	return append(out, p...)
}

func TestUpgradeKeepsEarlyFrames(t *testing.T) {
	c, _ := upgraded(t)
	assert.True(t, c.IsWebSocket())
	assert.Equal(t, connection.StateReading, c.State())

	h, payload, ok, err := c.NextFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, protocol.OpcodeText, h.Opcode)
	assert.Equal(t, "hi", string(payload))
}

func TestFragmentReassembly(t *testing.T) {
	c, sock := upgraded(t)
	c.NextFrame()
	c.CompactRead()

	mask := [4]byte{1, 1, 1, 1}
	sock.Feed(clientFrame(protocol.OpcodeText, false, mask, "hel"))
	sock.Feed(clientFrame(protocol.OpcodePing, true, mask, "p"))
	sock.Feed(clientFrame(protocol.OpcodeContinuation, true, mask, "lo"))
	require.NoError(t, c.ReadAvailable())

	var got string
	var pings int
	for {
		h, payload, ok, err := c.NextFrame()
		require.NoError(t, err)
		if !ok {
			break
		}
		if h.Opcode.IsControl() {
			pings++
			continue
		}
		msg, op, done, err := c.Assemble(h, payload)
		require.NoError(t, err)
		if done {
			assert.Equal(t, protocol.OpcodeText, op)
			got = string(msg)
		}
	}
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, pings)

	_, _, _, err := c.Assemble(protocol.FrameHeader{Opcode: protocol.OpcodeContinuation, Fin: true}, nil)
	assert.ErrorIs(t, err, connection.ErrUnexpectedContinuation)
}

func TestFrameQueueOrderAndClose(t *testing.T) {
	c, sock := upgraded(t)
	shared := protocol.AppendFrame(nil, protocol.OpcodeText, []byte("one"))
	require.True(t, c.QueueFrame(shared))
	require.True(t, c.QueueFrame(protocol.AppendFrame(nil, protocol.OpcodeText, []byte("two"))))
	assert.Equal(t, reactor.Readable|reactor.Writable, c.Interest())

	sock.SetWriteLimit(3)
	drained, err := c.TryWriteFrames()
	require.NoError(t, err)
	require.True(t, drained)
	out := sock.TakeWritten()
	assert.Equal(t, append(append([]byte{}, shared...), protocol.AppendFrame(nil, protocol.OpcodeText, []byte("two"))...), out)
	assert.Equal(t, reactor.Readable, c.Interest())

	c.QueueClose(protocol.CloseNormalClosure, "")
	assert.False(t, c.QueueFrame(shared), "frames after close are refused")
	assert.Equal(t, 1, c.PendingFrames())
}
