package relay

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/convrelay/pkg/relay/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type inboundFrame struct {
	mt   int
	data []byte
}

// fakeConn is a channel-driven stand-in for a websocket connection. Closing
// the peer side (closePeer) makes ReadMessage return io.EOF.
type fakeConn struct {
	in     chan inboundFrame
	out    chan []byte
	closed chan struct{}

	closeOnce sync.Once
	peerOnce  sync.Once

	mu       sync.Mutex
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan inboundFrame, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	c.mu.Lock()
	werr := c.writeErr
	c.mu.Unlock()
	if werr != nil {
		return werr
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.out <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) closePeer() {
	c.peerOnce.Do(func() { close(c.in) })
}

func (c *fakeConn) sendText(t *testing.T, frame string) {
	t.Helper()
	c.in <- inboundFrame{mt: websocket.TextMessage, data: []byte(frame)}
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	c.sendText(t, string(b))
}

func (c *fakeConn) nextReply(t *testing.T) protocol.TextToken {
	t.Helper()
	select {
	case b := <-c.out:
		var tok protocol.TextToken
		require.NoError(t, json.Unmarshal(b, &tok))
		return tok
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return protocol.TextToken{}
	}
}

func (c *fakeConn) requireNoReply(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case b := <-c.out:
		t.Fatalf("unexpected outbound frame: %s", b)
	case <-time.After(wait):
	}
}

func setupFrame(callSID string) map[string]any {
	return map[string]any{"type": "setup", "callSid": callSID}
}

func promptFrame(text string) map[string]any {
	return map[string]any{"type": "prompt", "voicePrompt": text, "last": true}
}
