package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/convrelay/pkg/relay/protocol"
	"github.com/go-go-golems/convrelay/pkg/sessions"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *sessions.Store, string) {
	t.Helper()
	store := sessions.NewStore()
	rs, err := NewServer(ServerConfig{
		Store:        store,
		Gateway:      echoGateway(),
		SystemPrompt: testSystemPrompt,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(rs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rs.Shutdown(ctx)
		srv.Close()
	})
	return rs, store, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) protocol.TextToken {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var tok protocol.TextToken
	require.NoError(t, conn.ReadJSON(&tok))
	return tok
}

func TestServerRelaysOverWebsocket(t *testing.T) {
	rs, store, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(setupFrame("CA1")))
	require.NoError(t, conn.WriteJSON(promptFrame("find me headphones")))

	tok := readReply(t, conn)
	require.Equal(t, protocol.TextToken{Type: "text", Token: "re: find me headphones", Last: true}, tok)

	tr, ok := store.Get("CA1")
	require.True(t, ok)
	require.Equal(t, 3, tr.Len())
	require.Equal(t, 1, rs.ActiveConnections())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		_, ok := store.Get("CA1")
		return !ok && rs.ActiveConnections() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServerConnectionsAreIndependent(t *testing.T) {
	_, store, url := newTestServer(t)
	a := dial(t, url)
	defer a.Close()
	b := dial(t, url)
	defer b.Close()

	require.NoError(t, a.WriteJSON(setupFrame("CA-A")))
	require.NoError(t, b.WriteJSON(setupFrame("CA-B")))
	require.NoError(t, b.WriteJSON(promptFrame("from b")))
	require.NoError(t, a.WriteJSON(promptFrame("from a")))

	require.Equal(t, "re: from a", readReply(t, a).Token)
	require.Equal(t, "re: from b", readReply(t, b).Token)

	ta, ok := store.Get("CA-A")
	require.True(t, ok)
	tb, ok := store.Get("CA-B")
	require.True(t, ok)
	require.Equal(t, "from a", ta.Snapshot()[1].Content)
	require.Equal(t, "from b", tb.Snapshot()[1].Content)
}

func TestServerDropsOversizedFrames(t *testing.T) {
	store := sessions.NewStore()
	rs, err := NewServer(ServerConfig{
		Store:        store,
		Gateway:      echoGateway(),
		SystemPrompt: testSystemPrompt,
		ReadLimit:    128,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(rs)
	defer srv.Close()
	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(setupFrame("CA1")))
	require.NoError(t, conn.WriteJSON(promptFrame(strings.Repeat("x", 512))))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return store.Len() == 0 && rs.ActiveConnections() == 0 },
		3*time.Second, 10*time.Millisecond)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	store := sessions.NewStore()
	rs, err := NewServer(ServerConfig{Store: store, Gateway: echoGateway(), SystemPrompt: testSystemPrompt})
	require.NoError(t, err)
	srv := httptest.NewServer(rs)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := dial(t, url)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(setupFrame("CA1")))
	require.Eventually(t, func() bool { return store.Len() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, rs.Shutdown(ctx))
	require.Equal(t, 0, rs.ActiveConnections())
	require.Equal(t, 0, store.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{Gateway: echoGateway(), SystemPrompt: "x"})
	require.ErrorContains(t, err, "session store is nil")
	_, err = NewServer(ServerConfig{Store: sessions.NewStore(), SystemPrompt: "x"})
	require.ErrorContains(t, err, "completion gateway is nil")
	_, err = NewServer(ServerConfig{Store: sessions.NewStore(), Gateway: echoGateway()})
	require.ErrorContains(t, err, "system prompt is empty")
}
