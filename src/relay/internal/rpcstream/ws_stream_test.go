package rpcstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"
	"nhooyr.io/websocket"
)

func TestWSStreamRoundTrip(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		stream := NewWSStream(conn)
		msg, n, err := stream.Read(r.Context())
		require.NoError(t, err)
		assert.Greater(t, n, int64(0))

		_, err = stream.Write(r.Context(), msg)
		require.NoError(t, err)

		// Blocks until the client closes, completing the close handshake.
		_, _, err = stream.Read(r.Context())
		assert.Error(t, err)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	stream := NewWSStream(conn)

	req, err := jsonrpc2.NewCall(jsonrpc2.NewStringID("abc-1"), "textDocument/definition", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///srv/app/main.py"},
	})
	require.NoError(t, err)

	_, err = stream.Write(ctx, req)
	require.NoError(t, err)

	msg, _, err := stream.Read(ctx)
	require.NoError(t, err)
	echoed, ok := msg.(*jsonrpc2.Call)
	require.True(t, ok)

	// One message per frame, with identifier and method intact.
	assert.Equal(t, req.ID(), echoed.ID())
	assert.Equal(t, req.Method(), echoed.Method())
	assert.JSONEq(t, string(req.Params()), string(echoed.Params()))

	require.NoError(t, stream.Close())
	<-done
}

func TestWSStreamRejectsMalformedFrame(t *testing.T) {
	readErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		_, _, err = NewWSStream(conn).Read(r.Context())
		readErr <- err
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not a json-rpc message")))

	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never finished reading")
	}

	// Reading surfaces the server-initiated closure and acknowledges it.
	_, _, err = conn.Read(ctx)
	assert.Error(t, err)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
