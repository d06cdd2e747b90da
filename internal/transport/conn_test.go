package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokeragent/internal/protocol"
)

// echoServer records every frame it receives and sends the scripted frames
// once a client connects.
type echoServer struct {
	mu       sync.Mutex
	received []string
	got      chan struct{}
}

func startServer(t *testing.T, script []string, closeAfter bool) (*httptest.Server, *echoServer) {
	t.Helper()
	es := &echoServer{got: make(chan struct{}, 16)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for _, frame := range script {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		if closeAfter {
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			es.mu.Lock()
			es.received = append(es.received, string(data))
			es.mu.Unlock()
			es.got <- struct{}{}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, es
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":  "ws://localhost:8080",
		"https://poker.example":  "wss://poker.example",
		"ws://127.0.0.1:8080/ws": "ws://127.0.0.1:8080/ws",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := NormalizeURL("ftp://nope")
	assert.Error(t, err)
}

func TestReadLoopDeliversFramesInOrder(t *testing.T) {
	script := []string{
		`{"type":"info","payload":"welcome"}`,
		`{"type":"player_hand","payload":[]}`,
		`{"type":"state","payload":{}}`,
	}
	srv, _ := startServer(t, script, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, strings.Replace(srv.URL, "http", "ws", 1), testLogger())
	require.NoError(t, err)
	defer conn.Close()

	var got []string
	err = conn.ReadLoop(ctx, func(data []byte) {
		got = append(got, string(data))
	})
	require.NoError(t, err)
	assert.Equal(t, script, got)
}

func TestJoinAndSend(t *testing.T) {
	srv, es := startServer(t, nil, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, srv.URL, testLogger())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Join(ctx, "GeminiBot"))

	env, err := protocol.NewEnvelope(protocol.TypeAction, protocol.Action{ActionType: "check"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, env))

	for i := 0; i < 2; i++ {
		select {
		case <-es.got:
		case <-ctx.Done():
			t.Fatal("server did not receive messages")
		}
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	require.Len(t, es.received, 2)
	assert.JSONEq(t, `{"type":"join","payload":{"name":"GeminiBot"}}`, es.received[0])
	assert.JSONEq(t, `{"type":"action","payload":{"actionType":"check"}}`, es.received[1])
}

func TestSendAfterClose(t *testing.T) {
	srv, _ := startServer(t, nil, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, srv.URL, testLogger())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Join(ctx, "GeminiBot")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadLoopStopsOnCancel(t *testing.T) {
	srv, _ := startServer(t, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := Dial(ctx, srv.URL, testLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- conn.ReadLoop(ctx, func([]byte) {}) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not stop")
	}
}

func TestWriteFailureBreaksConnection(t *testing.T) {
	srv, _ := startServer(t, nil, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, srv.URL, testLogger())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// kill the socket underneath the websocket so the next write fails
	require.NoError(t, conn.ws.NetConn().Close())

	env, err := protocol.NewEnvelope(protocol.TypeAction, protocol.Action{ActionType: "fold"})
	require.NoError(t, err)

	err = conn.Send(ctx, env)
	require.ErrorIs(t, err, ErrBroken)
	assert.True(t, IsFatal(err))

	// later sends fail without touching the socket, even with a fresh context
	for i := 0; i < 3; i++ {
		err = conn.Send(context.Background(), env)
		assert.Equal(t, ErrBroken, err)
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrClosed))
	assert.True(t, IsFatal(fmt.Errorf("send: %w", ErrBroken)))
	assert.False(t, IsFatal(context.DeadlineExceeded))
	assert.False(t, IsFatal(errors.New("temporary hiccup")))
}
