package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/protocol"
	"github.com/lox/pokeragent/internal/transport"
)

func TestActionFor(t *testing.T) {
	c := decision.Context{AmountToCall: 20, MinimumRaiseAmount: 40}
	amount := 120

	tests := []struct {
		name   string
		d      decision.Decision
		action string
		amount *int
	}{
		{"fold", decision.Decision{ActionType: decision.Fold}, "fold", nil},
		{"call drops amount", decision.Decision{ActionType: decision.Call, Amount: &amount}, "call", nil},
		{"raise keeps amount", decision.Decision{ActionType: decision.Raise, Amount: &amount}, "raise", &amount},
		{"raise without amount", decision.Decision{ActionType: decision.Raise}, "raise", &c.MinimumRaiseAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ActionFor(tt.d, c)
			assert.Equal(t, tt.action, a.ActionType)
			if tt.amount == nil {
				assert.Nil(t, a.Amount)
				return
			}
			require.NotNil(t, a.Amount)
			assert.Equal(t, *tt.amount, *a.Amount)
		})
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	e := NewEmitter(DefaultSendPolicy(), log.New(io.Discard))
	_, err := e.Emit(context.Background(), decision.Decision{ActionType: decision.Check}, decision.Context{})
	require.ErrorIs(t, err, ErrNoSender)
	assert.True(t, IsSendError(err))
}

func TestEmitRetries(t *testing.T) {
	sender := &recordingSender{failN: 2}
	e := NewEmitter(SendPolicy{Retries: 2, Backoff: 1}, log.New(io.Discard))
	e.Attach(sender)

	a, err := e.Emit(context.Background(), decision.Decision{ActionType: decision.Check}, decision.Context{})
	require.NoError(t, err)
	assert.Equal(t, "check", a.ActionType)
	assert.Equal(t, 3, sender.Attempts())
	assert.Len(t, sender.Actions(), 1)
}

// brokenSender fails like a websocket whose write already failed
type brokenSender struct {
	attempts int
}

func (s *brokenSender) Send(context.Context, protocol.Envelope) error {
	s.attempts++
	return fmt.Errorf("write action: %w: i/o timeout", transport.ErrBroken)
}

func TestEmitDoesNotRetryBrokenConnection(t *testing.T) {
	sender := &brokenSender{}
	e := NewEmitter(SendPolicy{Retries: 5, Backoff: time.Millisecond}, nil)
	e.Attach(sender)

	_, err := e.Emit(context.Background(), decision.Decision{ActionType: decision.Call}, decision.Context{AmountToCall: 20})
	require.ErrorIs(t, err, transport.ErrBroken)
	assert.True(t, IsSendError(err))
	assert.Equal(t, 1, sender.attempts)
}

func TestEmitOnClosedTransportFailsFast(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, srv.URL, log.New(io.Discard))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	e := NewEmitter(SendPolicy{Retries: 5, Backoff: time.Second}, log.New(io.Discard))
	e.Attach(conn)

	start := time.Now()
	_, err = e.Emit(ctx, decision.Decision{ActionType: decision.Check}, decision.Context{})
	require.ErrorIs(t, err, transport.ErrClosed)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "no backoff wait before giving up")
}
