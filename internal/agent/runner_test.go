package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/protocol"
)

// fakeConn replays frames and then either hangs up or waits to be closed
type fakeConn struct {
	recordingSender
	frames [][]byte
	hangup bool
	// blockSend holds every send until the connection is closed, then fails
	blockSend bool

	mu     sync.Mutex
	joined []string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(t *testing.T, hangup bool, msgs ...protocol.Envelope) *fakeConn {
	t.Helper()
	c := &fakeConn{hangup: hangup, closed: make(chan struct{})}
	for _, env := range msgs {
		raw, err := protocol.Encode(env)
		require.NoError(t, err)
		c.frames = append(c.frames, raw)
	}
	return c
}

func (c *fakeConn) Send(ctx context.Context, env protocol.Envelope) error {
	if c.blockSend {
		<-c.closed
		return errors.New("use of closed connection")
	}
	return c.recordingSender.Send(ctx, env)
}

func (c *fakeConn) Join(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, name)
	return nil
}

func (c *fakeConn) ReadLoop(ctx context.Context, fn func([]byte)) error {
	for _, f := range c.frames {
		fn(f)
	}
	if c.hangup {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joined...)
}

func mustEnvelope(t *testing.T, typ protocol.MessageType, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload)
	require.NoError(t, err)
	return env
}

func newRunnerAgent() *Agent {
	return New(Options{
		Name:   botName,
		Oracle: &scriptedOracle{response: `{"actionType":"call"}`},
		Policy: decision.DefaultPolicy(),
		Send:   SendPolicy{Backoff: time.Millisecond},
		Logger: log.New(io.Discard),
	})
}

func fastReconnect() RunnerConfig {
	return RunnerConfig{
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           5 * time.Millisecond,
		ReconnectOnSendError: true,
	}
}

func TestRunnerJoinsAndActs(t *testing.T) {
	conn := newFakeConn(t, false,
		mustEnvelope(t, protocol.TypePlayerHand, []protocol.Card{{Rank: "9", Suit: "H"}, {Rank: "9", Suit: "D"}}),
		mustEnvelope(t, protocol.TypeState, table("preflop", me, 30, 20)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(newRunnerAgent(), func(context.Context) (Connection, error) {
		return conn, nil
	}, fastReconnect(), nil, log.New(io.Discard))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(conn.Actions()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{botName}, conn.Joined())
	assert.Equal(t, "call", conn.Actions()[0].ActionType)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerReconnects(t *testing.T) {
	first := newFakeConn(t, true)
	second := newFakeConn(t, false)

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		switch dials {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return first, nil
		default:
			return second, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(newRunnerAgent(), dial, fastReconnect(), nil, log.New(io.Discard))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(second.Joined()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{botName}, first.Joined())

	cancel()
	require.NoError(t, <-done)
}

func TestRunnerGivesUp(t *testing.T) {
	cfg := fastReconnect()
	cfg.MaxAttempts = 3

	dials := 0
	r := NewRunner(newRunnerAgent(), func(context.Context) (Connection, error) {
		dials++
		return nil, errors.New("connection refused")
	}, cfg, nil, log.New(io.Discard))

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, dials)
}

func TestRunnerReconnectsAfterSendFailure(t *testing.T) {
	broken := newFakeConn(t, false,
		mustEnvelope(t, protocol.TypePlayerHand, []protocol.Card{{Rank: "9", Suit: "H"}, {Rank: "9", Suit: "D"}}),
		mustEnvelope(t, protocol.TypeState, table("preflop", me, 30, 20)),
	)
	broken.failN = 100
	healthy := newFakeConn(t, false)

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return broken, nil
		}
		return healthy, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(newRunnerAgent(), dial, fastReconnect(), nil, log.New(io.Discard))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(healthy.Joined()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, broken.Actions())

	cancel()
	require.NoError(t, <-done)
}

func TestRunnerIgnoresSendFailureFromEarlierConnection(t *testing.T) {
	first := newFakeConn(t, true,
		mustEnvelope(t, protocol.TypePlayerHand, []protocol.Card{{Rank: "9", Suit: "H"}, {Rank: "9", Suit: "D"}}),
		mustEnvelope(t, protocol.TypeState, table("preflop", me, 30, 20)),
	)
	first.blockSend = true
	second := newFakeConn(t, false)

	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}
	dialCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return dials
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(newRunnerAgent(), dial, fastReconnect(), nil, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(second.Joined()) == 1 }, 5*time.Second, 5*time.Millisecond)

	// a late failure from the first connection must not tear down the second
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, dialCount())
	select {
	case <-second.closed:
		t.Fatal("healthy connection was closed")
	default:
	}

	cancel()
	require.NoError(t, <-done)
}

func TestSentOn(t *testing.T) {
	a, b := &recordingSender{}, &recordingSender{}
	err := fmt.Errorf("emit: %w", &SendError{Sender: a, Err: errors.New("boom")})

	assert.True(t, sentOn(err, a))
	assert.False(t, sentOn(err, b))
	assert.False(t, sentOn(&SendError{Err: ErrNoSender}, a))
	assert.False(t, sentOn(errors.New("boom"), a))
}
