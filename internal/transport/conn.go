// Package transport is the websocket connection to the game server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/pokeragent/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrClosed is returned when sending on a closed connection
	ErrClosed = errors.New("connection closed")
	// ErrBroken is returned once a write has failed. gorilla/websocket
	// fails every later write on the same connection, so it is never retried.
	ErrBroken = errors.New("connection broken")
)

// IsFatal reports whether err means the connection can no longer send
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrBroken)
}

// Conn is a websocket connection speaking the JSON envelope protocol. Reads
// happen on one goroutine via ReadLoop; Send may be called concurrently.
type Conn struct {
	ws     *websocket.Conn
	logger *log.Logger

	writeMu   sync.Mutex
	broken    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NormalizeURL converts http(s) URLs to ws(s)
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Dial connects to the server
func Dial(ctx context.Context, serverURL string, logger *log.Logger) (*Conn, error) {
	target, err := NormalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.WithPrefix("transport")

	logger.Info("Connecting to server", "url", target)

	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.pingLoop()

	logger.Info("Connected to server")
	return c, nil
}

// Send writes one envelope
func (c *Conn) Send(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.broken.Load() {
		return ErrBroken
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.broken.Store(true)
		return fmt.Errorf("write %s: %w: %w", env.Type, ErrBroken, err)
	}
	c.logger.Debug("Sent message", "type", env.Type)
	return nil
}

// Join announces the agent to the server under its display name
func (c *Conn) Join(ctx context.Context, name string) error {
	env, err := protocol.NewEnvelope(protocol.TypeJoin, protocol.Join{Name: name})
	if err != nil {
		return err
	}
	return c.Send(ctx, env)
}

// ReadLoop reads frames in order and passes each to fn until the connection
// closes or ctx is cancelled. A normal close returns nil.
func (c *Conn) ReadLoop(ctx context.Context, fn func([]byte)) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		fn(data)
	}
}

// Close sends a close frame and tears down the connection
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		c.logger.Info("Disconnected from server")
	})
	return err
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Ping failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
