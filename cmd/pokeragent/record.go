package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/lox/pokeragent/internal/agent"
)

// sessionRecorder writes inbound frames as JSON lines, the format replay reads
type sessionRecorder struct {
	mu sync.Mutex
	w  io.Writer
}

func newSessionRecorder(w io.Writer) *sessionRecorder {
	return &sessionRecorder{w: w}
}

func (r *sessionRecorder) write(frame []byte) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, frame); err != nil {
		// keep junk on one line so replay reports it as malformed
		buf.Reset()
		buf.Write(bytes.ReplaceAll(bytes.TrimSpace(frame), []byte("\n"), []byte(" ")))
	}
	buf.WriteByte('\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.w.Write(buf.Bytes())
}

func (r *sessionRecorder) wrap(conn agent.Connection) agent.Connection {
	return &recordingConn{Connection: conn, rec: r}
}

type recordingConn struct {
	agent.Connection
	rec *sessionRecorder
}

func (c *recordingConn) ReadLoop(ctx context.Context, fn func([]byte)) error {
	return c.Connection.ReadLoop(ctx, func(frame []byte) {
		c.rec.write(frame)
		fn(frame)
	})
}
