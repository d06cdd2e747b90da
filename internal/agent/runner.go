package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"
)

// Connection is a live session with the server
type Connection interface {
	Sender
	Join(ctx context.Context, name string) error
	ReadLoop(ctx context.Context, fn func([]byte)) error
	Close() error
}

// Dialer opens a new connection
type Dialer func(ctx context.Context) (Connection, error)

// RunnerConfig controls reconnection
type RunnerConfig struct {
	// MaxAttempts is the number of consecutive failed connects before Run
	// gives up. Zero retries forever.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ReconnectOnSendError drops the connection when an action could not be
	// delivered
	ReconnectOnSendError bool
}

// DefaultRunnerConfig returns the reconnect settings used by the CLI
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           30 * time.Second,
		ReconnectOnSendError: true,
	}
}

var errServerClosed = errors.New("server closed connection")

// Runner keeps an agent connected to the server
type Runner struct {
	agent  *Agent
	dial   Dialer
	cfg    RunnerConfig
	clock  quartz.Clock
	logger *log.Logger
}

// NewRunner creates a runner for the agent
func NewRunner(a *Agent, dial Dialer, cfg RunnerConfig, clock quartz.Clock, logger *log.Logger) *Runner {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{
		agent:  a,
		dial:   dial,
		cfg:    cfg,
		clock:  clock,
		logger: logger.WithPrefix("runner"),
	}
}

// Run connects, joins and processes messages until ctx is cancelled. Lost
// connections are re-established with exponential backoff.
func (r *Runner) Run(ctx context.Context) error {
	defer r.agent.Wait()

	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialBackoff > 0 {
		b.InitialInterval = r.cfg.InitialBackoff
	}
	if r.cfg.MaxBackoff > 0 {
		b.MaxInterval = r.cfg.MaxBackoff
	}

	failures := 0
	for {
		joined, err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if joined {
			failures = 0
			b.Reset()
		} else {
			failures++
		}
		if r.cfg.MaxAttempts > 0 && failures >= r.cfg.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", failures, err)
		}

		wait := b.NextBackOff()
		r.logger.Warn("Disconnected, reconnecting", "error", err, "wait", wait)

		timer := r.clock.NewTimer(wait, "runner", "reconnect")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection to completion. joined reports whether the
// join message was delivered.
func (r *Runner) session(ctx context.Context) (joined bool, err error) {
	conn, err := r.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	defer r.agent.Disconnected()

	r.agent.Attach(conn)
	if err := conn.Join(ctx, r.agent.Name()); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}
	r.logger.Info("Joined table", "name", r.agent.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// decisions outlive the connection they were claimed on, so they
		// get the root context
		err := conn.ReadLoop(gctx, func(raw []byte) {
			_ = r.agent.HandleMessage(ctx, raw)
		})
		if err == nil {
			err = errServerClosed
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return conn.Close()
			case err := <-r.agent.SendErrors():
				if !sentOn(err, conn) {
					r.logger.Debug("Ignoring send failure from an earlier connection", "error", err)
					continue
				}
				if r.cfg.ReconnectOnSendError {
					return err
				}
			}
		}
	})

	return true, g.Wait()
}
