// Package agent wires the pieces of the poker agent together: it dispatches
// server messages into the state store, runs snapshots through the turn
// guard and, for every claimed decision point, consults the decision
// pipeline and sends the resulting action.
package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/guard"
	"github.com/lox/pokeragent/internal/protocol"
	"github.com/lox/pokeragent/internal/state"
)

// Options configures an Agent
type Options struct {
	// Name is the display name sent on join and used to find our seat
	Name          string
	Oracle        decision.Oracle
	Policy        decision.Policy
	OracleTimeout time.Duration
	Cooldown      time.Duration
	Send          SendPolicy
	Clock         quartz.Clock
	Logger        *log.Logger
}

// Agent processes inbound messages one at a time. Oracle calls run on their
// own goroutines so dispatch is never blocked by a slow recommendation.
type Agent struct {
	name     string
	store    *state.Store
	guard    *guard.Guard
	pipeline *decision.Pipeline
	emitter  *Emitter
	send     SendPolicy
	logger   *log.Logger

	sendErrs chan error
	inflight sync.WaitGroup
}

// New creates an agent. Attach a connection before messages arrive.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &Agent{
		name:     opts.Name,
		store:    state.NewStore(opts.Name),
		guard:    guard.New(clock, opts.Cooldown, logger),
		pipeline: decision.NewPipeline(opts.Oracle, opts.Policy, opts.OracleTimeout, logger),
		emitter:  NewEmitter(opts.Send, logger),
		send:     opts.Send,
		logger:   logger.WithPrefix("agent"),
		sendErrs: make(chan error, 1),
	}
}

// Name returns the agent's display name
func (a *Agent) Name() string {
	return a.name
}

// Store exposes the agent's view of the table
func (a *Agent) Store() *state.Store {
	return a.store
}

// Guard exposes the turn guard, mostly for inspection
func (a *Agent) Guard() *guard.Guard {
	return a.guard
}

// Attach sets the connection used for outbound actions
func (a *Agent) Attach(s Sender) {
	a.emitter.Attach(s)
}

// SendErrors reports action send failures after retries were exhausted. It
// only buffers the most recent failure.
func (a *Agent) SendErrors() <-chan error {
	return a.sendErrs
}

// Disconnected forgets per-connection state. The server hands out a new
// player id on reconnect and any claim in flight is invalidated.
func (a *Agent) Disconnected() {
	a.store.ForgetIdentity()
	a.guard.Reset()
}

// Wait blocks until all in-flight decisions have finished
func (a *Agent) Wait() {
	a.inflight.Wait()
}

// HandleMessage dispatches one raw inbound message. Malformed messages are
// dropped and reported; they never affect later messages.
func (a *Agent) HandleMessage(ctx context.Context, raw []byte) error {
	in, err := protocol.Decode(raw)
	if err != nil {
		a.logger.Warn("Dropping malformed message", "error", err)
		return err
	}

	switch in.Type {
	case protocol.TypeState:
		a.store.ApplySnapshot(*in.Snapshot)
		a.evaluate(ctx)

	case protocol.TypePlayerHand:
		a.store.SetHand(in.Hand)
		a.guard.Reset()
		a.logger.Info("New hand", "cards", cardsString(in.Hand))

	case protocol.TypeInfo:
		a.logger.Info("Server info", "message", in.Text)

	case protocol.TypeError:
		a.logger.Warn("Server error", "message", in.Text)

	default:
		a.logger.Debug("Ignoring message", "type", in.Type)
	}
	return nil
}

// evaluate runs the latest snapshot through the guard and starts a decision
// for a successful claim.
func (a *Agent) evaluate(ctx context.Context) {
	snap, ok := a.store.Snapshot()
	if !ok {
		return
	}

	v := a.guard.Evaluate(guard.Observation{
		Snapshot: snap,
		SelfID:   a.store.SelfID(),
		HasHand:  a.store.HasHand(),
	})
	if !v.Eligible() {
		a.logger.Debug("No action", "reason", v.Reason, "phase", snap.GamePhase, "turn", snap.CurrentPlayerID)
		return
	}

	if err := a.guard.Claim(v.Ticket); err != nil {
		a.logger.Debug("Claim failed", "error", err)
		return
	}

	hand := a.store.Hand()
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.act(ctx, v.Ticket, snap, hand)
	}()
}

func (a *Agent) act(ctx context.Context, t guard.Ticket, snap protocol.GameSnapshot, hand []protocol.Card) {
	logger := a.logger.With("decision", decisionID(), "round", snap.CurrentBettingRound)

	c := decision.BuildContext(snap, hand)
	logger.Info("Our turn",
		"hand", c.HandString(),
		"board", c.BoardString(),
		"pot", c.Pot,
		"toCall", c.AmountToCall,
		"minRaise", c.MinimumRaiseAmount)

	d := a.pipeline.Decide(ctx, c)

	if !a.guard.Current(t) {
		logger.Warn("Hand changed while deciding, dropping action", "action", d.String())
		return
	}

	action, err := a.emitter.Emit(ctx, d, c)
	if err != nil {
		if a.send.ReleaseOnFailure {
			a.guard.Release(t)
		} else {
			a.guard.Abandon(t)
		}
		logger.Error("Failed to send action", "action", action.ActionType, "error", err)
		a.reportSendError(err)
		return
	}

	if !a.guard.Complete(t) {
		// a new hand started while the action was on the wire; its
		// bookkeeping stays untouched so the new hand can act normally
		logger.Warn("Hand changed while sending, action belonged to the previous hand", "action", d.String())
		return
	}
	logger.Info("Sent action",
		"action", d.String(),
		"source", d.Source,
		"reasoning", d.Reasoning)

	// Snapshots that arrived while we were deciding were left for later
	if ctx.Err() == nil {
		a.evaluate(ctx)
	}
}

func (a *Agent) reportSendError(err error) {
	select {
	case a.sendErrs <- err:
	default:
		// keep the earlier unread failure
	}
}

func decisionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func cardsString(cards []protocol.Card) string {
	return decision.Context{PlayerHand: cards}.HandString()
}

// IsSendError reports whether err came from delivering an action
func IsSendError(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr)
}
