package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"

	"github.com/lox/pokeragent/internal/decision"
	"github.com/lox/pokeragent/internal/protocol"
	"github.com/lox/pokeragent/internal/transport"
)

// Sender delivers one envelope to the server
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// ErrNoSender is returned when emitting before a connection was attached
var ErrNoSender = errors.New("no connection attached")

// SendError is returned when an action could not be delivered
type SendError struct {
	Action protocol.Action
	// Sender is the connection the send was attempted on, nil if none was
	// attached
	Sender Sender
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Action.ActionType, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// SendPolicy decides what happens when sending an action fails.
//
// Retries are extra attempts after the first, spaced by exponential backoff
// starting at Backoff. They only apply to errors the sender does not report
// as fatal; a broken or closed transport connection fails the send at once.
// Once the send has failed the decision point is
// abandoned, or released for a later snapshot to retry when
// ReleaseOnFailure is set.
type SendPolicy struct {
	Retries          int
	Backoff          time.Duration
	ReleaseOnFailure bool
}

// DefaultSendPolicy retries twice and then gives up on the decision point
func DefaultSendPolicy() SendPolicy {
	return SendPolicy{Retries: 2, Backoff: 100 * time.Millisecond}
}

// Emitter turns decisions into action envelopes. It is the only producer of
// outbound actions.
type Emitter struct {
	policy SendPolicy
	logger *log.Logger

	mu     sync.RWMutex
	sender Sender
}

// NewEmitter creates an emitter without a connection
func NewEmitter(policy SendPolicy, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Emitter{
		policy: policy,
		logger: logger.WithPrefix("emitter"),
	}
}

// Attach swaps the connection actions are sent on
func (e *Emitter) Attach(s Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = s
}

// ActionFor builds the wire payload for a decision. Raises without an amount
// fall back to the minimum raise; other actions carry no amount.
func ActionFor(d decision.Decision, c decision.Context) protocol.Action {
	action := protocol.Action{ActionType: string(d.ActionType)}
	if d.ActionType != decision.Raise {
		return action
	}

	amount := c.MinimumRaiseAmount
	if d.Amount != nil {
		amount = *d.Amount
	}
	action.Amount = &amount
	return action
}

// Emit sends exactly one action envelope, retrying transient failures per
// the send policy. Errors that leave the connection unusable are returned
// immediately.
func (e *Emitter) Emit(ctx context.Context, d decision.Decision, c decision.Context) (protocol.Action, error) {
	action := ActionFor(d, c)

	e.mu.RLock()
	sender := e.sender
	e.mu.RUnlock()
	if sender == nil {
		return action, &SendError{Action: action, Err: ErrNoSender}
	}

	env, err := protocol.NewEnvelope(protocol.TypeAction, action)
	if err != nil {
		return action, &SendError{Action: action, Sender: sender, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	if e.policy.Backoff > 0 {
		b.InitialInterval = e.policy.Backoff
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := sender.Send(ctx, env)
		if err != nil && (transport.IsFatal(err) || ctx.Err() != nil) {
			// the same connection cannot deliver it, so give up now
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(e.policy.Retries, 0)+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.logger.Warn("Send failed, retrying", "action", action.ActionType, "error", err, "wait", wait)
		}),
	)
	if err != nil {
		return action, &SendError{Action: action, Sender: sender, Err: err}
	}
	return action, nil
}

// sentOn reports whether err is a send failure on the given connection
func sentOn(err error, s Sender) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Sender != nil && sendErr.Sender == s
}
