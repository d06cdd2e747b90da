package decision

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Oracle recommends an action for a decision context. The response is free
// text that is expected, but not guaranteed, to contain a JSON decision.
type Oracle interface {
	Recommend(ctx context.Context, c Context) (string, error)
}

// StructuredOracle is implemented by oracles that produce a Decision
// directly. The pipeline prefers it over Recommend when available.
type StructuredOracle interface {
	RecommendDecision(ctx context.Context, c Context) (Decision, error)
}

// DefaultTimeout bounds a single oracle call
const DefaultTimeout = 20 * time.Second

// Pipeline consults the oracle and always produces a usable decision
type Pipeline struct {
	oracle  Oracle
	policy  Policy
	timeout time.Duration
	logger  *log.Logger
}

// NewPipeline wires an oracle to a policy
func NewPipeline(oracle Oracle, policy Policy, timeout time.Duration, logger *log.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Pipeline{
		oracle:  oracle,
		policy:  policy,
		timeout: timeout,
		logger:  logger.WithPrefix("decision"),
	}
}

// Decide never fails: oracle errors and timeouts become a default fold, and
// unparseable answers go through the keyword fallback. The result has
// already been normalized by the policy.
func (p *Pipeline) Decide(ctx context.Context, c Context) Decision {
	d := p.consult(ctx, c)
	normalized := p.policy.Normalize(d, c)
	if normalized.ActionType != d.ActionType {
		p.logger.Info("Adjusted decision",
			"from", d.ActionType,
			"to", normalized.ActionType,
			"toCall", c.AmountToCall)
	}
	return normalized
}

func (p *Pipeline) consult(ctx context.Context, c Context) Decision {
	if p.oracle == nil {
		return DefaultFold(errors.New("no oracle configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	if so, ok := p.oracle.(StructuredOracle); ok {
		d, err := so.RecommendDecision(ctx, c)
		if err != nil {
			p.logger.Warn("Oracle failed", "error", err, "elapsed", time.Since(start))
			return DefaultFold(err)
		}
		if d.Source == "" {
			d.Source = SourceOracle
		}
		return d
	}

	text, err := p.oracle.Recommend(ctx, c)
	if err != nil {
		p.logger.Warn("Oracle failed", "error", err, "elapsed", time.Since(start))
		return DefaultFold(err)
	}

	d, err := Interpret(text)
	if err != nil {
		p.logger.Debug("Unstructured oracle response, using keyword fallback",
			"error", err,
			"action", d.ActionType)
	}
	p.logger.Debug("Oracle answered",
		"hand", c.HandString(),
		"board", c.BoardString(),
		"action", d.ActionType,
		"source", d.Source,
		"elapsed", time.Since(start))
	return d
}
