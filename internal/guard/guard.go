// Package guard decides when a game snapshot is a new decision point for the
// agent and makes sure each decision point is acted on at most once.
//
// Each snapshot is evaluated in a fixed order: duplicate suppression by
// fingerprint, eligibility (our turn, active, holding cards), the post-action
// cooldown, new round or bet escalation detection, and finally the
// "already acted" check. An eligible snapshot yields a Ticket which must be
// claimed before acting and then completed, released or abandoned.
package guard

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/pokeragent/internal/protocol"
)

// DefaultCooldown is the minimum spacing between two actions. The server
// echoes every applied action as a fresh snapshot; anything arriving inside
// this window is treated as that echo.
const DefaultCooldown = 2000 * time.Millisecond

var (
	// ErrClaimLost is returned when the decision point was claimed already
	ErrClaimLost = errors.New("decision point already claimed")
	// ErrStaleTicket is returned for tickets issued before the last hand reset
	ErrStaleTicket = errors.New("ticket belongs to a previous hand")
)

// Phase is the guard's externally visible state
type Phase int

const (
	Idle Phase = iota
	Eligible
	Acting
	Cooling
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Eligible:
		return "eligible"
	case Acting:
		return "acting"
	case Cooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// Reason explains an evaluation outcome
type Reason string

const (
	ReasonDuplicate          Reason = "duplicate"
	ReasonInFlight           Reason = "in-flight"
	ReasonIdentityUnresolved Reason = "identity-unresolved"
	ReasonNotMyTurn          Reason = "not-my-turn"
	ReasonNotActive          Reason = "not-active"
	ReasonNoHand             Reason = "no-hand"
	ReasonCooling            Reason = "cooling"
	ReasonAlreadyActed       Reason = "already-acted"
	ReasonEligible           Reason = "eligible"
)

// Observation is everything the guard looks at for one snapshot
type Observation struct {
	Snapshot protocol.GameSnapshot
	SelfID   string
	HasHand  bool
}

// Ticket names one decision point. It is only valid within the hand (epoch)
// it was issued in.
type Ticket struct {
	Epoch    uint64
	RoundKey RoundKey
	BetLevel int
}

// Verdict is the outcome of Evaluate. Ticket is only meaningful when Reason
// is ReasonEligible.
type Verdict struct {
	Reason Reason
	Ticket Ticket
}

// Eligible reports whether the snapshot is an actionable decision point
func (v Verdict) Eligible() bool {
	return v.Reason == ReasonEligible
}

// State is the guard's bookkeeping for the current hand
type State struct {
	Phase          Phase
	Acted          bool
	RoundKey       RoundKey
	HasRoundKey    bool
	BetLevel       int
	LastActionAt   time.Time
	Fingerprint    Fingerprint
	HasFingerprint bool
	Epoch          uint64
}

// Guard is the turn-detection state machine. All transitions happen under a
// single mutex; no lock is held while the caller talks to the oracle.
type Guard struct {
	clock    quartz.Clock
	cooldown time.Duration
	logger   *log.Logger

	mu sync.Mutex
	st State
}

// New creates a guard. A zero cooldown uses DefaultCooldown.
func New(clock quartz.Clock, cooldown time.Duration, logger *log.Logger) *Guard {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Guard{
		clock:    clock,
		cooldown: cooldown,
		logger:   logger.WithPrefix("guard"),
	}
}

// State returns a copy of the current bookkeeping
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}

// Evaluate runs one snapshot through the state machine
func (g *Guard) Evaluate(obs Observation) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := obs.Snapshot
	fp := FingerprintOf(snap)

	if g.st.HasFingerprint && g.st.Fingerprint == fp {
		return Verdict{Reason: ReasonDuplicate}
	}

	// A claim is still being worked on. Leave the fingerprint alone so the
	// same snapshot is looked at again once the action has gone out.
	if g.st.Phase == Acting {
		return Verdict{Reason: ReasonInFlight}
	}

	if reason, ok := g.eligibility(obs); !ok {
		g.remember(fp, Idle)
		return Verdict{Reason: reason}
	}

	if !g.st.LastActionAt.IsZero() && g.clock.Since(g.st.LastActionAt) < g.cooldown {
		g.remember(fp, Cooling)
		return Verdict{Reason: ReasonCooling}
	}

	key := RoundKeyOf(snap)
	switch {
	case !g.st.HasRoundKey || key != g.st.RoundKey:
		if g.st.Acted {
			g.logger.Debug("New betting round", "round", key)
		}
		g.st.Acted = false
		g.st.BetLevel = 0
	case snap.MinimumBetForCall > g.st.BetLevel:
		g.logger.Debug("Bet level raised", "from", g.st.BetLevel, "to", snap.MinimumBetForCall)
		g.st.Acted = false
	}

	if g.st.Acted {
		g.remember(fp, Idle)
		return Verdict{Reason: ReasonAlreadyActed}
	}

	g.remember(fp, Eligible)
	return Verdict{
		Reason: ReasonEligible,
		Ticket: Ticket{
			Epoch:    g.st.Epoch,
			RoundKey: key,
			BetLevel: snap.MinimumBetForCall,
		},
	}
}

func (g *Guard) eligibility(obs Observation) (Reason, bool) {
	if obs.SelfID == "" {
		return ReasonIdentityUnresolved, false
	}
	if obs.Snapshot.CurrentPlayerID != obs.SelfID {
		return ReasonNotMyTurn, false
	}
	me, ok := obs.Snapshot.Player(obs.SelfID)
	if !ok || me.Status != protocol.StatusActive {
		return ReasonNotActive, false
	}
	if !obs.HasHand {
		return ReasonNoHand, false
	}
	return "", true
}

func (g *Guard) remember(fp Fingerprint, phase Phase) {
	g.st.Fingerprint = fp
	g.st.HasFingerprint = true
	g.st.Phase = phase
}

// Claim atomically marks the ticket's decision point as being handled. Only
// one caller can win a claim for a given decision point.
func (g *Guard) Claim(t Ticket) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Epoch != g.st.Epoch {
		return ErrStaleTicket
	}
	if g.st.Acted {
		return ErrClaimLost
	}
	g.st.Acted = true
	g.st.Phase = Acting
	return nil
}

// Complete records a successfully sent action and starts the cooldown. It
// returns false if the ticket was invalidated by a hand reset.
func (g *Guard) Complete(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Epoch != g.st.Epoch {
		return false
	}
	g.st.RoundKey = t.RoundKey
	g.st.HasRoundKey = true
	g.st.BetLevel = t.BetLevel
	g.st.LastActionAt = g.clock.Now()
	g.st.Phase = Cooling
	return true
}

// Release gives up a claim without acting, so a later snapshot can retry the
// same decision point.
func (g *Guard) Release(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Epoch != g.st.Epoch {
		return false
	}
	g.st.Acted = false
	g.st.HasFingerprint = false
	g.st.Phase = Idle
	return true
}

// Abandon marks the decision point as consumed even though no action reached
// the server. No cooldown is started since the server has nothing to echo.
func (g *Guard) Abandon(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.Epoch != g.st.Epoch {
		return false
	}
	g.st.RoundKey = t.RoundKey
	g.st.HasRoundKey = true
	g.st.BetLevel = t.BetLevel
	g.st.Phase = Idle
	return true
}

// Current reports whether the ticket was issued for the current hand
func (g *Guard) Current(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return t.Epoch == g.st.Epoch
}

// Reset clears all bookkeeping for a new hand. Outstanding tickets become
// stale.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.st = State{Epoch: g.st.Epoch + 1}
}
