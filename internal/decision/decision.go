// Package decision turns a game snapshot into exactly one action: it builds
// the context handed to the oracle, interprets whatever the oracle says and
// applies the table policy to the result.
package decision

import (
	"fmt"
	"strings"
)

// ActionType is one of the four actions the server accepts
type ActionType string

const (
	Fold  ActionType = "fold"
	Check ActionType = "check"
	Call  ActionType = "call"
	Raise ActionType = "raise"
)

// ParseActionType accepts any casing and surrounding whitespace
func ParseActionType(s string) (ActionType, bool) {
	switch a := ActionType(strings.ToLower(strings.TrimSpace(s))); a {
	case Fold, Check, Call, Raise:
		return a, true
	default:
		return "", false
	}
}

// Source records where a decision came from
type Source string

const (
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
	SourceDefault  Source = "default"
)

// Decision is the action to take. Amount is only meaningful for raises.
type Decision struct {
	ActionType ActionType `json:"actionType"`
	Amount     *int       `json:"amount,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Source     Source     `json:"-"`
}

func (d Decision) String() string {
	if d.ActionType == Raise && d.Amount != nil {
		return fmt.Sprintf("raise %d", *d.Amount)
	}
	return string(d.ActionType)
}

// DefaultFold is the decision used when the oracle cannot be consulted
func DefaultFold(cause error) Decision {
	return Decision{
		ActionType: Fold,
		Reasoning:  fmt.Sprintf("oracle unavailable, folding by default: %v", cause),
		Source:     SourceDefault,
	}
}

func intPtr(n int) *int {
	return &n
}
