package decision

import "fmt"

// FoldWhenFree controls what happens when the oracle folds although checking
// costs nothing.
type FoldWhenFree string

const (
	// FoldWhenFreeCheck turns a free fold into a check
	FoldWhenFreeCheck FoldWhenFree = "check"
	// FoldWhenFreeAllow sends the fold as recommended
	FoldWhenFreeAllow FoldWhenFree = "allow"
)

// ParseFoldWhenFree validates a configured policy value
func ParseFoldWhenFree(s string) (FoldWhenFree, error) {
	switch p := FoldWhenFree(s); p {
	case FoldWhenFreeCheck, FoldWhenFreeAllow:
		return p, nil
	case "":
		return FoldWhenFreeCheck, nil
	default:
		return "", fmt.Errorf("invalid fold_when_free policy %q (want check or allow)", s)
	}
}

// Policy post-processes every decision before it is sent
type Policy struct {
	FoldWhenFree FoldWhenFree
}

// DefaultPolicy never folds when checking is free
func DefaultPolicy() Policy {
	return Policy{FoldWhenFree: FoldWhenFreeCheck}
}

// Normalize applies the table rules the agent enforces on itself:
//   - nothing to call: call becomes check, and fold becomes check unless
//     the policy allows free folds
//   - raises carry an amount of at least the minimum raise
//   - everything else carries no amount
func (p Policy) Normalize(d Decision, c Context) Decision {
	if _, ok := ParseActionType(string(d.ActionType)); !ok {
		d = Decision{
			ActionType: Fold,
			Reasoning:  fmt.Sprintf("unrecognised action %q", d.ActionType),
			Source:     d.Source,
		}
	}

	if c.AmountToCall == 0 {
		switch {
		case d.ActionType == Call:
			d.ActionType = Check
		case d.ActionType == Fold && p.FoldWhenFree != FoldWhenFreeAllow:
			d.ActionType = Check
			d.Reasoning = appendReason(d.Reasoning, "nothing to call, checking instead of folding")
		}
	}

	if d.ActionType != Raise {
		d.Amount = nil
		return d
	}

	if d.Amount == nil || *d.Amount < c.MinimumRaiseAmount {
		d.Amount = intPtr(c.MinimumRaiseAmount)
	}
	return d
}

func appendReason(reason, note string) string {
	if reason == "" {
		return note
	}
	return reason + " (" + note + ")"
}
