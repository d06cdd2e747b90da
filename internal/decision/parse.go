package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoJSON is returned when the response contains no JSON object
	ErrNoJSON = errors.New("no JSON object in response")
	// ErrUnknownAction is returned for an actionType outside fold/check/call/raise
	ErrUnknownAction = errors.New("unknown action type")
)

// Priority order for the keyword fallback. Fold wins over everything so an
// ambiguous answer never commits chips.
var fallbackKeywords = []ActionType{Fold, Call, Raise, Check}

var raiseAmountPattern = regexp.MustCompile(`raise[^0-9\n]{0,16}?(\d+)`)

type rawDecision struct {
	ActionType string   `json:"actionType"`
	Amount     *float64 `json:"amount"`
	Reasoning  string   `json:"reasoning"`
}

// Parse decodes a structured decision from free-form oracle text. The JSON
// object may be wrapped in code fences or surrounded by prose.
func Parse(text string) (Decision, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return Decision{}, ErrNoJSON
	}

	var raw rawDecision
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&raw); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}

	action, ok := ParseActionType(raw.ActionType)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, raw.ActionType)
	}

	d := Decision{
		ActionType: action,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Source:     SourceOracle,
	}
	if action == Raise && raw.Amount != nil {
		d.Amount = chipAmount(*raw.Amount)
	}
	return d, nil
}

// maxChipAmount bounds oracle raise amounts before conversion to int
const maxChipAmount = math.MaxInt32

// chipAmount rounds an oracle amount to whole chips. Non-finite values give
// no amount at all; everything else is clamped to [0, maxChipAmount].
func chipAmount(f float64) *int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return intPtr(int(math.Max(0, math.Min(math.Round(f), maxChipAmount))))
}

// Classify is the keyword fallback for responses that are not valid JSON. It
// looks for fold, call, raise and check (in that order, case-insensitive) and
// folds when none is present.
func Classify(text string) Decision {
	lower := strings.ToLower(text)

	for _, kw := range fallbackKeywords {
		if !strings.Contains(lower, string(kw)) {
			continue
		}
		d := Decision{
			ActionType: kw,
			Reasoning:  fmt.Sprintf("fallback: matched %q in unstructured response", kw),
			Source:     SourceFallback,
		}
		if kw == Raise {
			if m := raiseAmountPattern.FindStringSubmatch(lower); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					d.Amount = intPtr(n)
				}
			}
		}
		return d
	}

	return Decision{
		ActionType: Fold,
		Reasoning:  "fallback: no action found in unstructured response",
		Source:     SourceFallback,
	}
}

// Interpret parses structured output and falls back to keyword
// classification when that fails.
func Interpret(text string) (Decision, error) {
	d, err := Parse(text)
	if err == nil {
		return d, nil
	}
	return Classify(text), err
}
