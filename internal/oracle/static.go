package oracle

import (
	"context"

	"github.com/lox/pokeragent/internal/decision"
)

// Static always answers with the same text. Used for replays and tests.
type Static struct {
	Response string
}

// Recommend returns the configured response
func (s Static) Recommend(ctx context.Context, _ decision.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Response, nil
}
