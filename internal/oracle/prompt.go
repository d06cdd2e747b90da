package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lox/pokeragent/internal/decision"
)

const instructions = `You are a professional Texas Hold'em poker bot. ` +
	`Given the following JSON context, recommend the statistically most advantageous move (fold, call, raise, or check). ` +
	`Do NOT risk all your chips (go all-in or raise to all-in) unless the probability of winning the hand is above 95%. ` +
	`If you choose to raise, suggest a statistically optimal amount to raise (at least minimumRaiseAmount). ` +
	`Never fold or call when amountToCall is 0; check instead. ` +
	`Reply ONLY with a single JSON object: { "actionType": string, "amount": number (required if actionType is 'raise', omit otherwise), "reasoning": string }. ` +
	`Do not include any other text.`

// BuildPrompt renders the decision context into the model prompt
func BuildPrompt(c decision.Context) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\nContext: ")
	sb.Write(data)
	sb.WriteString("\nRecommended action:")
	return sb.String(), nil
}
