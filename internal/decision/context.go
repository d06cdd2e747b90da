package decision

import (
	"slices"
	"strings"

	"github.com/lox/pokeragent/internal/protocol"
)

// PlayerInfo is the oracle's view of an opponent still in the hand
type PlayerInfo struct {
	Name       string `json:"name"`
	Chips      int    `json:"chips"`
	CurrentBet int    `json:"currentBet"`
}

// Context is everything the oracle gets to see for one decision point. It is
// rebuilt for every decision and never reused.
type Context struct {
	PlayerHand         []protocol.Card `json:"playerHand"`
	CommunityCards     []protocol.Card `json:"communityCards"`
	ActivePlayers      []PlayerInfo    `json:"activePlayers"`
	Pot                int             `json:"pot"`
	AmountToCall       int             `json:"amountToCall"`
	MinimumRaiseAmount int             `json:"minimumRaiseAmount"`
	BettingRound       string          `json:"bettingRound"`
}

// BuildContext derives the decision context from a snapshot and the held hand
func BuildContext(snap protocol.GameSnapshot, hand []protocol.Card) Context {
	players := make([]PlayerInfo, 0, len(snap.Players))
	for _, p := range snap.Players {
		if p.Status != protocol.StatusActive && p.Status != protocol.StatusAllIn {
			continue
		}
		players = append(players, PlayerInfo{
			Name:       p.Name,
			Chips:      p.Chips,
			CurrentBet: p.CurrentBet,
		})
	}

	community := slices.Clone(snap.CommunityCards)
	if community == nil {
		community = []protocol.Card{}
	}

	return Context{
		PlayerHand:         slices.Clone(hand),
		CommunityCards:     community,
		ActivePlayers:      players,
		Pot:                snap.Pot,
		AmountToCall:       snap.MinimumBetForCall,
		MinimumRaiseAmount: snap.MinimumRaiseAmount,
		BettingRound:       snap.CurrentBettingRound,
	}
}

// HandString renders the private cards as "AH KD"
func (c Context) HandString() string {
	return cardsString(c.PlayerHand)
}

// BoardString renders the community cards as "AH KD 2C"
func (c Context) BoardString() string {
	return cardsString(c.CommunityCards)
}

func cardsString(cards []protocol.Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
