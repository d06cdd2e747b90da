package protocol

import "encoding/json"

// MessageType identifies the type of envelope on the wire
type MessageType string

const (
	// Client -> Server
	TypeJoin   MessageType = "join"
	TypeAction MessageType = "action"

	// Server -> Client
	TypeState      MessageType = "state"
	TypePlayerHand MessageType = "player_hand"
	TypeInfo       MessageType = "info"
	TypeError      MessageType = "error"
)

// Envelope is the frame used in both directions: {"type": ..., "payload": ...}
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Card is a single playing card, e.g. {"rank":"A","suit":"H"}
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

// String renders the card as rank followed by suit ("AH", "TD")
func (c Card) String() string {
	return c.Rank + c.Suit
}

// PlayerStatus is the seat status reported by the server
type PlayerStatus string

const (
	StatusActive     PlayerStatus = "active"
	StatusFolded     PlayerStatus = "folded"
	StatusAllIn      PlayerStatus = "all-in"
	StatusSittingOut PlayerStatus = "sitting-out"
	StatusSpectator  PlayerStatus = "spectator"
)

// Player is one seat in a GameSnapshot
type Player struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Chips        int          `json:"chips"`
	Status       PlayerStatus `json:"status"`
	CurrentBet   int          `json:"currentBet"`
	IsDealer     bool         `json:"isDealer"`
	IsSmallBlind bool         `json:"isSmallBlind"`
	IsBigBlind   bool         `json:"isBigBlind"`
	IsSpectator  bool         `json:"isSpectator"`
}

// GameSnapshot is the full table state broadcast with every "state" message.
// A new snapshot always replaces the previous one; there is no partial merge.
type GameSnapshot struct {
	Players             []Player `json:"players"`
	CommunityCards      []Card   `json:"communityCards"`
	Pot                 int      `json:"pot"`
	CurrentBettingRound string   `json:"currentBettingRound"`
	CurrentPlayerID     string   `json:"currentPlayerId"`
	GamePhase           string   `json:"gamePhase"`
	Message             string   `json:"message"`
	MinimumRaiseAmount  int      `json:"minimumRaiseAmount"`
	MinimumBetForCall   int      `json:"minimumBetForCall"`
}

// Player returns the seat with the given id
func (s *GameSnapshot) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerByName returns the first seat whose display name matches
func (s *GameSnapshot) PlayerByName(name string) (Player, bool) {
	for _, p := range s.Players {
		if p.Name == name {
			return p, true
		}
	}
	return Player{}, false
}

// Join is sent once after connecting
type Join struct {
	Name string `json:"name"`
}

// Action is the only message the agent sends in response to game state.
// Amount is set for raises only.
type Action struct {
	ActionType string `json:"actionType"`
	Amount     *int   `json:"amount,omitempty"`
}
