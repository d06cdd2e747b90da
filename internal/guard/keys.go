package guard

import (
	"fmt"

	"github.com/lox/pokeragent/internal/protocol"
)

// Fingerprint identifies a snapshot for duplicate suppression. Two snapshots
// with the same fingerprint are treated as the same server notification.
//
// Fields: game phase, betting round, current actor, pot, amount to call and
// status message.
type Fingerprint struct {
	GamePhase       string
	BettingRound    string
	CurrentPlayerID string
	Pot             int
	ToCall          int
	Message         string
}

// FingerprintOf derives the fingerprint of a snapshot
func FingerprintOf(s protocol.GameSnapshot) Fingerprint {
	return Fingerprint{
		GamePhase:       s.GamePhase,
		BettingRound:    s.CurrentBettingRound,
		CurrentPlayerID: s.CurrentPlayerID,
		Pot:             s.Pot,
		ToCall:          s.MinimumBetForCall,
		Message:         s.Message,
	}
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s/%s/pot=%d/call=%d/%q",
		f.GamePhase, f.BettingRound, f.CurrentPlayerID, f.Pot, f.ToCall, f.Message)
}

// RoundKey identifies a betting round for the purpose of acting once per
// round. Together with the bet level it names a decision point.
//
// Fields: game phase, betting round, pot and status message.
type RoundKey struct {
	GamePhase    string
	BettingRound string
	Pot          int
	Message      string
}

// RoundKeyOf derives the round key of a snapshot
func RoundKeyOf(s protocol.GameSnapshot) RoundKey {
	return RoundKey{
		GamePhase:    s.GamePhase,
		BettingRound: s.CurrentBettingRound,
		Pot:          s.Pot,
		Message:      s.Message,
	}
}

func (k RoundKey) String() string {
	return fmt.Sprintf("%s/%s/pot=%d/%q", k.GamePhase, k.BettingRound, k.Pot, k.Message)
}
