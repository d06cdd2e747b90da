package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/pokeragent/internal/protocol"
)

func snapshot(current string, players ...protocol.Player) protocol.GameSnapshot {
	return protocol.GameSnapshot{
		Players:             players,
		CurrentPlayerID:     current,
		CurrentBettingRound: "pre-flop",
		GamePhase:           "pre-flop",
		Pot:                 30,
	}
}

func TestIdentityResolvesLazily(t *testing.T) {
	s := NewStore("GeminiBot")
	assert.Empty(t, s.SelfID())
	assert.False(t, s.IsMyTurn())

	s.ApplySnapshot(snapshot("p2", protocol.Player{ID: "p2", Name: "alice"}))
	assert.Empty(t, s.SelfID(), "no matching player yet")

	s.ApplySnapshot(snapshot("p2",
		protocol.Player{ID: "p2", Name: "alice"},
		protocol.Player{ID: "p7", Name: "GeminiBot", Status: protocol.StatusActive},
	))
	assert.Equal(t, "p7", s.SelfID())
	assert.False(t, s.IsMyTurn())

	// A later snapshot with a different seat under our name keeps the cached id
	s.ApplySnapshot(snapshot("p7",
		protocol.Player{ID: "p7", Name: "GeminiBot", Status: protocol.StatusActive},
		protocol.Player{ID: "p9", Name: "GeminiBot"},
	))
	assert.Equal(t, "p7", s.SelfID())
	assert.True(t, s.IsMyTurn())

	me, ok := s.Me()
	require.True(t, ok)
	assert.Equal(t, protocol.StatusActive, me.Status)
}

func TestSnapshotIsReplacedWholesale(t *testing.T) {
	s := NewStore("bot")
	s.ApplySnapshot(snapshot("p1", protocol.Player{ID: "p1", Name: "bot"}, protocol.Player{ID: "p2", Name: "x"}))
	s.ApplySnapshot(snapshot("p1", protocol.Player{ID: "p1", Name: "bot"}))

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Players, 1)

	// Mutating the returned copy does not leak into the store
	snap.Players[0].Name = "changed"
	again, _ := s.Snapshot()
	assert.Equal(t, "bot", again.Players[0].Name)
}

func TestSetHandReplacesPreviousHand(t *testing.T) {
	s := NewStore("bot")
	assert.False(t, s.HasHand())

	s.SetHand([]protocol.Card{{Rank: "A", Suit: "S"}, {Rank: "K", Suit: "S"}})
	assert.True(t, s.HasHand())

	s.SetHand([]protocol.Card{{Rank: "2", Suit: "C"}, {Rank: "7", Suit: "D"}})
	hand := s.Hand()
	require.Len(t, hand, 2)
	assert.Equal(t, "2C", hand[0].String())

	s.SetHand(nil)
	assert.False(t, s.HasHand())
}

func TestForgetIdentity(t *testing.T) {
	s := NewStore("bot")
	s.ApplySnapshot(snapshot("p1", protocol.Player{ID: "p1", Name: "bot"}))
	s.SetHand([]protocol.Card{{Rank: "A", Suit: "S"}, {Rank: "K", Suit: "S"}})

	s.ForgetIdentity()
	assert.Empty(t, s.SelfID())
	assert.False(t, s.HasHand())
	_, ok := s.Snapshot()
	assert.False(t, ok)
}
