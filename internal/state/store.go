// Package state holds the agent's view of the table: the latest snapshot,
// the private hand for the current deal, and the agent's own player id.
package state

import (
	"slices"
	"sync"

	"github.com/lox/pokeragent/internal/protocol"
)

// Store is safe for concurrent use. Snapshots and hands are replaced, never
// merged.
type Store struct {
	name string

	mu       sync.RWMutex
	snapshot *protocol.GameSnapshot
	hand     []protocol.Card
	selfID   string
}

// NewStore creates a store that recognises itself by display name
func NewStore(name string) *Store {
	return &Store{name: name}
}

// Name returns the display name used for self recognition
func (s *Store) Name() string {
	return s.name
}

// ApplySnapshot installs a new snapshot. The first snapshot containing a
// player named like the agent resolves and caches the agent's id.
func (s *Store) ApplySnapshot(snap protocol.GameSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = &snap
	if s.selfID == "" {
		if p, ok := snap.PlayerByName(s.name); ok {
			s.selfID = p.ID
		}
	}
}

// SetHand clears any held hand and installs the new one
func (s *Store) SetHand(cards []protocol.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hand = nil
	if len(cards) > 0 {
		s.hand = slices.Clone(cards)
	}
}

// ForgetIdentity drops everything learned on the current connection. The
// server assigns a new player id when we reconnect.
func (s *Store) ForgetIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selfID = ""
	s.snapshot = nil
	s.hand = nil
}

// Snapshot returns a copy of the latest snapshot
func (s *Store) Snapshot() (protocol.GameSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return protocol.GameSnapshot{}, false
	}
	snap := *s.snapshot
	snap.Players = slices.Clone(snap.Players)
	snap.CommunityCards = slices.Clone(snap.CommunityCards)
	return snap, true
}

// Hand returns a copy of the held hand, or nil if none is held
func (s *Store) Hand() []protocol.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.hand)
}

// HasHand reports whether private cards are held for the current deal
func (s *Store) HasHand() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hand) > 0
}

// SelfID returns the cached player id, empty until resolved
func (s *Store) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfID
}

// IsMyTurn compares the cached id against the snapshot's current actor
func (s *Store) IsMyTurn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil || s.selfID == "" {
		return false
	}
	return s.snapshot.CurrentPlayerID == s.selfID
}

// Me returns the agent's own seat in the latest snapshot
func (s *Store) Me() (protocol.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil || s.selfID == "" {
		return protocol.Player{}, false
	}
	return s.snapshot.Player(s.selfID)
}
