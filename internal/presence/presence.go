// Package presence tracks which players are live, from heartbeats and a
// grace window after a disconnect.
package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

var ErrUnknownPlayer = errors.New("player is not in the room")

type Timings struct {
	HeartbeatTimeout time.Duration
	Grace            time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		HeartbeatTimeout: 15 * time.Second,
		Grace:            120 * time.Second,
	}
}

// MarkConnected revives player i. A returning host lifts the pause it caused.
func MarkConnected(r *room.Room, i int, now time.Time) {
	turn := r.TurnPlayerID()
	p := &r.Players[i]
	p.Connected = true
	p.LastHeartbeat = now
	p.DisconnectedAt = nil
	r.RetargetTurn(turn)

	if p.Role == room.RoleHost {
		failover.Resume(r)
	}
}

// CanRevive reports whether player i may come back online without pushing the
// connected players past limit. Hosts always may; limit <= 0 means no cap.
func CanRevive(r *room.Room, i, limit int) bool {
	p := r.Players[i]
	return p.Connected || p.Role != room.RolePlayer || limit <= 0 || r.ActiveCount() < limit
}

// MarkDisconnected starts player i's grace window. A host dropping out of a
// running game pauses it.
func MarkDisconnected(r *room.Room, i int, now time.Time) {
	turn := r.TurnPlayerID()
	p := &r.Players[i]
	if !p.Connected && p.DisconnectedAt != nil {
		return
	}
	p.Connected = false
	p.DisconnectedAt = &now
	r.RetargetTurn(turn)

	if p.Role == room.RoleHost {
		failover.Pause(r, now)
	}
}

// Expire marks players with a stale heartbeat as disconnected and removes
// those whose grace window ran out. It returns the removed players.
func Expire(r *room.Room, now time.Time, t Timings) []room.Player {
	for i := range r.Players {
		p := &r.Players[i]
		if p.Connected && now.Sub(p.LastHeartbeat) > t.HeartbeatTimeout {
			MarkDisconnected(r, i, now)
		}
	}

	turn := r.TurnPlayerID()
	var removed []room.Player
	kept := r.Players[:0]
	for _, p := range r.Players {
		if !p.Connected && p.DisconnectedAt != nil && now.Sub(*p.DisconnectedAt) > t.Grace {
			removed = append(removed, p)
			continue
		}
		kept = append(kept, p)
	}
	r.Players = kept
	if len(removed) > 0 {
		r.RetargetTurn(turn)
	}
	return removed
}

// DisconnectTimeRemaining is the number of whole seconds player p still has to
// reconnect, or 0 if p never disconnected.
func DisconnectTimeRemaining(p *room.Player, now time.Time, grace time.Duration) int {
	if p.DisconnectedAt == nil {
		return 0
	}
	left := grace.Milliseconds() - now.Sub(*p.DisconnectedAt).Milliseconds()
	if left <= 0 {
		return 0
	}
	return int(left / 1000)
}

type MatchKind int

const (
	Fresh MatchKind = iota
	Resume
	NameTaken
)

// Match is the outcome of looking a joining name up in the room.
type Match struct {
	Kind  MatchKind
	Index int // player to resume, for Resume
}

// MatchReconnect compares name case-insensitively with the room's players. An
// expired record is dropped from r so the name can be reused.
func MatchReconnect(r *room.Room, name string, now time.Time, grace time.Duration) Match {
	i := r.PlayerByName(strings.TrimSpace(name))
	if i < 0 {
		return Match{Kind: Fresh}
	}

	p := &r.Players[i]
	switch {
	case p.Connected:
		return Match{Kind: NameTaken}
	case p.DisconnectedAt != nil && now.Sub(*p.DisconnectedAt) > grace:
		r.Players = append(r.Players[:i], r.Players[i+1:]...)
		return Match{Kind: Fresh}
	}
	return Match{Kind: Resume, Index: i}
}

type Tracker struct {
	store      store.RoomStore
	clock      clock.Clock
	timings    Timings
	maxPlayers int
}

func NewTracker(s store.RoomStore, clk clock.Clock, t Timings) *Tracker {
	return &Tracker{store: s, clock: clk, timings: t}
}

// Limit caps how many players a heartbeat may bring back online. Zero, the
// default, means no cap.
func (t *Tracker) Limit(maxPlayers int) *Tracker {
	t.maxPlayers = maxPlayers
	return t
}

func (t *Tracker) Timings() Timings {
	return t.timings
}

// Heartbeat refreshes the player's liveness. A disconnected player stays
// offline while the room is full.
func (t *Tracker) Heartbeat(ctx context.Context, code, playerID string) (*room.Room, error) {
	return store.Update(ctx, t.store, code, func(r *room.Room) error {
		i := r.PlayerIndex(playerID)
		if i < 0 {
			return ErrUnknownPlayer
		}
		if !CanRevive(r, i, t.maxPlayers) {
			return nil
		}
		MarkConnected(r, i, t.clock.Now())
		return nil
	})
}

func (t *Tracker) MarkDisconnected(ctx context.Context, code, playerID string) (*room.Room, error) {
	r, err := store.Update(ctx, t.store, code, func(r *room.Room) error {
		i := r.PlayerIndex(playerID)
		if i < 0 {
			return ErrUnknownPlayer
		}
		MarkDisconnected(r, i, t.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"room": code, "player": playerID}).Info("player disconnected")
	return r, nil
}

// Sweep applies Expire to the stored room. Removing the last player deletes
// the room.
func (t *Tracker) Sweep(ctx context.Context, code string) (*room.Room, error) {
	var removed []room.Player
	r, err := store.Update(ctx, t.store, code, func(r *room.Room) error {
		removed = Expire(r, t.clock.Now(), t.timings)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range removed {
		log.WithFields(log.Fields{"room": code, "player": p.ID}).Infof("%s removed after disconnect grace", p.Name)
	}
	if store.Abandoned(r) {
		log.WithField("room", code).Info("room deleted, no players left")
	}
	return r, nil
}

func (t *Tracker) TimeRemaining(p *room.Player) int {
	return DisconnectTimeRemaining(p, t.clock.Now(), t.timings.Grace)
}
