package game

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

type Puzzles interface {
	Draw() *room.Puzzle
}

type Wheel interface {
	Spin() *room.WheelResult
}

// Machine applies game actions to rooms held in a store.
type Machine struct {
	store   store.RoomStore
	puzzles Puzzles
	wheel   Wheel
	cfg     Config
	actor   string
}

func NewMachine(s store.RoomStore, puzzles Puzzles, wheel Wheel, cfg Config) *Machine {
	return &Machine{store: s, puzzles: puzzles, wheel: wheel, cfg: cfg}
}

func (m *Machine) Config() Config {
	return m.cfg
}

// As returns a machine that only accepts actions from the given player:
// the host may do anything, the turn player may play its own turn.
func (m *Machine) As(playerID string) *Machine {
	c := *m
	c.actor = playerID
	return &c
}

var hostOnly = map[string]bool{"start": true, "effect": true}

func (m *Machine) allowed(r *room.Room, action string) bool {
	if m.actor == "" {
		return true
	}
	p := r.Player(m.actor)
	switch {
	case p == nil:
		return false
	case p.Role == room.RoleHost:
		return true
	case hostOnly[action]:
		return false
	}
	return r.TurnPlayerID() == m.actor
}

// run evaluates fn atomically against the stored room. Whatever fn changed is
// written, including a vowel charge on an already_used rejection.
func (m *Machine) run(ctx context.Context, code, action string, fn func(r *room.Room) Result) (Result, *room.Room, error) {
	var res Result
	r, err := store.Update(ctx, m.store, code, func(r *room.Room) error {
		if !m.allowed(r, action) {
			res = fail(ReasonNotAllowed)
			return nil
		}
		res = fn(r)
		return nil
	})
	if err != nil {
		return Result{}, nil, err
	}

	fields := log.Fields{"room": code, "action": action}
	if !res.Success && res.Reason != ReasonNotFound && res.Reason != "" {
		log.WithFields(fields).Debugf("rejected: %s", res.Reason)
	}
	if r.State == room.StateFinished && res.Success && r.Winner != nil {
		log.WithFields(fields).Infof("game finished, winner %s", r.Winner.Name)
	}
	return res, r, nil
}

func (m *Machine) StartGame(ctx context.Context, code string) (Result, *room.Room, error) {
	res, r, err := m.run(ctx, code, "start", func(r *room.Room) Result {
		return StartGame(r, m.puzzles.Draw())
	})
	if err == nil && res.Success {
		log.WithField("room", code).Infof("game started with %d players", r.ActiveCount())
	}
	return res, r, err
}

func (m *Machine) ProposeLetter(ctx context.Context, code, letter string) (Result, *room.Room, error) {
	return m.run(ctx, code, "letter", func(r *room.Room) Result {
		return ProposeLetter(r, letter)
	})
}

func (m *Machine) BuyVowel(ctx context.Context, code, letter string) (Result, *room.Room, error) {
	return m.run(ctx, code, "vowel", func(r *room.Room) Result {
		return BuyVowel(r, letter, m.cfg.VowelCost)
	})
}

func (m *Machine) SolvePuzzle(ctx context.Context, code string, success bool) (Result, *room.Room, error) {
	return m.run(ctx, code, "solve", func(r *room.Room) Result {
		return SolvePuzzle(r, success, m.cfg.RoundsPerGame, m.puzzles.Draw)
	})
}

func (m *Machine) NextPlayer(ctx context.Context, code string) (Result, *room.Room, error) {
	return m.run(ctx, code, "next", func(r *room.Room) Result {
		if reason, ok := ready(r); !ok {
			return fail(reason)
		}
		NextPlayer(r)
		return Result{Success: true}
	})
}

// Spin draws a wheel segment for the current player.
func (m *Machine) Spin(ctx context.Context, code string) (Result, *room.Room, error) {
	return m.run(ctx, code, "spin", func(r *room.Room) Result {
		return Land(r, m.wheel.Spin())
	})
}

func (m *Machine) ApplyEffect(ctx context.Context, code string, e room.Effect, targetID string) (Result, *room.Room, error) {
	return m.run(ctx, code, "effect", func(r *room.Room) Result {
		return ApplyEffect(r, e, targetID)
	})
}
