package main

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/game"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/session"
)

// letters in rough order of frequency
const letterOrder = "ESARINTULODCPMVGFBHQJXYZKW"

var errStuck = errors.New("robot table made no progress")

// table is a host and its robot players sharing one room.
type table struct {
	f         *session.Facade
	host      session.Session
	players   map[string]session.Session // by player id
	vowelCost int
}

func (t *table) code() string {
	return t.host.Code
}

// solved reports whether every letter of the puzzle is revealed.
func solved(r *room.Room) bool {
	for _, c := range r.Puzzle.Solution {
		if c < 'A' || c > 'Z' {
			continue
		}
		if !room.Contains(r.RevealedLetters, string(c)) {
			return false
		}
	}
	return true
}

// pick chooses the next letter for the turn player. vowel is true when it has
// to be bought.
func (t *table) pick(r *room.Room) (letter string, vowel bool) {
	money := 0
	if p := r.TurnPlayer(); p != nil {
		money = p.RoundMoney
	}
	for _, c := range letterOrder {
		l := string(c)
		if room.Contains(r.UsedLetters, l) {
			continue
		}
		if game.IsVowel(l) {
			if money >= t.vowelCost {
				return l, true
			}
			continue
		}
		return l, false
	}
	return "", false
}

// target picks another connected player for a targeted effect.
func target(r *room.Room, actor string) string {
	for _, i := range r.ActiveIndexes() {
		if r.Players[i].ID != actor {
			return r.Players[i].ID
		}
	}
	return ""
}

// move plays one action of the current turn and reports whether the game is
// over.
func (t *table) move(ctx context.Context) (bool, error) {
	r, err := t.f.GetRoomData(ctx, t.code())
	if err != nil {
		return false, err
	}
	if r.State == room.StateFinished {
		return true, nil
	}
	if r.Paused {
		return false, nil
	}

	id := r.TurnPlayerID()
	me, ok := t.players[id]
	if !ok {
		_, _, err := t.f.NextPlayer(ctx, t.host)
		return false, err
	}
	fields := log.Fields{"room": t.code(), "player": id}

	if solved(r) {
		_, _, err := t.f.SolvePuzzle(ctx, me, true)
		log.WithFields(fields).Infof("solved %q", r.Puzzle.Solution)
		return false, err
	}

	letter, vowel := t.pick(r)
	if letter == "" {
		_, _, err := t.f.SolvePuzzle(ctx, me, true)
		return false, err
	}
	if vowel {
		res, _, err := t.f.BuyVowel(ctx, me, letter)
		log.WithFields(fields).Debugf("bought %s: %+v", letter, res)
		return false, err
	}

	res, r, err := t.f.Spin(ctx, me)
	if err != nil || !res.Success {
		return false, err
	}
	if r.TurnPlayerID() != id {
		log.WithFields(fields).Info("wheel passed the turn")
		return false, nil
	}
	if w := r.WheelResult; w != nil && w.Effect.Targeted() {
		if _, _, err := t.f.ApplyEffect(ctx, t.host, w.Effect, target(r, id)); err != nil {
			return false, err
		}
		log.WithFields(fields).Infof("wheel: %s", w.Effect)
	}

	res, _, err = t.f.ProposeLetter(ctx, me, letter)
	log.WithFields(fields).Debugf("proposed %s: %+v", letter, res)
	return false, err
}

// play runs moves until the game finishes or maxMoves is spent.
func (t *table) play(ctx context.Context, maxMoves int) (*room.Room, error) {
	for i := 0; i < maxMoves; i++ {
		done, err := t.move(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return t.f.GetRoomData(ctx, t.code())
		}
	}
	return nil, errStuck
}

func robotNames(n int) []string {
	names := []string{"Abelo", "Meron", "Dawit", "Liya", "Yonas", "Eden"}
	if n > len(names) {
		n = len(names)
	}
	return names[:n]
}

// seat creates the room and sits n robots at it.
func seat(ctx context.Context, f *session.Facade, hostName string, n int, vowelCost int) (*table, error) {
	created, err := f.CreateRoom(ctx, hostName, room.RoleHost)
	if err != nil {
		return nil, err
	}
	if !created.Success {
		return nil, errors.New(created.Error)
	}

	t := &table{f: f, host: created.Session, players: map[string]session.Session{}, vowelCost: vowelCost}
	for _, name := range robotNames(n) {
		joined, err := f.JoinRoom(ctx, created.Code, name, room.RolePlayer)
		if err != nil {
			return nil, err
		}
		if !joined.Success {
			return nil, errors.New(joined.Error)
		}
		t.players[joined.Session.PlayerID] = joined.Session
	}
	return t, nil
}

func (t *table) leave(ctx context.Context) {
	for _, s := range t.players {
		if err := t.f.LeaveRoom(ctx, s); err != nil {
			log.WithField("room", t.code()).Errorf("robot failed to leave: %v", err)
		}
	}
	if err := t.f.LeaveRoom(ctx, t.host); err != nil {
		log.WithField("room", t.code()).Errorf("host failed to leave: %v", err)
	}
}
