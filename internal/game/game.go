// Package game implements the round lifecycle of the word wheel: letters,
// vowels, solving, turn rotation, wheel effects and the winner.
//
// The functions taking a *room.Room are pure and act for the player whose
// turn it is. Machine runs them against a store.
package game

import (
	"strings"

	"github.com/avvvet/wheel-services/internal/room"
)

type Reason string

const (
	ReasonNoPuzzle         Reason = "no_puzzle"
	ReasonPaused           Reason = "paused"
	ReasonAlreadyUsed      Reason = "already_used"
	ReasonNotFound         Reason = "not_found"
	ReasonNotEnoughMoney   Reason = "not_enough_money"
	ReasonNoPlayer         Reason = "no_player"
	ReasonNotAVowel        Reason = "not_a_vowel"
	ReasonInvalidLetter    Reason = "invalid_letter"
	ReasonInvalidTarget    Reason = "invalid_target"
	ReasonNotPlaying       Reason = "not_playing"
	ReasonNotEnoughPlayers Reason = "not_enough_players"
	ReasonNotAllowed       Reason = "not_allowed"
)

type Result struct {
	Success     bool   `json:"success"`
	Count       int    `json:"count,omitempty"`
	KeepPlaying bool   `json:"keepPlaying,omitempty"`
	Reason      Reason `json:"reason,omitempty"`
}

func fail(r Reason) Result {
	return Result{Reason: r}
}

const Vowels = "AEIOUY"

const MinPlayers = 2

type Config struct {
	VowelCost     int
	RoundsPerGame int
}

func DefaultConfig() Config {
	return Config{VowelCost: 250, RoundsPerGame: 5}
}

// normalizeLetter returns the upper-cased letter, or "" unless s is exactly
// one ASCII letter.
func normalizeLetter(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return ""
	}
	return s
}

func IsVowel(letter string) bool {
	return len(letter) == 1 && strings.Contains(Vowels, letter)
}

func resetRound(r *room.Room, pz *room.Puzzle) {
	r.Puzzle = pz
	r.UsedLetters = []string{}
	r.RevealedLetters = []string{}
	r.WheelResult = nil
	r.CurrentPlayerIndex = 0
}

// StartGame opens round one. It needs a lobby with MinPlayers connected players.
func StartGame(r *room.Room, pz *room.Puzzle) Result {
	if r.State != room.StateLobby {
		return fail(ReasonNotPlaying)
	}
	if r.ActiveCount() < MinPlayers {
		return fail(ReasonNotEnoughPlayers)
	}

	r.State = room.StatePlaying
	r.CurrentRound = 1
	resetRound(r, pz)
	r.Paused = false
	r.PausedAt = nil
	r.PauseReason = room.PauseNone
	r.Vote = nil
	r.Winner = nil
	for i := range r.Players {
		r.Players[i].RoundMoney = 0
		r.Players[i].TotalMoney = 0
	}
	return Result{Success: true}
}

func ready(r *room.Room) (Reason, bool) {
	if r.State != room.StatePlaying {
		return ReasonNotPlaying, false
	}
	if r.Puzzle == nil {
		return ReasonNoPuzzle, false
	}
	if r.Paused {
		return ReasonPaused, false
	}
	return "", true
}

// ProposeLetter reveals letter in the puzzle. A hit pays the current cash
// spin per occurrence and keeps the turn; a miss passes it.
func ProposeLetter(r *room.Room, letter string) Result {
	if reason, ok := ready(r); !ok {
		return fail(reason)
	}
	letter = normalizeLetter(letter)
	if letter == "" {
		return fail(ReasonInvalidLetter)
	}
	if room.Contains(r.UsedLetters, letter) {
		return fail(ReasonAlreadyUsed)
	}
	return resolve(r, letter)
}

func resolve(r *room.Room, letter string) Result {
	r.UsedLetters = append(r.UsedLetters, letter)

	count := r.Puzzle.Occurrences(letter)
	if count == 0 {
		NextPlayer(r)
		return Result{Reason: ReasonNotFound}
	}

	if !room.Contains(r.RevealedLetters, letter) {
		r.RevealedLetters = append(r.RevealedLetters, letter)
	}
	if p := r.TurnPlayer(); p != nil && r.WheelResult.IsCash() {
		p.RoundMoney += r.WheelResult.Amount * count
	}
	return Result{Success: true, Count: count, KeepPlaying: true}
}

// BuyVowel charges cost, then resolves the vowel like ProposeLetter. The
// charge stands even when the vowel turns out to be used already.
func BuyVowel(r *room.Room, letter string, cost int) Result {
	if reason, ok := ready(r); !ok {
		return fail(reason)
	}
	p := r.TurnPlayer()
	if p == nil {
		return fail(ReasonNoPlayer)
	}
	letter = normalizeLetter(letter)
	if !IsVowel(letter) {
		return fail(ReasonNotAVowel)
	}
	if p.RoundMoney < cost {
		return fail(ReasonNotEnoughMoney)
	}

	p.RoundMoney -= cost
	if room.Contains(r.UsedLetters, letter) {
		return fail(ReasonAlreadyUsed)
	}
	return resolve(r, letter)
}

// SolvePuzzle settles a solve attempt. next draws the following round's
// puzzle.
func SolvePuzzle(r *room.Room, success bool, rounds int, next func() *room.Puzzle) Result {
	if reason, ok := ready(r); !ok {
		return fail(reason)
	}
	p := r.TurnPlayer()
	if p == nil {
		return fail(ReasonNoPlayer)
	}

	if !success {
		p.RoundMoney = 0
		NextPlayer(r)
		return Result{}
	}

	p.TotalMoney += p.RoundMoney
	for i := range r.Players {
		r.Players[i].RoundMoney = 0
	}

	if r.CurrentRound < rounds {
		r.CurrentRound++
		resetRound(r, next())
		return Result{Success: true}
	}

	r.State = room.StateFinished
	r.Winner = Winner(r)
	r.Puzzle = nil
	return Result{Success: true}
}

// NextPlayer passes the turn and clears the spin.
func NextPlayer(r *room.Room) {
	r.WheelResult = nil

	active := r.ActiveIndexes()
	n := len(active)
	if n == 0 {
		r.CurrentPlayerIndex = 0
		return
	}

	next := (r.CurrentPlayerIndex + 1) % n
	if next < 0 {
		next = 0
	}
	for tries := 0; tries < n && !r.Players[active[next]].Connected; tries++ {
		next = (next + 1) % n
	}
	r.CurrentPlayerIndex = next
}

// Land stores a spin. Bankruptcy and lose-a-turn take effect at once; the
// targeted effects wait for ApplyEffect.
func Land(r *room.Room, w *room.WheelResult) Result {
	if reason, ok := ready(r); !ok {
		return fail(reason)
	}
	if r.TurnPlayer() == nil {
		return fail(ReasonNoPlayer)
	}

	r.WheelResult = w
	if !w.IsCash() && !w.Effect.Targeted() {
		return ApplyEffect(r, w.Effect, "")
	}
	return Result{Success: true, KeepPlaying: true}
}

// ApplyEffect plays a special wheel outcome for the current player against
// targetID, which the host picks among the other connected players.
func ApplyEffect(r *room.Room, e room.Effect, targetID string) Result {
	if reason, ok := ready(r); !ok {
		return fail(reason)
	}
	actor := r.TurnPlayer()
	if actor == nil {
		return fail(ReasonNoPlayer)
	}

	switch e {
	case room.EffectBankruptcy:
		actor.RoundMoney = 0
		NextPlayer(r)
		return Result{Success: true}
	case room.EffectLoseTurn:
		NextPlayer(r)
		return Result{Success: true}
	}

	if !e.Targeted() {
		return fail(ReasonInvalidTarget)
	}
	target := r.Player(targetID)
	if target == nil || target.ID == actor.ID || target.Role != room.RolePlayer || !target.Connected {
		return fail(ReasonInvalidTarget)
	}

	switch e {
	case room.EffectHoldUp:
		actor.RoundMoney += target.RoundMoney
		target.RoundMoney = 0
	case room.EffectSwap:
		actor.RoundMoney, target.RoundMoney = target.RoundMoney, actor.RoundMoney
	case room.EffectDivide:
		target.RoundMoney /= 2
	}
	r.WheelResult = nil
	return Result{Success: true, KeepPlaying: true}
}

// Winner is the player with the strictly highest total; the earliest joined
// wins ties. It is nil without players.
func Winner(r *room.Room) *room.Player {
	var w *room.Player
	for i := range r.Players {
		p := &r.Players[i]
		if p.Role != room.RolePlayer {
			continue
		}
		if w == nil || p.TotalMoney > w.TotalMoney {
			w = p
		}
	}
	if w == nil {
		return nil
	}
	c := *w
	return &c
}
