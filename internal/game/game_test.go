package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func lobby(players ...string) *room.Room {
	r := room.New("ABCDEF", room.Player{ID: "h", Name: "Hosty", Role: room.RoleHost}, t0)
	for _, id := range players {
		r.Players = append(r.Players, room.Player{
			ID: id, Name: id, Role: room.RolePlayer, Connected: true, LastHeartbeat: t0,
		})
	}
	return r
}

func playing(solution string, players ...string) *room.Room {
	r := lobby(players...)
	StartGame(r, room.NewPuzzle("Test", solution))
	return r
}

func TestStartGame(t *testing.T) {
	r := lobby("p1")
	assert.Equal(t, fail(ReasonNotEnoughPlayers), StartGame(r, room.NewPuzzle("x", "y")))
	assert.Equal(t, room.StateLobby, r.State)

	r = lobby("p1", "p2")
	r.Players[2].Connected = false
	assert.False(t, StartGame(r, room.NewPuzzle("x", "y")).Success)

	r = lobby("p1", "p2")
	r.UsedLetters = []string{"Q"}
	r.WheelResult = room.Cash(100)
	res := StartGame(r, room.NewPuzzle("Animal", "le chat noir"))
	require.True(t, res.Success)
	assert.Equal(t, room.StatePlaying, r.State)
	assert.Equal(t, 1, r.CurrentRound)
	assert.Equal(t, 0, r.CurrentPlayerIndex)
	require.NotNil(t, r.Puzzle)
	assert.Equal(t, "LE CHAT NOIR", r.Puzzle.Solution)
	assert.Empty(t, r.UsedLetters)
	assert.Nil(t, r.WheelResult)
	assert.False(t, r.Paused)

	assert.Equal(t, fail(ReasonNotPlaying), StartGame(r, room.NewPuzzle("x", "y")))
}

func TestProposeLetterHit(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.WheelResult = room.Cash(300)

	res := ProposeLetter(r, "t")
	assert.Equal(t, Result{Success: true, Count: 2, KeepPlaying: true}, res)
	assert.Contains(t, r.RevealedLetters, "T")
	assert.Contains(t, r.UsedLetters, "T")
	assert.Equal(t, 600, r.Player("p1").RoundMoney)
	assert.Equal(t, "p1", r.TurnPlayerID())
}

func TestProposeLetterMissPassesTurn(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.WheelResult = room.Cash(300)

	res := ProposeLetter(r, "Z")
	assert.Equal(t, Result{Reason: ReasonNotFound}, res)
	assert.Equal(t, "p2", r.TurnPlayerID())
	assert.Nil(t, r.WheelResult)
	assert.Equal(t, 0, r.Player("p1").RoundMoney)
}

func TestProposeLetterUsedIsNoop(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.WheelResult = room.Cash(300)
	ProposeLetter(r, "T")
	before := r.Clone()

	for i := 0; i < 3; i++ {
		assert.Equal(t, fail(ReasonAlreadyUsed), ProposeLetter(r, "t"))
	}
	assert.Equal(t, before, r)
}

func TestProposeLetterRejections(t *testing.T) {
	r := lobby("p1", "p2")
	assert.Equal(t, fail(ReasonNotPlaying), ProposeLetter(r, "A"))

	r = playing("ABC", "p1", "p2")
	r.Paused = true
	assert.Equal(t, fail(ReasonPaused), ProposeLetter(r, "A"))

	r.Paused = false
	r.Puzzle = nil
	assert.Equal(t, fail(ReasonNoPuzzle), ProposeLetter(r, "A"))

	r = playing("ABC", "p1", "p2")
	assert.Equal(t, fail(ReasonInvalidLetter), ProposeLetter(r, "ab"))
	assert.Equal(t, fail(ReasonInvalidLetter), ProposeLetter(r, "1"))
}

func TestBuyVowel(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.Player("p1").RoundMoney = 200

	assert.Equal(t, fail(ReasonNotEnoughMoney), BuyVowel(r, "A", 250))
	assert.Equal(t, 200, r.Player("p1").RoundMoney)
	assert.Empty(t, r.UsedLetters)

	assert.Equal(t, fail(ReasonNotAVowel), BuyVowel(r, "T", 250))

	r.Player("p1").RoundMoney = 600
	res := BuyVowel(r, "a", 250)
	assert.Equal(t, Result{Success: true, Count: 1, KeepPlaying: true}, res)
	assert.Equal(t, 350, r.Player("p1").RoundMoney)
	assert.Contains(t, r.RevealedLetters, "A")

	// the cost is charged before the used-letter check
	assert.Equal(t, fail(ReasonAlreadyUsed), BuyVowel(r, "A", 250))
	assert.Equal(t, 100, r.Player("p1").RoundMoney)
	assert.Equal(t, "p1", r.TurnPlayerID())
	assert.Equal(t, []string{"A"}, r.UsedLetters)

	r.Player("p1").RoundMoney = 350
	res = BuyVowel(r, "U", 250)
	assert.Equal(t, Result{Reason: ReasonNotFound}, res)
	assert.Equal(t, 100, r.Player("p1").RoundMoney)
	assert.Equal(t, "p2", r.TurnPlayerID())
}

func TestBuyVowelWithCashSpin(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.Player("p1").RoundMoney = 500
	r.WheelResult = room.Cash(300)

	BuyVowel(r, "E", 250)
	// a pending cash spin still pays per occurrence
	assert.Equal(t, 550, r.Player("p1").RoundMoney)
}

func TestSolvePuzzle(t *testing.T) {
	draws := 0
	next := func() *room.Puzzle {
		draws++
		return room.NewPuzzle("Next", "NEW ONE")
	}

	r := playing("LE CHAT NOIR", "p1", "p2")
	r.Player("p1").RoundMoney = 400

	res := SolvePuzzle(r, false, 5, next)
	assert.False(t, res.Success)
	assert.Equal(t, 0, r.Player("p1").RoundMoney)
	assert.Equal(t, "p2", r.TurnPlayerID())
	assert.Equal(t, 1, r.CurrentRound)

	r.Player("p2").RoundMoney = 900
	r.Player("p1").RoundMoney = 50
	r.UsedLetters = []string{"E"}
	res = SolvePuzzle(r, true, 5, next)
	assert.True(t, res.Success)
	assert.Equal(t, 900, r.Player("p2").TotalMoney)
	assert.Equal(t, 0, r.Player("p2").RoundMoney)
	assert.Equal(t, 0, r.Player("p1").RoundMoney)
	assert.Equal(t, 2, r.CurrentRound)
	assert.Equal(t, 0, r.CurrentPlayerIndex)
	assert.Equal(t, "NEW ONE", r.Puzzle.Solution)
	assert.Empty(t, r.UsedLetters)
	assert.Equal(t, 1, draws)
}

func TestLastRoundFinishes(t *testing.T) {
	r := playing("LE CHAT NOIR", "p1", "p2")
	r.CurrentRound = 5
	r.Player("p2").TotalMoney = 1000
	r.Player("p1").RoundMoney = 700
	r.Player("p1").TotalMoney = 300

	res := SolvePuzzle(r, true, 5, func() *room.Puzzle { panic("no next round") })
	assert.True(t, res.Success)
	assert.Equal(t, room.StateFinished, r.State)
	assert.Nil(t, r.Puzzle)
	require.NotNil(t, r.Winner)
	assert.Equal(t, "p1", r.Winner.ID)
}

func TestNextPlayer(t *testing.T) {
	r := playing("ABC", "p1", "p2", "p3")
	r.WheelResult = room.Cash(100)

	NextPlayer(r)
	assert.Equal(t, "p2", r.TurnPlayerID())
	assert.Nil(t, r.WheelResult)

	r.Player("p3").Connected = false
	NextPlayer(r)
	assert.Equal(t, "p1", r.TurnPlayerID())

	for _, p := range []string{"p1", "p2"} {
		r.Player(p).Connected = false
	}
	NextPlayer(r)
	assert.Equal(t, 0, r.CurrentPlayerIndex)
	assert.Nil(t, r.TurnPlayer())
}

func TestEffects(t *testing.T) {
	setup := func() *room.Room {
		r := playing("ABC", "p1", "p2", "p3")
		r.Player("p1").RoundMoney = 300
		r.Player("p2").RoundMoney = 501
		return r
	}

	r := setup()
	assert.True(t, Land(r, room.Special(room.EffectBankruptcy)).Success)
	assert.Equal(t, 0, r.Player("p1").RoundMoney)
	assert.Equal(t, "p2", r.TurnPlayerID())

	r = setup()
	Land(r, room.Special(room.EffectLoseTurn))
	assert.Equal(t, 300, r.Player("p1").RoundMoney)
	assert.Equal(t, "p2", r.TurnPlayerID())

	r = setup()
	res := Land(r, room.Special(room.EffectHoldUp))
	assert.True(t, res.KeepPlaying)
	assert.Equal(t, room.Special(room.EffectHoldUp), r.WheelResult)
	assert.True(t, ApplyEffect(r, room.EffectHoldUp, "p2").Success)
	assert.Equal(t, 801, r.Player("p1").RoundMoney)
	assert.Equal(t, 0, r.Player("p2").RoundMoney)

	r = setup()
	ApplyEffect(r, room.EffectSwap, "p2")
	assert.Equal(t, 501, r.Player("p1").RoundMoney)
	assert.Equal(t, 300, r.Player("p2").RoundMoney)

	r = setup()
	ApplyEffect(r, room.EffectDivide, "p2")
	assert.Equal(t, 250, r.Player("p2").RoundMoney)
	assert.Equal(t, 300, r.Player("p1").RoundMoney)

	r = setup()
	assert.Equal(t, fail(ReasonInvalidTarget), ApplyEffect(r, room.EffectSwap, "p1"))
	assert.Equal(t, fail(ReasonInvalidTarget), ApplyEffect(r, room.EffectSwap, "h"))
	assert.Equal(t, fail(ReasonInvalidTarget), ApplyEffect(r, room.EffectSwap, "ghost"))
	r.Player("p3").Connected = false
	assert.Equal(t, fail(ReasonInvalidTarget), ApplyEffect(r, room.EffectDivide, "p3"))
	assert.Equal(t, fail(ReasonInvalidTarget), ApplyEffect(r, room.Effect("boom"), "p2"))
}

func TestWinner(t *testing.T) {
	r := lobby()
	assert.Nil(t, Winner(r))

	r = lobby("p1", "p2", "p3")
	r.Player("p1").TotalMoney = 500
	r.Player("p2").TotalMoney = 700
	r.Player("p3").TotalMoney = 700
	r.Player("h").TotalMoney = 9999
	assert.Equal(t, "p2", Winner(r).ID)
}

type fixedWheel struct{ w *room.WheelResult }

func (f fixedWheel) Spin() *room.WheelResult { return f.w }

type fixedPuzzles struct{}

func (fixedPuzzles) Draw() *room.Puzzle { return room.NewPuzzle("Animal", "le chat noir") }

func TestMachine(t *testing.T) {
	clk := clock.NewFake(t0)
	s := memstore.New(clk, time.Millisecond)
	ctx := context.Background()
	_, err := s.Create(ctx, lobby("p1", "p2"))
	require.NoError(t, err)

	m := NewMachine(s, fixedPuzzles{}, fixedWheel{room.Cash(300)}, DefaultConfig())

	res, r, err := m.StartGame(ctx, "ABCDEF")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "LE CHAT NOIR", r.Puzzle.Solution)
	rev := r.Revision

	res, r, err = m.BuyVowel(ctx, "ABCDEF", "A")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotEnoughMoney, res.Reason)
	assert.Equal(t, rev, r.Revision, "rejected action must not write")

	res, _, err = m.Spin(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, r, err = m.ProposeLetter(ctx, "ABCDEF", "T")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 600, r.Player("p1").RoundMoney)

	_, r, err = m.NextPlayer(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "p2", r.TurnPlayerID())

	_, r, err = m.ApplyEffect(ctx, "ABCDEF", room.EffectHoldUp, "p1")
	require.NoError(t, err)
	assert.Equal(t, 600, r.Player("p2").RoundMoney)

	_, r, err = m.SolvePuzzle(ctx, "ABCDEF", true)
	require.NoError(t, err)
	assert.Equal(t, 2, r.CurrentRound)
	assert.Equal(t, 600, r.Player("p2").TotalMoney)

	_, _, err = m.Spin(ctx, "ZZZZZZ")
	assert.Error(t, err)
}

func TestMachineActingPlayer(t *testing.T) {
	s := memstore.New(clock.NewFake(t0), time.Millisecond)
	ctx := context.Background()
	_, err := s.Create(ctx, lobby("p1", "p2"))
	require.NoError(t, err)

	m := NewMachine(s, fixedPuzzles{}, fixedWheel{room.Cash(300)}, DefaultConfig())

	res, _, err := m.As("p1").StartGame(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotAllowed, res.Reason)

	res, _, err = m.As("h").StartGame(ctx, "ABCDEF")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, _, err = m.As("p2").Spin(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotAllowed, res.Reason)

	res, _, err = m.As("p1").Spin(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, _, err = m.As("p1").ApplyEffect(ctx, "ABCDEF", room.EffectSwap, "p2")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotAllowed, res.Reason)

	res, _, err = m.As("stranger").NextPlayer(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotAllowed, res.Reason)
}
