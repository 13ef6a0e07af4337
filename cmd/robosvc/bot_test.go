package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/avvvet/wheel-services/configs"
	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/content"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store/memstore"
)

func testSettings() *config.Settings {
	return &config.Settings{
		Backend:           "memory",
		VowelCost:         250,
		RoundsPerGame:     2,
		MaxPlayers:        4,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  15 * time.Second,
		DisconnectGrace:   2 * time.Minute,
		FirstVoteAfter:    2 * time.Minute,
		RevoteAfter:       time.Minute,
		VoteDuration:      time.Minute,
		PollInterval:      time.Millisecond,
	}
}

func TestRobotsPlayAGame(t *testing.T) {
	ctx := context.Background()
	cfg := testSettings()
	clk := clock.Real{}

	puzzles, err := content.LoadPuzzles("")
	require.NoError(t, err)
	wheel, err := content.NewWheel([]content.Segment{
		{Value: json.RawMessage("500"), Type: content.SegmentMoney},
		{Value: json.RawMessage(`"Swap"`), Type: content.SegmentSpecial, Effect: room.EffectSwap},
	})
	require.NoError(t, err)

	s := memstore.New(clk, cfg.PollInterval)
	f := newFacade(s, cfg, puzzles, wheel, nil, clk)
	defer f.Close()

	tb, err := seat(ctx, f, "Robo Host", 3, cfg.VowelCost)
	require.NoError(t, err)
	assert.Len(t, tb.players, 3)

	res, _, err := f.StartGame(ctx, tb.host)
	require.NoError(t, err)
	require.True(t, res.Success)

	r, err := tb.play(ctx, maxMoves)
	require.NoError(t, err)
	assert.Equal(t, room.StateFinished, r.State)
	assert.Equal(t, 2, r.CurrentRound)
	require.NotNil(t, r.Winner)
	assert.Contains(t, tb.players, r.Winner.ID)

	tb.leave(ctx)
	_, err = s.Get(ctx, tb.code())
	assert.Error(t, err)
}

func TestOpenStoreMemory(t *testing.T) {
	s, closeStore, err := openStore(context.Background(), testSettings(), clock.Real{})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &memstore.Store{}, s)

	cfg := testSettings()
	cfg.Backend = "carrier-pigeon"
	_, _, err = openStore(context.Background(), cfg, clock.Real{})
	assert.Error(t, err)
}

func TestPick(t *testing.T) {
	tb := &table{vowelCost: 250}
	r := room.New("ABCDEF", room.Player{ID: "h", Name: "h", Role: room.RoleHost}, time.Now())
	r.Players = append(r.Players, room.Player{ID: "p", Name: "p", Role: room.RolePlayer, Connected: true})
	r.UsedLetters = []string{"E", "S"}

	l, vowel := tb.pick(r)
	assert.Equal(t, "R", l)
	assert.False(t, vowel)

	r.Players[1].RoundMoney = 300
	l, vowel = tb.pick(r)
	assert.Equal(t, "A", l)
	assert.True(t, vowel)

	r.Puzzle = room.NewPuzzle("x", "AB C")
	r.RevealedLetters = []string{"A", "B"}
	assert.False(t, solved(r))
	r.RevealedLetters = append(r.RevealedLetters, "C")
	assert.True(t, solved(r))
}
