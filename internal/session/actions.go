package session

import (
	"context"
	"errors"

	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/game"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// Game actions are accepted from the host, or from the player whose turn it
// is. Starting the game and applying a wheel effect are for the host alone.

func (f *Facade) StartGame(ctx context.Context, sess Session) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).StartGame(ctx, sess.Code)
}

func (f *Facade) Spin(ctx context.Context, sess Session) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).Spin(ctx, sess.Code)
}

func (f *Facade) ProposeLetter(ctx context.Context, sess Session, letter string) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).ProposeLetter(ctx, sess.Code, letter)
}

func (f *Facade) BuyVowel(ctx context.Context, sess Session, letter string) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).BuyVowel(ctx, sess.Code, letter)
}

func (f *Facade) SolvePuzzle(ctx context.Context, sess Session, success bool) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).SolvePuzzle(ctx, sess.Code, success)
}

func (f *Facade) NextPlayer(ctx context.Context, sess Session) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).NextPlayer(ctx, sess.Code)
}

func (f *Facade) ApplyEffect(ctx context.Context, sess Session, e room.Effect, targetID string) (game.Result, *room.Room, error) {
	return f.game.As(sess.PlayerID).ApplyEffect(ctx, sess.Code, e, targetID)
}

// CastVote records the caller's ballot. It returns false when no vote is
// open.
func (f *Facade) CastVote(ctx context.Context, sess Session, b room.Ballot) (bool, error) {
	_, err := f.failover.CastVote(ctx, sess.Code, sess.PlayerID, b)
	switch {
	case errors.Is(err, failover.ErrNoVote), errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
