package session

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// hostAction runs fn when the caller is the room's host. It reports false,
// without writing, when the caller is not the host, the room is gone, or fn
// declines.
func (f *Facade) hostAction(ctx context.Context, sess Session, fn func(r *room.Room) bool) (bool, error) {
	ok := false
	_, err := store.Update(ctx, f.store, sess.Code, func(r *room.Room) error {
		ok = false
		p := r.Player(sess.PlayerID)
		if p == nil || p.Role != room.RoleHost {
			return nil
		}
		ok = fn(r)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func removeOther(r *room.Room, self, id string) bool {
	if id == self {
		return false
	}
	turn := r.TurnPlayerID()
	if !r.RemovePlayer(id) {
		return false
	}
	r.RetargetTurn(turn)
	return true
}

// KickPlayer removes another player. Host only.
func (f *Facade) KickPlayer(ctx context.Context, sess Session, playerID string) (bool, error) {
	ok, err := f.hostAction(ctx, sess, func(r *room.Room) bool {
		return removeOther(r, sess.PlayerID, playerID)
	})
	if ok {
		log.WithFields(log.Fields{"room": sess.Code, "player": playerID}).Info("player kicked")
	}
	return ok, err
}

// BanPlayer adds name to the room's ban list and kicks whoever holds it.
func (f *Facade) BanPlayer(ctx context.Context, sess Session, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}

	ok, err := f.hostAction(ctx, sess, func(r *room.Room) bool {
		if i := r.PlayerByName(name); i >= 0 {
			if r.Players[i].ID == sess.PlayerID {
				return false
			}
			removeOther(r, sess.PlayerID, r.Players[i].ID)
		}
		if !r.IsBanned(name) {
			r.BannedPlayers = append(r.BannedPlayers, name)
		}
		return true
	})
	if ok {
		log.WithField("room", sess.Code).Infof("%s banned", name)
	}
	return ok, err
}

func (f *Facade) UnbanPlayer(ctx context.Context, sess Session, name string) (bool, error) {
	return f.hostAction(ctx, sess, func(r *room.Room) bool {
		kept := make([]string, 0, len(r.BannedPlayers))
		for _, b := range r.BannedPlayers {
			if !strings.EqualFold(b, name) {
				kept = append(kept, b)
			}
		}
		found := len(kept) != len(r.BannedPlayers)
		r.BannedPlayers = kept
		return found
	})
}

func (f *Facade) ClearBans(ctx context.Context, sess Session) (bool, error) {
	return f.hostAction(ctx, sess, func(r *room.Room) bool {
		r.BannedPlayers = []string{}
		return true
	})
}

// ChangeHost hands the host role to another player; the old host becomes a
// player.
func (f *Facade) ChangeHost(ctx context.Context, sess Session, playerID string) (bool, error) {
	ok, err := f.hostAction(ctx, sess, func(r *room.Room) bool {
		if playerID == sess.PlayerID {
			return false
		}
		next := r.Player(playerID)
		if next == nil || !next.Connected {
			return false
		}

		turn := r.TurnPlayerID()
		next.Role = room.RoleHost
		r.Host = next.Name
		r.Player(sess.PlayerID).Role = room.RolePlayer
		r.RetargetTurn(turn)
		return true
	})
	if ok {
		log.WithFields(log.Fields{"room": sess.Code, "player": playerID}).Info("host role handed over")
	}
	return ok, err
}

// StopGame closes the room for everyone. Host only.
func (f *Facade) StopGame(ctx context.Context, sess Session) (bool, error) {
	r, err := f.store.Get(ctx, sess.Code)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p := r.Player(sess.PlayerID); p == nil || p.Role != room.RoleHost {
		return false, nil
	}

	f.stop(sess)
	if err := f.store.Remove(ctx, sess.Code); err != nil {
		return false, err
	}

	log.WithField("room", sess.Code).Info("room stopped by host")
	return true, nil
}
