// Package storetest holds the behaviour every store.RoomStore backend shares.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// Now is the creation time of every fixture room.
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Fixture(code string) *room.Room {
	r := room.New(code, room.Player{ID: "host-1", Name: "Hosty", Role: room.RoleHost}, Now)
	r.Players = append(r.Players, room.Player{
		ID: "player-1", Name: "Alice", Role: room.RolePlayer, Connected: true, LastHeartbeat: Now,
	})
	return r
}

// Run exercises a backend. newStore must return an empty store; codes are
// fresh per subtest so backends with shared state can be reused.
func Run(t *testing.T, newStore func(t *testing.T) store.RoomStore) {
	ctx := context.Background()

	t.Run("Create Get Remove", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()

		got, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)
		assert.Equal(t, code, got)

		_, err = s.Create(ctx, Fixture(code))
		assert.ErrorIs(t, err, store.ErrExists)

		r, err := s.Get(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, code, r.Code)
		assert.Len(t, r.Players, 2)

		require.NoError(t, s.Remove(ctx, code))
		require.NoError(t, s.Remove(ctx, code))

		_, err = s.Get(ctx, code)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Patch Round Trip", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()
		_, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)

		patched, err := s.Patch(ctx, code, room.Patch{
			room.FieldCurrentRound: 3,
			room.FieldUsedLetters:  []string{"E", "T"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, patched.CurrentRound)

		r, err := s.Get(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, 3, r.CurrentRound)
		assert.Equal(t, []string{"E", "T"}, r.UsedLetters)
		assert.Len(t, r.Players, 2)
		assert.Equal(t, room.StateLobby, r.State)
		assert.Greater(t, r.Revision, int64(0))

		_, err = s.Patch(ctx, room.NewCode(), room.Patch{room.FieldPaused: true})
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Patch(ctx, code, room.Patch{"code": "XXXXXX"})
		assert.Error(t, err)
	})

	t.Run("Empty Room Is Deleted", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()
		_, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)

		_, err = s.Patch(ctx, code, room.Patch{room.FieldPlayers: []room.Player{}})
		require.NoError(t, err)

		_, err = s.Get(ctx, code)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Concurrent Updates Do Not Clobber", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()
		_, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)

		// each lost CAS round means another writer won, so MaxAttempts
		// writers always finish
		const writers = store.MaxAttempts
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Update(ctx, s, code, func(r *room.Room) error {
					r.ChatMessages = append(r.ChatMessages, room.ChatMessage{
						Sender: "bot", Message: fmt.Sprint(i), Timestamp: Now,
					})
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		r, err := s.Get(ctx, code)
		require.NoError(t, err)
		assert.Len(t, r.ChatMessages, writers)
	})

	t.Run("Update Without Changes Does Not Write", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()
		_, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)
		before, err := s.Get(ctx, code)
		require.NoError(t, err)

		after, err := store.Update(ctx, s, code, func(r *room.Room) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, before.Revision, after.Revision)

		boom := errors.New("boom")
		_, err = store.Update(ctx, s, code, func(r *room.Room) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Subscribe", func(t *testing.T) {
		s := newStore(t)
		code := room.NewCode()
		_, err := s.Create(ctx, Fixture(code))
		require.NoError(t, err)

		var (
			mu    sync.Mutex
			seen  []*room.Room
			nilOK bool
		)
		sub, err := s.Subscribe(ctx, code, func(r *room.Room) {
			mu.Lock()
			defer mu.Unlock()
			if r == nil {
				nilOK = true
				return
			}
			seen = append(seen, r)
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		// give push backends time to arm their watchers
		time.Sleep(100 * time.Millisecond)

		_, err = s.Patch(ctx, code, room.Patch{room.FieldCurrentRound: 4})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, r := range seen {
				if r.CurrentRound == 4 {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, s.Remove(ctx, code))
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return nilOK
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("Subscribe Missing Room", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Subscribe(ctx, room.NewCode(), func(*room.Room) {})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
