package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avvvet/wheel-services/internal/room"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrExists   = errors.New("room already exists")
	ErrConflict = errors.New("room revision conflict")
)

// MaxAttempts bounds how many times Update re-evaluates a mutation after a
// revision conflict.
const MaxAttempts = 5

// RoomStore persists and replicates Room documents. Every backend applies
// patches with (*room.Room).Apply and deletes a room once a patch leaves it
// without players.
type RoomStore interface {
	// Create stores r under r.Code and fails with ErrExists on collision.
	Create(ctx context.Context, r *room.Room) (string, error)
	Get(ctx context.Context, code string) (*room.Room, error)
	Patch(ctx context.Context, code string, p room.Patch) (*room.Room, error)
	// Remove deletes the room; removing an absent room is not an error.
	Remove(ctx context.Context, code string) error
	// Subscribe calls fn with every new snapshot of the room, and with nil
	// once it is deleted. fn runs on a backend goroutine. Delivery stops when
	// ctx is done or the subscription is cancelled.
	Subscribe(ctx context.Context, code string, fn func(*room.Room)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain cancel function.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Mutator edits r in place. Returning an error aborts the write.
type Mutator func(r *room.Room) error

// Transactor is implemented by backends that can run a read-compute-write
// cycle without interleaving other writers of the same room.
type Transactor interface {
	Transact(ctx context.Context, code string, fn Mutator) (*room.Room, error)
}

// Binder is implemented by connection-oriented backends whose server marks a
// bound player disconnected when the connection drops.
type Binder interface {
	Bind(ctx context.Context, code, playerID string) error
}

// Update runs fn against the latest snapshot of the room and writes back the
// fields it changed. It is atomic when s is a Transactor; otherwise it is the
// plain read-then-patch cycle and races with other writers.
func Update(ctx context.Context, s RoomStore, code string, fn Mutator) (*room.Room, error) {
	if tx, ok := s.(Transactor); ok {
		return tx.Transact(ctx, code, fn)
	}

	current, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	p, err := Mutate(current, fn)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return current, nil
	}
	return s.Patch(ctx, code, p)
}

// Mutate runs fn on a copy of current and returns the resulting patch.
// current is left untouched.
func Mutate(current *room.Room, fn Mutator) (room.Patch, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	p, err := room.Diff(current, next)
	if err != nil {
		return nil, fmt.Errorf("diff room %s: %w", current.Code, err)
	}
	return p, nil
}

// Commit applies the change fn makes to current and returns the new document.
// changed is false, and current is returned as is, when fn touched nothing.
// Backends call it inside their critical section or CAS loop.
func Commit(current *room.Room, fn Mutator, now time.Time) (next *room.Room, changed bool, err error) {
	p, err := Mutate(current, fn)
	if err != nil {
		return nil, false, err
	}
	if len(p) == 0 {
		return current, false, nil
	}

	next = current.Clone()
	if err := next.Apply(p, now); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// Abandoned reports whether a written room must be deleted.
func Abandoned(r *room.Room) bool {
	return r != nil && len(r.Players) == 0
}
