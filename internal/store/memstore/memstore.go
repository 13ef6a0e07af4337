// Package memstore keeps rooms in process memory. Subscribers poll the map,
// which is how a single-process deployment or a test sees remote writes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

type entry struct {
	mu      sync.Mutex
	room    *room.Room
	removed bool
}

type Store struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	clock clock.Clock
	poll  time.Duration
}

func New(clk clock.Clock, poll time.Duration) *Store {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Store{
		rooms: make(map[string]*entry),
		clock: clk,
		poll:  poll,
	}
}

func (s *Store) lookup(code string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[code]
	return e, ok
}

func (s *Store) Create(ctx context.Context, r *room.Room) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.Code]; ok {
		return "", store.ErrExists
	}
	c := r.Clone()
	c.LastUpdate = s.clock.Now()
	s.rooms[r.Code] = &entry{room: c}
	return r.Code, nil
}

func (s *Store) Get(ctx context.Context, code string) (*room.Room, error) {
	e, ok := s.lookup(code)
	if !ok {
		return nil, store.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, store.ErrNotFound
	}
	return e.room.Clone(), nil
}

func (s *Store) Patch(ctx context.Context, code string, p room.Patch) (*room.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.write(code, func(current *room.Room) (*room.Room, error) {
		next := current.Clone()
		if err := next.Apply(p, s.clock.Now()); err != nil {
			return nil, err
		}
		return next, nil
	})
}

func (s *Store) Transact(ctx context.Context, code string, fn store.Mutator) (*room.Room, error) {
	return s.write(code, func(current *room.Room) (*room.Room, error) {
		next, _, err := store.Commit(current, fn, s.clock.Now())
		return next, err
	})
}

// write swaps the stored document under the room lock.
func (s *Store) write(code string, step func(*room.Room) (*room.Room, error)) (*room.Room, error) {
	e, ok := s.lookup(code)
	if !ok {
		return nil, store.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, store.ErrNotFound
	}

	next, err := step(e.room)
	if err != nil {
		return nil, err
	}
	e.room = next

	if store.Abandoned(next) {
		e.removed = true
		s.mu.Lock()
		delete(s.rooms, code)
		s.mu.Unlock()
	}
	return next.Clone(), nil
}

func (s *Store) Remove(ctx context.Context, code string) error {
	s.mu.Lock()
	e, ok := s.rooms[code]
	delete(s.rooms, code)
	s.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	return nil
}

// Codes lists the stored rooms.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.rooms))
	for c := range s.rooms {
		codes = append(codes, c)
	}
	return codes
}

// Subscribe delivers the current snapshot right away, then polls and
// delivers whenever the revision moved.
func (s *Store) Subscribe(ctx context.Context, code string, fn func(*room.Room)) (store.Subscription, error) {
	first, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		fn(first)
		last := first.Revision

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			r, err := s.Get(ctx, code)
			if err != nil {
				fn(nil)
				return
			}
			if r.Revision != last {
				last = r.Revision
				fn(r)
			}
		}
	}()

	return store.SubscriptionFunc(cancel), nil
}
