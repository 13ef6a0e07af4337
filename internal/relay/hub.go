// Package relay is the authoritative room server. Each room is owned by one
// actor goroutine that serialises every read and write, and clients reach it
// over websockets.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

type actor struct {
	code  string
	inbox chan func()
	done  chan struct{}

	// owned by the actor goroutine
	room *room.Room
	subs map[*store.Feed]struct{}
}

// Hub holds the live rooms. It implements store.RoomStore and
// store.Transactor.
type Hub struct {
	mu       sync.Mutex
	actors   map[string]*actor
	clock    clock.Clock
	observer func(event, code string)
}

func NewHub(clk clock.Clock) *Hub {
	return &Hub{
		actors: make(map[string]*actor),
		clock:  clk,
	}
}

// Observe registers fn to hear about rooms opening and closing. It must be
// called before the hub is used.
func (h *Hub) Observe(fn func(event, code string)) {
	h.observer = fn
}

func (h *Hub) notify(event, code string) {
	if h.observer != nil {
		h.observer(event, code)
	}
}

func (h *Hub) loop(a *actor) {
	for op := range a.inbox {
		op()
		if a.room == nil {
			log.WithField("room", a.code).Info("room closed")
			h.notify(EventRoomClosed, a.code)
			return
		}
	}
}

// close forgets a room whose document is gone. It runs on the actor goroutine
// before the closing op replies, so callers never see a stale entry.
func (h *Hub) close(a *actor) {
	h.mu.Lock()
	if h.actors[a.code] == a {
		delete(h.actors, a.code)
	}
	h.mu.Unlock()
	close(a.done)
}

func (h *Hub) publish(a *actor) {
	var snap *room.Room
	if a.room != nil {
		snap = a.room.Clone()
	}
	for f := range a.subs {
		f.Offer(snap)
	}
}

// do runs op on the room's actor and waits for it.
func (h *Hub) do(ctx context.Context, code string, op func(a *actor) (*room.Room, error)) (*room.Room, error) {
	h.mu.Lock()
	a, ok := h.actors[code]
	h.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}

	type result struct {
		r   *room.Room
		err error
	}
	reply := make(chan result, 1)
	task := func() {
		r, err := op(a)
		if a.room == nil {
			h.close(a)
		}
		reply <- result{r, err}
	}

	select {
	case a.inbox <- task:
	case <-a.done:
		return nil, store.ErrNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res := <-reply
	return res.r, res.err
}

func (h *Hub) Create(ctx context.Context, r *room.Room) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.actors[r.Code]; ok {
		return "", store.ErrExists
	}

	c := r.Clone()
	c.LastUpdate = h.clock.Now()
	a := &actor{
		code:  r.Code,
		inbox: make(chan func()),
		done:  make(chan struct{}),
		room:  c,
		subs:  make(map[*store.Feed]struct{}),
	}
	h.actors[r.Code] = a
	go h.loop(a)

	log.WithField("room", r.Code).Info("room opened")
	h.notify(EventRoomOpened, r.Code)
	return r.Code, nil
}

func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	return h.do(ctx, code, func(a *actor) (*room.Room, error) {
		return a.room.Clone(), nil
	})
}

func (h *Hub) Patch(ctx context.Context, code string, p room.Patch) (*room.Room, error) {
	return h.PatchIf(ctx, code, p, nil)
}

// PatchIf applies p only while the room is still at revision *ifRevision.
func (h *Hub) PatchIf(ctx context.Context, code string, p room.Patch, ifRevision *int64) (*room.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return h.do(ctx, code, func(a *actor) (*room.Room, error) {
		if ifRevision != nil && *ifRevision != a.room.Revision {
			return nil, store.ErrConflict
		}
		next := a.room.Clone()
		if err := next.Apply(p, h.clock.Now()); err != nil {
			return nil, err
		}
		return h.commit(a, next), nil
	})
}

func (h *Hub) Transact(ctx context.Context, code string, fn store.Mutator) (*room.Room, error) {
	return h.do(ctx, code, func(a *actor) (*room.Room, error) {
		next, changed, err := store.Commit(a.room, fn, h.clock.Now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return next.Clone(), nil
		}
		return h.commit(a, next), nil
	})
}

// commit installs next, closing the room when it has no players left.
func (h *Hub) commit(a *actor, next *room.Room) *room.Room {
	if store.Abandoned(next) {
		a.room = nil
	} else {
		a.room = next
	}
	h.publish(a)
	return next.Clone()
}

func (h *Hub) Remove(ctx context.Context, code string) error {
	_, err := h.do(ctx, code, func(a *actor) (*room.Room, error) {
		a.room = nil
		h.publish(a)
		return nil, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (h *Hub) Subscribe(ctx context.Context, code string, fn func(*room.Room)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	f := store.NewFeed(ctx, fn)

	_, err := h.do(ctx, code, func(a *actor) (*room.Room, error) {
		a.subs[f] = struct{}{}
		f.Offer(a.room.Clone())
		return nil, nil
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return store.SubscriptionFunc(func() {
		cancel()
		f.Unsubscribe()
		// drop the feed; a closed room has already forgotten it
		h.do(context.Background(), code, func(a *actor) (*room.Room, error) {
			delete(a.subs, f)
			return nil, nil
		})
	}), nil
}

// Codes lists the open rooms.
func (h *Hub) Codes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	codes := make([]string, 0, len(h.actors))
	for c := range h.actors {
		codes = append(codes, c)
	}
	return codes
}

// Reap closes the room if nothing wrote to it for idle.
func (h *Hub) Reap(ctx context.Context, code string, idle time.Duration) (bool, error) {
	reaped := false
	_, err := h.do(ctx, code, func(a *actor) (*room.Room, error) {
		if h.clock.Now().Sub(a.room.LastUpdate) <= idle {
			return nil, nil
		}
		a.room = nil
		h.publish(a)
		reaped = true
		return nil, nil
	})
	return reaped, err
}
