package store

import (
	"context"
	"sync"

	"github.com/avvvet/wheel-services/internal/room"
)

// Feed hands snapshots to a subscriber callback on its own goroutine. A slow
// callback only ever misses intermediate snapshots, never the latest one, and
// the producer never blocks.
type Feed struct {
	latest chan *room.Room
	stop   chan struct{}
	once   sync.Once
}

func NewFeed(ctx context.Context, fn func(*room.Room)) *Feed {
	f := &Feed{
		latest: make(chan *room.Room, 1),
		stop:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case r := <-f.latest:
				fn(r)
				if r == nil {
					return
				}
			}
		}
	}()
	return f
}

// Offer replaces any undelivered snapshot with r. Snapshots offered from
// different goroutines at once may arrive in either order.
func (f *Feed) Offer(r *room.Room) {
	for {
		select {
		case f.latest <- r:
			return
		default:
		}
		select {
		case <-f.latest:
		default:
		}
	}
}

func (f *Feed) Unsubscribe() {
	f.once.Do(func() { close(f.stop) })
}
