package session

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/store"
)

type task struct {
	cancel context.CancelFunc
}

// start launches the periodic task of a session, replacing any previous one.
func (f *Facade) start(sess Session) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel}

	f.mu.Lock()
	if old, ok := f.tasks[sess]; ok {
		old.cancel()
	}
	f.tasks[sess] = t
	f.mu.Unlock()

	go f.run(ctx, sess, t)
}

func (f *Facade) stop(sess Session) {
	f.mu.Lock()
	t, ok := f.tasks[sess]
	delete(f.tasks, sess)
	f.mu.Unlock()

	if ok {
		t.cancel()
	}
}

// finish forgets t unless a newer task took its place.
func (f *Facade) finish(sess Session, t *task) {
	f.mu.Lock()
	if f.tasks[sess] == t {
		delete(f.tasks, sess)
	}
	f.mu.Unlock()
	t.cancel()
}

// Close stops every background task without touching the rooms.
func (f *Facade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sess, t := range f.tasks {
		t.cancel()
		delete(f.tasks, sess)
	}
}

// Running reports whether the session still has a background task.
func (f *Facade) Running(sess Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[sess]
	return ok
}

func (f *Facade) run(ctx context.Context, sess Session, t *task) {
	ticker := time.NewTicker(f.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !f.Tick(ctx, sess) {
				f.finish(sess, t)
				return
			}
		}
	}
}

// Tick is one beat of a session: refresh the caller's heartbeat, sweep stale
// players, then advance the pause and vote timers. It returns false once the
// room or the caller is gone, after which the session has nothing left to do.
func (f *Facade) Tick(ctx context.Context, sess Session) bool {
	fields := log.Fields{"room": sess.Code, "player": sess.PlayerID}

	_, err := f.presence.Heartbeat(ctx, sess.Code, sess.PlayerID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, presence.ErrUnknownPlayer):
		log.WithFields(fields).Debugf("heartbeat stopped: %v", err)
		return false
	case err != nil:
		log.WithFields(fields).Errorf("heartbeat failed: %v", err)
		return true
	}

	r, err := f.presence.Sweep(ctx, sess.Code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false
	case err != nil:
		log.WithFields(fields).Errorf("presence sweep failed: %v", err)
		return true
	case store.Abandoned(r) || r.Player(sess.PlayerID) == nil:
		return false
	}

	if _, err := f.failover.Check(ctx, sess.Code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false
		}
		log.WithFields(fields).Errorf("failover check failed: %v", err)
	}
	return true
}
