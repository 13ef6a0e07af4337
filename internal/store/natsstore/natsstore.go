// Package natsstore keeps rooms in a JetStream key-value bucket, one key per
// room code. Key watchers push every write to subscribers.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// JetStream error code for an expected-revision mismatch.
const wrongLastSequence = 10071

type Store struct {
	kv    jetstream.KeyValue
	clock clock.Clock
}

// Open creates the bucket if needed. Keys expire after ttl without writes.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration, clk clock.Clock) (*Store, error) {
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "word wheel rooms",
		History:     1,
		TTL:         ttl,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		kv, err = js.KeyValue(ctx, bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}

	return &Store{kv: kv, clock: clk}, nil
}

func (s *Store) Create(ctx context.Context, r *room.Room) (string, error) {
	c := r.Clone()
	c.LastUpdate = s.clock.Now()

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode room %s: %w", r.Code, err)
	}

	if _, err := s.kv.Create(ctx, r.Code, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return "", store.ErrExists
		}
		return "", fmt.Errorf("create room %s: %w", r.Code, err)
	}
	return r.Code, nil
}

func (s *Store) get(ctx context.Context, code string) (*room.Room, uint64, error) {
	entry, err := s.kv.Get(ctx, code)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get room %s: %w", code, err)
	}

	var r room.Room
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, 0, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &r, entry.Revision(), nil
}

func (s *Store) Get(ctx context.Context, code string) (*room.Room, error) {
	r, _, err := s.get(ctx, code)
	return r, err
}

func (s *Store) Patch(ctx context.Context, code string, p room.Patch) (*room.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.cas(ctx, code, func(current *room.Room) (*room.Room, bool, error) {
		next := current.Clone()
		if err := next.Apply(p, s.clock.Now()); err != nil {
			return nil, false, err
		}
		return next, true, nil
	})
}

func (s *Store) Transact(ctx context.Context, code string, fn store.Mutator) (*room.Room, error) {
	return s.cas(ctx, code, func(current *room.Room) (*room.Room, bool, error) {
		return store.Commit(current, fn, s.clock.Now())
	})
}

func (s *Store) cas(ctx context.Context, code string, step func(*room.Room) (*room.Room, bool, error)) (*room.Room, error) {
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		current, rev, err := s.get(ctx, code)
		if err != nil {
			return nil, err
		}

		next, changed, err := step(current)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		if store.Abandoned(next) {
			err = s.kv.Delete(ctx, code, jetstream.LastRevision(rev))
		} else {
			var data []byte
			data, err = json.Marshal(next)
			if err != nil {
				return nil, fmt.Errorf("encode room %s: %w", code, err)
			}
			_, err = s.kv.Update(ctx, code, data, rev)
		}

		if err == nil {
			return next, nil
		}
		if !isWrongRevision(err) {
			return nil, fmt.Errorf("write room %s: %w", code, err)
		}

		log.WithFields(log.Fields{"room": code, "attempt": attempt + 1}).Debug("room revision moved, retrying")
	}
	return nil, store.ErrConflict
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == wrongLastSequence
}

func (s *Store) Remove(ctx context.Context, code string) error {
	if err := s.kv.Delete(ctx, code); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

// Codes lists the live rooms in the bucket.
func (s *Store) Codes(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

func (s *Store) Subscribe(ctx context.Context, code string, fn func(*room.Room)) (store.Subscription, error) {
	if _, _, err := s.get(ctx, code); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w, err := s.kv.Watch(ctx, code)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch room %s: %w", code, err)
	}

	go func() {
		defer cancel()
		defer w.Stop()

		for {
			var entry jetstream.KeyValueEntry
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				entry = e
			}

			// nil marks the end of the initial values
			if entry == nil {
				continue
			}

			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				fn(nil)
				return
			}

			var r room.Room
			if err := json.Unmarshal(entry.Value(), &r); err != nil {
				log.WithField("room", code).Errorf("decode room update: %v", err)
				continue
			}
			fn(&r)
		}
	}()

	return store.SubscriptionFunc(cancel), nil
}
