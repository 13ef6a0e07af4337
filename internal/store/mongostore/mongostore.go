// Package mongostore keeps rooms in a MongoDB collection and pushes changes
// to subscribers through change streams. Change streams need a replica set.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/db"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// record is the stored shape; revision and lastUpdate are lifted out of the
// room so the CAS filter and the TTL index can see them.
type record struct {
	Code       string    `bson:"_id"`
	Revision   int64     `bson:"revision"`
	LastUpdate time.Time `bson:"lastUpdate"`
	Room       bson.Raw  `bson:"room"`
}

type Store struct {
	coll  *mongo.Collection
	clock clock.Clock
}

func New(database *mongo.Database, collection string, clk clock.Clock) *Store {
	return &Store{
		coll:  database.Collection(collection),
		clock: clk,
	}
}

// EnsureIndexes makes MongoDB reclaim rooms idle for longer than idle.
func (s *Store) EnsureIndexes(ctx context.Context, idle time.Duration) error {
	return db.CreateTTLIndex(ctx, s.coll, "lastUpdate", idle)
}

func encode(r *room.Room) (bson.D, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode room %s: %w", r.Code, err)
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("convert room %s: %w", r.Code, err)
	}

	return bson.D{
		{Key: "_id", Value: r.Code},
		{Key: "revision", Value: r.Revision},
		{Key: "lastUpdate", Value: r.LastUpdate},
		{Key: "room", Value: doc},
	}, nil
}

func decode(rec *record) (*room.Room, error) {
	data, err := bson.MarshalExtJSON(rec.Room, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert room %s: %w", rec.Code, err)
	}

	var r room.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", rec.Code, err)
	}
	r.Revision = rec.Revision
	return &r, nil
}

func (s *Store) Create(ctx context.Context, r *room.Room) (string, error) {
	c := r.Clone()
	c.LastUpdate = s.clock.Now()

	doc, err := encode(c)
	if err != nil {
		return "", err
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", store.ErrExists
		}
		return "", fmt.Errorf("insert room %s: %w", r.Code, err)
	}
	return r.Code, nil
}

func (s *Store) Get(ctx context.Context, code string) (*room.Room, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": code}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", code, err)
	}
	return decode(&rec)
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

// cas replaces the document only if nobody wrote it since it was read, and
// recomputes the change from the fresh copy otherwise.
func (s *Store) cas(ctx context.Context, code string, step func(*room.Room) (*room.Room, bool, error)) (*room.Room, error) {
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		current, err := s.Get(ctx, code)
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

		filter := bson.M{"_id": code, "revision": current.Revision}

		if store.Abandoned(next) {
			res, err := s.coll.DeleteOne(ctx, filter)
			if err != nil {
				return nil, fmt.Errorf("delete room %s: %w", code, err)
			}
			if res.DeletedCount == 1 {
				return next, nil
			}
			continue
		}

		doc, err := encode(next)
		if err != nil {
			return nil, err
		}
		res, err := s.coll.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return nil, fmt.Errorf("replace room %s: %w", code, err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}

		log.WithFields(log.Fields{"room": code, "attempt": attempt + 1}).Debug("room revision moved, retrying")
	}
	return nil, store.ErrConflict
}

func (s *Store) Remove(ctx context.Context, code string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": code}); err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

type changeEvent struct {
	OperationType string  `bson:"operationType"`
	FullDocument  *record `bson:"fullDocument"`
}

func (s *Store) Subscribe(ctx context.Context, code string, fn func(*room.Room)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: code}}}},
	}
	cs, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch room %s: %w", code, err)
	}

	// read after the stream is open so no write falls in between
	first, err := s.Get(ctx, code)
	if err != nil {
		cs.Close(context.Background())
		cancel()
		return nil, err
	}

	go func() {
		defer cancel()
		defer cs.Close(context.Background())

		fn(first)
		for cs.Next(ctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				log.WithField("room", code).Errorf("decode change event: %v", err)
				continue
			}

			switch ev.OperationType {
			case "delete":
				fn(nil)
				return
			case "insert", "replace", "update":
				if ev.FullDocument == nil {
					continue
				}
				r, err := decode(ev.FullDocument)
				if err != nil {
					log.WithField("room", code).Error(err)
					continue
				}
				fn(r)
			}
		}

		if err := cs.Err(); err != nil && ctx.Err() == nil {
			log.WithField("room", code).Errorf("change stream closed: %v", err)
		}
	}()

	return store.SubscriptionFunc(cancel), nil
}
