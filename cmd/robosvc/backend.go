package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/wheel-services/configs"
	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/content"
	"github.com/avvvet/wheel-services/internal/db"
	natscli "github.com/avvvet/wheel-services/internal/nats"
	"github.com/avvvet/wheel-services/internal/store"
	"github.com/avvvet/wheel-services/internal/store/memstore"
	"github.com/avvvet/wheel-services/internal/store/mongostore"
	"github.com/avvvet/wheel-services/internal/store/natsstore"
	"github.com/avvvet/wheel-services/internal/store/relaystore"
)

// openStore connects the RoomStore named by ROOM_BACKEND. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Settings, clk clock.Clock) (store.RoomStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memstore.New(clk, cfg.PollInterval), func() {}, nil

	case "mongo":
		database, closeDB, err := db.ConnectToDB(cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		s := mongostore.New(database, cfg.MongoCollection, clk)
		if err := s.EnsureIndexes(ctx, cfg.RoomIdleTimeout); err != nil {
			closeDB()
			return nil, nil, err
		}
		log.Infof("mongo room store ready, collection %s", cfg.MongoCollection)
		return s, closeDB, nil

	case "nats":
		n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME)
		if err != nil {
			return nil, nil, err
		}
		s, err := natsstore.Open(ctx, n.JS, cfg.NatsBucket, cfg.RoomIdleTimeout, clk)
		if err != nil {
			n.Close()
			return nil, nil, err
		}
		log.Infof("NATS room store ready at %s, bucket %s", n.Url, cfg.NatsBucket)
		return s, n.Close, nil

	case "relay":
		s, err := relaystore.Dial(ctx, cfg.RelayURL, cfg.RelayToken)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("relay room store connected to %s", cfg.RelayURL)
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// loadPuzzles prefers the puzzles table when POSTGRES_URL is set.
func loadPuzzles(ctx context.Context, cfg *config.Settings) (*content.Pool, error) {
	if cfg.PostgresURL == "" {
		return content.LoadPuzzles(cfg.PuzzlesFile)
	}

	pool, err := db.ConnectPostgres(cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	ps := content.NewPuzzleStore(pool)
	if err := ps.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return ps.LoadPool(ctx)
}
