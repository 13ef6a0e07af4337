package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/wheel-services/configs"
	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/content"
	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/game"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/session"
	"github.com/avvvet/wheel-services/internal/store"
)

const SERVICE_NAME = "robot"

const maxMoves = 5000

func init() {
	instanceId := "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func newFacade(s store.RoomStore, cfg *config.Settings, puzzles *content.Pool, wheel *content.Wheel, filter *content.Filter, clk clock.Clock) *session.Facade {
	tracker := presence.NewTracker(s, clk, presence.Timings{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		Grace:            cfg.DisconnectGrace,
	}).Limit(cfg.MaxPlayers)
	coordinator := failover.NewCoordinator(s, clk, failover.Timings{
		FirstVoteAfter: cfg.FirstVoteAfter,
		RevoteAfter:    cfg.RevoteAfter,
		VoteDuration:   cfg.VoteDuration,
	})
	machine := game.NewMachine(s, puzzles, wheel, game.Config{
		VowelCost:     cfg.VowelCost,
		RoundsPerGame: cfg.RoundsPerGame,
	})
	return session.New(s, tracker, coordinator, machine, filter, clk, session.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxPlayers:        cfg.MaxPlayers,
	})
}

func main() {
	log.Printf("Starting Robot Service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error: invalid configuration %v", err)
	}
	config.CreateUniqueInstance(SERVICE_NAME)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// static content is required; a game without it is not playable
	puzzles, err := loadPuzzles(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load puzzles: %v", err)
	}
	wheel, err := content.LoadWheel(cfg.WheelFile)
	if err != nil {
		log.Fatalf("Failed to load wheel: %v", err)
	}
	filter, err := content.LoadFilter(cfg.BannedWordsFile)
	if err != nil {
		log.Fatalf("Failed to load banned words: %v", err)
	}
	log.Infof("content loaded: %d puzzles, %d wheel segments", puzzles.Len(), len(wheel.Segments))

	clk := clock.Real{}
	s, closeStore, err := openStore(ctx, cfg, clk)
	if err != nil {
		log.Fatalf("Failed to open %s room store: %v", cfg.Backend, err)
	}
	defer closeStore()

	f := newFacade(s, cfg, puzzles, wheel, filter, clk)
	defer f.Close()

	t, err := seat(ctx, f, "Robo Host", 3, cfg.VowelCost)
	if err != nil {
		log.Fatalf("Failed to seat robots: %v", err)
	}
	log.Infof("robots seated in room %s", t.code())

	round := 0
	sub, err := f.OnUpdate(ctx, t.host, func(r *room.Room) {
		if r == nil {
			log.Infof("room %s deleted", t.code())
			return
		}
		if r.CurrentRound != round {
			round = r.CurrentRound
			log.WithField("room", r.Code).Infof("round %d: %s", round, r.Puzzle.Category)
		}
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to room %s: %v", t.code(), err)
	}
	defer sub.Unsubscribe()

	if res, _, err := f.StartGame(ctx, t.host); err != nil || !res.Success {
		log.Fatalf("Failed to start game: %v %s", err, res.Reason)
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt)
		<-stop
		cancel()
	}()

	start := time.Now()
	r, err := t.play(ctx, maxMoves)
	if err != nil {
		log.Errorf("game in room %s stopped: %v", t.code(), err)
	} else if r.Winner != nil {
		log.Infof("game over in %s, %s wins with %d", time.Since(start), r.Winner.Name, r.Winner.TotalMoney)
	}

	t.leave(context.Background())
	log.Infof("%s service done", SERVICE_NAME)
}
