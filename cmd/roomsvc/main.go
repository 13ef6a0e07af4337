package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/wheel-services/configs"
	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/nats"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/relay"
)

const SERVICE_NAME = "room"

const roomEventsSubject = "room.events"

func init() {
	instanceId := "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error: invalid configuration %v", err)
	}
	config.CreateUniqueInstance(SERVICE_NAME)

	clk := clock.Real{}
	hub := relay.NewHub(clk)
	tracker := presence.NewTracker(hub, clk, presence.Timings{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		Grace:            cfg.DisconnectGrace,
	}).Limit(cfg.MaxPlayers)
	coordinator := failover.NewCoordinator(hub, clk, failover.Timings{
		FirstVoteAfter: cfg.FirstVoteAfter,
		RevoteAfter:    cfg.RevoteAfter,
		VoteDuration:   cfg.VoteDuration,
	})

	// announce rooms on NATS when a server is configured
	if cfg.NatsURL != "" {
		n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME)
		if err != nil {
			log.Errorf("Error: unable to connect to NATS server %v", err)
			os.Exit(0)
		}
		defer n.Close()
		log.Printf("NATS connection established successfully %s", n.Url)

		hub.Observe(relay.NewBroker(n.Conn, roomEventsSubject).Notify)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	tokenAuth := relay.InitAuth(cfg.JWTSecret)
	s := relay.NewWs(hub, tracker)
	relay.SetRoutes(r, relay.NewHandler(s, cfg.Port), tokenAuth)

	if token, err := relay.IssueToken(tokenAuth, "debug", 24*time.Hour); err == nil {
		log.Debugf("debug client token: %s", token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor := relay.NewJanitor(hub, tracker, coordinator, cfg.SweepInterval, cfg.RoomIdleTimeout)
	go janitor.Run(ctx)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
