package relay

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/store"
)

// Janitor keeps rooms converging while no client is around to drive them:
// it sweeps presence, advances the failover state and closes idle rooms.
type Janitor struct {
	hub      *Hub
	presence *presence.Tracker
	failover *failover.Coordinator
	interval time.Duration
	idle     time.Duration
}

func NewJanitor(hub *Hub, tracker *presence.Tracker, coordinator *failover.Coordinator, interval, idle time.Duration) *Janitor {
	return &Janitor{
		hub:      hub,
		presence: tracker,
		failover: coordinator,
		interval: interval,
		idle:     idle,
	}
}

func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every open room.
func (j *Janitor) Sweep(ctx context.Context) {
	for _, code := range j.hub.Codes() {
		fields := log.Fields{"room": code}

		reaped, err := j.hub.Reap(ctx, code, j.idle)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithFields(fields).Errorf("idle check failed: %v", err)
			continue
		}
		if reaped {
			log.WithFields(fields).Infof("room deleted after %s idle", j.idle)
			continue
		}

		if _, err := j.presence.Sweep(ctx, code); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.WithFields(fields).Errorf("presence sweep failed: %v", err)
			}
			continue
		}
		if _, err := j.failover.Check(ctx, code); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithFields(fields).Errorf("failover check failed: %v", err)
		}
	}
}
