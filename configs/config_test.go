package config

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", s.Backend)
	assert.Equal(t, 250, s.VowelCost)
	assert.Equal(t, 5, s.RoundsPerGame)
	assert.Equal(t, 4, s.MaxPlayers)
	assert.Equal(t, 5*time.Second, s.HeartbeatInterval)
	assert.Equal(t, 120*time.Second, s.DisconnectGrace)
	assert.Equal(t, time.Hour, s.RoomIdleTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ROOM_BACKEND", "nats")
	t.Setenv("VOWEL_COST", "300")
	t.Setenv("VOTE_DURATION", "90s")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nats", s.Backend)
	assert.Equal(t, 300, s.VowelCost)
	assert.Equal(t, 90*time.Second, s.VoteDuration)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ROOM_BACKEND", "redis")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ROOM_BACKEND", "memory")
	t.Setenv("HEARTBEAT_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, log.InfoLevel, Level(""))
	assert.Equal(t, log.DebugLevel, Level("debug"))
	assert.Equal(t, log.InfoLevel, Level("chatty"))
}

func TestCustomLoggerMiddleware(t *testing.T) {
	h := CustomLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
