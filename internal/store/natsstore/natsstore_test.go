package natsstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/nats"
	"github.com/avvvet/wheel-services/internal/store"
	"github.com/avvvet/wheel-services/internal/store/storetest"
)

func TestIsWrongRevision(t *testing.T) {
	assert.True(t, isWrongRevision(fmt.Errorf("wrapped: %w", &jetstream.APIError{ErrorCode: wrongLastSequence})))
	assert.False(t, isWrongRevision(&jetstream.APIError{ErrorCode: 10037}))
	assert.False(t, isWrongRevision(assert.AnError))
}

// TestConformance needs a JetStream enabled server (nats-server -js).
func TestConformance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	n, err := nats.Connect(url, os.Getenv("NATS_TOKEN"), "natsstore-test")
	require.NoError(t, err)
	t.Cleanup(n.Close)

	ctx := context.Background()
	bucket := fmt.Sprintf("rooms_test_%d", time.Now().UnixNano())
	s, err := Open(ctx, n.JS, bucket, time.Hour, clock.Real{})
	require.NoError(t, err)
	t.Cleanup(func() { n.JS.DeleteKeyValue(context.Background(), bucket) })

	storetest.Run(t, func(t *testing.T) store.RoomStore { return s })

	codes, err := s.Codes(ctx)
	require.NoError(t, err)
	assert.NotNil(t, codes)
}
