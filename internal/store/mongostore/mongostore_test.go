package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/db"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
	"github.com/avvvet/wheel-services/internal/store/storetest"
)

func TestCodec(t *testing.T) {
	r := storetest.Fixture("ABCDEF")
	r.Revision = 7
	r.WheelResult = room.Special(room.EffectHoldUp)
	r.Puzzle = room.NewPuzzle("Animal", "le chat noir")
	r.Vote = &room.Vote{Active: true, Duration: 60, Votes: map[string]room.Ballot{"player-1": room.BallotYes}}

	doc, err := encode(r)
	require.NoError(t, err)

	data, err := bson.Marshal(doc)
	require.NoError(t, err)

	var rec record
	require.NoError(t, bson.Unmarshal(data, &rec))
	assert.Equal(t, "ABCDEF", rec.Code)
	assert.Equal(t, int64(7), rec.Revision)

	got, err := decode(&rec)
	require.NoError(t, err)
	assert.Equal(t, r.Players, got.Players)
	assert.Equal(t, r.Puzzle, got.Puzzle)
	assert.Equal(t, r.WheelResult, got.WheelResult)
	assert.Equal(t, r.Vote.Votes, got.Vote.Votes)
	assert.Equal(t, int64(7), got.Revision)
}

// TestConformance needs a replica set, e.g.
// MONGODB_URI=mongodb://localhost:27017/wheel_test?replicaSet=rs0
func TestConformance(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}

	database, disconnect, err := db.ConnectToDB(uri)
	require.NoError(t, err)
	t.Cleanup(disconnect)

	s := New(database, "rooms_test", clock.Real{})
	require.NoError(t, s.EnsureIndexes(context.Background(), time.Hour))

	storetest.Run(t, func(t *testing.T) store.RoomStore { return s })
}
