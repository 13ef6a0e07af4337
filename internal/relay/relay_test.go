package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/comm"
	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
	"github.com/avvvet/wheel-services/internal/store/storetest"
)

func TestHubConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.RoomStore {
		return NewHub(clock.Real{})
	})
}

func TestHubPatchIf(t *testing.T) {
	h := NewHub(clock.Real{})
	ctx := context.Background()
	_, err := h.Create(ctx, storetest.Fixture("ABCDEF"))
	require.NoError(t, err)

	stale := int64(0)
	_, err = h.PatchIf(ctx, "ABCDEF", room.Patch{room.FieldCurrentRound: 1}, &stale)
	require.NoError(t, err)

	_, err = h.PatchIf(ctx, "ABCDEF", room.Patch{room.FieldCurrentRound: 2}, &stale)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestJanitor(t *testing.T) {
	clk := clock.NewFake(storetest.Now)
	h := NewHub(clk)
	ctx := context.Background()
	tracker := presence.NewTracker(h, clk, presence.DefaultTimings())
	coord := failover.NewCoordinator(h, clk, failover.DefaultTimings())
	j := NewJanitor(h, tracker, coord, time.Minute, time.Hour)

	_, err := h.Create(ctx, storetest.Fixture("AAAAAA"))
	require.NoError(t, err)

	// everyone stops beating: first marked away, then evicted with the room
	clk.Advance(20 * time.Second)
	j.Sweep(ctx)
	r, err := h.Get(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.False(t, r.Players[1].Connected)

	clk.Advance(3 * time.Minute)
	j.Sweep(ctx)
	_, err = h.Get(ctx, "AAAAAA")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.Create(ctx, storetest.Fixture("BBBBBB"))
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)
	j.Sweep(ctx)
	assert.Empty(t, h.Codes())
}

type server struct {
	hub   *Hub
	ts    *httptest.Server
	token string
}

func newServer(t *testing.T) *server {
	t.Helper()
	clk := clock.Real{}
	hub := NewHub(clk)
	tracker := presence.NewTracker(hub, clk, presence.DefaultTimings())
	auth := InitAuth("test-secret")

	r := chi.NewRouter()
	SetRoutes(r, NewHandler(NewWs(hub, tracker), "0"), auth)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	token, err := IssueToken(auth, "test", time.Hour)
	require.NoError(t, err)
	return &server{hub: hub, ts: ts, token: token}
}

func (s *server) wsURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/ws"
}

func (s *server) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), http.Header{"Authorization": {"Bearer " + s.token}})
	require.NoError(t, err)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg *comm.WSMessage) *comm.WSMessage {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	for {
		var rsp comm.WSMessage
		require.NoError(t, conn.ReadJSON(&rsp))
		if rsp.ID == msg.ID {
			return &rsp
		}
	}
}

func TestRejectsMissingToken(t *testing.T) {
	s := newServer(t)
	_, rsp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, rsp)
	assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
}

func TestSocketProtocol(t *testing.T) {
	s := newServer(t)
	conn := s.dial(t)
	defer conn.Close()

	data, err := json.Marshal(storetest.Fixture("ABCDEF"))
	require.NoError(t, err)

	rsp := roundTrip(t, conn, &comm.WSMessage{Type: comm.TypeCreate, ID: "1", Code: "ABCDEF", Data: data})
	assert.Equal(t, "create-response", rsp.Type)
	assert.Empty(t, rsp.Error)

	rsp = roundTrip(t, conn, &comm.WSMessage{Type: comm.TypeCreate, ID: "2", Code: "ABCDEF", Data: data})
	assert.Equal(t, comm.ErrCodeExists, rsp.Error)

	rsp = roundTrip(t, conn, &comm.WSMessage{Type: comm.TypePatch, ID: "3", Code: "ABCDEF", Data: json.RawMessage(`{"code":"NOPE"}`)})
	assert.Equal(t, comm.ErrCodeBadRequest, rsp.Error)

	rsp = roundTrip(t, conn, &comm.WSMessage{Type: "dance", ID: "4"})
	assert.Equal(t, comm.ErrCodeBadRequest, rsp.Error)

	rsp = roundTrip(t, conn, &comm.WSMessage{Type: comm.TypeGet, ID: "5", Code: "ZZZZZZ"})
	assert.Equal(t, comm.ErrCodeNotFound, rsp.Error)
}

func TestBoundSocketCloseMarksPlayerAway(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	r := storetest.Fixture("ABCDEF")
	r.State = room.StatePlaying
	_, err := s.hub.Create(ctx, r)
	require.NoError(t, err)

	conn := s.dial(t)
	bind, _ := json.Marshal(comm.BindData{PlayerID: "host-1"})
	rsp := roundTrip(t, conn, &comm.WSMessage{Type: comm.TypeBind, ID: "1", Code: "ABCDEF", Data: bind})
	require.Empty(t, rsp.Error)

	rsp = roundTrip(t, conn, &comm.WSMessage{Type: comm.TypeBind, ID: "2", Code: "ABCDEF", Data: json.RawMessage(`{"playerId":"ghost"}`)})
	assert.Equal(t, comm.ErrCodeNotFound, rsp.Error)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		r, err := s.hub.Get(ctx, "ABCDEF")
		return err == nil && !r.Players[0].Connected && r.Paused
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPRoutes(t *testing.T) {
	s := newServer(t)
	_, err := s.hub.Create(context.Background(), storetest.Fixture("ABCDEF"))
	require.NoError(t, err)

	get := func(path string) (*http.Response, Response) {
		req, err := http.NewRequest(http.MethodGet, s.ts.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+s.token)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()

		var body Response
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		return res, body
	}

	res, body := get("/v1/health")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body.Message, "room service")

	res, body = get("/v1/rooms/ABCDEF")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ABCDEF", body.Data.(map[string]interface{})["code"])

	res, body = get("/v1/rooms/ZZZZZZ")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, comm.ErrCodeNotFound, body.Error)
}

type recorder struct {
	mu     sync.Mutex
	events []comm.WSMessage
}

func (r *recorder) Publish(subject string, data []byte) error {
	var m comm.WSMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.events {
		out = append(out, m.Type+" "+m.Code)
	}
	return out
}

func TestBrokerAnnouncesLifecycle(t *testing.T) {
	rec := &recorder{}
	h := NewHub(clock.Real{})
	h.Observe(NewBroker(rec, "room.events").Notify)

	ctx := context.Background()
	_, err := h.Create(ctx, storetest.Fixture("ABCDEF"))
	require.NoError(t, err)
	require.NoError(t, h.Remove(ctx, "ABCDEF"))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{EventRoomOpened + " ABCDEF", EventRoomClosed + " ABCDEF"}, rec.types())
	}, time.Second, 5*time.Millisecond)
}
