package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/comm"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// client is one websocket connection.
type client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu    sync.Mutex
	subs  map[string]store.Subscription // room code -> subscription
	bound map[binding]struct{}
}

type binding struct {
	code     string
	playerID string
}

func (c *client) send(msg *comm.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Ws struct {
	connMap  sync.Map // socketId -> *client
	hub      *Hub
	presence *presence.Tracker
}

func NewWs(hub *Hub, tracker *presence.Tracker) *Ws {
	return &Ws{hub: hub, presence: tracker}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, &client{
		id:    socketId,
		conn:  conn,
		subs:  make(map[string]store.Subscription),
		bound: make(map[binding]struct{}),
	})
}

func (s *Ws) getClient(socketId string) (*client, bool) {
	c, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return c.(*client), true
}

// SocketMessage handles one request from a client and answers it.
func (s *Ws) SocketMessage(ctx context.Context, socketId string, msg *comm.WSMessage) {
	c, ok := s.getClient(socketId)
	if !ok {
		return
	}

	var rsp *comm.WSMessage
	switch msg.Type {
	case comm.TypeCreate:
		rsp = s.handleCreate(ctx, msg)
	case comm.TypeGet:
		r, err := s.hub.Get(ctx, msg.Code)
		rsp = comm.Reply(msg, r, err)
	case comm.TypePatch:
		rsp = s.handlePatch(ctx, msg)
	case comm.TypeRemove:
		rsp = comm.Reply(msg, nil, s.hub.Remove(ctx, msg.Code))
	case comm.TypeSubscribe:
		rsp = comm.Reply(msg, nil, s.subscribe(ctx, c, msg.Code))
	case comm.TypeUnsubscribe:
		s.unsubscribe(c, msg.Code)
		rsp = comm.Reply(msg, nil, nil)
	case comm.TypeBind:
		rsp = s.handleBind(ctx, c, msg)
	default:
		log.Warnf("unknown event received: %s", msg.Type)
		rsp = comm.Reply(msg, nil, comm.ErrBadRequest)
	}

	if err := c.send(rsp); err != nil {
		log.Errorf("failed to answer %s on socket %s: %v", msg.Type, socketId, err)
	}
}

func (s *Ws) handleCreate(ctx context.Context, msg *comm.WSMessage) *comm.WSMessage {
	var r room.Room
	if err := json.Unmarshal(msg.Data, &r); err != nil || r.Code == "" {
		log.Errorf("Error: invalid_create_data Malformed room payload %v", err)
		return comm.Reply(msg, nil, comm.ErrBadRequest)
	}

	code, err := s.hub.Create(ctx, &r)
	return comm.Reply(msg, map[string]string{"code": code}, err)
}

func (s *Ws) handlePatch(ctx context.Context, msg *comm.WSMessage) *comm.WSMessage {
	var p room.Patch
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return comm.Reply(msg, nil, comm.ErrBadRequest)
	}
	if err := p.Validate(); err != nil {
		return comm.Reply(msg, nil, fmt.Errorf("%w: %v", comm.ErrBadRequest, err))
	}

	r, err := s.hub.PatchIf(ctx, msg.Code, p, msg.IfRevision)
	return comm.Reply(msg, r, err)
}

// handleBind ties the socket to a player so that losing the socket marks the
// player disconnected. One socket may carry several players.
func (s *Ws) handleBind(ctx context.Context, c *client, msg *comm.WSMessage) *comm.WSMessage {
	var payload comm.BindData
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PlayerID == "" {
		return comm.Reply(msg, nil, comm.ErrBadRequest)
	}

	r, err := s.hub.Get(ctx, msg.Code)
	if err != nil {
		return comm.Reply(msg, nil, err)
	}
	if r.Player(payload.PlayerID) == nil {
		return comm.Reply(msg, nil, store.ErrNotFound)
	}

	c.mu.Lock()
	c.bound[binding{code: msg.Code, playerID: payload.PlayerID}] = struct{}{}
	c.mu.Unlock()

	log.WithFields(log.Fields{"room": msg.Code, "player": payload.PlayerID}).Debugf("socket %s bound", c.id)
	return comm.Reply(msg, nil, nil)
}

func (s *Ws) subscribe(ctx context.Context, c *client, code string) error {
	c.mu.Lock()
	_, exists := c.subs[code]
	c.mu.Unlock()
	if exists {
		return nil
	}

	sub, err := s.hub.Subscribe(context.Background(), code, func(r *room.Room) {
		update := &comm.WSMessage{Type: comm.TypeRoomUpdate, Code: code, Data: json.RawMessage("null")}
		if r == nil {
			c.mu.Lock()
			delete(c.subs, code)
			c.mu.Unlock()
		} else {
			data, err := json.Marshal(r)
			if err != nil {
				log.WithField("room", code).Errorf("encode room update: %v", err)
				return
			}
			update.Data = data
		}
		if err := c.send(update); err != nil {
			log.Debugf("push to socket %s failed: %v", c.id, err)
		}
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[code] = sub
	c.mu.Unlock()
	return nil
}

func (s *Ws) unsubscribe(c *client, code string) {
	c.mu.Lock()
	sub, ok := c.subs[code]
	delete(c.subs, code)
	c.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

// HandleDisconnect drops the socket's subscriptions and marks its bound
// players disconnected.
func (s *Ws) HandleDisconnect(socketId string) {
	c, ok := s.getClient(socketId)
	if !ok {
		return
	}
	s.connMap.Delete(socketId)

	c.mu.Lock()
	subs := c.subs
	c.subs = map[string]store.Subscription{}
	bound := c.bound
	c.bound = map[binding]struct{}{}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	for b := range bound {
		_, err := s.presence.MarkDisconnected(context.Background(), b.code, b.playerID)
		if err != nil {
			log.WithFields(log.Fields{"room": b.code, "player": b.playerID}).Debugf("disconnect not recorded: %v", err)
		}
	}
}

// Count returns the number of open sockets.
func (s *Ws) Count() int {
	n := 0
	s.connMap.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}
