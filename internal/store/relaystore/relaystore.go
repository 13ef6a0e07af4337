// Package relaystore talks to the relay server over one websocket. Requests
// are matched to responses by id; the server only pushes updates for rooms
// this connection subscribed to.
package relaystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/comm"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

var ErrClosed = errors.New("relay connection closed")

type Store struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *comm.WSMessage
	feeds   map[string]map[*store.Feed]struct{} // room code -> local subscribers

	closed chan struct{}
	once   sync.Once
}

// Dial connects to the relay's websocket endpoint, e.g.
// ws://localhost:8010/v1/ws, authenticating with token.
func Dial(ctx context.Context, url, token string) (*Store, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, rsp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("dial relay %s: %s: %w", url, rsp.Status, err)
		}
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	s := &Store{
		conn:    conn,
		pending: make(map[string]chan *comm.WSMessage),
		feeds:   make(map[string]map[*store.Feed]struct{}),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Store) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.conn.Close()
}

func (s *Store) readLoop() {
	defer s.once.Do(func() { close(s.closed) })

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.Errorf("relay connection lost: %v", err)
			}
			return
		}

		msg := &comm.WSMessage{}
		if err := json.Unmarshal(raw, msg); err != nil {
			log.Errorf("malformed message from relay: %v", err)
			continue
		}

		if msg.Type == comm.TypeRoomUpdate {
			s.dispatch(msg)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		delete(s.pending, msg.ID)
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (s *Store) dispatch(msg *comm.WSMessage) {
	var r *room.Room
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		r = &room.Room{}
		if err := json.Unmarshal(msg.Data, r); err != nil {
			log.WithField("room", msg.Code).Errorf("decode room update: %v", err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.feeds[msg.Code] {
		if r == nil {
			f.Offer(nil)
		} else {
			f.Offer(r.Clone())
		}
	}
	if r == nil {
		delete(s.feeds, msg.Code)
	}
}

func (s *Store) request(ctx context.Context, msg *comm.WSMessage) (*comm.WSMessage, error) {
	msg.ID = uuid.NewString()
	reply := make(chan *comm.WSMessage, 1)

	s.mu.Lock()
	s.pending[msg.ID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Type, err)
	}

	select {
	case rsp := <-reply:
		if err := comm.Err(rsp.Error); err != nil {
			return nil, err
		}
		return rsp, nil
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeRoom(rsp *comm.WSMessage) (*room.Room, error) {
	var r room.Room
	if err := json.Unmarshal(rsp.Data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", rsp.Code, err)
	}
	return &r, nil
}

func (s *Store) Create(ctx context.Context, r *room.Room) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	rsp, err := s.request(ctx, &comm.WSMessage{Type: comm.TypeCreate, Code: r.Code, Data: data})
	if err != nil {
		return "", err
	}

	var out struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rsp.Data, &out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return out.Code, nil
}

func (s *Store) Get(ctx context.Context, code string) (*room.Room, error) {
	rsp, err := s.request(ctx, &comm.WSMessage{Type: comm.TypeGet, Code: code})
	if err != nil {
		return nil, err
	}
	return decodeRoom(rsp)
}

func (s *Store) Patch(ctx context.Context, code string, p room.Patch) (*room.Room, error) {
	return s.patch(ctx, code, p, nil)
}

func (s *Store) patch(ctx context.Context, code string, p room.Patch, ifRevision *int64) (*room.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	rsp, err := s.request(ctx, &comm.WSMessage{Type: comm.TypePatch, Code: code, Data: data, IfRevision: ifRevision})
	if err != nil {
		return nil, err
	}
	return decodeRoom(rsp)
}

// Transact computes the change locally and lets the server check that nobody
// wrote in between.
func (s *Store) Transact(ctx context.Context, code string, fn store.Mutator) (*room.Room, error) {
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		current, err := s.Get(ctx, code)
		if err != nil {
			return nil, err
		}

		p, err := store.Mutate(current, fn)
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			return current, nil
		}

		rev := current.Revision
		r, err := s.patch(ctx, code, p, &rev)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return r, err
	}
	return nil, store.ErrConflict
}

func (s *Store) Remove(ctx context.Context, code string) error {
	_, err := s.request(ctx, &comm.WSMessage{Type: comm.TypeRemove, Code: code})
	return err
}

// Bind asks the server to mark playerID disconnected once this connection is
// lost. A connection may carry several players.
func (s *Store) Bind(ctx context.Context, code, playerID string) error {
	data, err := json.Marshal(comm.BindData{PlayerID: playerID})
	if err != nil {
		return err
	}
	_, err = s.request(ctx, &comm.WSMessage{Type: comm.TypeBind, Code: code, Data: data})
	return err
}

func (s *Store) Subscribe(ctx context.Context, code string, fn func(*room.Room)) (store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	f := store.NewFeed(ctx, fn)

	s.mu.Lock()
	set, shared := s.feeds[code]
	if !shared {
		set = make(map[*store.Feed]struct{})
		s.feeds[code] = set
	}
	set[f] = struct{}{}
	s.mu.Unlock()

	var err error
	if shared {
		// the server already streams this room; seed the new feed ourselves
		var r *room.Room
		if r, err = s.Get(ctx, code); err == nil {
			f.Offer(r)
		}
	} else {
		_, err = s.request(ctx, &comm.WSMessage{Type: comm.TypeSubscribe, Code: code})
	}
	if err != nil {
		s.drop(code, f)
		cancel()
		return nil, err
	}

	return store.SubscriptionFunc(func() {
		cancel()
		f.Unsubscribe()
		if s.drop(code, f) {
			s.request(context.Background(), &comm.WSMessage{Type: comm.TypeUnsubscribe, Code: code})
		}
	}), nil
}

// drop forgets f and reports whether it was the last subscriber of code.
func (s *Store) drop(code string, f *store.Feed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.feeds[code]
	if !ok {
		return false
	}
	delete(set, f)
	if len(set) == 0 {
		delete(s.feeds, code)
		return true
	}
	return false
}
