// Package session is the per-client entry point: it creates and joins rooms,
// runs the background presence and failover tasks for each joined player,
// and exposes the game actions with their authorisation rules.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/content"
	"github.com/avvvet/wheel-services/internal/failover"
	"github.com/avvvet/wheel-services/internal/game"
	"github.com/avvvet/wheel-services/internal/presence"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

// Join and create rejections, returned in JoinResult.Error.
const (
	ErrInvalidInput = "a name and a valid role are required"
	ErrInvalidCode  = "invalid room code"
	ErrNameTaken    = "this name is already used in the room"
	ErrBanned       = "you are banned from this room"
	ErrNameBlocked  = "this name is not allowed"
	ErrHostPresent  = "the host is already in the room"
	ErrRoomFull     = "the room is full (4 players max)"
)

var (
	ErrNotMember = errors.New("player is not in the room")
	ErrNoCode    = errors.New("could not allocate a free room code")
)

const createAttempts = 10

// Session identifies one client in one room.
type Session struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

type CreateResult struct {
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Data    *room.Room `json:"data,omitempty"`
	Session Session    `json:"session"`
	Error   string     `json:"error,omitempty"`
}

type JoinResult struct {
	Success     bool       `json:"success"`
	Data        *room.Room `json:"data,omitempty"`
	Reconnected bool       `json:"reconnected,omitempty"`
	Session     Session    `json:"session"`
	Error       string     `json:"error,omitempty"`
}

// rejection aborts a join without writing.
type rejection string

func (r rejection) Error() string { return string(r) }

type Config struct {
	HeartbeatInterval time.Duration
	MaxPlayers        int
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: 5 * time.Second, MaxPlayers: 4}
}

type Facade struct {
	store    store.RoomStore
	presence *presence.Tracker
	failover *failover.Coordinator
	game     *game.Machine
	filter   *content.Filter
	clock    clock.Clock
	cfg      Config
	newID    func() string

	mu    sync.Mutex
	tasks map[Session]*task
}

// New wires a facade. filter may be nil.
func New(s store.RoomStore, tracker *presence.Tracker, coordinator *failover.Coordinator, machine *game.Machine, filter *content.Filter, clk clock.Clock, cfg Config) *Facade {
	return &Facade{
		store:    s,
		presence: tracker,
		failover: coordinator,
		game:     machine,
		filter:   filter,
		clock:    clk,
		cfg:      cfg,
		newID:    uuid.NewString,
		tasks:    make(map[Session]*task),
	}
}

func validInput(name string, role room.Role) bool {
	return strings.TrimSpace(name) != "" && role.Valid()
}

// CreateRoom opens a lobby owned by the caller under a fresh code.
func (f *Facade) CreateRoom(ctx context.Context, name string, role room.Role) (CreateResult, error) {
	name = strings.TrimSpace(name)
	if !validInput(name, role) {
		return CreateResult{Error: ErrInvalidInput}, nil
	}
	if f.filter != nil && f.filter.Blocked(name) {
		return CreateResult{Error: ErrNameBlocked}, nil
	}

	creator := room.Player{ID: f.newID(), Name: name, Role: role}
	for attempt := 0; attempt < createAttempts; attempt++ {
		r := room.New(room.NewCode(), creator, f.clock.Now())

		code, err := f.store.Create(ctx, r)
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return CreateResult{}, fmt.Errorf("create room: %w", err)
		}

		sess := Session{Code: code, PlayerID: creator.ID}
		f.bind(ctx, sess)
		f.start(sess)

		log.WithFields(log.Fields{"room": code, "player": creator.ID}).Infof("room created by %s", name)
		return CreateResult{Success: true, Code: code, Data: r, Session: sess}, nil
	}
	return CreateResult{}, ErrNoCode
}

// JoinRoom adds the caller to a room, or resumes its disconnected record when
// the name matches one still inside the grace window.
func (f *Facade) JoinRoom(ctx context.Context, code, name string, role room.Role) (JoinResult, error) {
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if !validInput(name, role) {
		return JoinResult{Error: ErrInvalidInput}, nil
	}
	if !room.ValidCode(code) {
		return JoinResult{Error: ErrInvalidCode}, nil
	}

	var (
		playerID    string
		reconnected bool
	)
	r, err := store.Update(ctx, f.store, code, func(r *room.Room) error {
		now := f.clock.Now()
		playerID, reconnected = "", false

		m := presence.MatchReconnect(r, name, now, f.presence.Timings().Grace)
		switch m.Kind {
		case presence.NameTaken:
			return rejection(ErrNameTaken)
		case presence.Resume:
			if !presence.CanRevive(r, m.Index, f.cfg.MaxPlayers) {
				return rejection(ErrRoomFull)
			}
			presence.MarkConnected(r, m.Index, now)
			playerID, reconnected = r.Players[m.Index].ID, true
			return nil
		}

		switch {
		case r.IsBanned(name):
			return rejection(ErrBanned)
		case r.Settings.FilterBannedUsernames && f.filter != nil && f.filter.Blocked(name):
			return rejection(ErrNameBlocked)
		case role == room.RoleHost && f.hostHeld(r, now):
			return rejection(ErrHostPresent)
		case role == room.RolePlayer && r.ActiveCount() >= f.cfg.MaxPlayers:
			return rejection(ErrRoomFull)
		}

		p := room.Player{ID: f.newID(), Name: name, Role: role, Connected: true, LastHeartbeat: now}
		r.Players = append(r.Players, p)
		if role == room.RoleHost {
			r.Host = name
			failover.Resume(r)
		}
		playerID = p.ID
		return nil
	})

	var rej rejection
	switch {
	case errors.As(err, &rej):
		return JoinResult{Error: string(rej)}, nil
	case errors.Is(err, store.ErrNotFound):
		return JoinResult{Error: ErrInvalidCode}, nil
	case err != nil:
		return JoinResult{}, fmt.Errorf("join room %s: %w", code, err)
	}

	sess := Session{Code: code, PlayerID: playerID}
	f.bind(ctx, sess)
	f.start(sess)

	fields := log.Fields{"room": code, "player": playerID}
	if reconnected {
		log.WithFields(fields).Infof("%s reconnected", name)
	} else {
		log.WithFields(fields).Infof("%s joined as %s", name, role)
	}
	return JoinResult{Success: true, Data: r, Reconnected: reconnected, Session: sess}, nil
}

// hostHeld reports whether the room's host record still counts: connected, or
// disconnected but inside the grace window. An expired record is dropped so a
// new host can take its place.
func (f *Facade) hostHeld(r *room.Room, now time.Time) bool {
	i := r.HostIndex()
	if i < 0 {
		return false
	}
	p := r.Players[i]
	if p.Connected || p.DisconnectedAt == nil || now.Sub(*p.DisconnectedAt) <= f.presence.Timings().Grace {
		return true
	}

	turn := r.TurnPlayerID()
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	r.RetargetTurn(turn)
	return false
}

// bind lets a connection-aware backend notice the player dropping.
func (f *Facade) bind(ctx context.Context, sess Session) {
	b, ok := f.store.(store.Binder)
	if !ok {
		return
	}
	if err := b.Bind(ctx, sess.Code, sess.PlayerID); err != nil {
		log.WithFields(log.Fields{"room": sess.Code, "player": sess.PlayerID}).Warnf("bind failed: %v", err)
	}
}

// LeaveRoom removes the caller for good. A leaving host hands the role to the
// first remaining player; the last one out deletes the room.
func (f *Facade) LeaveRoom(ctx context.Context, sess Session) error {
	f.stop(sess)

	r, err := store.Update(ctx, f.store, sess.Code, func(r *room.Room) error {
		p := r.Player(sess.PlayerID)
		if p == nil {
			return nil
		}
		wasHost := p.Role == room.RoleHost
		turn := r.TurnPlayerID()

		r.RemovePlayer(sess.PlayerID)
		if wasHost && len(r.Players) > 0 {
			promote(r)
		}
		r.RetargetTurn(turn)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave room %s: %w", sess.Code, err)
	}

	fields := log.Fields{"room": sess.Code, "player": sess.PlayerID}
	if store.Abandoned(r) {
		log.WithFields(fields).Info("last player left, room deleted")
	} else {
		log.WithFields(fields).Info("player left")
	}
	return nil
}

func promote(r *room.Room) {
	i := r.HostIndex()
	if i < 0 {
		i = 0
	}
	r.Players[i].Role = room.RoleHost
	r.Host = r.Players[i].Name
	if r.Players[i].Connected {
		failover.Resume(r)
	}
}

// Disconnect marks the caller away without removing it, as when a tab closes.
// The player can resume within the grace window.
func (f *Facade) Disconnect(ctx context.Context, sess Session) error {
	f.stop(sess)

	_, err := f.presence.MarkDisconnected(ctx, sess.Code, sess.PlayerID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, presence.ErrUnknownPlayer) {
		return nil
	}
	return err
}

// UpdateRoomState is the generic shallow-merge write. Patching a room that is
// gone is a no-op and returns nil.
func (f *Facade) UpdateRoomState(ctx context.Context, sess Session, p room.Patch) (*room.Room, error) {
	r, err := f.store.Patch(ctx, sess.Code, p)
	if errors.Is(err, store.ErrNotFound) {
		log.WithField("room", sess.Code).Debug("patch skipped, room is gone")
		return nil, nil
	}
	return r, err
}

// GetRoomData returns store.ErrNotFound for an unknown code.
func (f *Facade) GetRoomData(ctx context.Context, code string) (*room.Room, error) {
	return f.store.Get(ctx, code)
}

// OnUpdate calls fn with every snapshot of the caller's room and with nil
// once it is deleted.
func (f *Facade) OnUpdate(ctx context.Context, sess Session, fn func(*room.Room)) (store.Subscription, error) {
	return f.store.Subscribe(ctx, sess.Code, fn)
}

// SendChat appends a message signed with the caller's name.
func (f *Facade) SendChat(ctx context.Context, sess Session, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	_, err := store.Update(ctx, f.store, sess.Code, func(r *room.Room) error {
		p := r.Player(sess.PlayerID)
		if p == nil {
			return ErrNotMember
		}
		r.ChatMessages = append(r.ChatMessages, room.ChatMessage{
			Sender:    p.Name,
			Message:   message,
			Timestamp: f.clock.Now(),
		})
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
