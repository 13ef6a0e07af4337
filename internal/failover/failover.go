// Package failover pauses a game whose host dropped and lets the remaining
// players vote to stop it.
package failover

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/wheel-services/internal/clock"
	"github.com/avvvet/wheel-services/internal/room"
	"github.com/avvvet/wheel-services/internal/store"
)

const (
	FirstQuestion  = "The host has been away for 2 minutes. Do you want to stop the game?"
	RevoteQuestion = "The host is still away. Do you want to stop the game?"
)

var (
	ErrNoVote    = errors.New("no vote in progress")
	ErrNotMember = errors.New("not a member of the room")
	ErrBadBallot = errors.New("ballot must be yes or no")
)

type Timings struct {
	FirstVoteAfter time.Duration
	RevoteAfter    time.Duration
	VoteDuration   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		FirstVoteAfter: 120 * time.Second,
		RevoteAfter:    60 * time.Second,
		VoteDuration:   60 * time.Second,
	}
}

// Pause freezes play because the host dropped.
func Pause(r *room.Room, now time.Time) {
	if r.State != room.StatePlaying || r.Paused {
		return
	}
	r.Paused = true
	r.PausedAt = &now
	r.PauseReason = room.PauseHostDisconnected
}

// Resume lifts a host-disconnect pause and discards any vote.
func Resume(r *room.Room) bool {
	if !r.Paused || r.PauseReason != room.PauseHostDisconnected {
		return false
	}
	r.Paused = false
	r.PausedAt = nil
	r.PauseReason = room.PauseNone
	r.Vote = nil
	return true
}

func startVote(r *room.Room, question string, now time.Time, t Timings) {
	r.Vote = &room.Vote{
		Active:    true,
		Question:  question,
		StartedAt: now,
		Duration:  int(t.VoteDuration / time.Second),
		Votes:     map[string]room.Ballot{},
	}
}

// Tally counts ballots of every voter; a tie is a no.
func Tally(v *room.Vote) room.Ballot {
	yes, no := 0, 0
	for _, b := range v.Votes {
		switch b {
		case room.BallotYes:
			yes++
		case room.BallotNo:
			no++
		}
	}
	if yes > no {
		return room.BallotYes
	}
	return room.BallotNo
}

// QuorumReached reports whether every connected player has voted. The
// eligible set is taken at evaluation time, so a voter who drops mid-vote no
// longer holds it open.
func QuorumReached(r *room.Room) bool {
	active := r.ActiveIndexes()
	if len(active) == 0 || r.Vote == nil {
		return false
	}
	for _, i := range active {
		if _, ok := r.Vote.Votes[r.Players[i].ID]; !ok {
			return false
		}
	}
	return true
}

func endVote(r *room.Room, now time.Time) {
	v := r.Vote
	v.Active = false
	v.EndedAt = &now
	v.Result = Tally(v)

	if v.Result == room.BallotYes {
		r.State = room.StateFinished
		r.Puzzle = nil
		r.Paused = false
		r.PauseReason = room.PauseVoteStopped
	}
}

// Evaluate moves the pause state machine forward to now. It is idempotent:
// running it again at the same instant changes nothing.
func Evaluate(r *room.Room, now time.Time, t Timings) {
	if !r.Paused {
		return
	}

	if r.ConnectedHost() != nil {
		Resume(r)
		return
	}
	if r.PauseReason != room.PauseHostDisconnected || r.PausedAt == nil {
		return
	}

	v := r.Vote
	switch {
	case v == nil:
		if now.Sub(*r.PausedAt) > t.FirstVoteAfter {
			startVote(r, FirstQuestion, now, t)
		}
	case v.Active:
		if QuorumReached(r) || !now.Before(v.Deadline()) {
			endVote(r, now)
		}
	case v.EndedAt != nil && v.Result != room.BallotYes:
		if now.Sub(*v.EndedAt) > t.RevoteAfter {
			startVote(r, RevoteQuestion, now, t)
		}
	}
}

// Vote records a ballot, last write wins per voter, and ends the vote once
// every connected player has voted.
func Vote(r *room.Room, playerID string, b room.Ballot, now time.Time) error {
	if !b.Valid() {
		return ErrBadBallot
	}
	if r.Vote == nil || !r.Vote.Active {
		return ErrNoVote
	}
	r.Vote.Votes[playerID] = b
	if QuorumReached(r) {
		endVote(r, now)
	}
	return nil
}

type Coordinator struct {
	store   store.RoomStore
	clock   clock.Clock
	timings Timings
}

func NewCoordinator(s store.RoomStore, clk clock.Clock, t Timings) *Coordinator {
	return &Coordinator{store: s, clock: clk, timings: t}
}

// Check runs Evaluate against the stored room and writes what changed.
func (c *Coordinator) Check(ctx context.Context, code string) (*room.Room, error) {
	var before *room.Vote
	r, err := store.Update(ctx, c.store, code, func(r *room.Room) error {
		before = snapshot(r.Vote)
		Evaluate(r, c.clock.Now(), c.timings)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logTransition(code, before, r)
	return r, nil
}

// CastVote accepts a ballot from any room member.
func (c *Coordinator) CastVote(ctx context.Context, code, playerID string, b room.Ballot) (*room.Room, error) {
	var before *room.Vote
	r, err := store.Update(ctx, c.store, code, func(r *room.Room) error {
		if r.Player(playerID) == nil {
			return ErrNotMember
		}
		before = snapshot(r.Vote)
		return Vote(r, playerID, b, c.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	logTransition(code, before, r)
	return r, nil
}

func snapshot(v *room.Vote) *room.Vote {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func logTransition(code string, before *room.Vote, after *room.Room) {
	v := after.Vote
	if v == nil {
		return
	}
	fields := log.Fields{"room": code}
	switch {
	case v.Active && (before == nil || !before.Active):
		log.WithFields(fields).Infof("vote started: %s", v.Question)
	case !v.Active && before != nil && before.Active:
		fields["result"] = v.Result
		log.WithFields(fields).Info("vote ended")
	}
}
