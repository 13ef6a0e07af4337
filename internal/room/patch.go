package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document keys a Patch may carry.
const (
	FieldHost               = "host"
	FieldPlayers            = "players"
	FieldState              = "state"
	FieldCurrentRound       = "currentRound"
	FieldCurrentPlayerIndex = "currentPlayerIndex"
	FieldPuzzle             = "puzzle"
	FieldUsedLetters        = "usedLetters"
	FieldRevealedLetters    = "revealedLetters"
	FieldWheelResult        = "wheelResult"
	FieldBannedPlayers      = "bannedPlayers"
	FieldSettings           = "settings"
	FieldPaused             = "paused"
	FieldPausedAt           = "pausedAt"
	FieldPauseReason        = "pauseReason"
	FieldVote               = "vote"
	FieldChatMessages       = "chatMessages"
	FieldWinner             = "winner"
)

var mutableFields = map[string]struct{}{
	FieldHost: {}, FieldPlayers: {}, FieldState: {}, FieldCurrentRound: {},
	FieldCurrentPlayerIndex: {}, FieldPuzzle: {}, FieldUsedLetters: {},
	FieldRevealedLetters: {}, FieldWheelResult: {}, FieldBannedPlayers: {},
	FieldSettings: {}, FieldPaused: {}, FieldPausedAt: {}, FieldPauseReason: {},
	FieldVote: {}, FieldChatMessages: {}, FieldWinner: {},
}

var ErrUnknownField = errors.New("unknown or immutable room field")

// Patch is a partial update of a Room, merged shallowly: each key replaces the
// whole top-level field. Values are anything encoding/json can marshal; nil
// clears nullable fields.
type Patch map[string]any

func (p Patch) Validate() error {
	for k := range p {
		if _, ok := mutableFields[k]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
	}
	return nil
}

// UnmarshalJSON keeps every value as raw JSON so it is re-applied byte for byte.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = make(Patch, len(raw))
	for k, v := range raw {
		(*p)[k] = v
	}
	return nil
}

// Apply merges p into r. Every successful call bumps Revision and stamps
// LastUpdate; finishing a game without persistBans clears the ban list in the
// same write.
func (r *Room) Apply(p Patch, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}

	doc, err := document(r)
	if err != nil {
		return err
	}

	for k, v := range p {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", k, err)
		}
		doc[k] = raw
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", r.Code, err)
	}

	var next Room
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("decode patched room %s: %w", r.Code, err)
	}

	next.Code = r.Code
	next.CreatedAt = r.CreatedAt
	next.Revision = r.Revision + 1
	next.LastUpdate = now
	next.normalize()

	if next.State == StateFinished && !next.Settings.PersistBans {
		next.BannedPlayers = []string{}
	}

	*r = next
	return nil
}

// Diff returns the top-level fields whose encoded value differs between
// before and after.
func Diff(before, after *Room) (Patch, error) {
	a, err := document(before)
	if err != nil {
		return nil, err
	}
	b, err := document(after)
	if err != nil {
		return nil, err
	}

	p := Patch{}
	for k := range mutableFields {
		if !bytes.Equal(a[k], b[k]) {
			p[k] = b[k]
		}
	}
	return p, nil
}

func document(r *Room) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode room %s: %w", r.Code, err)
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", r.Code, err)
	}
	return doc, nil
}

func (r *Room) normalize() {
	if r.Players == nil {
		r.Players = []Player{}
	}
	if r.UsedLetters == nil {
		r.UsedLetters = []string{}
	}
	if r.RevealedLetters == nil {
		r.RevealedLetters = []string{}
	}
	if r.BannedPlayers == nil {
		r.BannedPlayers = []string{}
	}
	if r.ChatMessages == nil {
		r.ChatMessages = []ChatMessage{}
	}
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	c := *r
	c.Players = make([]Player, len(r.Players))
	for i, p := range r.Players {
		c.Players[i] = p.clone()
	}
	if r.Puzzle != nil {
		pz := *r.Puzzle
		pz.Words = append([]string(nil), r.Puzzle.Words...)
		c.Puzzle = &pz
	}
	c.UsedLetters = append([]string{}, r.UsedLetters...)
	c.RevealedLetters = append([]string{}, r.RevealedLetters...)
	if r.WheelResult != nil {
		w := *r.WheelResult
		c.WheelResult = &w
	}
	c.BannedPlayers = append([]string{}, r.BannedPlayers...)
	c.PausedAt = cloneTime(r.PausedAt)
	if r.Vote != nil {
		v := *r.Vote
		v.Votes = make(map[string]Ballot, len(r.Vote.Votes))
		for k, b := range r.Vote.Votes {
			v.Votes[k] = b
		}
		v.EndedAt = cloneTime(r.Vote.EndedAt)
		c.Vote = &v
	}
	c.ChatMessages = append([]ChatMessage{}, r.ChatMessages...)
	if r.Winner != nil {
		w := r.Winner.clone()
		c.Winner = &w
	}
	return &c
}

func (p Player) clone() Player {
	p.DisconnectedAt = cloneTime(p.DisconnectedAt)
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
