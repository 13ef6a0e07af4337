package room

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type State string

const (
	StateLobby    State = "lobby"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

func (r Role) Valid() bool {
	return r == RoleHost || r == RolePlayer
}

type PauseReason string

const (
	PauseNone             PauseReason = ""
	PauseHostDisconnected PauseReason = "host_disconnected"
	PauseVoteStopped      PauseReason = "vote_stopped"
)

type Ballot string

const (
	BallotYes Ballot = "yes"
	BallotNo  Ballot = "no"
)

func (b Ballot) Valid() bool {
	return b == BallotYes || b == BallotNo
}

// Effect tags a non-cash wheel outcome.
type Effect string

const (
	EffectBankruptcy Effect = "bankruptcy"
	EffectLoseTurn   Effect = "lose_turn"
	EffectHoldUp     Effect = "hold_up"
	EffectSwap       Effect = "swap"
	EffectDivide     Effect = "divide"
)

// Targeted reports whether the effect needs a second player picked by the host.
func (e Effect) Targeted() bool {
	return e == EffectHoldUp || e == EffectSwap || e == EffectDivide
}

func (e Effect) Valid() bool {
	switch e {
	case EffectBankruptcy, EffectLoseTurn, EffectHoldUp, EffectSwap, EffectDivide:
		return true
	}
	return false
}

type Player struct {
	ID             string     `json:"id"`   // stable across reconnects
	Name           string     `json:"name"` // unique in the room, case-insensitive
	Role           Role       `json:"role"`
	Connected      bool       `json:"connected"`
	LastHeartbeat  time.Time  `json:"lastHeartbeat"`
	DisconnectedAt *time.Time `json:"disconnectedAt"`
	RoundMoney     int        `json:"roundMoney"`
	TotalMoney     int        `json:"totalMoney"`
}

type Puzzle struct {
	Category string   `json:"category"`
	Solution string   `json:"solution"`
	Words    []string `json:"words"`
}

// NewPuzzle upper-cases the solution and splits it into words.
func NewPuzzle(category, solution string) *Puzzle {
	s := strings.ToUpper(solution)
	return &Puzzle{
		Category: category,
		Solution: s,
		Words:    strings.Split(s, " "),
	}
}

// Occurrences counts how many times letter appears in the solution.
func (p *Puzzle) Occurrences(letter string) int {
	if p == nil || letter == "" {
		return 0
	}
	return strings.Count(p.Solution, letter)
}

type Vote struct {
	Active    bool              `json:"active"`
	Question  string            `json:"question"`
	StartedAt time.Time         `json:"startedAt"`
	Duration  int               `json:"duration"` // seconds
	Votes     map[string]Ballot `json:"votes"`
	EndedAt   *time.Time        `json:"endedAt"`
	Result    Ballot            `json:"result"`
}

func (v *Vote) Deadline() time.Time {
	return v.StartedAt.Add(time.Duration(v.Duration) * time.Second)
}

type Settings struct {
	StreamerMode          bool `json:"streamerMode"`
	ChromaKey             bool `json:"chromaKey"`
	PersistBans           bool `json:"persistBans"`
	FilterBannedUsernames bool `json:"filterBannedUsernames"`
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// WheelResult is either a cash amount or a special effect. On the wire it is a
// bare number or a bare string.
type WheelResult struct {
	Amount int
	Effect Effect
}

func Cash(amount int) *WheelResult {
	return &WheelResult{Amount: amount}
}

func Special(e Effect) *WheelResult {
	return &WheelResult{Effect: e}
}

func (w *WheelResult) IsCash() bool {
	return w != nil && w.Effect == ""
}

func (w WheelResult) MarshalJSON() ([]byte, error) {
	if w.Effect != "" {
		return json.Marshal(string(w.Effect))
	}
	return json.Marshal(w.Amount)
}

func (w *WheelResult) UnmarshalJSON(data []byte) error {
	var amount int
	if err := json.Unmarshal(data, &amount); err == nil {
		*w = WheelResult{Amount: amount}
		return nil
	}

	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("wheel result must be a number or a string: %w", err)
	}
	*w = WheelResult{Effect: Effect(tag)}
	return nil
}

// Room is the single replicated document describing one game session.
type Room struct {
	Code               string        `json:"code"`
	Host               string        `json:"host"`
	Players            []Player      `json:"players"`
	State              State         `json:"state"`
	CurrentRound       int           `json:"currentRound"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex"` // index into ActiveIndexes()
	Puzzle             *Puzzle       `json:"puzzle"`
	UsedLetters        []string      `json:"usedLetters"`
	RevealedLetters    []string      `json:"revealedLetters"`
	WheelResult        *WheelResult  `json:"wheelResult"`
	BannedPlayers      []string      `json:"bannedPlayers"`
	Settings           Settings      `json:"settings"`
	Paused             bool          `json:"paused"`
	PausedAt           *time.Time    `json:"pausedAt"`
	PauseReason        PauseReason   `json:"pauseReason"`
	Vote               *Vote         `json:"vote"`
	ChatMessages       []ChatMessage `json:"chatMessages"`
	Winner             *Player       `json:"winner"`
	CreatedAt          time.Time     `json:"createdAt"`
	LastUpdate         time.Time     `json:"lastUpdate"`
	Revision           int64         `json:"revision"`
}

// New returns a lobby room whose only member is its creator.
func New(code string, creator Player, now time.Time) *Room {
	creator.Connected = true
	creator.LastHeartbeat = now
	creator.DisconnectedAt = nil

	return &Room{
		Code:            code,
		Host:            creator.Name,
		Players:         []Player{creator},
		State:           StateLobby,
		UsedLetters:     []string{},
		RevealedLetters: []string{},
		BannedPlayers:   []string{},
		Settings: Settings{
			FilterBannedUsernames: true,
		},
		ChatMessages: []ChatMessage{},
		CreatedAt:    now,
		LastUpdate:   now,
	}
}
