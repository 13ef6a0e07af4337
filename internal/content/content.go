// Package content loads the static game data: the puzzle pool, the wheel
// segments and the banned username list. A failure here is fatal to the
// caller.
package content

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"

	"github.com/avvvet/wheel-services/internal/room"
)

//go:embed data/*.json
var defaults embed.FS

var ErrEmpty = errors.New("content is empty")

type PuzzleEntry struct {
	Category string `json:"category"`
	Solution string `json:"solution"`
}

// Pool is the set of puzzles rounds draw from.
type Pool struct {
	puzzles  []PuzzleEntry
	randIntN func(int) int
}

func NewPool(entries []PuzzleEntry) (*Pool, error) {
	valid := make([]PuzzleEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Solution) == "" {
			continue
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("puzzle pool: %w", ErrEmpty)
	}
	return &Pool{puzzles: valid, randIntN: rand.Intn}, nil
}

// Draw picks a puzzle uniformly at random.
func (p *Pool) Draw() *room.Puzzle {
	e := p.puzzles[p.randIntN(len(p.puzzles))]
	return room.NewPuzzle(e.Category, strings.TrimSpace(e.Solution))
}

func (p *Pool) Len() int {
	return len(p.puzzles)
}

func parsePuzzles(data []byte) (*Pool, error) {
	var doc struct {
		Puzzles []PuzzleEntry `json:"puzzles"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode puzzles: %w", err)
	}
	return NewPool(doc.Puzzles)
}

// LoadPuzzles reads a puzzle file, or the built-in pool when path is empty.
func LoadPuzzles(path string) (*Pool, error) {
	data, err := read(path, "data/puzzles.json")
	if err != nil {
		return nil, err
	}
	return parsePuzzles(data)
}

type SegmentType string

const (
	SegmentMoney   SegmentType = "money"
	SegmentSpecial SegmentType = "special"
)

type Segment struct {
	Value  json.RawMessage `json:"value"` // amount, or the label of a special segment
	Type   SegmentType     `json:"type"`
	Effect room.Effect     `json:"effect,omitempty"`
	Color  string          `json:"color"`
}

// Result is what landing on the segment stores in the room.
func (s Segment) Result() (*room.WheelResult, error) {
	switch s.Type {
	case SegmentMoney:
		var amount int
		if err := json.Unmarshal(s.Value, &amount); err != nil || amount <= 0 {
			return nil, fmt.Errorf("money segment needs a positive amount, got %s", s.Value)
		}
		return room.Cash(amount), nil
	case SegmentSpecial:
		if !s.Effect.Valid() {
			return nil, fmt.Errorf("unknown wheel effect %q", s.Effect)
		}
		return room.Special(s.Effect), nil
	}
	return nil, fmt.Errorf("unknown segment type %q", s.Type)
}

type Wheel struct {
	Segments []Segment
	results  []*room.WheelResult
	randIntN func(int) int
}

func NewWheel(segments []Segment) (*Wheel, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("wheel: %w", ErrEmpty)
	}

	w := &Wheel{Segments: segments, randIntN: rand.Intn}
	for i, s := range segments {
		r, err := s.Result()
		if err != nil {
			return nil, fmt.Errorf("wheel segment %d: %w", i, err)
		}
		w.results = append(w.results, r)
	}
	return w, nil
}

// Spin lands on a segment uniformly at random.
func (w *Wheel) Spin() *room.WheelResult {
	r := *w.results[w.randIntN(len(w.results))]
	return &r
}

func LoadWheel(path string) (*Wheel, error) {
	data, err := read(path, "data/wheel-segments.json")
	if err != nil {
		return nil, err
	}

	var doc struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode wheel segments: %w", err)
	}
	return NewWheel(doc.Segments)
}

// Filter rejects usernames containing a banned word or matching a banned
// pattern. In patterns '*' stands for any run of characters.
type Filter struct {
	words    []string
	patterns []*regexp.Regexp
}

func NewFilter(words, patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			f.words = append(f.words, w)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + strings.ReplaceAll(p, "*", ".*"))
		if err != nil {
			return nil, fmt.Errorf("banned pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *Filter) Blocked(name string) bool {
	if f == nil {
		return false
	}
	lower := strings.ToLower(name)
	for _, w := range f.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, re := range f.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func LoadFilter(path string) (*Filter, error) {
	data, err := read(path, "data/banned-words.json")
	if err != nil {
		return nil, err
	}

	var doc struct {
		BannedWords    []string `json:"bannedWords"`
		BannedPatterns []string `json:"bannedPatterns"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode banned words: %w", err)
	}
	return NewFilter(doc.BannedWords, doc.BannedPatterns)
}

func read(path, fallback string) ([]byte, error) {
	if path == "" {
		return defaults.ReadFile(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
