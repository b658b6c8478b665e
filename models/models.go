// models/models.go
package models

import (
	"fmt"
	"slices"
	"time"
)

// DefaultSessionTTL is how long a session and its scores live after creation.
const DefaultSessionTTL = 12 * time.Hour

// Status is the lifecycle state of a session.
type Status int

const (
	StatusNew Status = iota
	StatusActive
	StatusOver
	StatusAbandoned
)

var statusNames = [...]string{"new", "active", "over", "abandoned"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus accepts the wire names. The misspelled "abandonned" is kept for
// clients that still send it.
func ParseStatus(name string) (Status, error) {
	if name == "abandonned" {
		return StatusAbandoned, nil
	}
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Step is the phase of the current turn.
type Step int

const (
	StepSelectWord Step = iota
	StepSelectConcepts
	StepGuessing
)

var stepNames = [...]string{"selectWord", "selectConcepts", "guessing"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

func (s Step) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stepNames) {
		return nil, fmt.Errorf("invalid step %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	parsed, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ConceptAction selects how a concept or concept list is edited.
type ConceptAction int

const (
	ConceptAdd ConceptAction = iota
	ConceptRemove
)

// ParseConceptAction maps "add" to ConceptAdd and every other value to
// ConceptRemove.
func ParseConceptAction(name string) ConceptAction {
	if name == "add" {
		return ConceptAdd
	}
	return ConceptRemove
}

func (a ConceptAction) String() string {
	if a == ConceptAdd {
		return "add"
	}
	return "remove"
}

// Session is a single game. It is owned by the persistence layer and copied on
// every load, so callers may mutate what they receive.
type Session struct {
	ID            string     `json:"id"`
	Players       []string   `json:"players"`
	Creator       string     `json:"creator"`
	Status        Status     `json:"status"`
	Turn          int        `json:"turn"`
	Step          Step       `json:"step"`
	CurrentWord   string     `json:"currentWord,omitempty"`
	ConceptsLists [][]string `json:"conceptsLists"`
	TurnWinner    string     `json:"turnWinner,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	Version       int64      `json:"version"`
}

// NewSession builds a fresh session created by creator.
func NewSession(id, creator string, now time.Time) *Session {
	return &Session{
		ID:            id,
		Players:       []string{creator},
		Creator:       creator,
		Status:        StatusNew,
		Turn:          0,
		Step:          StepSelectWord,
		ConceptsLists: EmptyConceptsLists(),
		CreatedAt:     now,
	}
}

// EmptyConceptsLists is the concept state at the start of a word selection.
func EmptyConceptsLists() [][]string {
	return [][]string{{}}
}

func (s *Session) HasPlayer(playerID string) bool {
	return slices.Contains(s.Players, playerID)
}

// TurnMaster returns the player whose turn it is, or "" when nobody plays.
func (s *Session) TurnMaster() string {
	if s.Turn < 0 || s.Turn >= len(s.Players) {
		return ""
	}
	return s.Players[s.Turn]
}

// AddPlayer appends playerID unless already present. It reports whether the
// roster changed.
func (s *Session) AddPlayer(playerID string) bool {
	if s.HasPlayer(playerID) {
		return false
	}
	s.Players = append(s.Players, playerID)
	return true
}

// RemovePlayer drops playerID, promotes the next creator, abandons an empty
// session and keeps Turn in range. It reports whether the roster changed.
func (s *Session) RemovePlayer(playerID string) bool {
	idx := slices.Index(s.Players, playerID)
	if idx < 0 {
		return false
	}
	s.Players = slices.Delete(s.Players, idx, idx+1)

	if len(s.Players) == 0 {
		s.Status = StatusAbandoned
		s.Turn = 0
		return true
	}
	if s.Creator == playerID {
		s.Creator = s.Players[0]
	}
	if s.Turn >= len(s.Players) {
		s.Turn = 0
	}
	return true
}

func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.ExpiresAt(ttl))
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Players = slices.Clone(s.Players)
	c.ConceptsLists = CloneConceptsLists(s.ConceptsLists)
	return &c
}

func CloneConceptsLists(lists [][]string) [][]string {
	out := make([][]string, len(lists))
	for i, l := range lists {
		out[i] = append([]string{}, l...)
	}
	return out
}

// Score is one player's points within one session.
type Score struct {
	SessionID string    `json:"sessionId"`
	PlayerID  string    `json:"player"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

// Player is the locally projected view of an identity plus lifetime totals.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon"`
	TotalPoints int       `json:"totalPoints"`
	TotalGames  int       `json:"totalGames"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PlayerProfile is the display projection sent alongside roster updates.
type PlayerProfile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// Precondition gates a mutation on the session as currently stored. A nil
// Precondition allows everything.
type Precondition func(s *Session) bool

func (p Precondition) Allows(s *Session) bool {
	return p == nil || p(s)
}
