// models/gorm_models.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// GormSession 会话表
type GormSession struct {
	ID            string         `gorm:"primaryKey;size:64"`
	Players       datatypes.JSON `gorm:"type:jsonb;not null"`
	Creator       string         `gorm:"size:64;not null"`
	Status        string         `gorm:"size:16;not null"`
	Turn          int            `gorm:"not null;default:0"`
	Step          string         `gorm:"size:32;not null"`
	CurrentWord   string         `gorm:"not null;default:''"`
	ConceptsLists datatypes.JSON `gorm:"type:jsonb;not null"`
	TurnWinner    string         `gorm:"size:64;not null;default:''"`
	Version       int64          `gorm:"not null;default:0"`
	CreatedAt     time.Time      `gorm:"index;not null"`
}

func (GormSession) TableName() string {
	return "sessions"
}

// GormScore 积分表，每个 (session, player) 一行
type GormScore struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex:idx_scores_session_player"`
	PlayerID  string    `gorm:"size:64;not null;uniqueIndex:idx_scores_session_player"`
	Points    int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index;not null"`
}

func (GormScore) TableName() string {
	return "scores"
}

// GormPlayer 玩家资料与累计成绩
type GormPlayer struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"not null;default:''"`
	Icon        string `gorm:"not null;default:''"`
	TotalPoints int    `gorm:"not null;default:0"`
	TotalGames  int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (GormPlayer) TableName() string {
	return "players"
}

// ToGormSession encodes a session into its row representation.
func ToGormSession(s *Session) (*GormSession, error) {
	players, err := json.Marshal(s.Players)
	if err != nil {
		return nil, err
	}
	lists, err := json.Marshal(s.ConceptsLists)
	if err != nil {
		return nil, err
	}
	return &GormSession{
		ID:            s.ID,
		Players:       datatypes.JSON(players),
		Creator:       s.Creator,
		Status:        s.Status.String(),
		Turn:          s.Turn,
		Step:          s.Step.String(),
		CurrentWord:   s.CurrentWord,
		ConceptsLists: datatypes.JSON(lists),
		TurnWinner:    s.TurnWinner,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
	}, nil
}

// ToSession decodes a row back into the domain type.
func (g *GormSession) ToSession() (*Session, error) {
	return DecodeSession(g.ID, g.Creator, g.Status, g.Step, g.CurrentWord, g.TurnWinner,
		g.Turn, g.Version, g.CreatedAt, g.Players, g.ConceptsLists)
}

// DecodeSession rebuilds a session from stored columns. Players and lists are
// JSON arrays.
func DecodeSession(id, creator, status, step, currentWord, turnWinner string, turn int,
	version int64, createdAt time.Time, players, lists []byte) (*Session, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	sp, err := ParseStep(step)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	s := &Session{
		ID:          id,
		Creator:     creator,
		Status:      st,
		Turn:        turn,
		Step:        sp,
		CurrentWord: currentWord,
		TurnWinner:  turnWinner,
		CreatedAt:   createdAt,
		Version:     version,
	}
	if err := json.Unmarshal(players, &s.Players); err != nil {
		return nil, fmt.Errorf("session %s players: %w", id, err)
	}
	if err := json.Unmarshal(lists, &s.ConceptsLists); err != nil {
		return nil, fmt.Errorf("session %s concepts: %w", id, err)
	}
	if s.Players == nil {
		s.Players = []string{}
	}
	if s.ConceptsLists == nil {
		s.ConceptsLists = EmptyConceptsLists()
	}
	return s, nil
}

func (g *GormScore) ToScore() Score {
	return Score{
		SessionID: g.SessionID,
		PlayerID:  g.PlayerID,
		Points:    g.Points,
		CreatedAt: g.CreatedAt,
	}
}

func (g *GormPlayer) ToPlayer() *Player {
	return &Player{
		ID:          g.ID,
		Name:        g.Name,
		Icon:        g.Icon,
		TotalPoints: g.TotalPoints,
		TotalGames:  g.TotalGames,
		UpdatedAt:   g.UpdatedAt,
	}
}
