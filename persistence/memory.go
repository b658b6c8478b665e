package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/esquisse/models"
)

type scoreKey struct {
	sessionID string
	playerID  string
}

// Memory keeps everything in process. It is the default for development and
// the backend used by tests.
type Memory struct {
	sessions map[string]*models.Session
	scores   map[scoreKey]*models.Score
	players  map[string]*models.Player
	mutex    sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*models.Session),
		scores:   make(map[scoreKey]*models.Score),
		players:  make(map[string]*models.Player),
	}
}

func (m *Memory) CreateSession(ctx context.Context, s *models.Session) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrConflict
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSession(ctx context.Context, s *models.Session) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stored, exists := m.sessions[s.ID]
	if !exists {
		return ErrRecordNotFound
	}
	if stored.Version != s.Version {
		return ErrConflict
	}
	s.Version++
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) EnsureScore(ctx context.Context, score models.Score) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := scoreKey{score.SessionID, score.PlayerID}
	if _, exists := m.scores[key]; exists {
		return nil
	}
	m.scores[key] = &score
	return nil
}

func (m *Memory) IncrementScore(ctx context.Context, sessionID, playerID string, delta int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	score, exists := m.scores[scoreKey{sessionID, playerID}]
	if !exists {
		return ErrRecordNotFound
	}
	score.Points += delta
	return nil
}

func (m *Memory) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var scores []models.Score
	for key, score := range m.scores {
		if key.sessionID == sessionID {
			scores = append(scores, *score)
		}
	}
	slices.SortFunc(scores, func(a, b models.Score) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	return scores, nil
}

func (m *Memory) LoadPlayer(ctx context.Context, id string) (*models.Player, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	p, exists := m.players[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) UpsertProfile(ctx context.Context, profile models.PlayerProfile) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	p := m.playerLocked(profile.ID)
	p.Name = profile.Name
	p.Icon = profile.Icon
	return nil
}

func (m *Memory) MergeTotals(ctx context.Context, playerID string, points int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	p := m.playerLocked(playerID)
	p.TotalPoints += points
	p.TotalGames++
	return nil
}

func (m *Memory) playerLocked(id string) *models.Player {
	p, exists := m.players[id]
	if !exists {
		p = &models.Player{ID: id}
		m.players[id] = p
	}
	p.UpdatedAt = time.Now()
	return p
}

func (m *Memory) PurgeExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var purged []string
	for id, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			purged = append(purged, id)
			delete(m.sessions, id)
		}
	}
	for key, score := range m.scores {
		if score.CreatedAt.Before(cutoff) || slices.Contains(purged, key.sessionID) {
			delete(m.scores, key)
		}
	}
	slices.Sort(purged)
	return purged, nil
}

func (m *Memory) Close() error {
	return nil
}
