// Package scoring keeps per-session point counters.
package scoring

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
)

// DefaultWinningScore ends a game once any player reaches it.
const DefaultWinningScore = 15

type Ledger struct {
	store     persistence.ScoreStore
	threshold int
}

func NewLedger(store persistence.ScoreStore, threshold int) *Ledger {
	if threshold < 1 {
		threshold = DefaultWinningScore
	}
	return &Ledger{store: store, threshold: threshold}
}

func (l *Ledger) Threshold() int {
	return l.threshold
}

// Open creates a zero row for every player. Rows that already exist keep their
// points, so opening twice is harmless.
func (l *Ledger) Open(ctx context.Context, sessionID string, players []string, createdAt time.Time) error {
	for _, playerID := range players {
		err := l.store.EnsureScore(ctx, models.Score{
			SessionID: sessionID,
			PlayerID:  playerID,
			CreatedAt: createdAt,
		})
		if err != nil {
			return fmt.Errorf("open score for %s: %w", playerID, err)
		}
	}
	return nil
}

// Award adds one point per occurrence of a player in playerIDs. Listing the
// same player twice awards two points. Every row must exist before any point
// is given.
func (l *Ledger) Award(ctx context.Context, sessionID string, playerIDs ...string) error {
	scores, err := l.store.ListScores(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("award: %w", err)
	}
	for _, playerID := range playerIDs {
		if !slices.ContainsFunc(scores, func(s models.Score) bool { return s.PlayerID == playerID }) {
			return fmt.Errorf("award %s: %w", playerID, persistence.ErrRecordNotFound)
		}
	}

	for _, playerID := range playerIDs {
		if err := l.store.IncrementScore(ctx, sessionID, playerID, 1); err != nil {
			return fmt.Errorf("award %s: %w", playerID, err)
		}
	}
	return nil
}

func (l *Ledger) Scores(ctx context.Context, sessionID string) ([]models.Score, error) {
	return l.store.ListScores(ctx, sessionID)
}

// Winner returns the first score at or above the threshold.
func (l *Ledger) Winner(scores []models.Score) (models.Score, bool) {
	for _, score := range scores {
		if score.Points >= l.threshold {
			return score, true
		}
	}
	return models.Score{}, false
}

// SortByPlayers orders scores like the session roster. Scores of players who
// left go last.
func SortByPlayers(scores []models.Score, players []string) {
	rank := func(id string) int {
		if i := slices.Index(players, id); i >= 0 {
			return i
		}
		return len(players)
	}
	slices.SortStableFunc(scores, func(a, b models.Score) int {
		return rank(a.PlayerID) - rank(b.PlayerID)
	})
}
