// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/esquisse/models"
)

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	// ErrConflict is returned by SaveSession when the stored version no longer
	// matches the version the caller loaded.
	ErrConflict = errors.New("version conflict")
)

// SessionStore persists sessions with optimistic versioning.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	LoadSession(ctx context.Context, id string) (*models.Session, error)
	// SaveSession writes s if the stored version equals s.Version and then
	// increments s.Version.
	SaveSession(ctx context.Context, s *models.Session) error
}

// ScoreStore persists per-(session, player) points.
type ScoreStore interface {
	// EnsureScore creates the row if it does not exist yet and leaves an
	// existing row untouched.
	EnsureScore(ctx context.Context, score models.Score) error
	// IncrementScore atomically adds delta to an existing row.
	IncrementScore(ctx context.Context, sessionID, playerID string, delta int) error
	ListScores(ctx context.Context, sessionID string) ([]models.Score, error)
}

// PlayerStore persists player projections and lifetime totals.
type PlayerStore interface {
	LoadPlayer(ctx context.Context, id string) (*models.Player, error)
	// UpsertProfile records name and icon without touching totals.
	UpsertProfile(ctx context.Context, profile models.PlayerProfile) error
	// MergeTotals adds points to the player's total and counts one more game.
	MergeTotals(ctx context.Context, playerID string, points int) error
}

// Store 数据库接口
type Store interface {
	SessionStore
	ScoreStore
	PlayerStore
	// PurgeExpired deletes sessions created before cutoff together with their
	// scores and returns the purged session ids.
	PurgeExpired(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}
