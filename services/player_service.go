// services/player_service.go
package services

import (
	"context"
	"errors"

	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/persistence"
)

type PlayerService struct {
	store persistence.PlayerStore
}

func NewPlayerService(store persistence.PlayerStore) *PlayerService {
	return &PlayerService{store: store}
}

// GetPlayer 获取玩家信息和累计统计
func (s *PlayerService) GetPlayer(ctx context.Context, playerID string) (*models.Player, error) {
	if playerID == "" {
		return nil, newError(CodeInvalidArgument, "player id is required", nil)
	}
	player, err := s.store.LoadPlayer(ctx, playerID)
	if err != nil {
		return nil, translate("get player", err)
	}
	return player, nil
}

// RememberProfile 记录玩家的展示信息（来自令牌）
func (s *PlayerService) RememberProfile(ctx context.Context, profile models.PlayerProfile) error {
	if profile.ID == "" {
		return ErrUnauthenticated
	}
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return translate("remember profile", err)
	}
	return nil
}

// Profiles returns one profile per id, in order. Unknown players and lookup
// failures yield a profile with the id only.
func (s *PlayerService) Profiles(ctx context.Context, playerIDs []string) []models.PlayerProfile {
	profiles := make([]models.PlayerProfile, 0, len(playerIDs))
	for _, id := range playerIDs {
		profile := models.PlayerProfile{ID: id}
		player, err := s.store.LoadPlayer(ctx, id)
		switch {
		case err == nil:
			profile.Name = player.Name
			profile.Icon = player.Icon
		case !errors.Is(err, persistence.ErrRecordNotFound):
			logger.Log.Warnf("Failed to load profile of player %s: %v", id, err)
		}
		profiles = append(profiles, profile)
	}
	return profiles
}
