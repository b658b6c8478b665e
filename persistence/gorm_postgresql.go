// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/esquisse/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormSession{},
		&models.GormScore{},
		&models.GormPlayer{},
	)
}

func (p *GormPostgreSQL) CreateSession(ctx context.Context, s *models.Session) error {
	row, err := models.ToGormSession(s)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(row).Error
}

func (p *GormPostgreSQL) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	var row models.GormSession
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.ToSession()
}

// SaveSession 乐观锁更新：只有版本号一致时才写入
func (p *GormPostgreSQL) SaveSession(ctx context.Context, s *models.Session) error {
	row, err := models.ToGormSession(s)
	if err != nil {
		return err
	}

	result := p.db.WithContext(ctx).
		Model(&models.GormSession{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]interface{}{
			"players":        row.Players,
			"creator":        row.Creator,
			"status":         row.Status,
			"turn":           row.Turn,
			"step":           row.Step,
			"current_word":   row.CurrentWord,
			"concepts_lists": row.ConceptsLists,
			"turn_winner":    row.TurnWinner,
			"version":        s.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := p.db.WithContext(ctx).Model(&models.GormSession{}).Where("id = ?", s.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrConflict
	}

	s.Version++
	return nil
}

func (p *GormPostgreSQL) EnsureScore(ctx context.Context, score models.Score) error {
	row := models.GormScore{
		SessionID: score.SessionID,
		PlayerID:  score.PlayerID,
		Points:    score.Points,
		CreatedAt: score.CreatedAt,
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "player_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

func (p *GormPostgreSQL) IncrementScore(ctx context.Context, sessionID, playerID string, delta int) error {
	result := p.db.WithContext(ctx).
		Model(&models.GormScore{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		UpdateColumn("points", gorm.Expr("points + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	var rows []models.GormScore
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	scores := make([]models.Score, 0, len(rows))
	for i := range rows {
		scores = append(scores, rows[i].ToScore())
	}
	return scores, nil
}

func (p *GormPostgreSQL) LoadPlayer(ctx context.Context, id string) (*models.Player, error) {
	var row models.GormPlayer
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.ToPlayer(), nil
}

func (p *GormPostgreSQL) UpsertProfile(ctx context.Context, profile models.PlayerProfile) error {
	row := models.GormPlayer{ID: profile.ID, Name: profile.Name, Icon: profile.Icon}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "icon", "updated_at"}),
		}).
		Create(&row).Error
}

// MergeTotals 累加玩家总分与对局数（事务内原子操作）
func (p *GormPostgreSQL) MergeTotals(ctx context.Context, playerID string, points int) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var player models.GormPlayer
		err := tx.Where("id = ?", playerID).First(&player).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.GormPlayer{
				ID:          playerID,
				TotalPoints: points,
				TotalGames:  1,
			}).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&player).Updates(map[string]interface{}{
			"total_points": gorm.Expr("total_points + ?", points),
			"total_games":  gorm.Expr("total_games + 1"),
		}).Error
	})
}

func (p *GormPostgreSQL) PurgeExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.GormSession{}).Where("created_at < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Where("session_id IN ?", ids).Delete(&models.GormScore{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", ids).Delete(&models.GormSession{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("created_at < ?", cutoff).Delete(&models.GormScore{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	}
	return ids, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
