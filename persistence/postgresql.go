// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wfunc/esquisse/models"
)

// PostgreSQL 数据库实现 (database/sql + lib/pq)
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构，与 GORM 迁移出的表结构兼容
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS sessions (
            id VARCHAR(64) PRIMARY KEY,
            players JSONB NOT NULL,
            creator VARCHAR(64) NOT NULL,
            status VARCHAR(16) NOT NULL,
            turn BIGINT NOT NULL DEFAULT 0,
            step VARCHAR(32) NOT NULL,
            current_word TEXT NOT NULL DEFAULT '',
            concepts_lists JSONB NOT NULL,
            turn_winner VARCHAR(64) NOT NULL DEFAULT '',
            version BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS scores (
            id BIGSERIAL PRIMARY KEY,
            session_id VARCHAR(64) NOT NULL,
            player_id VARCHAR(64) NOT NULL,
            points BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS players (
            id VARCHAR(64) PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            icon TEXT NOT NULL DEFAULT '',
            total_points BIGINT NOT NULL DEFAULT 0,
            total_games BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_gorm_sessions_created_at ON sessions(created_at);
        CREATE UNIQUE INDEX IF NOT EXISTS idx_scores_session_player ON scores(session_id, player_id);
        CREATE INDEX IF NOT EXISTS idx_gorm_scores_created_at ON scores(created_at);
    `)
	return err
}

func (p *PostgreSQL) CreateSession(ctx context.Context, s *models.Session) error {
	players, lists, err := encodeSessionJSON(s)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO sessions (id, players, creator, status, turn, step, current_word, concepts_lists, turn_winner, version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err = p.db.ExecContext(ctx, query,
		s.ID, players, s.Creator, s.Status.String(), s.Turn, s.Step.String(),
		s.CurrentWord, lists, s.TurnWinner, s.Version, s.CreatedAt)
	return err
}

func (p *PostgreSQL) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		creator, status, step, currentWord, turnWinner string
		turn                                           int
		version                                        int64
		createdAt                                      time.Time
		players, lists                                 []byte
	)

	query := `
        SELECT players, creator, status, turn, step, current_word, concepts_lists, turn_winner, version, created_at
        FROM sessions WHERE id = $1
    `
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&players, &creator, &status, &turn, &step, &currentWord, &lists, &turnWinner, &version, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return models.DecodeSession(id, creator, status, step, currentWord, turnWinner,
		turn, version, createdAt, players, lists)
}

func (p *PostgreSQL) SaveSession(ctx context.Context, s *models.Session) error {
	players, lists, err := encodeSessionJSON(s)
	if err != nil {
		return err
	}

	query := `
        UPDATE sessions
        SET players = $3, creator = $4, status = $5, turn = $6, step = $7,
            current_word = $8, concepts_lists = $9, turn_winner = $10, version = version + 1
        WHERE id = $1 AND version = $2
    `
	res, err := p.db.ExecContext(ctx, query,
		s.ID, s.Version, players, s.Creator, s.Status.String(), s.Turn, s.Step.String(),
		s.CurrentWord, lists, s.TurnWinner)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRecordNotFound
		}
		return ErrConflict
	}

	s.Version++
	return nil
}

func encodeSessionJSON(s *models.Session) ([]byte, []byte, error) {
	players, err := json.Marshal(s.Players)
	if err != nil {
		return nil, nil, err
	}
	lists, err := json.Marshal(s.ConceptsLists)
	if err != nil {
		return nil, nil, err
	}
	return players, lists, nil
}

func (p *PostgreSQL) EnsureScore(ctx context.Context, score models.Score) error {
	query := `
        INSERT INTO scores (session_id, player_id, points, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (session_id, player_id) DO NOTHING
    `
	_, err := p.db.ExecContext(ctx, query, score.SessionID, score.PlayerID, score.Points, score.CreatedAt)
	return err
}

func (p *PostgreSQL) IncrementScore(ctx context.Context, sessionID, playerID string, delta int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scores SET points = points + $3 WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT player_id, points, created_at FROM scores WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.Score
	for rows.Next() {
		score := models.Score{SessionID: sessionID}
		if err := rows.Scan(&score.PlayerID, &score.Points, &score.CreatedAt); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func (p *PostgreSQL) LoadPlayer(ctx context.Context, id string) (*models.Player, error) {
	player := models.Player{ID: id}
	err := p.db.QueryRowContext(ctx,
		`SELECT name, icon, total_points, total_games, updated_at FROM players WHERE id = $1`, id,
	).Scan(&player.Name, &player.Icon, &player.TotalPoints, &player.TotalGames, &player.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (p *PostgreSQL) UpsertProfile(ctx context.Context, profile models.PlayerProfile) error {
	query := `
        INSERT INTO players (id, name, icon)
        VALUES ($1, $2, $3)
        ON CONFLICT (id)
        DO UPDATE SET name = $2, icon = $3, updated_at = CURRENT_TIMESTAMP
    `
	_, err := p.db.ExecContext(ctx, query, profile.ID, profile.Name, profile.Icon)
	return err
}

func (p *PostgreSQL) MergeTotals(ctx context.Context, playerID string, points int) error {
	query := `
        INSERT INTO players (id, total_points, total_games)
        VALUES ($1, $2, 1)
        ON CONFLICT (id)
        DO UPDATE SET total_points = players.total_points + $2,
                      total_games = players.total_games + 1,
                      updated_at = CURRENT_TIMESTAMP
    `
	_, err := p.db.ExecContext(ctx, query, playerID, points)
	return err
}

func (p *PostgreSQL) PurgeExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `DELETE FROM sessions WHERE created_at < $1 RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scores WHERE session_id = ANY($1) OR created_at < $2`, pq.Array(ids), cutoff); err != nil {
		return nil, fmt.Errorf("purge scores: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
