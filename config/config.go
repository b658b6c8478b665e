package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	// Driver is one of memory, gorm or postgres.
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the key/value connection string understood by both lib/pq and pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	// URL enables cross-instance event relay when set, e.g. redis://localhost:6379/0.
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type GameConfig struct {
	WinningScore       int           `mapstructure:"winning_score"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	ReapInterval       time.Duration `mapstructure:"reap_interval"`
	MaxConflictRetries int           `mapstructure:"max_conflict_retries"`
	EnforceTurnMaster  bool          `mapstructure:"enforce_turn_master"`
	// ConceptRemoval is keep_only or remove.
	ConceptRemoval   string `mapstructure:"concept_removal"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "esquisse")
	v.SetDefault("database.postgres.password", "esquisse")
	v.SetDefault("database.postgres.dbname", "esquisse")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "esquisse:events")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("game.winning_score", 15)
	v.SetDefault("game.session_ttl", 12*time.Hour)
	v.SetDefault("game.reap_interval", 5*time.Minute)
	v.SetDefault("game.max_conflict_retries", 5)
	v.SetDefault("game.enforce_turn_master", true)
	v.SetDefault("game.concept_removal", "keep_only")
	v.SetDefault("game.subscriber_buffer", 32)
}

// LoadConfig reads config.yaml from path when present, then applies ESQUISSE_*
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ESQUISSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "gorm", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	switch c.Game.ConceptRemoval {
	case "keep_only", "remove":
	default:
		return fmt.Errorf("unsupported concept removal mode: %q", c.Game.ConceptRemoval)
	}
	if c.Game.WinningScore < 1 {
		return fmt.Errorf("winning score must be positive: %d", c.Game.WinningScore)
	}
	if c.Game.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Game.ReapInterval <= 0 {
		return errors.New("reap interval must be positive")
	}
	if c.Game.MaxConflictRetries < 1 {
		return fmt.Errorf("max conflict retries must be at least 1: %d", c.Game.MaxConflictRetries)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}
