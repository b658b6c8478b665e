package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/wfunc/esquisse/broadcast"
	"github.com/wfunc/esquisse/concepts"
	"github.com/wfunc/esquisse/config"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/monitor"
	"github.com/wfunc/esquisse/persistence"
	"github.com/wfunc/esquisse/room"
	"github.com/wfunc/esquisse/rpc"
	"github.com/wfunc/esquisse/server"
	"github.com/wfunc/esquisse/services"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:           "esquisse",
		Short:         "Multiplayer word guessing session server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env 可选，只用来填充环境变量
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}

			cfg, err := config.LoadConfig(configDir)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c", ".", "directory containing config.yaml")
	return cmd
}

func openStore(cfg config.DatabaseConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case "gorm":
		return persistence.NewGormPostgreSQL(cfg.Postgres.DSN())
	case "postgres":
		return persistence.NewPostgreSQL(cfg.Postgres.DSN())
	default:
		return persistence.NewMemory(), nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	defer store.Close()
	logger.Log.Infof("Using %s session store.", cfg.Database.Driver)

	mon := monitor.NewMonitor("esquisse", prometheus.DefaultRegisterer)
	bus := broadcast.NewBus(cfg.Game.SubscriberBuffer, broadcast.WithObserver(mon))
	rooms := room.NewRoomManager()

	var publisher broadcast.Publisher = bus
	if cfg.Redis.URL != "" {
		relay, err := broadcast.NewRedisRelay(cfg.Redis.URL, cfg.Redis.Channel, bus)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.Errorf("Redis relay stopped: %v", err)
			}
		}()
		publisher = relay
		logger.Log.Infof("Relaying events through redis channel %s.", cfg.Redis.Channel)
	}

	removal, err := concepts.ParseRemovalMode(cfg.Game.ConceptRemoval)
	if err != nil {
		return err
	}

	svc := services.NewSessionService(store, rooms, publisher, services.Options{
		WinningScore:       cfg.Game.WinningScore,
		SessionTTL:         cfg.Game.SessionTTL,
		MaxConflictRetries: cfg.Game.MaxConflictRetries,
		EnforceTurnMaster:  cfg.Game.EnforceTurnMaster,
		ConceptRemoval:     removal,
		UpdaterOptions:     []persistence.UpdaterOption{persistence.WithConflictHook(mon.VersionConflict)},
	})

	gameServer := server.NewGameServer(server.Options{
		HTTPAddress:  cfg.Server.HTTPAddress,
		JWTSecret:    cfg.Auth.JWTSecret,
		SessionTTL:   cfg.Game.SessionTTL,
		ReapInterval: cfg.Game.ReapInterval,
	}, server.Deps{
		Service:  svc,
		Bus:      bus,
		Rooms:    rooms,
		Monitor:  mon,
		Gatherer: prometheus.DefaultGatherer,
	})

	var rpcServer *rpc.Server
	if cfg.Server.RPCAddress != "" {
		rpcServer, err = rpc.NewServer(cfg.Server.RPCAddress, rpc.NewGameService(svc))
		if err != nil {
			return fmt.Errorf("start rpc server: %w", err)
		}
		go rpcServer.Start()
	}

	gameServer.StartReaper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Log.Info("Shutting down.")
	}

	if rpcServer != nil {
		rpcServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := gameServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Log.Errorf("Shutdown failed: %v", shutdownErr)
	}
	return err
}
