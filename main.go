package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/app"
	"relay/internal/config"
	"relay/internal/db"
	"relay/internal/utils"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// @title Relay API
// @version 1.0
// @description HTTP surface of the real-time message relay. Realtime events travel over /ws and /socket.io/.
// @BasePath /
func main() {
	logger, err := utils.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	defer logger.Sync()

	cliApp := &cli.App{
		Name:  "relay",
		Usage: "real-time message relay",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading configuration",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Before: func(c *cli.Context) error {
			utils.LoadEnv(logger, c.StringSlice("env-file")...)
			return nil
		},
		Action: func(c *cli.Context) error {
			return serve(c, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP, websocket and socket.io server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port (overrides SERVER_PORT)"},
					&cli.StringFlag{Name: "store", Usage: "message store driver: pebble or postgres (overrides STORE_DRIVER)"},
				},
				Action: func(c *cli.Context) error {
					return serve(c, logger)
				},
			},
			{
				Name:  "migrate",
				Usage: "create or update the PostgreSQL schema",
				Action: func(c *cli.Context) error {
					return migrate(logger)
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Fatal("Command failed", zap.Error(err))
	}
}

func loadConfig(c *cli.Context) config.Config {
	cfg := config.LoadConfig()
	if port := c.String("port"); port != "" {
		cfg.ServerPort = port
	}
	if store := c.String("store"); store != "" {
		cfg.StoreDriver = store
	}
	return cfg
}

func serve(c *cli.Context, logger *zap.Logger) error {
	cfg := loadConfig(c)

	logger.Info("Config loaded",
		zap.String("server_port", cfg.ServerPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Int("max_messages", cfg.MaxMessages),
		zap.String("redis_url", cfg.RedisURL),
		zap.String("env", cfg.Env),
	)

	application, err := app.Bootstrap(&cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	application.Start(ctx)

	addr := ":" + cfg.ServerPort
	srv := &http.Server{
		Addr:    addr,
		Handler: application.Router.Engine,
	}

	go func() {
		logger.Info("Server started", zap.String("addr", "localhost"+addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	if err := application.Close(); err != nil {
		logger.Warn("Failed to release resources", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
	return nil
}

func migrate(logger *zap.Logger) error {
	cfg := config.LoadConfig()
	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Info("Nothing to migrate", zap.String("store_driver", cfg.StoreDriver))
		return nil
	}

	dbConn, err := db.Connect(&cfg, logger)
	if err != nil {
		return err
	}
	sqlDB, err := dbConn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return db.Migrate(dbConn, logger)
}
