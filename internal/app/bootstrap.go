package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"relay/internal/app/health"
	"relay/internal/app/message"
	"relay/internal/app/relay"
	"relay/internal/app/upload"
	"relay/internal/config"
	"relay/internal/db"
	"relay/internal/gateways/socketio"
	"relay/internal/gateways/websocket"
	"relay/internal/providers/minio"
	"relay/internal/providers/redis"
	"relay/internal/router"
	"relay/internal/utils"

	"go.uber.org/zap"
)

type Application struct {
	Router   *router.Router
	Hub      *websocket.Hub
	SocketIO *socketio.Gateway

	logger  *zap.Logger
	closers []func() error
}

func Bootstrap(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	application := &Application{logger: logger}

	repo, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	application.closers = append(application.closers, closeStore)

	var (
		cache         message.HistoryCache
		redisProvider *redis.RedisProvider
	)
	if cfg.RedisURL != "" {
		redisProvider = redis.NewRedisProvider(cfg.RedisURL, logger, cfg.RedisTTL)
		cache = message.NewRedisHistoryCache(redisProvider, cfg.RedisTTL, logger)
		application.closers = append(application.closers, redisProvider.Close)
	} else {
		logger.Info("REDIS_URL not set, history cache disabled")
	}

	var storage upload.Storage
	minioProvider, err := minio.NewMinioProvider(cfg, logger)
	if err != nil {
		logger.Warn("Failed to initialize MinIO provider, uploads disabled", zap.Error(err))
		minioProvider = nil
	} else {
		storage = minioProvider
	}

	eventBus := utils.NewEventBus()

	history := message.NewHistory(repo, cache, cfg.MaxMessages)
	retention := message.NewRetention(repo, cfg.MaxMessages, logger)
	coordinator := relay.NewCoordinator(eventBus, history, cfg.StoreTimeout, logger)
	messageService := message.NewService(repo, history, retention, coordinator, logger, message.Options{
		MaxTextLength: cfg.MaxTextLength,
		StoreTimeout:  cfg.StoreTimeout,
	})
	dispatcher := relay.NewDispatcher(messageService, coordinator, logger)

	application.Hub = websocket.NewHub(eventBus, dispatcher, websocket.Options{
		SendQueue:  cfg.WSSendQueue,
		RateEvents: cfg.WSRateEvents,
		RateBurst:  cfg.WSRateBurst,
	}, logger)
	application.SocketIO = socketio.NewGateway(eventBus, dispatcher, logger)
	application.closers = append(application.closers, application.SocketIO.Close)

	checker := utils.NewHealthChecker(2*time.Second).Add("store", repo)
	if redisProvider != nil {
		checker.Add("redis", redisProvider)
	}
	if minioProvider != nil {
		checker.Add("minio", minioProvider)
	}

	r := router.NewRouter(logger, cfg.FrontendURL)
	r.RegisterHealthRoutes(health.NewHandler(checker))
	r.RegisterMessageRoutes(message.NewHandler(messageService))
	r.RegisterUploadRoutes(upload.NewHandler(storage, logger))
	r.RegisterWebSocketRoutes(application.Hub)
	r.RegisterSocketIORoutes(application.SocketIO)
	r.RegisterMetricsRoutes()
	r.RegisterSwaggerRoutes()
	r.RegisterStaticFiles(cfg.PublicDir)
	application.Router = r

	return application, nil
}

// Start runs the session registries until ctx is cancelled.
func (a *Application) Start(ctx context.Context) {
	go a.Hub.Run(ctx)
	go func() {
		if err := a.SocketIO.Serve(); err != nil {
			a.logger.Error("Socket.IO server stopped with error", zap.Error(err))
		}
	}()
}

// Close releases providers in reverse order of acquisition.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.Config, logger *zap.Logger) (message.Repository, func() error, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		dbConn, err := db.Connect(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(dbConn, logger); err != nil {
			return nil, nil, err
		}
		sqlDB, err := dbConn.DB()
		if err != nil {
			return nil, nil, err
		}
		return message.NewRepository(dbConn), sqlDB.Close, nil

	case config.StoreDriverPebble:
		if err := os.MkdirAll(cfg.PebbleDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create pebble dir: %w", err)
		}
		repo, err := message.NewPebbleRepository(cfg.PebbleDir, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
