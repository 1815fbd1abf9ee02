package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/database"
	"credit-ledger-go/internal/formance"
	"credit-ledger-go/internal/ledger"
	"credit-ledger-go/internal/metrics"
	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/scheduler"
	"credit-ledger-go/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store     store.CreditStore
	Engine    *ledger.Engine
	Scheduler *scheduler.Scheduler
	Redis     *redis.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices builds the configured store, the ledger engine on top of it,
// and the batch refresh scheduler. The scheduler is not started.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	metrics.Init()

	creditStore, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := ledger.NewEngine(creditStore, cfg.Refresh)

	services := &Services{Store: creditStore, Engine: engine}

	opts := []scheduler.Option{scheduler.WithWorkers(cfg.Refresh.Workers)}
	if cfg.Redis.Addr != "" {
		services.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := services.Redis.Ping(ctx).Err(); err != nil {
			// Runs are skipped with ErrRunLocked until Redis is reachable
			zap.L().Warn("Redis not reachable, batch refresh runs will be skipped until it is",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err))
		}
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(services.Redis, cfg.Redis.LockTTL)))
		zap.L().Info("Using Redis batch refresh lock", zap.String("addr", cfg.Redis.Addr))
	}
	services.Scheduler = scheduler.New(engine, cfg.Refresh, opts...)

	return services, nil
}

// InitializeStore opens only the configured backend.
// Useful for read-only tools like the balances report.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.CreditStore, error) {
	switch cfg.Backend {
	case config.BackendFormance:
		zap.L().Info("Using Formance ledger backend")
		svc, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.BackendSQLite, "":
		zap.L().Info("Using SQLite ledger backend")
		svc, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

func (cs *Services) Close() {
	if cs.Redis != nil {
		if err := cs.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
