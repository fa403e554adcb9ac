// Package bootstrap opens the storage backends selected by configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/aws"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/config"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/mirror"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/postgres"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/redisx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends holds the opened store, ledger and mirror. Pool and Redis are nil
// unless a selected backend needed them.
type Backends struct {
	Store  store.Store
	Ledger inventory.Ledger
	Mirror mirror.Mirror

	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Open connects every backend named by cfg. On error whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (b *Backends, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b = &Backends{}
	defer func() {
		if err != nil {
			b.Close()
			b = nil
		}
	}()

	if cfg.StoreBackend == config.BackendPostgres || cfg.LedgerBackend == config.BackendPostgres {
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return b, err
			}
			logger.Info("schema migrated")
		}
		if b.Pool, err = postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns); err != nil {
			return b, err
		}
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		b.Store = &store.Postgres{DB: b.Pool}
	case config.BackendDynamo:
		client, err := aws.NewDynamoDB(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return b, fmt.Errorf("dynamodb client: %w", err)
		}
		b.Store = store.NewDynamo(client, cfg.DynamoOrdersTable, cfg.DynamoIdemTable)
	default:
		b.Store = store.NewMemory()
	}

	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		b.Ledger = &inventory.PGLedger{DB: b.Pool}
	default:
		b.Ledger = inventory.NewMemoryLedger()
	}

	switch cfg.MirrorBackend {
	case config.BackendRedis:
		b.Redis = redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, b.Redis); err != nil {
			return b, err
		}
		b.Mirror = mirror.NewRedis(b.Redis, cfg.MirrorChannel, logger.Named("mirror"))
	default:
		b.Mirror = mirror.NewMemory()
	}

	logger.Info("backends ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("ledger", cfg.LedgerBackend),
		zap.String("mirror", cfg.MirrorBackend))
	return b, nil
}

func (b *Backends) Close() {
	if b == nil {
		return
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
