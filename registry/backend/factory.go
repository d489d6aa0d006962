package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/internal/cache"
	"github.com/BaSui01/storeflow/internal/database"
)

// DatabaseConfig selects the relational database for the gorm backend.
type DatabaseConfig struct {
	Driver      string              `yaml:"driver" json:"driver"`
	DSN         string              `yaml:"dsn" json:"dsn"`
	Pool        database.PoolConfig `yaml:"pool" json:"pool"`
	AutoMigrate bool                `yaml:"auto_migrate" json:"auto_migrate"`
}

// Config is the configuration for all backend implementations
type Config struct {
	// Type is the persistence backend type
	Type Type `yaml:"type" json:"type"`

	// KeyPrefix namespaces Redis keys (only used when Type is "redis")
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// Redis connection (only used when Type is "redis")
	Redis cache.Config `yaml:"redis" json:"redis"`

	// Database connection (only used when Type is "gorm")
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Mongo connection (only used when Type is "mongo")
	Mongo MongoConfig `yaml:"mongo" json:"mongo"`
}

// Open creates the backend selected by cfg.Type together with its connection.
// Closing the backend closes the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryBackend(), nil

	case TypeRedis:
		mgr, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		b := NewRedisBackend(mgr.Client(), cfg.KeyPrefix, logger)
		b.closer = mgr
		return b, nil

	case TypeGorm:
		pool, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Pool, logger)
		if err != nil {
			return nil, err
		}
		b := NewGormBackend(pool, logger)
		if cfg.Database.AutoMigrate {
			if err := b.AutoMigrate(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to migrate artifact_stores: %w", err)
			}
		}
		return b, nil

	case TypeMongo:
		return NewMongoBackend(ctx, cfg.Mongo, logger)

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
