package agility

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	badgerAdapter "agilitytrack/adapters/badger"
	"agilitytrack/adapters/jsonfile"
	mem "agilitytrack/adapters/memory"
	redisAdapter "agilitytrack/adapters/redis"
	sqlxAdapter "agilitytrack/adapters/sqlx"
	appconfig "agilitytrack/config"
	"agilitytrack/engine"
)

// OpenStorage creates the storage adapter named by cfg.Storage.Adapter. The
// returned func releases it and is safe to call for adapters without
// resources.
func OpenStorage(ctx context.Context, cfg appconfig.StorageConfig, logger *slog.Logger) (engine.Storage, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("closing storage", "adapter", cfg.Adapter, "error", err)
			}
		}
	}
	return store, cleanup, nil
}

func openStorage(ctx context.Context, cfg appconfig.StorageConfig, logger *slog.Logger) (engine.Storage, error) {
	switch cfg.Adapter {
	case "memory":
		return mem.New(), nil
	case "file":
		return jsonfile.New(cfg.File.Path)
	case "redis":
		store, err := redisAdapter.New(cfg.Redis.Adapter())
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sql":
		store, err := sqlxAdapter.New(cfg.SQL.Adapter())
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	case "badger":
		bc := cfg.Badger.Adapter()
		bc.Logger = logger
		store, err := badgerAdapter.Open(bc)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}
