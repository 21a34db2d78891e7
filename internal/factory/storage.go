// Package factory builds the storage backends named by the configuration.
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Copilotuser-cyber/ChatPDT/internal/config"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store"
	"github.com/Copilotuser-cyber/ChatPDT/internal/store/memstore"
	storemongo "github.com/Copilotuser-cyber/ChatPDT/internal/store/mongo"
	storepebble "github.com/Copilotuser-cyber/ChatPDT/internal/store/pebble"
	storepg "github.com/Copilotuser-cyber/ChatPDT/internal/store/postgres"
	storeredis "github.com/Copilotuser-cyber/ChatPDT/internal/store/redis"
	storesqlite "github.com/Copilotuser-cyber/ChatPDT/internal/store/sqlite"
)

// NewLocal opens the local cache selected by cfg.LocalDriver.
func NewLocal(cfg *config.Config) (store.Backend, error) {
	switch cfg.LocalDriver {
	case config.LocalSQLite:
		if err := ensureDir(filepath.Dir(cfg.SQLitePath)); err != nil {
			return nil, err
		}
		return storesqlite.Open(cfg.SQLitePath)
	case config.LocalPebble:
		if err := ensureDir(cfg.PebbleDir); err != nil {
			return nil, err
		}
		return storepebble.Open(cfg.PebbleDir)
	case config.LocalMemory:
		return memstore.New("memory"), nil
	}
	return nil, fmt.Errorf("unknown LOCAL_DRIVER: %s", cfg.LocalDriver)
}

// NewCloud connects the cloud store selected by cfg.CloudDriver. It
// returns a nil backend for CloudNone.
func NewCloud(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Backend, error) {
	switch cfg.CloudDriver {
	case config.CloudNone:
		return nil, nil
	case config.CloudMongo:
		return storemongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
	case config.CloudPostgres:
		return storepg.Open(ctx, cfg.PostgresDSN, log)
	case config.CloudRedis:
		return storeredis.Open(ctx, cfg.RedisURL, cfg.RedisPrefix, log)
	}
	return nil, fmt.Errorf("unknown CLOUD_DRIVER: %s", cfg.CloudDriver)
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
