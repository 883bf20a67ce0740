package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/chatrelay/internal/core/config"
	redisclient "github.com/vietddude/chatrelay/internal/infra/redis"
	"github.com/vietddude/chatrelay/internal/infra/storage"
	"github.com/vietddude/chatrelay/internal/infra/storage/file"
	"github.com/vietddude/chatrelay/internal/infra/storage/memory"
	"github.com/vietddude/chatrelay/internal/infra/storage/postgres"
)

// Stores holds the repositories selected by the storage driver.
type Stores struct {
	Checkpoints storage.CheckpointRepository
	Abandoned   storage.AbandonedRepository

	// DB is open when the storage or messaging driver is postgres.
	DB    *postgres.DB
	redis *redisclient.Client
}

// OpenStores connects the configured storage backend.
func OpenStores(ctx context.Context, cfg *config.AppConfig) (*Stores, error) {
	s := &Stores{}

	if cfg.Database.URL != "" && (cfg.Storage.Driver == "postgres" || cfg.Messaging.Driver == "postgres") {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.DB = db
	}

	switch cfg.Storage.Driver {
	case "postgres":
		if s.DB == nil {
			return nil, fmt.Errorf("storage driver postgres requires database.url")
		}
		s.Checkpoints = postgres.NewCheckpointRepo(s.DB)
		s.Abandoned = postgres.NewAbandonedRepo(s.DB)
		slog.Info("Using PostgreSQL storage")

	case "redis":
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.redis = client
		s.Checkpoints = redisclient.NewCheckpointRepo(client)
		s.Abandoned = redisclient.NewAbandonedRepo(client)
		slog.Info("Using Redis storage")

	case "memory":
		store := memory.NewMemoryStorage()
		s.Checkpoints = memory.NewCheckpointRepo(store)
		s.Abandoned = memory.NewAbandonedRepo(store)
		slog.Info("Using Memory storage")

	default:
		s.Checkpoints = file.NewCheckpointRepo(cfg.Storage.Path)
		s.Abandoned = file.NewAbandonedRepo(cfg.Storage.AbandonedPath)
		slog.Info("Using file storage", "path", cfg.Storage.Path)
	}

	return s, nil
}

// Close releases every open connection.
func (s *Stores) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
