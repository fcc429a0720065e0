package storage

import (
	"context"
	"fmt"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra"
)

// Storage is the persistence backend used by the process: the flow sink
// plus the instrument repository.
type Storage interface {
	domain.FlowSink
	domain.InstrumentRepository
	Close() error
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)

// Open selects the backend named by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *infra.Config) (Storage, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		return NewSQLiteStorage(cfg.Storage.SQLitePath)
	case "postgres":
		return NewPostgresStorage(ctx, cfg.Storage.DatabaseURL)
	default:
		return nil, &domain.ConfigError{
			Field: "storage.driver",
			Err:   fmt.Errorf("unknown driver %q", cfg.Storage.Driver),
		}
	}
}
