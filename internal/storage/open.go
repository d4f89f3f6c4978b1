package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewStore builds the backend selected by cfg.Driver
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "storage").Str("driver", string(cfg.Driver)).Logger()

	switch cfg.Driver {
	case DriverMemory, "":
		logger.Info().Msg("using in-memory store")
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case DriverDynamoDB:
		return NewDynamoDBStore(ctx, cfg.Dynamo, logger)
	case DriverMongo:
		return NewMongoStore(ctx, cfg.Mongo, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
