// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/99scratch/WALKOFF/pkg/persistence"
	"github.com/99scratch/WALKOFF/pkg/persistence/file"
	"github.com/99scratch/WALKOFF/pkg/persistence/postgresql"
	"github.com/99scratch/WALKOFF/pkg/persistence/redis"
)

// NewPersistence picks the store from the URL scheme: postgres://,
// postgresql://, redis://, rediss:// or file://. A URL without a known
// scheme is a file persistence root directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider, path := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	case "redis", "rediss":
		p, err := redis.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(path)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
