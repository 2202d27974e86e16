package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/callflow/pkg/sessionstore"
)

// NewSessionStore returns a Redis store for redis:// and rediss:// URLs and an
// in-memory store otherwise.
func NewSessionStore(ctx context.Context, logger *slog.Logger, url string, ttl time.Duration) (sessionstore.Store, error) {
	if ttl <= 0 {
		ttl = sessionstore.DefaultTTL
	}

	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		logger.Info("Initializing session store", "provider", "redis")

		store, err := sessionstore.NewRedisStoreFromURL(ctx, url, sessionstore.WithTTL(ttl))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		return store, nil
	}

	if url != "" && url != "memory" {
		return nil, fmt.Errorf("unsupported session store: %s", url)
	}

	logger.Info("Initializing session store", "provider", "memory")

	store, err := sessionstore.NewMemoryStore(
		sessionstore.WithMemoryTTL(ttl),
		sessionstore.WithMemoryLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return store, nil
}
