package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/doxa/internal/runner"
)

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("cache miss")

// Store is a string key-value store with expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Key derives the cache key for a chunk's text.
func Key(prefix, text string) string {
	sum := sha256.Sum256([]byte(text))
	return prefix + hex.EncodeToString(sum[:])
}

// Wrap memoizes successful results of fn. Failures are never cached, and a
// store that errors is bypassed rather than failing the chunk.
func Wrap(store Store, ttl time.Duration, prefix string, logger *slog.Logger, fn runner.TransformFunc) runner.TransformFunc {
	return func(ctx context.Context, text string) (string, error) {
		key := Key(prefix, text)

		cached, err := store.Get(ctx, key)
		switch {
		case err == nil:
			logger.Debug("cache hit", "key", key)
			return cached, nil
		case !errors.Is(err, ErrMiss):
			logger.Warn("cache read failed", "key", key, "error", err)
		}

		payload, err := fn(ctx, text)
		if err != nil {
			return "", err
		}

		if err := store.Set(ctx, key, payload, ttl); err != nil {
			logger.Warn("cache write failed", "key", key, "error", err)
		}
		return payload, nil
	}
}
