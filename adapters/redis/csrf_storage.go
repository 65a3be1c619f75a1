package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-portal-auth/middleware/csrf"
	goredis "github.com/redis/go-redis/v9"
)

// CSRFStorage keeps CSRF tokens in redis so every instance accepts them.
type CSRFStorage struct {
	client goredis.UniversalClient
	prefix string
}

var _ csrf.Storage = (*CSRFStorage)(nil)

// NewCSRFStorage returns a csrf.Storage with keys under prefix.
func NewCSRFStorage(client goredis.UniversalClient, prefix string) *CSRFStorage {
	if prefix == "" {
		prefix = "portal:"
	}
	return &CSRFStorage{client: client, prefix: prefix}
}

func (s *CSRFStorage) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}

	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get: %w", err)
	}

	return value, nil
}

func (s *CSRFStorage) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	return s.client.Set(ctx, s.prefix+key, value, expiration).Err()
}

func (s *CSRFStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
