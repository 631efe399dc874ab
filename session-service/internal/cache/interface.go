package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// ProfileCache caches participant profiles in front of the database.
type ProfileCache interface {
	Get(ctx context.Context, key string) (*domain.Profile, error)
	Set(ctx context.Context, key string, p *domain.Profile, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKey(participantID string) string
	Close() error
}
