package securecache

import (
	"context"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
)

// ProfileFetcher loads a profile from the backend of record.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error)
}

// ProfileCache primes requester profiles from the secure cache and falls
// back to the backend on a miss. Entries are reused across sessions with the
// same requester and dropped only by Invalidate.
type ProfileCache struct {
	cache   *Cache
	fetcher ProfileFetcher
}

// NewProfileCache creates a profile cache.
func NewProfileCache(cache *Cache, fetcher ProfileFetcher) *ProfileCache {
	return &ProfileCache{cache: cache, fetcher: fetcher}
}

func profileKey(participantID string) string {
	return "profile:" + participantID
}

// Cached returns the cached snapshot without touching the network.
func (p *ProfileCache) Cached(ctx context.Context, participantID string) (*domain.ProfileSnapshot, bool) {
	var snap domain.ProfileSnapshot
	if !p.cache.Get(ctx, profileKey(participantID), &snap) {
		return nil, false
	}
	return &snap, true
}

// Get returns the cached snapshot or fetches and caches it.
func (p *ProfileCache) Get(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error) {
	if snap, ok := p.Cached(ctx, participantID); ok {
		return snap, nil
	}
	snap, err := p.fetcher.GetProfile(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(ctx, profileKey(participantID), snap); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldParticipantID, participantID).Msg("failed to cache profile")
	}
	return snap, nil
}

// Invalidate drops the snapshot for participantID.
func (p *ProfileCache) Invalidate(ctx context.Context, participantID string) {
	if err := p.cache.Delete(ctx, profileKey(participantID)); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldParticipantID, participantID).Msg("failed to invalidate cached profile")
	}
}
