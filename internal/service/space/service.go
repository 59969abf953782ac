// Package space serves the configured Genie space's metadata to the UI.
package space

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/genie-room/backend/internal/model/space"
)

const defaultTTL = 5 * time.Minute

// Fetcher loads space metadata from Genie.
type Fetcher interface {
	GetSpace(ctx context.Context) (space.Info, error)
}

// Service caches space metadata for ttl. Concurrent misses share one fetch.
type Service struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	cached    space.Info
	fetchedAt time.Time
	valid     bool
}

func NewService(fetcher Fetcher, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{fetcher: fetcher, ttl: ttl, now: time.Now}
}

// Get returns the cached space info, refreshing it once stale. When a
// refresh fails and an older copy exists, the older copy is served.
func (s *Service) Get(ctx context.Context) (space.Info, error) {
	s.mu.RLock()
	info, fetchedAt, valid := s.cached, s.fetchedAt, s.valid
	s.mu.RUnlock()

	if valid && s.now().Sub(fetchedAt) < s.ttl {
		return info, nil
	}

	v, err, _ := s.group.Do("space", func() (any, error) {
		fresh, err := s.fetcher.GetSpace(ctx)
		if err != nil {
			return space.Info{}, err
		}
		s.mu.Lock()
		s.cached = fresh
		s.fetchedAt = s.now()
		s.valid = true
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if valid {
			log.Warn().Err(err).Msg("space refresh failed, serving cached copy")
			return info, nil
		}
		return space.Info{}, err
	}
	return v.(space.Info), nil
}

// Invalidate drops the cached copy.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}
