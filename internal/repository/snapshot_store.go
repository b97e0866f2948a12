package repository

import (
	"context"
	"errors"
	"fmt"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	"KasPull/pkg/cache"
)

// SnapshotKey is stored under the cache prefix, e.g. "kaspull:balance:last".
const SnapshotKey = "balance:last"

// CacheSnapshotStore keeps the last announced change in a cache.Service.
type CacheSnapshotStore struct {
	cache cache.Service
}

func NewCacheSnapshotStore(c cache.Service) *CacheSnapshotStore {
	return &CacheSnapshotStore{cache: c}
}

var _ drepo.SnapshotStore = (*CacheSnapshotStore)(nil)

// Save overwrites the snapshot. It never expires.
func (s *CacheSnapshotStore) Save(ctx context.Context, c *models.BalanceChange) error {
	if err := s.cache.Set(ctx, SnapshotKey, c, 0); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns nil, nil when no snapshot exists.
func (s *CacheSnapshotStore) Load(ctx context.Context) (*models.BalanceChange, error) {
	var c models.BalanceChange
	if err := s.cache.Get(ctx, SnapshotKey, &c); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &c, nil
}

// Clear removes the snapshot.
func (s *CacheSnapshotStore) Clear(ctx context.Context) error {
	return s.cache.Delete(ctx, SnapshotKey)
}
