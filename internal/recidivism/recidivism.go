// Package recidivism counts prior sanctions of a structure within a category.
package recidivism

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// CountedStatuses are the statuses of a decision that count as a prior sanction.
// Drafts, pending and returned decisions were never imposed; cancelled ones were revoked.
var CountedStatuses = []domain.Status{
	domain.StatusApproved,
	domain.StatusNotified,
	domain.StatusAppealed,
	domain.StatusOverdue,
	domain.StatusPaid,
}

// Store counts persisted decisions.
type Store interface {
	CountDecisions(ctx context.Context, structureID string, category domain.Category, statuses []domain.Status) (int, error)
}

// Counter derives recidivism counts from persisted decisions and caches them.
type Counter struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
}

var _ domain.RecidivismCounter = (*Counter)(nil)

// NewCounter creates a counter. A nil cache or zero ttl disables caching.
func NewCounter(store Store, cache domain.Cache, ttl time.Duration) *Counter {
	return &Counter{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

// CountPriorSanctions returns the number of imposed sanctions for the pair.
func (c *Counter) CountPriorSanctions(ctx context.Context, structureID string, category domain.Category) (int, error) {
	if structureID == "" || category == "" {
		return 0, fmt.Errorf("structureID and category are required")
	}

	key := cacheKey(structureID, category)
	if c.cacheEnabled() {
		if data, err := c.cache.Get(ctx, key); err != nil {
			slog.Warn("recidivism cache read failed", "key", key, "error", err)
		} else if data != nil {
			if n, err := strconv.Atoi(string(data)); err == nil {
				return n, nil
			}
		}
	}

	n, err := c.store.CountDecisions(ctx, structureID, category, CountedStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to count prior sanctions: %w", err)
	}

	if c.cacheEnabled() {
		if err := c.cache.Set(ctx, key, []byte(strconv.Itoa(n)), c.ttl); err != nil {
			slog.Warn("recidivism cache write failed", "key", key, "error", err)
		}
	}
	return n, nil
}

// Invalidate drops the cached count after a decision enters or leaves a counted status.
func (c *Counter) Invalidate(ctx context.Context, structureID string, category domain.Category) error {
	if !c.cacheEnabled() {
		return nil
	}
	return c.cache.Delete(ctx, cacheKey(structureID, category))
}

func (c *Counter) cacheEnabled() bool {
	return c.cache != nil && c.ttl > 0
}

func cacheKey(structureID string, category domain.Category) string {
	return "recidivism:" + structureID + ":" + string(category)
}
