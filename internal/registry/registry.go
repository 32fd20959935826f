// Package registry resolves structures from the local replica of the structure registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/sanctiond/internal/cache"
	"github.com/opensource-finance/sanctiond/internal/domain"
)

// Store persists structures.
type Store interface {
	SaveStructure(ctx context.Context, s *domain.Structure) error
	GetStructure(ctx context.Context, id string) (*domain.Structure, error)
}

// Directory serves structure lookups from the cache, falling back to the store.
type Directory struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
}

var _ domain.StructureDirectory = (*Directory)(nil)

// NewDirectory creates a directory. A nil cache or zero ttl disables caching.
func NewDirectory(store Store, cache domain.Cache, ttl time.Duration) *Directory {
	return &Directory{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

// GetStructure returns a structure by id, or an error wrapping domain.ErrNotFound.
func (d *Directory) GetStructure(ctx context.Context, id string) (*domain.Structure, error) {
	key := cacheKey(id)
	if d.cacheEnabled() {
		var s domain.Structure
		ok, err := cache.GetJSON(ctx, d.cache, key, &s)
		if err != nil {
			slog.Warn("structure cache read failed", "structure_id", id, "error", err)
		} else if ok {
			return &s, nil
		}
	}

	s, err := d.store.GetStructure(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("structure %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load structure: %w", err)
	}

	if d.cacheEnabled() {
		if err := cache.SetJSON(ctx, d.cache, key, s, d.ttl); err != nil {
			slog.Warn("structure cache write failed", "structure_id", id, "error", err)
		}
	}
	return s, nil
}

// Save validates and upserts a structure, then drops any cached copy.
func (d *Directory) Save(ctx context.Context, s *domain.Structure) error {
	if err := Validate(s); err != nil {
		return err
	}
	if err := d.store.SaveStructure(ctx, s); err != nil {
		return fmt.Errorf("failed to save structure: %w", err)
	}
	if d.cache != nil {
		if err := d.cache.Delete(ctx, cacheKey(s.ID)); err != nil {
			slog.Warn("structure cache invalidation failed", "structure_id", s.ID, "error", err)
		}
	}
	return nil
}

// Validate checks the fields a structure must carry.
func Validate(s *domain.Structure) error {
	verr := &domain.ValidationError{}
	if s.ID == "" {
		verr.Add("id", "required")
	}
	if s.Name == "" {
		verr.Add("name", "required")
	}
	if s.TypeID == "" {
		verr.Add("typeId", "required")
	}
	return verr.OrNil()
}

func (d *Directory) cacheEnabled() bool {
	return d.cache != nil && d.ttl > 0
}

func cacheKey(id string) string {
	return "structure:" + id
}
