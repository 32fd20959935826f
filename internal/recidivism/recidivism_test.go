package recidivism

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/sanctiond/internal/cache"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/repository"
)

type countingStore struct {
	calls int
	n     int
	err   error
}

func (s *countingStore) CountDecisions(ctx context.Context, structureID string, category domain.Category, statuses []domain.Status) (int, error) {
	s.calls++
	return s.n, s.err
}

func TestCounterCaching(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{n: 2}
	c := NewCounter(store, cache.NewLRUCache(10), time.Minute)

	for i := 0; i < 3; i++ {
		n, err := c.CountPriorSanctions(ctx, "s-1", domain.CategorySafety)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2, got %d", n)
		}
	}
	if store.calls != 1 {
		t.Errorf("expected one store call, got %d", store.calls)
	}

	store.n = 3
	if err := c.Invalidate(ctx, "s-1", domain.CategorySafety); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	n, _ := c.CountPriorSanctions(ctx, "s-1", domain.CategorySafety)
	if n != 3 {
		t.Errorf("expected fresh count 3 after invalidate, got %d", n)
	}

	// Categories are cached independently
	_, _ = c.CountPriorSanctions(ctx, "s-1", domain.CategoryHygiene)
	if store.calls != 3 {
		t.Errorf("expected 3 store calls, got %d", store.calls)
	}
}

func TestCounterWithoutCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{n: 1}
	c := NewCounter(store, nil, 0)

	_, _ = c.CountPriorSanctions(ctx, "s-1", domain.CategoryAdmin)
	_, _ = c.CountPriorSanctions(ctx, "s-1", domain.CategoryAdmin)
	if store.calls != 2 {
		t.Errorf("expected every call to hit the store, got %d", store.calls)
	}
	if err := c.Invalidate(ctx, "s-1", domain.CategoryAdmin); err != nil {
		t.Errorf("invalidate without cache failed: %v", err)
	}
}

func TestCounterErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	c := NewCounter(&countingStore{err: boom}, nil, 0)

	if _, err := c.CountPriorSanctions(ctx, "s-1", domain.CategorySafety); !errors.Is(err, boom) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
	if _, err := c.CountPriorSanctions(ctx, "", domain.CategorySafety); err == nil {
		t.Error("expected error for missing structure id")
	}
}

func TestCounterOverRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "recidivism.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	now := time.Now().UTC()
	statuses := []domain.Status{
		domain.StatusDraft, domain.StatusSubmitted, domain.StatusReturned,
		domain.StatusApproved, domain.StatusPaid, domain.StatusCancelled, domain.StatusOverdue,
	}
	for i, st := range statuses {
		d := &domain.SanctionDecision{
			ID:              "dec-" + string(st),
			StructureID:     "s-1",
			ViolationCode:   "SAF-01",
			Category:        domain.CategorySafety,
			Status:          st,
			DrafterID:       "u-1",
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
			StatusChangedAt: now,
			UpdatedAt:       now,
		}
		if err := repo.CreateDecision(ctx, d); err != nil {
			t.Fatalf("failed to create decision: %v", err)
		}
	}

	c := NewCounter(repo, nil, 0)
	n, err := c.CountPriorSanctions(ctx, "s-1", domain.CategorySafety)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// approved, paid and overdue
	if n != 3 {
		t.Errorf("expected 3 prior sanctions, got %d", n)
	}

	n, _ = c.CountPriorSanctions(ctx, "s-1", domain.CategoryHygiene)
	if n != 0 {
		t.Errorf("expected 0 hygiene sanctions, got %d", n)
	}
}
