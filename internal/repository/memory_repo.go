package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/sitemap-engine/internal/domain"
)

// MemoryBatchRepo keeps batches in process memory. Every read and write
// goes through a deep copy so callers never share state with the store.
type MemoryBatchRepo struct {
	mu      sync.RWMutex
	batches map[string]*domain.BatchJob
}

func NewMemoryBatchRepo() *MemoryBatchRepo {
	return &MemoryBatchRepo{batches: make(map[string]*domain.BatchJob)}
}

func (r *MemoryBatchRepo) Create(ctx context.Context, b *domain.BatchJob) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[b.ID]; exists {
		return fmt.Errorf("%w: batch %q already exists", domain.ErrConflict, b.ID)
	}
	r.batches[b.ID] = cloneBatch(b)
	return nil
}

func (r *MemoryBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBatch(b), nil
}

func (r *MemoryBatchRepo) Update(ctx context.Context, id string, fn func(b *domain.BatchJob) error) (*domain.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	working := cloneBatch(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	r.batches[id] = cloneBatch(working)
	return working, nil
}

func (r *MemoryBatchRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.batches, id)
	return nil
}

func (r *MemoryBatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	var expired []candidate
	for id, b := range r.batches {
		if b.UpdatedAt.Before(cutoff) {
			expired = append(expired, candidate{id: id, updatedAt: b.UpdatedAt})
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].updatedAt.Before(expired[j].updatedAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, 0, len(expired))
	for _, c := range expired {
		ids = append(ids, c.id)
	}
	return ids, nil
}

func cloneBatch(b *domain.BatchJob) *domain.BatchJob {
	out := *b
	out.Files = make([]domain.FileJob, len(b.Files))
	for i, f := range b.Files {
		if f.Statistics != nil {
			stats := *f.Statistics
			f.Statistics = &stats
		}
		if f.Error != nil {
			fe := *f.Error
			f.Error = &fe
		}
		out.Files[i] = f
	}
	if b.StatusOverride != nil {
		status := *b.StatusOverride
		out.StatusOverride = &status
	}
	if b.CompletedAt != nil {
		completed := *b.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
