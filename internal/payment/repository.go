package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists funding attempts. Update is a compare-and-set on the
// state: it only applies when the stored state still equals expect.
type Repository interface {
	Create(ctx context.Context, a Attempt) error
	Get(ctx context.Context, reference string) (Attempt, error)
	Update(ctx context.Context, a Attempt, expect State) (Attempt, error)
	ListOpenBefore(ctx context.Context, cutoff time.Time) ([]Attempt, error)
}

type MemoryRepository struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{attempts: make(map[string]Attempt)}
}

func (r *MemoryRepository) Create(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[a.Reference]; ok {
		return ErrDuplicateAttempt
	}
	r.attempts[a.Reference] = a
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, reference string) (Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[reference]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (r *MemoryRepository) Update(_ context.Context, a Attempt, expect State) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.attempts[a.Reference]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	if cur.State != expect {
		return Attempt{}, ErrStateConflict
	}
	// Identity fields never change.
	a.AccountID, a.Amount, a.AuthorizationURL, a.CreatedAt = cur.AccountID, cur.Amount, cur.AuthorizationURL, cur.CreatedAt
	r.attempts[a.Reference] = a
	return a, nil
}

func (r *MemoryRepository) ListOpenBefore(_ context.Context, cutoff time.Time) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Attempt
	for _, a := range r.attempts {
		if a.State.Open() && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
