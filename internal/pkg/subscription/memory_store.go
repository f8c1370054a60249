package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// MemoryStore is an in-process Store used by tests and single-node development setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uint]*Record
	byEmail map[string]uint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uint]*Record),
		byEmail: make(map[string]uint),
	}
}

func (s *MemoryStore) Find(ctx context.Context, userID uint) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.UserID]; ok {
		return existing.Clone(), nil
	}
	if rec.CustomerEmail != "" {
		if owner, taken := s.byEmail[rec.CustomerEmail]; taken && owner != rec.UserID {
			return nil, fmt.Errorf("%w: email already bound to user %d", ErrInvariant, owner)
		}
		s.byEmail[rec.CustomerEmail] = rec.UserID
	}
	s.records[rec.UserID] = rec.Clone()
	return rec.Clone(), nil
}

func (s *MemoryStore) CompareAndSet(ctx context.Context, next *Record, expectedVersion int64) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Version <= expectedVersion {
		return fmt.Errorf("%w: next version %d must exceed %d", ErrInvariant, next.Version, expectedVersion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[next.UserID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if cur.CustomerEmail != next.CustomerEmail {
		if next.CustomerEmail != "" {
			if owner, taken := s.byEmail[next.CustomerEmail]; taken && owner != next.UserID {
				return fmt.Errorf("%w: email already bound to user %d", ErrInvariant, owner)
			}
			s.byEmail[next.CustomerEmail] = next.UserID
		}
		delete(s.byEmail, cur.CustomerEmail)
	}
	s.records[next.UserID] = next.Clone()
	return nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, baseTier entitlements.TierID, cutoff time.Time, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.Tier == baseTier || rec.HasLifetimeAccess {
			continue
		}
		if !elapsed(rec.PlanEndDate, cutoff) && !elapsed(rec.TrialEndDate, cutoff) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func elapsed(end *time.Time, cutoff time.Time) bool {
	return end != nil && !end.After(cutoff)
}
