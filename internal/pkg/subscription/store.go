package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// DefaultMaxAttempts bounds every optimistic read-modify-write loop.
const DefaultMaxAttempts = 5

// Store persists subscription records. Implementations must make Upsert and
// CompareAndSet atomic per user.
type Store interface {
	// Find returns the record for userID or ErrNotFound.
	Find(ctx context.Context, userID uint) (*Record, error)
	// FindByEmail returns the record whose customer email matches or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*Record, error)
	// Upsert inserts rec when no record exists for rec.UserID and returns the stored record
	// either way. It never overwrites an existing record.
	Upsert(ctx context.Context, rec *Record) (*Record, error)
	// CompareAndSet replaces the stored record with next if the stored version still
	// equals expectedVersion, otherwise it returns ErrVersionConflict.
	CompareAndSet(ctx context.Context, next *Record, expectedVersion int64) error
	// ListExpired returns non-lifetime records above baseTier whose plan end or trial end
	// is at or before cutoff. Callers re-check each candidate with ExpireIfElapsed.
	ListExpired(ctx context.Context, baseTier entitlements.TierID, cutoff time.Time, limit int) ([]*Record, error)
}

// FindOrCreate loads the record for userID, creating the default one when missing.
func FindOrCreate(ctx context.Context, store Store, m *Manager, userID uint, email string) (*Record, error) {
	rec, err := store.Find(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return store.Upsert(ctx, m.NewRecord(userID, email))
}

// MutateFunc derives the next record from the current one. Returning a nil record
// means there is nothing to write.
type MutateFunc func(cur *Record) (*Record, error)

// Update runs a bounded optimistic read-modify-write loop on the record of userID.
// It returns the committed record, or the current one when mutate chose not to write.
func Update(ctx context.Context, store Store, m *Manager, userID uint, mutate MutateFunc) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := FindOrCreate(ctx, store, m, userID, "")
		if err != nil {
			return nil, err
		}
		next, err := mutate(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		err = store.CompareAndSet(ctx, next, cur.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
