package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// racingStore simulates a concurrent writer winning the first conflicts CAS attempts.
type racingStore struct {
	*MemoryStore
	conflicts int
	calls     int
}

func (s *racingStore) CompareAndSet(ctx context.Context, next *Record, expectedVersion int64) error {
	s.calls++
	if s.calls <= s.conflicts {
		return ErrVersionConflict
	}
	return s.MemoryStore.CompareAndSet(ctx, next, expectedVersion)
}

func TestMemoryStore_UpsertNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := NewMemoryStore()

	first, err := store.Upsert(ctx, m.NewRecord(1, "a@example.com"))
	require.NoError(t, err)

	other := m.NewRecord(1, "b@example.com")
	other.Tier = entitlements.TierSupporter
	got, err := store.Upsert(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	byEmail, err := store.FindByEmail(ctx, "A@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint(1), byEmail.UserID)

	_, err = store.FindByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := NewMemoryStore()

	rec, err := store.Upsert(ctx, m.NewRecord(1, ""))
	require.NoError(t, err)

	next := rec.Clone()
	next.UsedContentSlots = 1
	next.Version = rec.Version + 1
	require.NoError(t, store.CompareAndSet(ctx, next, rec.Version))

	stale := rec.Clone()
	stale.UsedContentSlots = 2
	stale.Version = rec.Version + 1
	assert.ErrorIs(t, store.CompareAndSet(ctx, stale, rec.Version), ErrVersionConflict)

	bad := next.Clone()
	bad.UsedContentSlots = bad.ContentLimit + 1
	bad.Version = next.Version + 1
	assert.ErrorIs(t, store.CompareAndSet(ctx, bad, next.Version), ErrInvariant)

	got, err := store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedContentSlots)
	assert.Equal(t, next.Version, got.Version)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := NewMemoryStore()
	_, err := store.Upsert(ctx, m.NewRecord(1, ""))
	require.NoError(t, err)

	got, err := store.Find(ctx, 1)
	require.NoError(t, err)
	got.UsedContentSlots = 3
	got.ExternalRefs[ProviderStripe] = "sub_x"

	again, err := store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, again.UsedContentSlots)
	assert.Empty(t, again.ExternalRefs)
}

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := NewMemoryStore()

	rec, err := FindOrCreate(ctx, store, m, 9, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierFree, rec.Tier)

	again, err := FindOrCreate(ctx, store, m, 9, "ignored@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", again.CustomerEmail)
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := &racingStore{MemoryStore: NewMemoryStore(), conflicts: 2}

	attempts := 0
	rec, err := Update(ctx, store, m, 1, func(cur *Record) (*Record, error) {
		attempts++
		next := cur.Clone()
		next.UsedContentSlots++
		next.Version++
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, rec.UsedContentSlots)
}

func TestUpdate_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := &racingStore{MemoryStore: NewMemoryStore(), conflicts: DefaultMaxAttempts}

	_, err := Update(ctx, store, m, 1, func(cur *Record) (*Record, error) {
		next := cur.Clone()
		next.Version++
		return next, nil
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, DefaultMaxAttempts, store.calls)
}

func TestUpdate_NilMutationSkipsWrite(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := &racingStore{MemoryStore: NewMemoryStore()}

	rec, err := Update(ctx, store, m, 1, func(cur *Record) (*Record, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Version)
	assert.Zero(t, store.calls)
}

func TestUpdate_PropagatesMutationError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Update(context.Background(), NewMemoryStore(), newTestManager(), 1, func(cur *Record) (*Record, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	store := NewMemoryStore()

	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	seed := func(id uint, tier entitlements.TierID, end *time.Time) {
		rec := m.NewRecord(id, "")
		if tier != entitlements.TierFree {
			var err error
			rec, err = m.ApplyUpgrade(rec, tier, "")
			require.NoError(t, err)
		}
		if !rec.HasLifetimeAccess {
			rec.PlanEndDate = end
		}
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}
	seed(1, entitlements.TierSupporter, &past)
	seed(2, entitlements.TierSupporter, &future)
	seed(3, entitlements.TierFree, &past)
	seed(4, entitlements.TierLifetimeCreator, nil)
	seed(5, entitlements.TierFoundingCreator, &past)

	trial, err := m.ApplyUpgrade(m.NewRecord(6, ""), entitlements.TierSupporter, "")
	require.NoError(t, err)
	trial.PlanEndDate = &future
	trial.TrialEndDate = &past
	_, err = store.Upsert(ctx, trial)
	require.NoError(t, err)

	got, err := store.ListExpired(ctx, entitlements.TierFree, testNow, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint(1), got[0].UserID)
	assert.Equal(t, uint(5), got[1].UserID)
	assert.Equal(t, uint(6), got[2].UserID, "elapsed trials are candidates too")

	limited, err := store.ListExpired(ctx, entitlements.TierFree, testNow, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
