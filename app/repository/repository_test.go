package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/database"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/env"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// openTestDB connects to TEST_DB_DSN (or the DB_* settings) and skips when MySQL is not
// reachable. Every table is emptied before the test.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := env.GetEnv("TEST_DB_DSN", "")
	if dsn == "" {
		if env.GetEnv("DB_NAME", "") == "" {
			t.Skip("Skipping MySQL-dependent test: neither TEST_DB_DSN nor DB_NAME is set")
		}
		dsn = database.DSN()
	}

	db, err := database.Open(dsn)
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, table := range []string{"users", "subscription_records", "billing_webhook_events", "billing_plan_mappings", "contents"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

func testManager(now time.Time) *subscription.Manager {
	return subscription.NewManager(entitlements.DefaultCatalog(), subscription.WithClock(func() time.Time { return now }))
}

func TestSubscriptionRepositoryCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewSubscriptionRepository(db)
	m := testManager(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))

	_, err := store.Find(ctx, 1)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	created, err := store.Upsert(ctx, m.NewRecord(1, "Fan@Example.com"))
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierFree, created.Tier)

	// Upsert never overwrites an existing row.
	other := m.NewRecord(1, "other@example.com")
	other.UsedContentSlots = 2
	again, err := store.Upsert(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, created.CustomerEmail, again.CustomerEmail)
	assert.Zero(t, again.UsedContentSlots)

	next, err := m.ApplyUpgrade(created, entitlements.TierSupporter, "pay_1")
	require.NoError(t, err)
	next.ExternalRefs[subscription.ProviderStripe] = "sub_1"
	require.NoError(t, store.CompareAndSet(ctx, next, created.Version))

	// The old version token lost the race.
	stale := m.ConsumeSlot(created)
	assert.ErrorIs(t, store.CompareAndSet(ctx, stale, created.Version), subscription.ErrVersionConflict)

	missing := m.NewRecord(99, "")
	missing.Version = 1
	assert.ErrorIs(t, store.CompareAndSet(ctx, missing, 0), subscription.ErrNotFound)

	got, err := store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierSupporter, got.Tier)
	assert.Equal(t, next.Version, got.Version)
	assert.Equal(t, "sub_1", got.ExternalRefs[subscription.ProviderStripe])

	byEmail, err := store.FindByEmail(ctx, created.CustomerEmail)
	require.NoError(t, err)
	assert.Equal(t, uint(1), byEmail.UserID)
}

func TestSubscriptionRepositoryListExpired(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := NewSubscriptionRepository(db)
	m := testManager(now)

	for id, tier := range map[uint]entitlements.TierID{
		1: entitlements.TierSupporter,
		2: entitlements.TierLifetimeCreator,
		3: entitlements.TierFree,
	} {
		rec := m.NewRecord(id, "")
		if tier != entitlements.TierFree {
			var err error
			rec, err = m.ApplyUpgrade(rec, tier, "")
			require.NoError(t, err)
		}
		past := now.Add(-time.Hour)
		if !rec.HasLifetimeAccess {
			rec.PlanEndDate = &past
		}
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	expired, err := store.ListExpired(ctx, entitlements.TierFree, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, uint(1), expired[0].UserID)
}

func TestUserRepositoryEnsureUserByEmail(t *testing.T) {
	db := openTestDB(t)
	users := NewUserRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uint, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = users.EnsureUserByEmail(ctx, " Buyer@Example.com ")
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	u, err := users.GetByEmail("buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_PENDING, u.Status)
}

func TestUserRepositoryAPIKeyLookup(t *testing.T) {
	db := openTestDB(t)
	users := NewUserRepository(db)

	u := &models.User{Email: "dev@example.com", Status: models.STATUS_ACTIVE, Role: models.ROLE_USER}
	raw, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, users.Create(u))

	found, err := users.GetByAPIKeyHash(models.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	require.NoError(t, users.TouchAPIKeyUsage(u.ID, time.Now()))

	_, err = users.GetByAPIKeyHash(models.HashAPIKey("ent_unknown"))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestLedgerRepository(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := billing.LedgerEntry{
		Provider:  subscription.ProviderStripe,
		EventID:   "evt_1",
		EventType: subscription.EventPaymentSucceeded,
		Outcome:   billing.OutcomeApplied,
		UserID:    4,
		AppliedAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, ledger.Append(ctx, entry))
	require.NoError(t, ledger.Append(ctx, entry), "appending twice is a no-op")
	require.NoError(t, ledger.Append(ctx, billing.LedgerEntry{
		Provider:  subscription.ProviderGumroad,
		EventID:   "sale:1",
		EventType: subscription.EventPaymentSucceeded,
		Outcome:   billing.OutcomeApplied,
		AppliedAt: now,
	}))

	ok, err := ledger.Contains(ctx, subscription.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ledger.Contains(ctx, subscription.ProviderGumroad, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	pruned, err := ledger.Prune(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "evt_1", pruned[0].EventID)
	assert.Equal(t, uint(4), pruned[0].UserID)

	ok, err = ledger.Contains(ctx, subscription.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContentRepository(t *testing.T) {
	db := openTestDB(t)
	contents := NewContentRepository(db)
	ctx := context.Background()

	item := &contentgate.Content{
		ID:          "7f0c2a8e-7f55-4c6c-9d3b-2f1d2b7b0c11",
		UserID:      3,
		ContentType: entitlements.ContentWorld,
		FileSize:    1024,
		Title:       "Harbor",
		Metadata:    `{"biome":"coast"}`,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, contents.Create(ctx, item))

	got, err := contents.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, item.Metadata, got.Metadata)

	n, err := contents.CountByUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = contents.Get(ctx, "missing")
	assert.ErrorIs(t, err, contentgate.ErrContentNotFound)
}

func TestLoadPlanMappings(t *testing.T) {
	db := openTestDB(t)
	repo := NewPlanMappingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.BillingPlanMapping{Provider: "stripe", ProviderPlanRef: "price_db", Tier: "supporter", IsActive: true}))
	require.NoError(t, repo.Upsert(ctx, &models.BillingPlanMapping{Provider: "gumroad", ProviderPlanRef: "gum_bad", Tier: "platinum", IsActive: true}))

	plans := billing.NewPlanMap(entitlements.DefaultCatalog())
	n, err := LoadPlanMappings(ctx, repo, plans)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unknown tiers are skipped")
}
