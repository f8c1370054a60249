package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(entitlements.DefaultCatalog(), WithClock(func() time.Time { return testNow }))
}

func tierPtr(id entitlements.TierID) *entitlements.TierID {
	return &id
}

func recordOnTier(t *testing.T, m *Manager, tier entitlements.TierID) *Record {
	t.Helper()
	rec := m.NewRecord(7, "user@example.com")
	upgraded, err := m.ApplyUpgrade(rec, tier, "pay_1")
	require.NoError(t, err)
	return upgraded
}

func TestNewRecordDefaults(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, " User@Example.com ")

	assert.Equal(t, entitlements.TierFree, rec.Tier)
	assert.Equal(t, 3, rec.ContentLimit)
	assert.Equal(t, 0, rec.UsedContentSlots)
	assert.Equal(t, int64(0), rec.Version)
	assert.Equal(t, "user@example.com", rec.CustomerEmail)
	assert.Nil(t, rec.PlanEndDate)
	assert.NoError(t, rec.Validate())
}

func TestHasAccess(t *testing.T) {
	m := newTestManager()
	ok, err := m.HasAccess(entitlements.TierFoundingCreator, entitlements.TierSupporter)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasAccess(entitlements.TierSupporter, entitlements.TierSupporter)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasAccess(entitlements.TierFree, entitlements.TierSupporter)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.HasAccess("gold", entitlements.TierFree)
	assert.ErrorIs(t, err, entitlements.ErrUnknownTier)
}

func TestCanCreateContent(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name     string
		mutate   func(r *Record)
		ct       entitlements.ContentType
		size     int64
		allowed  bool
		reason   DenyReason
		baseTier entitlements.TierID
	}{
		{name: "allowed", ct: entitlements.ContentWorld, size: 1024, allowed: true, baseTier: entitlements.TierFree},
		{name: "type not in tier", ct: entitlements.ContentModel, size: 1, reason: DenyContentType, baseTier: entitlements.TierFree},
		{name: "slots exhausted", ct: entitlements.ContentWorld, size: 1, reason: DenyLimitReached, baseTier: entitlements.TierFree,
			mutate: func(r *Record) { r.UsedContentSlots = r.ContentLimit }},
		{name: "inactive paid tier", ct: entitlements.ContentAsset, size: 1, reason: DenyInactive, baseTier: entitlements.TierSupporter,
			mutate: func(r *Record) { r.IsActive = false }},
		{name: "inactive free tier still allowed", ct: entitlements.ContentWorld, size: 1, allowed: true, baseTier: entitlements.TierFree,
			mutate: func(r *Record) { r.IsActive = false }},
		{name: "file too large", ct: entitlements.ContentWorld, size: 11 * 1024 * 1024, reason: DenyFileTooLarge, baseTier: entitlements.TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := m.NewRecord(1, "")
			if tt.baseTier != entitlements.TierFree {
				rec = recordOnTier(t, m, tt.baseTier)
			}
			if tt.mutate != nil {
				tt.mutate(rec)
			}
			before := rec.Clone()
			got := m.CanCreateContent(rec, tt.ct, tt.size)
			assert.Equal(t, tt.allowed, got.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.reason, got.Reason)
				assert.NotEmpty(t, got.Message)
			}
			assert.Equal(t, before, rec, "CanCreateContent must not mutate the record")
		})
	}
}

func TestValidateUpgrade_RejectsNonIncreasingPriority(t *testing.T) {
	m := newTestManager()
	tiers := m.Catalog().All()
	for _, from := range tiers {
		for _, to := range tiers {
			err := m.ValidateUpgrade(from.ID, to.ID)
			if to.Priority > from.Priority {
				assert.NoError(t, err, "%s -> %s", from.ID, to.ID)
			} else {
				assert.ErrorIs(t, err, ErrUpgradeRejected, "%s -> %s", from.ID, to.ID)
			}
		}
	}
	assert.ErrorIs(t, m.ValidateUpgrade(entitlements.TierFree, "diamond"), entitlements.ErrUnknownTier)
}

func TestApplyUpgrade(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "")

	next, err := m.ApplyUpgrade(rec, entitlements.TierSupporter, "pay_42")
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierSupporter, next.Tier)
	assert.Equal(t, 25, next.ContentLimit)
	assert.Equal(t, rec.Version+1, next.Version)
	require.NotNil(t, next.PlanEndDate)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *next.PlanEndDate)
	assert.Equal(t, "pay_42", next.LastPaymentRef)
	assert.Equal(t, entitlements.TierFree, rec.Tier, "input record must be left untouched")

	lifetime, err := m.ApplyUpgrade(next, entitlements.TierLifetimeCreator, "pay_43")
	require.NoError(t, err)
	assert.Nil(t, lifetime.PlanEndDate)
	assert.True(t, lifetime.HasLifetimeAccess)
	assert.Equal(t, 0, m.DaysUntilBilling(lifetime))
}

func TestTrialAndBillingDates(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "")
	assert.False(t, m.IsTrialActive(rec))
	assert.Equal(t, 0, m.DaysUntilBilling(rec))

	trialEnd := testNow.Add(36 * time.Hour)
	rec.TrialEndDate = &trialEnd
	rec.PlanEndDate = &trialEnd
	assert.True(t, m.IsTrialActive(rec))
	assert.Equal(t, 2, m.DaysUntilBilling(rec))

	past := testNow.Add(-time.Minute)
	rec.TrialEndDate = &past
	rec.PlanEndDate = &past
	assert.False(t, m.IsTrialActive(rec))
	assert.Equal(t, 0, m.DaysUntilBilling(rec))
}

func TestApplyCancellation_ImmediateResetsEveryTier(t *testing.T) {
	m := newTestManager()
	free := m.Catalog().Lowest()
	for _, tier := range m.Catalog().All() {
		rec := m.NewRecord(1, "")
		if tier.ID != free.ID {
			rec = recordOnTier(t, m, tier.ID)
		}
		rec.UsedContentSlots = rec.ContentLimit

		next := m.ApplyCancellation(rec, true, "user request")
		assert.Equal(t, free.ID, next.Tier, tier.ID)
		assert.Equal(t, free.ContentLimit, next.ContentLimit, tier.ID)
		assert.False(t, next.IsActive, tier.ID)
		assert.NoError(t, next.Validate(), tier.ID)
		require.NotNil(t, next.PlanEndDate)
		assert.Equal(t, testNow, *next.PlanEndDate)
		assert.Greater(t, next.Version, rec.Version)
	}
}

func TestApplyCancellation_DeferredKeepsTier(t *testing.T) {
	m := newTestManager()
	rec := recordOnTier(t, m, entitlements.TierFoundingCreator)

	next := m.ApplyCancellation(rec, false, "too expensive")
	assert.Equal(t, entitlements.TierFoundingCreator, next.Tier)
	assert.Equal(t, 100, next.ContentLimit)
	assert.False(t, next.IsActive)
	assert.Equal(t, rec.PlanEndDate, next.PlanEndDate)
	assert.Equal(t, "too expensive", next.CancelReason)
}

func TestApplyCancellation_DeferredWithoutPlanEndIsImmediate(t *testing.T) {
	m := newTestManager()
	rec := recordOnTier(t, m, entitlements.TierLifetimeCreator)
	require.Nil(t, rec.PlanEndDate)

	next := m.ApplyCancellation(rec, false, "no longer needed")
	assert.Equal(t, entitlements.TierFree, next.Tier)
	assert.False(t, next.HasLifetimeAccess)
	require.NotNil(t, next.PlanEndDate)

	d := m.CanCreateContent(next, entitlements.ContentWorld, 1024)
	assert.True(t, d.Allowed, "a cancelled lifetime member falls back to the free tier")
}

func TestApplyEvent_Lifecycle(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "a@b.c")
	periodEnd := testNow.Add(30 * 24 * time.Hour)

	created := WebhookEvent{
		Provider:               ProviderStripe,
		ExternalEventID:        "evt_1",
		ExternalSubscriptionID: "sub_1",
		EventType:              EventSubscriptionCreated,
		MappedTier:             tierPtr(entitlements.TierSupporter),
		PeriodEnd:              &periodEnd,
		OccurredAt:             testNow.Add(-time.Hour),
	}
	rec, tr, err := m.ApplyEvent(rec, created)
	require.NoError(t, err)
	assert.Equal(t, StatusNone, tr.From)
	assert.Equal(t, StatusActive, tr.To)
	assert.Equal(t, entitlements.TierSupporter, rec.Tier)
	assert.True(t, rec.IsActive)
	assert.Equal(t, "sub_1", rec.ExternalRefs[ProviderStripe])
	assert.Equal(t, periodEnd, *rec.PlanEndDate)

	failed := WebhookEvent{Provider: ProviderStripe, ExternalSubscriptionID: "sub_1", EventType: EventPaymentFailed, OccurredAt: testNow.Add(-50 * time.Minute)}
	rec, tr, err = m.ApplyEvent(rec, failed)
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, tr.To)
	assert.Equal(t, 1, rec.PaymentFailures)
	assert.True(t, rec.IsActive, "payment failure must not deactivate")

	rec, _, err = m.ApplyEvent(rec, WebhookEvent{Provider: ProviderStripe, EventType: EventPaymentFailed, OccurredAt: testNow.Add(-40 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PaymentFailures)

	succeeded := WebhookEvent{Provider: ProviderStripe, EventType: EventPaymentSucceeded, OccurredAt: testNow.Add(-30 * time.Minute)}
	rec, tr, err = m.ApplyEvent(rec, succeeded)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, tr.To)
	assert.Equal(t, 0, rec.PaymentFailures)
	assert.Equal(t, periodEnd.Add(30*24*time.Hour), *rec.PlanEndDate, "renewal without period end extends by one period")

	cancelled := WebhookEvent{Provider: ProviderStripe, EventType: EventSubscriptionCancelled, OccurredAt: testNow.Add(-20 * time.Minute)}
	rec, tr, err = m.ApplyEvent(rec, cancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.To)
	assert.Equal(t, entitlements.TierFree, rec.Tier)
	assert.False(t, rec.IsActive)

	_, _, err = m.ApplyEvent(rec, WebhookEvent{Provider: ProviderStripe, EventType: EventPaymentFailed, OccurredAt: testNow.Add(-10 * time.Minute)})
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	resubscribe := created
	resubscribe.ExternalSubscriptionID = "sub_2"
	resubscribe.OccurredAt = testNow.Add(-5 * time.Minute)
	rec, tr, err = m.ApplyEvent(rec, resubscribe)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.From)
	assert.Equal(t, StatusActive, tr.To)
	assert.Equal(t, "sub_2", rec.ExternalRefs[ProviderStripe])
	assert.Equal(t, resubscribe.OccurredAt, rec.LastAppliedEventAt[ProviderStripe])
}

func TestApplyEvent_TrialAndNotification(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "")
	trialEnd := testNow.Add(3 * 24 * time.Hour)

	rec, tr, err := m.ApplyEvent(rec, WebhookEvent{
		Provider:   ProviderStripe,
		EventType:  EventSubscriptionCreated,
		MappedTier: tierPtr(entitlements.TierFoundingCreator),
		PeriodEnd:  &trialEnd,
		TrialEnd:   &trialEnd,
		OccurredAt: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTrialing, tr.To)
	assert.True(t, m.IsTrialActive(rec))

	rec, tr, err = m.ApplyEvent(rec, WebhookEvent{
		Provider:   ProviderStripe,
		EventType:  EventTrialWillEnd,
		TrialEnd:   &trialEnd,
		OccurredAt: testNow.Add(time.Second),
	})
	require.NoError(t, err)
	assert.True(t, tr.Notify)
	assert.Equal(t, StatusTrialing, tr.To)
	assert.Equal(t, trialEnd, *rec.TrialEndDate)
}

func TestApplyEvent_DowngradeViaUpdateClampsSlots(t *testing.T) {
	m := newTestManager()
	rec := recordOnTier(t, m, entitlements.TierFoundingCreator)
	rec.UsedContentSlots = 60
	rec.ExternalStatus[ProviderGumroad] = StatusActive

	next, _, err := m.ApplyEvent(rec, WebhookEvent{
		Provider:   ProviderGumroad,
		EventType:  EventSubscriptionUpdated,
		MappedTier: tierPtr(entitlements.TierSupporter),
		OccurredAt: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, entitlements.TierSupporter, next.Tier)
	assert.Equal(t, 25, next.UsedContentSlots)
	assert.NoError(t, next.Validate())
}

func TestApplyEvent_SubscriptionEventNeedsTier(t *testing.T) {
	m := newTestManager()
	_, _, err := m.ApplyEvent(m.NewRecord(1, ""), WebhookEvent{Provider: ProviderStripe, EventType: EventSubscriptionCreated, OccurredAt: testNow})
	assert.ErrorIs(t, err, ErrMissingTier)
}

func TestIsStale(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "")
	ev := WebhookEvent{Provider: ProviderStripe, OccurredAt: testNow}
	assert.False(t, m.IsStale(rec, ev))

	rec.LastAppliedEventAt[ProviderStripe] = testNow
	assert.True(t, m.IsStale(rec, ev))
	ev.OccurredAt = testNow.Add(time.Second)
	assert.False(t, m.IsStale(rec, ev))

	ev.Provider = ProviderGumroad
	ev.OccurredAt = testNow.Add(-time.Hour)
	assert.False(t, m.IsStale(rec, ev), "timestamps are tracked per provider")
}

func TestExpireIfElapsed(t *testing.T) {
	m := newTestManager()

	rec := recordOnTier(t, m, entitlements.TierSupporter)
	_, changed := m.ExpireIfElapsed(rec)
	assert.False(t, changed)

	past := testNow.Add(-time.Hour)
	rec.PlanEndDate = &past
	next, changed := m.ExpireIfElapsed(rec)
	require.True(t, changed)
	assert.Equal(t, entitlements.TierFree, next.Tier)
	assert.Equal(t, "expired", next.CancelReason)

	rec.ExternalStatus[ProviderStripe] = StatusPastDue
	_, changed = m.ExpireIfElapsed(rec)
	assert.False(t, changed, "past due records wait for external reconciliation")

	lifetime := recordOnTier(t, m, entitlements.TierLifetimeCreator)
	_, changed = m.ExpireIfElapsed(lifetime)
	assert.False(t, changed)
}

func TestExpireIfElapsed_TrialEnded(t *testing.T) {
	m := newTestManager()
	future := testNow.Add(7 * 24 * time.Hour)
	trialEnd := testNow.Add(-time.Minute)

	rec := recordOnTier(t, m, entitlements.TierSupporter)
	rec.PlanEndDate = &future
	rec.TrialEndDate = &trialEnd
	rec.ExternalStatus[ProviderStripe] = StatusTrialing

	next, changed := m.ExpireIfElapsed(rec)
	require.True(t, changed)
	assert.Equal(t, entitlements.TierFree, next.Tier)
	assert.Equal(t, "trial ended", next.CancelReason)
	assert.Nil(t, next.TrialEndDate)

	rec.ExternalStatus[ProviderStripe] = StatusActive
	_, changed = m.ExpireIfElapsed(rec)
	assert.False(t, changed, "a converted trial keeps its paid period")
}

func TestApplyEvent_ReplacedSubscriptionCannotCancelCurrent(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "a@b.c")

	rec, _, err := m.ApplyEvent(rec, WebhookEvent{
		Provider:               ProviderStripe,
		ExternalSubscriptionID: "sub_a",
		EventType:              EventSubscriptionCreated,
		MappedTier:             tierPtr(entitlements.TierSupporter),
		OccurredAt:             testNow.Add(-3 * time.Hour),
	})
	require.NoError(t, err)
	rec, _, err = m.ApplyEvent(rec, WebhookEvent{
		Provider:               ProviderStripe,
		ExternalSubscriptionID: "sub_b",
		EventType:              EventSubscriptionCreated,
		MappedTier:             tierPtr(entitlements.TierFoundingCreator),
		OccurredAt:             testNow.Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "sub_b", rec.ExternalRefs[ProviderStripe])

	for _, et := range []EventType{EventSubscriptionCancelled, EventPaymentFailed, EventPaymentSucceeded, EventTrialWillEnd} {
		ev := WebhookEvent{Provider: ProviderStripe, ExternalSubscriptionID: "sub_a", EventType: et, OccurredAt: testNow.Add(-time.Hour)}
		got, tr, err := m.ApplyEvent(rec, ev)
		assert.ErrorIs(t, err, ErrSupersededSubscription, string(et))
		assert.ErrorIs(t, err, ErrInvalidTransition, string(et))
		assert.Same(t, rec, got)
		assert.Equal(t, StatusActive, tr.To)
	}

	assert.Equal(t, entitlements.TierFoundingCreator, rec.Tier)
	assert.Equal(t, "sub_b", rec.ExternalRefs[ProviderStripe])
}

func TestApplyEvent_MissingPeriodEnd(t *testing.T) {
	m := newTestManager()

	created, _, err := m.ApplyEvent(m.NewRecord(1, ""), WebhookEvent{
		Provider:   ProviderGumroad,
		EventType:  EventSubscriptionCreated,
		MappedTier: tierPtr(entitlements.TierSupporter),
		OccurredAt: testNow,
	})
	require.NoError(t, err)
	require.NotNil(t, created.PlanEndDate)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *created.PlanEndDate)

	updated, _, err := m.ApplyEvent(created, WebhookEvent{
		Provider:   ProviderGumroad,
		EventType:  EventSubscriptionUpdated,
		MappedTier: tierPtr(entitlements.TierFoundingCreator),
		OccurredAt: testNow.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, *created.PlanEndDate, *updated.PlanEndDate, "a running period is kept")
}

func TestConsumeAndReleaseSlot(t *testing.T) {
	m := newTestManager()
	rec := m.NewRecord(1, "")

	next := m.ConsumeSlot(rec)
	assert.Equal(t, 1, next.UsedContentSlots)
	assert.Equal(t, rec.Version+1, next.Version)
	assert.Equal(t, 0, rec.UsedContentSlots)

	released := m.ReleaseSlot(next)
	require.NotNil(t, released)
	assert.Equal(t, 0, released.UsedContentSlots)
	assert.Equal(t, next.Version+1, released.Version)

	assert.Nil(t, m.ReleaseSlot(released))
}
