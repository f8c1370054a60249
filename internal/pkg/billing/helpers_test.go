package billing

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentities struct {
	mu     sync.Mutex
	nextID uint
	ids    map[string]uint
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{nextID: 100, ids: make(map[string]uint)}
}

func (f *fakeIdentities) EnsureUserByEmail(ctx context.Context, email string) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = subscription.NormalizeEmail(email)
	if id, ok := f.ids[email]; ok {
		return id, nil
	}
	f.nextID++
	f.ids[email] = f.nextID
	return f.nextID, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// conflictingStore loses every compare-and-set race.
type conflictingStore struct {
	*subscription.MemoryStore
}

func (conflictingStore) CompareAndSet(context.Context, *subscription.Record, int64) error {
	return subscription.ErrVersionConflict
}

type ingestFixture struct {
	manager  *subscription.Manager
	store    *subscription.MemoryStore
	ledger   *MemoryLedger
	notifier *recordingNotifier
	ingestor *Ingestor
}

func testPlans(t *testing.T) *PlanMap {
	t.Helper()
	pm := NewPlanMap(entitlements.DefaultCatalog())
	require.NoError(t, pm.AddSpec(subscription.ProviderStripe, "price_sup=supporter,price_fc=founding_creator,prod_life=lifetime_creator"))
	require.NoError(t, pm.AddSpec(subscription.ProviderGumroad, "gum_sup=supporter,gum_fc=founding_creator"))
	return pm
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		manager:  subscription.NewManager(entitlements.DefaultCatalog(), subscription.WithClock(func() time.Time { return testNow })),
		store:    subscription.NewMemoryStore(),
		ledger:   NewMemoryLedger(),
		notifier: &recordingNotifier{},
	}
	f.ingestor = NewIngestor(f.manager, f.store, f.ledger, newFakeIdentities(), testPlans(t), WithNotifier(f.notifier))
	return f
}

func stripeSubscriptionJSON(t *testing.T, eventID, eventType string, created time.Time, subID, email, price string) []byte {
	t.Helper()
	obj := map[string]any{
		"id":       subID,
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "active",
		"metadata": map[string]string{"email": email},
		"items": map[string]any{
			"data": []map[string]any{{
				"current_period_end": created.Add(30 * 24 * time.Hour).Unix(),
				"price":              map[string]string{"id": price, "product": "prod_unmapped"},
			}},
		},
	}
	return stripeEnvelope(t, eventID, eventType, created, obj)
}

func stripeInvoiceJSON(t *testing.T, eventID, eventType string, created time.Time, subID, email string) []byte {
	t.Helper()
	obj := map[string]any{
		"id":             "in_" + eventID,
		"object":         "invoice",
		"customer_email": email,
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": subID},
		},
		"lines": map[string]any{
			"data": []map[string]any{{"period": map[string]int64{"end": created.Add(30 * 24 * time.Hour).Unix()}}},
		},
	}
	return stripeEnvelope(t, eventID, eventType, created, obj)
}

func stripeEnvelope(t *testing.T, eventID, eventType string, created time.Time, obj map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2025-03-31.basil",
		"data":        map[string]any{"object": obj},
	})
	require.NoError(t, err)
	return body
}

func mustStripeEvent(t *testing.T, payload []byte) *StripeEvent {
	t.Helper()
	ev, err := ParseStripeEvent(payload, "", "")
	require.NoError(t, err)
	return ev
}

func gumroadForm(fields map[string]string) []byte {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}
