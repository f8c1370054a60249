package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/membership"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
	"github.com/ManuelReschke/Entitled/internal/pkg/usercontext"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentities struct {
	mu  sync.Mutex
	ids map[string]uint
}

func (f *fakeIdentities) EnsureUserByEmail(ctx context.Context, email string) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = subscription.NormalizeEmail(email)
	if id, ok := f.ids[email]; ok {
		return id, nil
	}
	id := uint(len(f.ids) + 1)
	f.ids[email] = id
	return id, nil
}

type conflictingStore struct {
	*subscription.MemoryStore
}

func (conflictingStore) CompareAndSet(context.Context, *subscription.Record, int64) error {
	return subscription.ErrVersionConflict
}

type testEnv struct {
	manager *subscription.Manager
	store   subscription.Store
	ledger  *billing.MemoryLedger
	app     *fiber.App
}

func newManager() *subscription.Manager {
	return subscription.NewManager(entitlements.DefaultCatalog(), subscription.WithClock(func() time.Time { return testNow }))
}

func newWebhookEnv(t *testing.T, store subscription.Store, stripeSecret, gumroadToken string) *testEnv {
	t.Helper()
	m := newManager()
	plans := billing.NewPlanMap(entitlements.DefaultCatalog())
	require.NoError(t, plans.AddSpec(subscription.ProviderStripe, "price_sup=supporter,price_fc=founding_creator"))
	require.NoError(t, plans.AddSpec(subscription.ProviderGumroad, "gum_sup=supporter"))
	ledger := billing.NewMemoryLedger()
	ing := billing.NewIngestor(m, store, ledger, &fakeIdentities{ids: map[string]uint{}}, plans)

	h := NewWebhookController(ing, stripeSecret, gumroadToken)
	app := fiber.New()
	app.Post("/webhooks/stripe", h.HandleStripeWebhook)
	app.Post("/webhooks/gumroad", h.HandleGumroadWebhook)
	return &testEnv{manager: m, store: store, ledger: ledger, app: app}
}

// newAPIEnv serves the subscription API. The X-Test-User header stands in for the API
// key middleware.
func newAPIEnv(t *testing.T) *testEnv {
	t.Helper()
	m := newManager()
	store := subscription.NewMemoryStore()
	gate := contentgate.NewGate(m, store, contentgate.NewMemoryContentRepository())
	h := NewSubscriptionController(membership.NewService(m, store, gate))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if c.Get("X-Test-User") != "" {
			usercontext.SetUserContext(c, usercontext.UserContext{
				UserID:     7,
				Email:      c.Get("X-Test-User"),
				IsLoggedIn: true,
			})
		}
		return c.Next()
	})
	app.Get("/subscription", h.HandleGetSubscription)
	app.Post("/subscription/upgrade", h.HandleUpgrade)
	app.Post("/subscription/cancel", h.HandleCancel)
	app.Post("/content", h.HandleCreateContent)
	app.Get("/content/stats", h.HandleContentStats)
	app.Get("/content/:id", h.HandleGetContent)
	return &testEnv{manager: m, store: store, app: app}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}
