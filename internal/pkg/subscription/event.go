package subscription

import (
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// EventType is the canonical, provider independent kind of a webhook event.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventTrialWillEnd          EventType = "trial_will_end"
)

// CarriesTier reports whether events of this type must reference a mapped tier.
func (t EventType) CarriesTier() bool {
	return t == EventSubscriptionCreated || t == EventSubscriptionUpdated
}

// WebhookEvent is the normalized shape every provider payload is converted into.
type WebhookEvent struct {
	Provider               Provider
	ExternalEventID        string
	ExternalSubscriptionID string
	CustomerEmail          string
	EventType              EventType
	MappedTier             *entitlements.TierID
	PeriodEnd              *time.Time
	TrialEnd               *time.Time
	Trialing               bool
	OccurredAt             time.Time
	RawEventType           string
}

// Transition describes what ApplyEvent did to the external subscription lifecycle.
type Transition struct {
	From ExternalStatus
	To   ExternalStatus
	// Notify is set when the event asks for a user-facing notification.
	Notify bool
}
