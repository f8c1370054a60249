package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

var stripeEventTypes = map[string]subscription.EventType{
	"customer.subscription.created":        subscription.EventSubscriptionCreated,
	"customer.subscription.updated":        subscription.EventSubscriptionUpdated,
	"customer.subscription.deleted":        subscription.EventSubscriptionCancelled,
	"customer.subscription.trial_will_end": subscription.EventTrialWillEnd,
	"invoice.payment_succeeded":            subscription.EventPaymentSucceeded,
	"invoice.paid":                         subscription.EventPaymentSucceeded,
	"invoice.payment_failed":               subscription.EventPaymentFailed,
}

// StripeEvent is a verified Stripe event envelope.
type StripeEvent struct {
	ID        string `validate:"required"`
	EventType string `validate:"required"`
	Created   int64  `validate:"gt=0"`
	object    json.RawMessage
}

// stripeSubscription holds the subscription fields the service reads.
type stripeSubscription struct {
	ID               string            `json:"id" validate:"required"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	TrialEnd         int64             `json:"trial_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type stripeSubscriptionItem struct {
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Price            struct {
		ID      string `json:"id"`
		Product string `json:"product"`
	} `json:"price"`
}

type stripeInvoice struct {
	ID            string `json:"id" validate:"required"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// ParseStripeEvent decodes a Stripe webhook body. When secret is set the signature header
// is verified first; an empty secret disables verification for local development.
func ParseStripeEvent(payload []byte, signature, secret string) (*StripeEvent, error) {
	var event stripelib.Event
	if strings.TrimSpace(secret) != "" {
		if strings.TrimSpace(signature) == "" {
			return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, StripeSignatureHeader)
		}
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			if isStripeSignatureError(err) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
			return nil, &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "malformed event", Err: err}
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "malformed event", Err: err}
	}

	ev := &StripeEvent{
		ID:        event.ID,
		EventType: string(event.Type),
		Created:   event.Created,
	}
	if event.Data != nil {
		ev.object = event.Data.Raw
	}
	if err := validate.Struct(ev); err != nil {
		return nil, &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "incomplete envelope", Err: err}
	}
	if len(ev.object) == 0 {
		return nil, &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "event has no data.object"}
	}
	return ev, nil
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}

func (e *StripeEvent) Provider() subscription.Provider { return subscription.ProviderStripe }
func (e *StripeEvent) EventID() string                 { return e.ID }
func (e *StripeEvent) Type() string                    { return e.EventType }

func (e *StripeEvent) Normalize(plans *PlanMap) (subscription.WebhookEvent, bool, error) {
	eventType, ok := stripeEventTypes[e.EventType]
	if !ok {
		return subscription.WebhookEvent{}, false, nil
	}
	ev := subscription.WebhookEvent{
		Provider:        subscription.ProviderStripe,
		ExternalEventID: e.ID,
		EventType:       eventType,
		OccurredAt:      time.Unix(e.Created, 0).UTC(),
		RawEventType:    e.EventType,
	}

	var err error
	if strings.HasPrefix(e.EventType, "invoice.") {
		err = e.fillFromInvoice(&ev)
	} else {
		err = e.fillFromSubscription(&ev, plans)
	}
	if err != nil {
		return subscription.WebhookEvent{}, false, err
	}
	if ev.CustomerEmail == "" {
		return subscription.WebhookEvent{}, false, &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "customer email is missing"}
	}
	return ev, true, nil
}

func (e *StripeEvent) fillFromSubscription(ev *subscription.WebhookEvent, plans *PlanMap) error {
	var sub stripeSubscription
	if err := json.Unmarshal(e.object, &sub); err != nil {
		return &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "malformed subscription", Err: err}
	}
	if err := validate.Struct(sub); err != nil {
		return &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "incomplete subscription", Err: err}
	}

	ev.ExternalSubscriptionID = sub.ID
	ev.CustomerEmail = subscription.NormalizeEmail(firstNonEmpty(sub.Metadata["email"], sub.Metadata["customer_email"]))
	ev.TrialEnd = unixTime(sub.TrialEnd)
	ev.Trialing = sub.Status == "trialing"

	periodEnd := sub.CurrentPeriodEnd
	if periodEnd == 0 && len(sub.Items.Data) > 0 {
		periodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}
	ev.PeriodEnd = unixTime(periodEnd)

	if !ev.EventType.CarriesTier() {
		return nil
	}
	refs := lo.FlatMap(sub.Items.Data, func(item stripeSubscriptionItem, _ int) []string {
		return []string{item.Price.ID, item.Price.Product}
	})
	tier, _, err := plans.Resolve(subscription.ProviderStripe, refs...)
	if err != nil {
		return err
	}
	ev.MappedTier = &tier
	return nil
}

func (e *StripeEvent) fillFromInvoice(ev *subscription.WebhookEvent) error {
	var inv stripeInvoice
	if err := json.Unmarshal(e.object, &inv); err != nil {
		return &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "malformed invoice", Err: err}
	}
	if err := validate.Struct(inv); err != nil {
		return &ValidationError{Provider: string(subscription.ProviderStripe), Reason: "incomplete invoice", Err: err}
	}
	details := inv.Parent.SubscriptionDetails
	ev.ExternalSubscriptionID = firstNonEmpty(inv.Subscription, details.Subscription)
	ev.CustomerEmail = subscription.NormalizeEmail(firstNonEmpty(inv.CustomerEmail, details.Metadata["email"]))
	if len(inv.Lines.Data) > 0 {
		ev.PeriodEnd = unixTime(inv.Lines.Data[0].Period.End)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	v, _ := lo.Find(values, func(s string) bool { return strings.TrimSpace(s) != "" })
	return strings.TrimSpace(v)
}
