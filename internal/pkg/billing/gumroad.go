package billing

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// GumroadEvent is a Gumroad ping, flattened to its string fields.
type GumroadEvent struct {
	ResourceName      string `validate:"required"`
	SaleID            string
	SubscriptionID    string
	ProductID         string
	TierID            string
	Email             string `validate:"omitempty,email"`
	Timestamp         string
	IsRecurringCharge bool
	CancelledAt       string
	EndedAt           string
	FreeTrialEndsAt   string
	id                string
}

var gumroadTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
}

// VerifyGumroadToken compares the shared secret sent as a query parameter in constant time.
func VerifyGumroadToken(given, expected string) bool {
	given, expected = strings.TrimSpace(given), strings.TrimSpace(expected)
	if given == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

// ParseGumroadEvent decodes a Gumroad ping. Gumroad posts form data; JSON bodies are
// accepted for replays and tests.
func ParseGumroadEvent(body []byte, contentType string) (*GumroadEvent, error) {
	var (
		fields map[string]string
		err    error
	)
	if strings.Contains(strings.ToLower(contentType), "json") {
		fields, err = gumroadFieldsFromJSON(body)
	} else {
		fields, err = gumroadFieldsFromForm(body)
	}
	if err != nil {
		return nil, &ValidationError{Provider: string(subscription.ProviderGumroad), Reason: "malformed body", Err: err}
	}

	recurring, _ := strconv.ParseBool(fields["is_recurring_charge"])
	ev := &GumroadEvent{
		ResourceName:      strings.ToLower(fields["resource_name"]),
		SaleID:            fields["sale_id"],
		SubscriptionID:    fields["subscription_id"],
		ProductID:         fields["product_id"],
		TierID:            fields["tier_id"],
		Email:             subscription.NormalizeEmail(fields["email"]),
		Timestamp:         firstNonEmpty(fields["timestamp"], fields["sale_timestamp"], fields["cancelled_at"], fields["ended_at"]),
		IsRecurringCharge: recurring,
		CancelledAt:       fields["cancelled_at"],
		EndedAt:           fields["ended_at"],
		FreeTrialEndsAt:   fields["free_trial_ends_at"],
	}
	if err := validate.Struct(ev); err != nil {
		return nil, &ValidationError{Provider: string(subscription.ProviderGumroad), Reason: "invalid fields", Err: err}
	}

	switch {
	case ev.SaleID != "":
		ev.id = ev.ResourceName + ":" + ev.SaleID
	case ev.SubscriptionID != "" && ev.Timestamp != "":
		ev.id = ev.ResourceName + ":" + ev.SubscriptionID + ":" + ev.Timestamp
	default:
		ev.id = payloadEventID(body)
	}
	return ev, nil
}

func gumroadFieldsFromForm(body []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = strings.TrimSpace(values.Get(k))
	}
	return fields, nil
}

func gumroadFieldsFromJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = strings.TrimSpace(val)
		case json.Number, bool:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields, nil
}

func parseGumroadTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC(), nil
	}
	for _, layout := range gumroadTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (e *GumroadEvent) Provider() subscription.Provider { return subscription.ProviderGumroad }
func (e *GumroadEvent) EventID() string                 { return e.id }
func (e *GumroadEvent) Type() string                    { return e.ResourceName }

func (e *GumroadEvent) canonicalType() (subscription.EventType, bool) {
	switch e.ResourceName {
	case "sale":
		if e.IsRecurringCharge {
			return subscription.EventPaymentSucceeded, true
		}
		return subscription.EventSubscriptionCreated, true
	case "subscription_updated", "subscription_restarted":
		return subscription.EventSubscriptionUpdated, true
	case "cancellation", "subscription_ended":
		return subscription.EventSubscriptionCancelled, true
	case "sale_failed":
		return subscription.EventPaymentFailed, true
	}
	return "", false
}

func (e *GumroadEvent) Normalize(plans *PlanMap) (subscription.WebhookEvent, bool, error) {
	eventType, ok := e.canonicalType()
	if !ok {
		return subscription.WebhookEvent{}, false, nil
	}
	invalid := func(reason string, err error) error {
		return &ValidationError{Provider: string(subscription.ProviderGumroad), Reason: reason, Err: err}
	}
	if e.Email == "" {
		return subscription.WebhookEvent{}, false, invalid("email is missing", nil)
	}
	if e.Timestamp == "" {
		return subscription.WebhookEvent{}, false, invalid("timestamp is missing", nil)
	}
	occurredAt, err := parseGumroadTime(e.Timestamp)
	if err != nil {
		return subscription.WebhookEvent{}, false, invalid("bad timestamp", err)
	}

	ev := subscription.WebhookEvent{
		Provider:               subscription.ProviderGumroad,
		ExternalEventID:        e.id,
		ExternalSubscriptionID: firstNonEmpty(e.SubscriptionID, e.SaleID),
		CustomerEmail:          e.Email,
		EventType:              eventType,
		OccurredAt:             occurredAt,
		RawEventType:           e.ResourceName,
	}
	if e.FreeTrialEndsAt != "" {
		trialEnd, err := parseGumroadTime(e.FreeTrialEndsAt)
		if err != nil {
			return subscription.WebhookEvent{}, false, invalid("bad free_trial_ends_at", err)
		}
		ev.TrialEnd = &trialEnd
		ev.PeriodEnd = &trialEnd
	}
	if eventType.CarriesTier() {
		tier, _, err := plans.Resolve(subscription.ProviderGumroad, e.TierID, e.ProductID)
		if err != nil {
			return subscription.WebhookEvent{}, false, err
		}
		ev.MappedTier = &tier
	}
	return ev, true, nil
}
