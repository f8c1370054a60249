package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

var validate = validator.New()

// ProviderEvent is a decoded webhook payload of one provider.
type ProviderEvent interface {
	Provider() subscription.Provider
	// EventID is the provider's idempotency key for this delivery.
	EventID() string
	// Type is the provider's own event type name.
	Type() string
	// Normalize converts the payload into a canonical event. ok is false for event types
	// the service does not track.
	Normalize(plans *PlanMap) (ev subscription.WebhookEvent, ok bool, err error)
}

// payloadEventID derives a stable id for payloads that carry none.
func payloadEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
