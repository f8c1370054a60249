package models

import "time"

// BillingWebhookEvent is one idempotency ledger entry. The unique index on
// (provider, provider_event_id) is what makes a replayed event a no-op.
type BillingWebhookEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Outcome         string    `gorm:"type:varchar(32);not null;default:''" json:"outcome"`
	UserID          uint      `gorm:"not null;default:0;index" json:"user_id"`
	AppliedAt       time.Time `gorm:"type:timestamp;not null;index" json:"applied_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
