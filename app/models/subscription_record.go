package models

import (
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// SubscriptionRecord is the persisted form of subscription.Record. The version column is
// the compare-and-set token.
type SubscriptionRecord struct {
	UserID            uint       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CustomerEmail     string     `gorm:"type:varchar(200);index" json:"customer_email"`
	Tier              string     `gorm:"type:varchar(50);not null;default:'free';index:idx_subscription_records_expiry,priority:1" json:"tier"`
	IsActive          bool       `gorm:"default:true" json:"is_active"`
	PlanStartDate     time.Time  `gorm:"type:timestamp" json:"plan_start_date"`
	PlanEndDate       *time.Time `gorm:"type:timestamp;default:null;index:idx_subscription_records_expiry,priority:2" json:"plan_end_date,omitempty"`
	TrialEndDate      *time.Time `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	HasLifetimeAccess bool       `gorm:"default:false" json:"has_lifetime_access"`
	ContentLimit      int        `gorm:"not null;default:0" json:"content_limit"`
	UsedContentSlots  int        `gorm:"not null;default:0" json:"used_content_slots"`
	PaymentFailures   int        `gorm:"not null;default:0" json:"payment_failures"`
	LastPaymentRef    string     `gorm:"type:varchar(191);default:''" json:"last_payment_ref"`
	CancelReason      string     `gorm:"type:varchar(255);default:''" json:"cancel_reason"`

	ExternalRefs       map[subscription.Provider]string                      `gorm:"type:text;serializer:json" json:"external_refs"`
	ExternalStatus     map[subscription.Provider]subscription.ExternalStatus `gorm:"type:text;serializer:json" json:"external_status"`
	LastAppliedEventAt map[subscription.Provider]time.Time                   `gorm:"type:text;serializer:json" json:"last_applied_event_at"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubscriptionRecord converts a domain record into its row.
func NewSubscriptionRecord(r *subscription.Record) *SubscriptionRecord {
	c := r.Clone()
	return &SubscriptionRecord{
		UserID:             c.UserID,
		CustomerEmail:      c.CustomerEmail,
		Tier:               string(c.Tier),
		IsActive:           c.IsActive,
		PlanStartDate:      c.PlanStartDate,
		PlanEndDate:        c.PlanEndDate,
		TrialEndDate:       c.TrialEndDate,
		HasLifetimeAccess:  c.HasLifetimeAccess,
		ContentLimit:       c.ContentLimit,
		UsedContentSlots:   c.UsedContentSlots,
		PaymentFailures:    c.PaymentFailures,
		LastPaymentRef:     c.LastPaymentRef,
		CancelReason:       c.CancelReason,
		ExternalRefs:       c.ExternalRefs,
		ExternalStatus:     c.ExternalStatus,
		LastAppliedEventAt: c.LastAppliedEventAt,
		Version:            c.Version,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

// ToRecord converts the row into a domain record.
func (s *SubscriptionRecord) ToRecord() *subscription.Record {
	r := &subscription.Record{
		UserID:             s.UserID,
		CustomerEmail:      s.CustomerEmail,
		Tier:               entitlements.TierID(s.Tier),
		IsActive:           s.IsActive,
		PlanStartDate:      s.PlanStartDate,
		PlanEndDate:        s.PlanEndDate,
		TrialEndDate:       s.TrialEndDate,
		HasLifetimeAccess:  s.HasLifetimeAccess,
		ContentLimit:       s.ContentLimit,
		UsedContentSlots:   s.UsedContentSlots,
		PaymentFailures:    s.PaymentFailures,
		LastPaymentRef:     s.LastPaymentRef,
		CancelReason:       s.CancelReason,
		ExternalRefs:       s.ExternalRefs,
		ExternalStatus:     s.ExternalStatus,
		LastAppliedEventAt: s.LastAppliedEventAt,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	// Clone also replaces nil maps with empty ones.
	return r.Clone()
}
