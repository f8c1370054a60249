package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// ledgerRepository keeps the webhook idempotency ledger in billing_webhook_events.
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a billing ledger backed by GORM.
func NewLedgerRepository(db *gorm.DB) billing.Ledger {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Contains(ctx context.Context, provider subscription.Provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BillingWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", string(provider), eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ledgerRepository) Append(ctx context.Context, entry billing.LedgerEntry) error {
	row := &models.BillingWebhookEvent{
		Provider:        string(entry.Provider),
		ProviderEventID: entry.EventID,
		EventType:       string(entry.EventType),
		Outcome:         string(entry.Outcome),
		UserID:          entry.UserID,
		AppliedAt:       entry.AppliedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(row).Error
}

func (r *ledgerRepository) Prune(ctx context.Context, cutoff time.Time, limit int) ([]billing.LedgerEntry, error) {
	var rows []models.BillingWebhookEvent
	q := r.db.WithContext(ctx).Where("applied_at < ?", cutoff).Order("applied_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(rows))
	entries := make([]billing.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		entries = append(entries, billing.LedgerEntry{
			Provider:  subscription.Provider(row.Provider),
			EventID:   row.ProviderEventID,
			EventType: subscription.EventType(row.EventType),
			Outcome:   billing.Outcome(row.Outcome),
			UserID:    row.UserID,
			AppliedAt: row.AppliedAt,
		})
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.BillingWebhookEvent{}).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
