package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// subscriptionRepository implements subscription.Store on MySQL. Writes are guarded by
// the version column.
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription store backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) subscription.Store {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Find(ctx context.Context, userID uint) (*subscription.Record, error) {
	var row models.SubscriptionRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return row.ToRecord(), nil
}

func (r *subscriptionRepository) FindByEmail(ctx context.Context, email string) (*subscription.Record, error) {
	email = subscription.NormalizeEmail(email)
	if email == "" {
		return nil, subscription.ErrNotFound
	}
	var row models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("customer_email = ?", email).
		Order("user_id ASC").
		First(&row).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return row.ToRecord(), nil
}

func (r *subscriptionRepository) Upsert(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	row := models.NewSubscriptionRecord(rec)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return r.Find(ctx, rec.UserID)
}

func (r *subscriptionRepository) CompareAndSet(ctx context.Context, next *subscription.Record, expectedVersion int64) error {
	row := models.NewSubscriptionRecord(next)
	tx := r.db.WithContext(ctx).
		Model(&models.SubscriptionRecord{}).
		Where("user_id = ? AND version = ?", next.UserID, expectedVersion).
		Select("*").
		Omit("user_id", "created_at").
		UpdateColumns(row)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	// Nothing matched: either the row is gone or another writer won.
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).Where("user_id = ?", next.UserID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return subscription.ErrNotFound
	}
	return subscription.ErrVersionConflict
}

func (r *subscriptionRepository) ListExpired(ctx context.Context, baseTier entitlements.TierID, cutoff time.Time, limit int) ([]*subscription.Record, error) {
	var rows []models.SubscriptionRecord
	q := r.db.WithContext(ctx).
		Where("tier <> ? AND has_lifetime_access = ?", string(baseTier), false).
		Where("((plan_end_date IS NOT NULL AND plan_end_date <= ?) OR (trial_end_date IS NOT NULL AND trial_end_date <= ?))", cutoff, cutoff).
		Order("plan_end_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*subscription.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToRecord())
	}
	return out, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return subscription.ErrNotFound
	}
	return err
}
