package repository

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

type planMappingRepository struct {
	db *gorm.DB
}

// NewPlanMappingRepository creates a plan mapping repository backed by GORM.
func NewPlanMappingRepository(db *gorm.DB) PlanMappingRepository {
	return &planMappingRepository{db: db}
}

func (r *planMappingRepository) ListActive(ctx context.Context) ([]models.BillingPlanMapping, error) {
	var mappings []models.BillingPlanMapping
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&mappings).Error
	return mappings, err
}

func (r *planMappingRepository) Upsert(ctx context.Context, m *models.BillingPlanMapping) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_plan_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "is_active", "updated_at"}),
	}).Create(m).Error
}

// LoadPlanMappings adds every active stored mapping to plans. Rows naming an unknown tier
// are skipped with a warning.
func LoadPlanMappings(ctx context.Context, repo PlanMappingRepository, plans *billing.PlanMap) (int, error) {
	mappings, err := repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, m := range mappings {
		if err := plans.AddSpec(subscription.Provider(m.Provider), m.ProviderPlanRef+"="+m.Tier); err != nil {
			log.Warnf("[Billing] Skipping plan mapping %s/%s: %v", m.Provider, m.ProviderPlanRef, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}
