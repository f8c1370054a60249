package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Entitled/app/models"
	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKeyUsage(id uint, at time.Time) error
	Update(user *models.User) error
	// EnsureUserByEmail makes UserRepository a billing.IdentityResolver.
	EnsureUserByEmail(ctx context.Context, email string) (uint, error)
}

// PlanMappingRepository defines the interface for provider plan mappings
type PlanMappingRepository interface {
	ListActive(ctx context.Context) ([]models.BillingPlanMapping, error)
	Upsert(ctx context.Context, m *models.BillingPlanMapping) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription subscription.Store
	Content      contentgate.ContentRepository
	Ledger       billing.Ledger
	PlanMapping  PlanMappingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Content:      NewContentRepository(db),
		Ledger:       NewLedgerRepository(db),
		PlanMapping:  NewPlanMappingRepository(db),
	}
}
