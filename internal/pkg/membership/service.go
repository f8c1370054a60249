// Package membership implements the authenticated entitlement API on top of the
// subscription manager and the content gate.
package membership

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// Caller is the authenticated identity an operation runs for.
type Caller struct {
	UserID uint
	Email  string
}

// SubscriptionView is the current subscription as seen by its owner.
type SubscriptionView struct {
	Tier             entitlements.TierID `json:"tier"`
	TierName         string              `json:"tier_name"`
	IsActive         bool                `json:"is_active"`
	RemainingSlots   int                 `json:"remaining_slots"`
	IsTrialActive    bool                `json:"is_trial_active"`
	DaysUntilBilling int                 `json:"days_until_billing"`
	CanUpgrade       bool                `json:"can_upgrade"`
	HasLifetime      bool                `json:"has_lifetime_access"`
}

// UpgradeResult reports a committed upgrade.
type UpgradeResult struct {
	Success         bool                `json:"success"`
	Tier            entitlements.TierID `json:"tier"`
	ProrationAmount decimal.Decimal     `json:"proration_amount"`
	ProrationCents  int64               `json:"proration_amount_cents"`
}

// CreateContentResult reports created content.
type CreateContentResult struct {
	Success        bool   `json:"success"`
	RemainingSlots int    `json:"remaining_slots"`
	ContentID      string `json:"content_id"`
}

// ContentStats summarizes slot usage.
type ContentStats struct {
	UsedSlots           int                        `json:"used_slots"`
	RemainingSlots      int                        `json:"remaining_slots"`
	ContentLimit        int                        `json:"content_limit"`
	AllowedContentTypes []entitlements.ContentType `json:"allowed_content_types"`
}

// Service implements the entitlement API operations.
type Service struct {
	manager *subscription.Manager
	store   subscription.Store
	gate    *contentgate.Gate
}

func NewService(manager *subscription.Manager, store subscription.Store, gate *contentgate.Gate) *Service {
	return &Service{manager: manager, store: store, gate: gate}
}

func (s *Service) load(ctx context.Context, caller Caller) (*subscription.Record, *APIError) {
	if caller.UserID == 0 {
		return nil, unauthorized()
	}
	rec, err := subscription.FindOrCreate(ctx, s.store, s.manager, caller.UserID, caller.Email)
	if err != nil {
		log.Errorf("[Membership] Failed to load subscription of user %d: %v", caller.UserID, err)
		return nil, internal(err)
	}
	return rec, nil
}

// GetCurrentSubscription returns the caller's subscription, creating the default one on
// first access.
func (s *Service) GetCurrentSubscription(ctx context.Context, caller Caller) (*SubscriptionView, error) {
	rec, apiErr := s.load(ctx, caller)
	if apiErr != nil {
		return nil, apiErr
	}
	tier, err := s.manager.Catalog().Get(rec.Tier)
	if err != nil {
		return nil, internal(err)
	}
	_, canUpgrade := s.manager.Catalog().Next(rec.Tier)
	return &SubscriptionView{
		Tier:             rec.Tier,
		TierName:         tier.Name,
		IsActive:         rec.IsActive,
		RemainingSlots:   rec.RemainingSlots(),
		IsTrialActive:    s.manager.IsTrialActive(rec),
		DaysUntilBilling: s.manager.DaysUntilBilling(rec),
		CanUpgrade:       canUpgrade,
		HasLifetime:      rec.HasLifetimeAccess,
	}, nil
}

// UpgradeSubscription moves the caller to a strictly higher tier and returns the prorated
// charge for the rest of the current period.
func (s *Service) UpgradeSubscription(ctx context.Context, caller Caller, newTier string, paymentRef string) (*UpgradeResult, error) {
	if _, apiErr := s.load(ctx, caller); apiErr != nil {
		return nil, apiErr
	}
	target := entitlements.ParseTierID(newTier)
	if !s.manager.Catalog().Has(target) {
		return nil, badRequest("unknown tier", entitlements.ErrUnknownTier)
	}

	var proration decimal.Decimal
	_, err := subscription.Update(ctx, s.store, s.manager, caller.UserID, func(cur *subscription.Record) (*subscription.Record, error) {
		if err := s.manager.ValidateUpgrade(cur.Tier, target); err != nil {
			return nil, err
		}
		current, err := s.manager.Catalog().Get(cur.Tier)
		if err != nil {
			return nil, err
		}
		next, err := s.manager.Catalog().Get(target)
		if err != nil {
			return nil, err
		}
		proration = entitlements.CalculateProration(current, next, s.manager.DaysUntilBilling(cur))
		return s.manager.ApplyUpgrade(cur, target, strings.TrimSpace(paymentRef))
	})
	if err != nil {
		if errors.Is(err, subscription.ErrUpgradeRejected) {
			return nil, badRequest("invalid tier transition", err)
		}
		log.Errorf("[Membership] Upgrade of user %d to %s failed: %v", caller.UserID, target, err)
		return nil, internal(err)
	}

	log.Infof("[Membership] User %d upgraded to %s, proration %s cents", caller.UserID, target, proration.String())
	return &UpgradeResult{
		Success:         true,
		Tier:            target,
		ProrationAmount: entitlements.CentsToMajor(proration),
		ProrationCents:  proration.IntPart(),
	}, nil
}

// CancelSubscription cancels the caller's subscription, immediately or at period end.
func (s *Service) CancelSubscription(ctx context.Context, caller Caller, immediate bool, reason string) error {
	if _, apiErr := s.load(ctx, caller); apiErr != nil {
		return apiErr
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by user"
	}
	_, err := subscription.Update(ctx, s.store, s.manager, caller.UserID, func(cur *subscription.Record) (*subscription.Record, error) {
		return s.manager.ApplyCancellation(cur, immediate, reason), nil
	})
	if err != nil {
		log.Errorf("[Membership] Cancellation for user %d failed: %v", caller.UserID, err)
		return internal(err)
	}
	log.Infof("[Membership] User %d cancelled (immediate=%t)", caller.UserID, immediate)
	return nil
}

// CreateContent consumes a slot and creates content.
func (s *Service) CreateContent(ctx context.Context, caller Caller, req contentgate.CreateRequest) (*CreateContentResult, error) {
	if _, apiErr := s.load(ctx, caller); apiErr != nil {
		return nil, apiErr
	}
	if req.FileSize < 0 {
		return nil, badRequest("file_size must not be negative", nil)
	}
	c, grant, err := s.gate.CreateContent(ctx, caller.UserID, req)
	if err != nil {
		var denied *contentgate.DeniedError
		if errors.As(err, &denied) {
			code := CodeForbidden
			if denied.Decision.Reason == subscription.DenyFileTooLarge {
				code = CodeBadRequest
			}
			return nil, &APIError{Code: code, Message: denied.Error(), Reason: string(denied.Decision.Reason), cause: err}
		}
		log.Errorf("[Membership] Content creation for user %d failed: %v", caller.UserID, err)
		return nil, internal(err)
	}
	return &CreateContentResult{Success: true, RemainingSlots: grant.RemainingSlots, ContentID: c.ID}, nil
}

// GetContent returns one of the caller's content items.
func (s *Service) GetContent(ctx context.Context, caller Caller, id string) (*contentgate.Content, error) {
	if caller.UserID == 0 {
		return nil, unauthorized()
	}
	c, err := s.gate.Content(ctx, caller.UserID, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, contentgate.ErrContentNotFound) {
			return nil, &APIError{Code: CodeForbidden, Message: "content not found or not owned by caller", cause: err}
		}
		return nil, internal(err)
	}
	return c, nil
}

// GetContentStats reports slot usage and allowed content types.
func (s *Service) GetContentStats(ctx context.Context, caller Caller) (*ContentStats, error) {
	rec, apiErr := s.load(ctx, caller)
	if apiErr != nil {
		return nil, apiErr
	}
	tier, err := s.manager.Catalog().Get(rec.Tier)
	if err != nil {
		return nil, internal(err)
	}
	return &ContentStats{
		UsedSlots:           rec.UsedContentSlots,
		RemainingSlots:      rec.RemainingSlots(),
		ContentLimit:        rec.ContentLimit,
		AllowedContentTypes: append([]entitlements.ContentType(nil), tier.AllowedContentTypes...),
	}, nil
}
