// Package contentgate enforces content slot entitlements under concurrent access.
package contentgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/metrics"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// DeniedError carries the decision that refused a slot.
type DeniedError struct {
	Decision subscription.Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Message != "" {
		return e.Decision.Message
	}
	return string(e.Decision.Reason)
}

// Grant is a consumed slot.
type Grant struct {
	UserID         uint
	RemainingSlots int
	Version        int64
}

// CreateRequest describes content to create behind the gate.
type CreateRequest struct {
	ContentType entitlements.ContentType
	FileSize    int64
	Title       string
	Metadata    string
}

// Gate consumes entitlement slots and creates content against them.
type Gate struct {
	manager  *subscription.Manager
	store    subscription.Store
	contents ContentRepository
}

func NewGate(manager *subscription.Manager, store subscription.Store, contents ContentRepository) *Gate {
	return &Gate{manager: manager, store: store, contents: contents}
}

// TryConsumeSlot atomically takes one content slot for userID. A denial is returned as
// *DeniedError. Losing every compare-and-set race is reported as "limit reached".
func (g *Gate) TryConsumeSlot(ctx context.Context, userID uint, contentType entitlements.ContentType, fileSize int64) (Grant, error) {
	for attempt := 0; attempt < subscription.DefaultMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Grant{}, err
		}
		cur, err := subscription.FindOrCreate(ctx, g.store, g.manager, userID, "")
		if err != nil {
			return Grant{}, err
		}
		dec := g.manager.CanCreateContent(cur, contentType, fileSize)
		if !dec.Allowed {
			metrics.SlotDecisionsTotal.WithLabelValues(string(dec.Reason)).Inc()
			return Grant{}, &DeniedError{Decision: dec}
		}

		next := g.manager.ConsumeSlot(cur)
		err = g.store.CompareAndSet(ctx, next, cur.Version)
		if err == nil {
			metrics.SlotDecisionsTotal.WithLabelValues("granted").Inc()
			return Grant{UserID: userID, RemainingSlots: next.RemainingSlots(), Version: next.Version}, nil
		}
		if !errors.Is(err, subscription.ErrVersionConflict) {
			return Grant{}, err
		}
		metrics.SlotCASConflictsTotal.Inc()
	}

	log.Warnf("[Gate] Gave up consuming a slot for user %d after %d conflicts", userID, subscription.DefaultMaxAttempts)
	metrics.SlotDecisionsTotal.WithLabelValues(string(subscription.DenyLimitReached)).Inc()
	return Grant{}, &DeniedError{Decision: subscription.Decision{
		Reason:  subscription.DenyLimitReached,
		Message: "limit reached",
	}}
}

// ReleaseSlot gives back one slot, used when creating content fails after a grant.
func (g *Gate) ReleaseSlot(ctx context.Context, userID uint) error {
	_, err := subscription.Update(ctx, g.store, g.manager, userID, func(cur *subscription.Record) (*subscription.Record, error) {
		return g.manager.ReleaseSlot(cur), nil
	})
	return err
}

// CreateContent consumes a slot and stores the content. The slot is released again when
// the repository rejects the content.
func (g *Gate) CreateContent(ctx context.Context, userID uint, req CreateRequest) (*Content, Grant, error) {
	grant, err := g.TryConsumeSlot(ctx, userID, req.ContentType, req.FileSize)
	if err != nil {
		return nil, Grant{}, err
	}

	c := &Content{
		ID:          uuid.NewString(),
		UserID:      userID,
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
		Title:       strings.TrimSpace(req.Title),
		Metadata:    req.Metadata,
		CreatedAt:   g.manager.Now(),
	}
	if err := g.contents.Create(ctx, c); err != nil {
		if relErr := g.ReleaseSlot(context.WithoutCancel(ctx), userID); relErr != nil {
			log.Errorf("[Gate] Failed to release slot of user %d after create error: %v", userID, relErr)
		}
		return nil, Grant{}, fmt.Errorf("create content: %w", err)
	}
	return c, grant, nil
}

// Content returns content owned by userID.
func (g *Gate) Content(ctx context.Context, userID uint, id string) (*Content, error) {
	c, err := g.contents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrContentNotFound
	}
	return c, nil
}
