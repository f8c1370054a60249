package subscription

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

const billingPeriod = entitlements.BillingPeriodDays * 24 * time.Hour

// Manager applies the subscription business rules. It holds no state besides its
// injected catalog and clock and is safe for concurrent use.
type Manager struct {
	catalog *entitlements.Catalog
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager over the given catalog.
func NewManager(catalog *entitlements.Catalog, opts ...Option) *Manager {
	m := &Manager{catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the tier catalog the manager evaluates against.
func (m *Manager) Catalog() *entitlements.Catalog {
	return m.catalog
}

// Now returns the manager clock's current time in UTC.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

// NewRecord returns the default record for a user that has never been seen: lowest tier,
// no used slots, version 0.
func (m *Manager) NewRecord(userID uint, email string) *Record {
	free := m.catalog.Lowest()
	now := m.Now()
	return &Record{
		UserID:             userID,
		CustomerEmail:      NormalizeEmail(email),
		Tier:               free.ID,
		IsActive:           true,
		PlanStartDate:      now,
		HasLifetimeAccess:  free.HasLifetimeAccess,
		ContentLimit:       free.ContentLimit,
		ExternalRefs:       map[Provider]string{},
		ExternalStatus:     map[Provider]ExternalStatus{},
		LastAppliedEventAt: map[Provider]time.Time{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// HasAccess reports whether userTier ranks at least as high as requiredTier.
func (m *Manager) HasAccess(userTier, requiredTier entitlements.TierID) (bool, error) {
	ord, err := m.catalog.ComparePriority(userTier, requiredTier)
	if err != nil {
		return false, err
	}
	return ord != entitlements.Less, nil
}

// CanCreateContent decides whether rec permits creating one more piece of content. It
// never mutates rec; consuming the slot is the content gate's job.
func (m *Manager) CanCreateContent(rec *Record, contentType entitlements.ContentType, fileSize int64) Decision {
	tier, err := m.catalog.Get(rec.Tier)
	if err != nil {
		return deny(DenyUnknownTier, err.Error())
	}
	if !tier.Allows(contentType) {
		return deny(DenyContentType, fmt.Sprintf("content type %q is not included in the %s plan", contentType, tier.Name))
	}
	if rec.UsedContentSlots >= rec.ContentLimit {
		return deny(DenyLimitReached, "limit reached")
	}
	if !rec.IsActive && rec.Tier != m.catalog.Lowest().ID {
		return deny(DenyInactive, "subscription is not active")
	}
	if fileSize > tier.MaxFileSize {
		return deny(DenyFileTooLarge, fmt.Sprintf("file exceeds the %d byte limit of the %s plan", tier.MaxFileSize, tier.Name))
	}
	return Decision{Allowed: true}
}

// ConsumeSlot returns rec with one more used slot. Callers check CanCreateContent first.
func (m *Manager) ConsumeSlot(rec *Record) *Record {
	next := rec.Clone()
	next.UsedContentSlots++
	m.touch(next, m.Now())
	return next
}

// ReleaseSlot gives back a slot taken by ConsumeSlot. It returns nil when no slot is used.
func (m *Manager) ReleaseSlot(rec *Record) *Record {
	if rec.UsedContentSlots == 0 {
		return nil
	}
	next := rec.Clone()
	next.UsedContentSlots--
	m.touch(next, m.Now())
	return next
}

// ValidateUpgrade accepts only targets with a strictly higher priority.
func (m *Manager) ValidateUpgrade(current, next entitlements.TierID) error {
	ord, err := m.catalog.ComparePriority(next, current)
	if err != nil {
		return err
	}
	if ord != entitlements.Greater {
		return fmt.Errorf("%w: %s is not above %s", ErrUpgradeRejected, next, current)
	}
	return nil
}

// ApplyUpgrade moves rec to newTier and starts a fresh billing period.
func (m *Manager) ApplyUpgrade(rec *Record, newTier entitlements.TierID, paymentRef string) (*Record, error) {
	tier, err := m.catalog.Get(newTier)
	if err != nil {
		return nil, err
	}
	now := m.Now()
	next := rec.Clone()
	next.Tier = tier.ID
	next.ContentLimit = tier.ContentLimit
	next.HasLifetimeAccess = tier.HasLifetimeAccess
	next.IsActive = true
	next.PlanStartDate = now
	next.CancelReason = ""
	next.LastPaymentRef = paymentRef
	if tier.HasLifetimeAccess {
		next.PlanEndDate = nil
	} else {
		next.PlanEndDate = timePtr(now.Add(billingPeriod))
	}
	m.touch(next, now)
	return next, nil
}

// IsTrialActive reports whether rec is inside a trial.
func (m *Manager) IsTrialActive(rec *Record) bool {
	return rec.TrialEndDate != nil && m.Now().Before(*rec.TrialEndDate)
}

// DaysUntilBilling returns the whole days left until PlanEndDate, 0 without one.
func (m *Manager) DaysUntilBilling(rec *Record) int {
	return entitlements.DaysRemaining(rec.PlanEndDate, m.Now())
}

// ApplyCancellation cancels rec. Immediate cancellation drops to the lowest tier right
// away; otherwise the paid tier stays until PlanEndDate and the expiry sweep downgrades it.
// Records without a plan end, lifetime tiers included, are always cancelled immediately.
func (m *Manager) ApplyCancellation(rec *Record, immediate bool, reason string) *Record {
	if rec.HasLifetimeAccess || rec.PlanEndDate == nil {
		immediate = true
	}
	now := m.Now()
	next := rec.Clone()
	next.IsActive = false
	next.CancelReason = reason
	if immediate {
		free := m.catalog.Lowest()
		next.Tier = free.ID
		next.ContentLimit = free.ContentLimit
		next.HasLifetimeAccess = free.HasLifetimeAccess
		next.PlanEndDate = timePtr(now)
		next.TrialEndDate = nil
		if next.UsedContentSlots > next.ContentLimit {
			next.UsedContentSlots = next.ContentLimit
		}
	}
	m.touch(next, now)
	return next
}

// IsStale reports whether ev is not newer than the last event applied for its provider.
func (m *Manager) IsStale(rec *Record, ev WebhookEvent) bool {
	last, ok := rec.LastAppliedEventAt[ev.Provider]
	return ok && !ev.OccurredAt.After(last)
}

// ApplyEvent applies a canonical webhook event to rec. The caller is expected to have
// rejected stale events already. ErrInvalidTransition means the event does not fit the
// external subscription's lifecycle and must not change state.
func (m *Manager) ApplyEvent(rec *Record, ev WebhookEvent) (*Record, Transition, error) {
	from := rec.StatusFor(ev.Provider)
	if isSuperseded(rec, ev, from) {
		return rec, Transition{From: from, To: from}, fmt.Errorf("%w: %s for %s, current is %s",
			ErrSupersededSubscription, ev.EventType, ev.ExternalSubscriptionID, rec.ExternalRefs[ev.Provider])
	}
	to := targetStatus(from, ev, m.Now())
	tr := Transition{From: from, To: to}
	if !CanTransition(from, to) {
		return rec, tr, fmt.Errorf("%w: %s -> %s on %s", ErrInvalidTransition, from, to, ev.EventType)
	}

	var next *Record
	switch ev.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.MappedTier == nil {
			return rec, tr, ErrMissingTier
		}
		tier, err := m.catalog.Get(*ev.MappedTier)
		if err != nil {
			return rec, tr, err
		}
		next = rec.Clone()
		if next.Tier != tier.ID || ev.EventType == EventSubscriptionCreated {
			next.PlanStartDate = ev.OccurredAt
		}
		next.Tier = tier.ID
		next.ContentLimit = tier.ContentLimit
		next.HasLifetimeAccess = tier.HasLifetimeAccess
		next.IsActive = true
		next.CancelReason = ""
		switch {
		case tier.HasLifetimeAccess:
			next.PlanEndDate = nil
		case ev.PeriodEnd != nil:
			next.PlanEndDate = cloneTime(ev.PeriodEnd)
		case ev.EventType == EventSubscriptionCreated || next.PlanEndDate == nil || !next.PlanEndDate.After(ev.OccurredAt):
			// Providers without period data start a fresh period at the event time.
			next.PlanEndDate = timePtr(ev.OccurredAt.Add(billingPeriod))
		}
		if ev.TrialEnd != nil {
			next.TrialEndDate = cloneTime(ev.TrialEnd)
		}
		if ev.EventType == EventSubscriptionCreated {
			next.PaymentFailures = 0
		}
		if next.UsedContentSlots > next.ContentLimit {
			next.UsedContentSlots = next.ContentLimit
		}
	case EventSubscriptionCancelled:
		next = m.ApplyCancellation(rec, true, "cancelled by "+string(ev.Provider))
	case EventPaymentSucceeded:
		next = rec.Clone()
		next.IsActive = true
		next.PaymentFailures = 0
		if !next.HasLifetimeAccess {
			next.PlanEndDate = extendPlanEnd(next.PlanEndDate, ev)
		}
	case EventPaymentFailed:
		next = rec.Clone()
		next.PaymentFailures++
	case EventTrialWillEnd:
		next = rec.Clone()
		if ev.TrialEnd != nil {
			next.TrialEndDate = cloneTime(ev.TrialEnd)
		}
		tr.Notify = true
	default:
		return rec, tr, fmt.Errorf("%w: unsupported event type %q", ErrInvalidTransition, ev.EventType)
	}

	if ev.ExternalSubscriptionID != "" {
		next.ExternalRefs[ev.Provider] = ev.ExternalSubscriptionID
	}
	if next.CustomerEmail == "" {
		next.CustomerEmail = NormalizeEmail(ev.CustomerEmail)
	}
	next.ExternalStatus[ev.Provider] = to
	next.LastAppliedEventAt[ev.Provider] = ev.OccurredAt
	if ev.EventType == EventSubscriptionCancelled {
		// ApplyCancellation already bumped the version.
		return next, tr, nil
	}
	m.touch(next, m.Now())
	return next, tr, nil
}

// ExpireIfElapsed downgrades a paid, non-lifetime record whose plan end has passed, or
// whose trial ended while a provider still reports it as trialing. Past due records are
// left alone; their deactivation is an external policy decision.
func (m *Manager) ExpireIfElapsed(rec *Record) (*Record, bool) {
	if rec.HasLifetimeAccess || rec.Tier == m.catalog.Lowest().ID || rec.IsPastDue() {
		return rec, false
	}
	now := m.Now()
	if rec.TrialEndDate != nil && rec.IsTrialing() && !now.Before(*rec.TrialEndDate) {
		return m.ApplyCancellation(rec, true, "trial ended"), true
	}
	if rec.PlanEndDate == nil || now.Before(*rec.PlanEndDate) {
		return rec, false
	}
	return m.ApplyCancellation(rec, true, "expired"), true
}

func (m *Manager) touch(rec *Record, now time.Time) {
	rec.Version++
	rec.UpdatedAt = now
}

// isSuperseded reports whether ev targets an external subscription other than the live one
// on record. Only created and updated events may switch the current subscription.
func isSuperseded(rec *Record, ev WebhookEvent, from ExternalStatus) bool {
	current := rec.ExternalRefs[ev.Provider]
	if current == "" || ev.ExternalSubscriptionID == "" || current == ev.ExternalSubscriptionID {
		return false
	}
	switch ev.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return false
	}
	switch from {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

func targetStatus(from ExternalStatus, ev WebhookEvent, now time.Time) ExternalStatus {
	switch ev.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Trialing || (ev.TrialEnd != nil && ev.TrialEnd.After(now)) {
			return StatusTrialing
		}
		return StatusActive
	case EventSubscriptionCancelled:
		return StatusCancelled
	case EventPaymentSucceeded:
		return StatusActive
	case EventPaymentFailed:
		return StatusPastDue
	case EventTrialWillEnd:
		if from == StatusNone {
			return StatusTrialing
		}
		return from
	}
	return from
}

func extendPlanEnd(current *time.Time, ev WebhookEvent) *time.Time {
	if ev.PeriodEnd != nil {
		if current == nil || ev.PeriodEnd.After(*current) {
			return cloneTime(ev.PeriodEnd)
		}
		return cloneTime(current)
	}
	base := ev.OccurredAt
	if current != nil && current.After(base) {
		base = *current
	}
	return timePtr(base.Add(billingPeriod))
}
