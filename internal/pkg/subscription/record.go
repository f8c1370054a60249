// Package subscription holds the canonical per-user subscription state, the rules that
// mutate it and the storage contract used to commit those mutations.
package subscription

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
)

// Provider names an external billing provider.
type Provider string

const (
	ProviderStripe  Provider = "stripe"
	ProviderGumroad Provider = "gumroad"
)

// Record is the canonical subscription state of one user. Values are never mutated in
// place by the rules in this package; mutators return a modified clone with Version+1.
type Record struct {
	UserID            uint
	CustomerEmail     string
	Tier              entitlements.TierID
	IsActive          bool
	PlanStartDate     time.Time
	PlanEndDate       *time.Time
	TrialEndDate      *time.Time
	HasLifetimeAccess bool
	ContentLimit      int
	UsedContentSlots  int
	PaymentFailures   int
	LastPaymentRef    string
	CancelReason      string

	ExternalRefs       map[Provider]string
	ExternalStatus     map[Provider]ExternalStatus
	LastAppliedEventAt map[Provider]time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PlanEndDate = cloneTime(r.PlanEndDate)
	c.TrialEndDate = cloneTime(r.TrialEndDate)
	c.ExternalRefs = make(map[Provider]string, len(r.ExternalRefs))
	for k, v := range r.ExternalRefs {
		c.ExternalRefs[k] = v
	}
	c.ExternalStatus = make(map[Provider]ExternalStatus, len(r.ExternalStatus))
	for k, v := range r.ExternalStatus {
		c.ExternalStatus[k] = v
	}
	c.LastAppliedEventAt = make(map[Provider]time.Time, len(r.LastAppliedEventAt))
	for k, v := range r.LastAppliedEventAt {
		c.LastAppliedEventAt[k] = v
	}
	return &c
}

// RemainingSlots returns how many content slots are still available.
func (r *Record) RemainingSlots() int {
	if r.UsedContentSlots >= r.ContentLimit {
		return 0
	}
	return r.ContentLimit - r.UsedContentSlots
}

// StatusFor returns the state machine position for provider, NONE when unseen.
func (r *Record) StatusFor(p Provider) ExternalStatus {
	if s, ok := r.ExternalStatus[p]; ok && s != "" {
		return s
	}
	return StatusNone
}

// IsPastDue reports whether any provider currently reports a failed payment.
func (r *Record) IsPastDue() bool {
	for _, s := range r.ExternalStatus {
		if s == StatusPastDue {
			return true
		}
	}
	return false
}

// IsTrialing reports whether any provider still reports a trial.
func (r *Record) IsTrialing() bool {
	for _, s := range r.ExternalStatus {
		if s == StatusTrialing {
			return true
		}
	}
	return false
}

// Validate checks the record invariants that must hold before any commit.
func (r *Record) Validate() error {
	switch {
	case r.UserID == 0:
		return fmt.Errorf("%w: user id is required", ErrInvariant)
	case r.Tier == "":
		return fmt.Errorf("%w: tier is required", ErrInvariant)
	case r.UsedContentSlots < 0:
		return fmt.Errorf("%w: used content slots is negative", ErrInvariant)
	case r.UsedContentSlots > r.ContentLimit:
		return fmt.Errorf("%w: used content slots %d exceed limit %d", ErrInvariant, r.UsedContentSlots, r.ContentLimit)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
