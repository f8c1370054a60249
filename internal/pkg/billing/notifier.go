package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// NotificationKind names a user-facing billing message.
type NotificationKind string

const (
	NotifyTrialEnding   NotificationKind = "trial_ending"
	NotifyPaymentFailed NotificationKind = "payment_failed"
)

// Notification is handed to a Notifier after the triggering event is committed.
type Notification struct {
	Kind     NotificationKind      `json:"kind"`
	UserID   uint                  `json:"user_id"`
	Email    string                `json:"email"`
	Tier     entitlements.TierID   `json:"tier"`
	Provider subscription.Provider `json:"provider"`
	TrialEnd *time.Time            `json:"trial_end,omitempty"`
}

// Notifier defers notifications. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

// IdentityResolver maps a billing email to a local user, provisioning a pending user
// when none exists. It must be safe under concurrent calls for the same email.
type IdentityResolver interface {
	EnsureUserByEmail(ctx context.Context, email string) (uint, error)
}
