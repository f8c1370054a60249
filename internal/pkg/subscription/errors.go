package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no record exists for the key.
	ErrNotFound = errors.New("subscription record not found")
	// ErrVersionConflict is returned by CompareAndSet when the stored version moved on.
	ErrVersionConflict = errors.New("subscription record version conflict")
	// ErrRetriesExhausted wraps the last conflict after the bounded retry loop gave up.
	ErrRetriesExhausted = errors.New("subscription update retries exhausted")
	// ErrInvariant is returned when a record would violate its invariants.
	ErrInvariant = errors.New("subscription record invariant violated")
	// ErrUpgradeRejected is returned when the target tier is not strictly higher.
	ErrUpgradeRejected = errors.New("upgrade rejected")
	// ErrInvalidTransition is returned when an event does not fit the lifecycle.
	ErrInvalidTransition = errors.New("invalid subscription status transition")
	// ErrMissingTier is returned when a subscription event carries no mapped tier.
	ErrMissingTier = errors.New("subscription event has no mapped tier")
	// ErrSupersededSubscription is returned for lifecycle events of an external
	// subscription that has been replaced by a newer one.
	ErrSupersededSubscription = fmt.Errorf("%w: external subscription was replaced", ErrInvalidTransition)
)
