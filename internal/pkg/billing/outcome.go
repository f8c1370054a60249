package billing

import (
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// Outcome describes what ingesting an event did. Every outcome is acknowledged to the provider.
type Outcome string

const (
	// OutcomeApplied means the event changed the subscription record.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event id was already in the ledger.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means a newer event of the same provider was already applied.
	OutcomeStale Outcome = "stale"
	// OutcomeRejected means the event does not fit the subscription lifecycle. It is ledgered.
	OutcomeRejected Outcome = "rejected_transition"
	// OutcomeIgnored means the provider event type carries nothing this service tracks.
	OutcomeIgnored Outcome = "ignored"
)

// Result is returned by Ingestor.Ingest.
type Result struct {
	Outcome    Outcome
	Provider   subscription.Provider
	EventID    string
	EventType  subscription.EventType
	UserID     uint
	Transition subscription.Transition
}
