package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

// Ingestor reconciles provider webhook events into subscription records.
type Ingestor struct {
	manager    *subscription.Manager
	store      subscription.Store
	ledger     Ledger
	identities IdentityResolver
	plans      *PlanMap
	notifier   Notifier
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithNotifier sets where post-commit notifications go.
func WithNotifier(n Notifier) IngestorOption {
	return func(i *Ingestor) {
		if n != nil {
			i.notifier = n
		}
	}
}

// NewIngestor wires an ingestor. One ingestor serves all providers.
func NewIngestor(
	manager *subscription.Manager,
	store subscription.Store,
	ledger Ledger,
	identities IdentityResolver,
	plans *PlanMap,
	opts ...IngestorOption,
) *Ingestor {
	i := &Ingestor{
		manager:    manager,
		store:      store,
		ledger:     ledger,
		identities: identities,
		plans:      plans,
		notifier:   nopNotifier{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest processes one provider event. A nil error means the event can be acknowledged,
// whatever the outcome. Errors are ValidationError, MappingError, TransientError or an
// unexpected failure.
func (i *Ingestor) Ingest(ctx context.Context, pe ProviderEvent) (Result, error) {
	res := Result{Provider: pe.Provider(), EventID: pe.EventID()}

	ev, ok, err := pe.Normalize(i.plans)
	if err != nil {
		return res, err
	}
	if !ok {
		res.Outcome = OutcomeIgnored
		log.Debugf("[Webhook] Ignoring %s event %s of type %s", pe.Provider(), pe.EventID(), pe.Type())
		return res, nil
	}
	res.EventType = ev.EventType

	seen, err := i.ledger.Contains(ctx, ev.Provider, ev.ExternalEventID)
	if err != nil {
		return res, &TransientError{Err: fmt.Errorf("ledger lookup: %w", err)}
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		log.Infof("[Webhook] Duplicate %s event %s acknowledged", ev.Provider, ev.ExternalEventID)
		return res, nil
	}

	userID, err := i.locate(ctx, ev)
	if err != nil {
		return res, &TransientError{Err: fmt.Errorf("locate subscription for %s: %w", ev.CustomerEmail, err)}
	}
	res.UserID = userID

	var (
		outcome    Outcome
		transition subscription.Transition
		committed  *subscription.Record
		rejection  error
	)
	committed, err = subscription.Update(ctx, i.store, i.manager, userID, func(cur *subscription.Record) (*subscription.Record, error) {
		if i.manager.IsStale(cur, ev) {
			outcome = OutcomeStale
			return nil, nil
		}
		next, tr, err := i.manager.ApplyEvent(cur, ev)
		transition = tr
		if errors.Is(err, subscription.ErrInvalidTransition) {
			outcome = OutcomeRejected
			rejection = err
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		outcome = OutcomeApplied
		return next, nil
	})
	if err != nil {
		if errors.Is(err, subscription.ErrRetriesExhausted) {
			return res, &TransientError{Err: err}
		}
		return res, err
	}
	res.Outcome = outcome
	res.Transition = transition

	switch outcome {
	case OutcomeStale:
		log.Infof("[Webhook] Stale %s event %s for user %d discarded", ev.Provider, ev.ExternalEventID, userID)
		return res, nil
	case OutcomeRejected:
		log.Warnf("[Webhook] %s event %s acknowledged without change for user %d: %v",
			ev.Provider, ev.ExternalEventID, userID, rejection)
	default:
		log.Infof("[Webhook] Applied %s event %s (%s) to user %d: %s -> %s, tier %s",
			ev.Provider, ev.ExternalEventID, ev.EventType, userID, transition.From, transition.To, committed.Tier)
	}

	entry := LedgerEntry{
		Provider:  ev.Provider,
		EventID:   ev.ExternalEventID,
		EventType: ev.EventType,
		Outcome:   outcome,
		UserID:    userID,
		AppliedAt: i.manager.Now(),
	}
	if err := i.ledger.Append(ctx, entry); err != nil {
		// The committed timestamp still turns a redelivery into a stale no-op.
		log.Errorf("[Webhook] Failed to ledger %s event %s: %v", ev.Provider, ev.ExternalEventID, err)
	}

	if outcome == OutcomeApplied {
		i.notify(ctx, ev, transition, committed)
	}
	return res, nil
}

func (i *Ingestor) locate(ctx context.Context, ev subscription.WebhookEvent) (uint, error) {
	rec, err := i.store.FindByEmail(ctx, ev.CustomerEmail)
	if err == nil {
		return rec.UserID, nil
	}
	if !errors.Is(err, subscription.ErrNotFound) {
		return 0, err
	}
	userID, err := i.identities.EnsureUserByEmail(ctx, ev.CustomerEmail)
	if err != nil {
		return 0, err
	}
	if _, err := subscription.FindOrCreate(ctx, i.store, i.manager, userID, ev.CustomerEmail); err != nil {
		return 0, err
	}
	return userID, nil
}

func (i *Ingestor) notify(ctx context.Context, ev subscription.WebhookEvent, tr subscription.Transition, rec *subscription.Record) {
	var kind NotificationKind
	switch {
	case tr.Notify && ev.EventType == subscription.EventTrialWillEnd:
		kind = NotifyTrialEnding
	case ev.EventType == subscription.EventPaymentFailed:
		kind = NotifyPaymentFailed
	default:
		return
	}
	n := Notification{
		Kind:     kind,
		UserID:   rec.UserID,
		Email:    rec.CustomerEmail,
		Tier:     rec.Tier,
		Provider: ev.Provider,
		TrialEnd: rec.TrialEndDate,
	}
	if err := i.notifier.Notify(ctx, n); err != nil {
		log.Errorf("[Webhook] Failed to enqueue %s notification for user %d: %v", kind, rec.UserID, err)
	}
}
