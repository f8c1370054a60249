package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/mail"
	"github.com/ManuelReschke/Entitled/internal/pkg/metrics"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

const (
	DefaultExpiryBatch    = 500
	DefaultPruneBatch     = 1000
	maxPruneBatchesPerRun = 100
)

// LedgerArchiver stores pruned ledger entries outside the database.
type LedgerArchiver interface {
	ArchiveLedger(ctx context.Context, entries []billing.LedgerEntry) (string, error)
}

// Processors holds the collaborators the job handlers need. Archiver is optional.
type Processors struct {
	Mailer   mail.Sender
	Store    subscription.Store
	Manager  *subscription.Manager
	Ledger   billing.Ledger
	Archiver LedgerArchiver
}

func (q *Queue) processNotificationJob(ctx context.Context, job *Job) error {
	if q.processors.Mailer == nil {
		return errors.New("no mail sender configured")
	}
	payload, err := NotificationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	if payload.Email == "" {
		// Nothing to deliver to; retrying will not help.
		log.Warnf("[JobQueue] Notification %s for user %d has no email, skipping", payload.Kind, payload.UserID)
		return nil
	}

	tierName := q.tierName(entitlements.TierID(payload.Tier))

	var msg mail.Message
	switch billing.NotificationKind(payload.Kind) {
	case billing.NotifyTrialEnding:
		end := time.Now()
		if payload.TrialEnd != nil {
			end = *payload.TrialEnd
		}
		msg, err = mail.TrialEnding(payload.Email, tierName, end)
	case billing.NotifyPaymentFailed:
		msg, err = mail.PaymentFailed(payload.Email, tierName, payload.Provider)
	default:
		return fmt.Errorf("unknown notification kind: %q", payload.Kind)
	}
	if err != nil {
		return err
	}

	return q.processors.Mailer.Send(ctx, msg)
}

func (q *Queue) tierName(id entitlements.TierID) string {
	if q.processors.Manager != nil {
		if tier, err := q.processors.Manager.Catalog().Get(id); err == nil {
			return tier.Name
		}
	}
	return string(id)
}

func (q *Queue) processExpiryJob(ctx context.Context, job *Job) error {
	if q.processors.Store == nil || q.processors.Manager == nil {
		return errors.New("expiry sweep is not configured")
	}
	payload, err := ExpiryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid expiry payload: %w", err)
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = DefaultExpiryBatch
	}

	n, err := subscription.ExpireElapsed(ctx, q.processors.Store, q.processors.Manager, limit)
	metrics.ExpiredSubscriptionsTotal.Add(float64(n))
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Expiry sweep downgraded %d subscriptions", n)
	return nil
}

func (q *Queue) processPruneLedgerJob(ctx context.Context, job *Job) error {
	ledger := q.processors.Ledger
	if ledger == nil {
		return errors.New("ledger prune is not configured")
	}
	payload, err := PruneLedgerJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid prune payload: %w", err)
	}

	retention := time.Duration(payload.RetentionSeconds) * time.Second
	if retention <= 0 {
		retention = billing.DefaultLedgerRetention
	}
	batch := payload.BatchSize
	if batch <= 0 {
		batch = DefaultPruneBatch
	}
	cutoff := time.Now().Add(-retention)

	total := 0
	for i := 0; i < maxPruneBatchesPerRun; i++ {
		entries, err := ledger.Prune(ctx, cutoff, batch)
		if err != nil {
			return fmt.Errorf("prune ledger: %w", err)
		}
		if len(entries) > 0 && q.processors.Archiver != nil {
			if _, err := q.processors.Archiver.ArchiveLedger(ctx, entries); err != nil {
				q.restoreLedger(ctx, entries)
				return fmt.Errorf("archive pruned ledger entries: %w", err)
			}
		}
		total += len(entries)
		metrics.LedgerPrunedTotal.Add(float64(len(entries)))
		if len(entries) < batch {
			break
		}
	}

	log.Infof("[JobQueue] Pruned %d ledger entries older than %s", total, cutoff.Format(time.RFC3339))
	return nil
}

// restoreLedger puts back entries whose archive upload failed so the next run retries them.
func (q *Queue) restoreLedger(ctx context.Context, entries []billing.LedgerEntry) {
	for _, e := range entries {
		if err := q.processors.Ledger.Append(ctx, e); err != nil {
			log.Errorf("[JobQueue] Failed to restore ledger entry %s/%s: %v", e.Provider, e.EventID, err)
		}
	}
}
