package jobqueue

import (
	"context"

	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
)

// QueueNotifier defers billing notifications to the mail worker.
type QueueNotifier struct {
	queue *Queue
}

func NewQueueNotifier(queue *Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) Notify(ctx context.Context, note billing.Notification) error {
	_, err := n.queue.EnqueueJob(ctx, JobTypeSendNotification, NotificationJobPayload{
		Kind:     string(note.Kind),
		UserID:   note.UserID,
		Email:    note.Email,
		Tier:     string(note.Tier),
		Provider: string(note.Provider),
		TrialEnd: note.TrialEnd,
	}.ToMap())
	return err
}

var _ billing.Notifier = (*QueueNotifier)(nil)
