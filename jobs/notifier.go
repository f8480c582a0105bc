package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Enqueuer is the subset of *asynq.Client used by the notifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ImpactNotifier publishes committed voucher changes as asynq tasks.
type ImpactNotifier struct {
	enqueuer Enqueuer
	queue    string
}

// NewImpactNotifier constructs the notifier. An empty queue uses QueueDefault.
func NewImpactNotifier(enqueuer Enqueuer, queue string) *ImpactNotifier {
	if queue == "" {
		queue = QueueDefault
	}
	return &ImpactNotifier{enqueuer: enqueuer, queue: queue}
}

// Notify implements accounting.ImpactNotifier.
func (n *ImpactNotifier) Notify(ctx context.Context, impact accounting.Impact) error {
	if n == nil || n.enqueuer == nil {
		return nil
	}
	task, err := NewVoucherImpactTask(NewVoucherImpactPayload(impact))
	if err != nil {
		return fmt.Errorf("jobs: encode voucher impact: %w", err)
	}
	if _, err := n.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	); err != nil {
		return fmt.Errorf("jobs: enqueue voucher impact: %w", err)
	}
	return nil
}
