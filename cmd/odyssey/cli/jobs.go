package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// JobsCLI triggers ledger jobs and inspects their queues.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects the helpers to Redis lazily; nothing is dialled until use.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name. companyID narrows the integrity
// check to one company.
func (c *JobsCLI) Trigger(ctx context.Context, name, companyID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskGLIntegrity, "gl_integrity":
		return c.client.EnqueueGLIntegrity(ctx, strings.TrimSpace(companyID))
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics. An empty queue means the default queue.
func (c *JobsCLI) InspectQueue(_ context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueDefault
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs cli: inspect %s: %w", queue, err)
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
