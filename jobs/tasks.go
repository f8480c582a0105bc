package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherImpact carries a committed voucher change to downstream consumers.
	TaskVoucherImpact = "ledger:voucher_impact"
	// TaskGLIntegrity re-derives balances and checks the ledger nets to zero.
	TaskGLIntegrity = "ledger:gl_integrity"
)

// VoucherImpactPayload is the wire form of accounting.Impact.
type VoucherImpactPayload struct {
	CompanyID       string   `json:"company_id"`
	VoucherID       string   `json:"voucher_id"`
	Number          string   `json:"number,omitempty"`
	VoucherType     string   `json:"voucher_type"`
	Status          string   `json:"status"`
	ChangeKind      string   `json:"change_kind"`
	ActorID         string   `json:"actor_id"`
	TotalDebit      string   `json:"total_debit"`
	Currency        string   `json:"currency"`
	ImpactedUserIDs []string `json:"impacted_user_ids,omitempty"`
}

// NewVoucherImpactPayload flattens an impact into its wire form.
func NewVoucherImpactPayload(impact accounting.Impact) VoucherImpactPayload {
	v := impact.Voucher
	return VoucherImpactPayload{
		CompanyID:       impact.CompanyID,
		VoucherID:       v.ID,
		Number:          v.Number,
		VoucherType:     string(v.Type),
		Status:          string(v.Status),
		ChangeKind:      string(impact.ChangeKind),
		ActorID:         impact.ActorID,
		TotalDebit:      v.TotalDebit.String(),
		Currency:        v.Currency,
		ImpactedUserIDs: impact.ImpactedUserIDs,
	}
}

// NewVoucherImpactTask constructs an Asynq task.
func NewVoucherImpactTask(payload VoucherImpactPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherImpact, data), nil
}

// GLIntegrityPayload narrows the integrity check to one company when set.
type GLIntegrityPayload struct {
	CompanyID string `json:"company_id,omitempty"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// ImpactHandler acknowledges voucher impact tasks. Fan-out to users lives elsewhere.
type ImpactHandler struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskVoucherImpact tasks.
func (h *ImpactHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload VoucherImpactPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskVoucherImpact)
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("voucher impact received",
		slog.String("company_id", payload.CompanyID),
		slog.String("voucher_id", payload.VoucherID),
		slog.String("change_kind", payload.ChangeKind),
		slog.Int("impacted_users", len(payload.ImpactedUserIDs)),
	)
	return tracker.End(nil)
}
