package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityVerifier is the part of accounting.Service the integrity job needs.
type IntegrityVerifier interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)
	VerifyIntegrity(ctx context.Context, companyID string) (accounting.IntegrityReport, error)
}

// ErrIntegrityViolations marks a run that found at least one violation.
var ErrIntegrityViolations = errors.New("gl integrity: violations found")

// GLIntegrityJob checks that stored balances agree with effective vouchers.
type GLIntegrityJob struct {
	Verifier IntegrityVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(verifier IntegrityVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle processes TaskGLIntegrity tasks. Violations are logged and counted;
// they do not fail the task, since a retry cannot repair them.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.CompanyID)
	if errors.Is(err, ErrIntegrityViolations) {
		return nil
	}
	return err
}

// Run checks one company, or every company when companyID is empty, and
// returns the reports.
func (j *GLIntegrityJob) Run(ctx context.Context, companyID string) (reports []accounting.IntegrityReport, resultErr error) {
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		if !errors.Is(resultErr, ErrIntegrityViolations) {
			resultErr = tracker.End(resultErr)
		} else {
			_ = tracker.End(nil)
		}
	}()
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	companies := []string{companyID}
	if companyID == "" {
		ids, err := j.Verifier.ListCompanyIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("gl integrity: list companies: %w", err)
		}
		companies = ids
	}

	violations := 0
	for _, id := range companies {
		report, err := j.Verifier.VerifyIntegrity(ctx, id)
		if err != nil {
			return reports, fmt.Errorf("gl integrity: verify %s: %w", id, err)
		}
		reports = append(reports, report)
		for _, v := range report.Violations {
			logger.Warn("ledger integrity violation",
				slog.String("company_id", id),
				slog.String("kind", v.Kind),
				slog.String("voucher_id", v.VoucherID),
				slog.String("account_id", v.AccountID),
				slog.String("expected", v.Expected.String()),
				slog.String("actual", v.Actual.String()),
			)
			j.Metrics.AddIntegrityViolations(id, v.Kind, 1)
		}
		j.Metrics.SetOpenViolations(id, len(report.Violations))
		violations += len(report.Violations)
	}

	logger.Info("GL integrity check executed",
		slog.String("job", "gl_integrity"),
		slog.Int("companies", len(companies)),
		slog.Int("violations", violations),
		slog.Duration("duration", time.Since(start)),
	)
	if violations > 0 {
		return reports, ErrIntegrityViolations
	}
	return reports, nil
}
