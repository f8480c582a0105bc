package accounting

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PeriodActionInput addresses a single period.
type PeriodActionInput struct {
	CompanyID string
	PeriodID  string
	Actor     Actor
}

func (in PeriodActionInput) validate() error {
	if strings.TrimSpace(in.CompanyID) == "" || strings.TrimSpace(in.PeriodID) == "" {
		return shared.ErrInvalidInput.WithMessage("company id and period id required")
	}
	return nil
}

// CreateAccountingPeriod registers a new open period.
func (s *Service) CreateAccountingPeriod(ctx context.Context, in CreatePeriodInput) (Period, error) {
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, authz.PermPeriodCreate); err != nil {
		return Period{}, err
	}
	now := s.now().UTC()
	candidate := Period{
		ID:           s.newID(),
		CompanyID:    in.CompanyID,
		Name:         strings.TrimSpace(in.Name),
		StartDate:    truncateDay(in.StartDate),
		EndDate:      truncateDay(in.EndDate),
		Status:       PeriodStatusOpen,
		IsFiscalYear: in.IsFiscalYear,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListPeriods(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		if conflict, ok := overlappingOpen(existing, candidate); ok {
			return shared.ErrPeriodOverlap.WithMessage("period overlaps open period %s", conflict.Name)
		}
		return tx.PutPeriod(ctx, candidate)
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.Actor, in.CompanyID, "period.create", candidate.ID, map[string]any{
		"start": candidate.StartDate.Format("2006-01-02"),
		"end":   candidate.EndDate.Format("2006-01-02"),
	})
	return candidate, nil
}

// CloseAccountingPeriod blocks further postings into the period.
func (s *Service) CloseAccountingPeriod(ctx context.Context, in PeriodActionInput) (Period, error) {
	return s.transitionPeriod(ctx, in, PeriodStatusClosed, authz.PermPeriodClose)
}

// ReopenAccountingPeriod reopens a closed period that has not been rolled into the next year.
func (s *Service) ReopenAccountingPeriod(ctx context.Context, in PeriodActionInput) (Period, error) {
	return s.transitionPeriod(ctx, in, PeriodStatusOpen, authz.PermPeriodReopen)
}

func (s *Service) transitionPeriod(ctx context.Context, in PeriodActionInput, target PeriodStatus, perm string) (Period, error) {
	if err := in.validate(); err != nil {
		return Period{}, err
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, perm); err != nil {
		return Period{}, err
	}
	now := s.now().UTC()
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriod(ctx, in.CompanyID, in.PeriodID)
		if err != nil {
			return err
		}
		if err := authz.ValidatePeriodTransition(string(period.Status), string(target), period.YearClosed); err != nil {
			return shared.ErrInvalidPeriodTransition.WithMessage("period %s cannot move from %s to %s", period.Name, period.Status, target)
		}
		if target == PeriodStatusOpen {
			existing, err := tx.ListPeriods(ctx, in.CompanyID)
			if err != nil {
				return shared.Internal(err)
			}
			if conflict, ok := overlappingOpen(existing, period); ok {
				return shared.ErrPeriodOverlap.WithMessage("period overlaps open period %s", conflict.Name)
			}
			period.ClosedAt, period.ClosedBy = nil, nil
		} else {
			actorID := in.Actor.UserID
			period.ClosedAt, period.ClosedBy = &now, &actorID
		}
		period.Status = target
		period.UpdatedAt = now
		updated = period
		return tx.PutPeriod(ctx, period)
	})
	if err != nil {
		return Period{}, err
	}
	action := "period.close"
	if target == PeriodStatusOpen {
		action = "period.reopen"
	}
	s.record(ctx, in.Actor, in.CompanyID, action, updated.ID, map[string]any{"status": updated.Status})
	return updated, nil
}

// ListPeriods returns the company periods ordered by start date.
func (s *Service) ListPeriods(ctx context.Context, companyID string, actor Actor) ([]Period, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, shared.ErrInvalidInput.WithMessage("company id required")
	}
	if err := s.assert(ctx, actor, companyID, authz.PermVoucherView); err != nil {
		return nil, err
	}
	var periods []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		periods, err = tx.ListPeriods(ctx, companyID)
		if err != nil {
			return shared.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPeriods(periods)
	return periods, nil
}

func overlappingOpen(periods []Period, candidate Period) (Period, bool) {
	for _, p := range periods {
		if p.ID == candidate.ID || p.Status != PeriodStatusOpen {
			continue
		}
		if p.Overlaps(candidate) {
			return p, true
		}
	}
	return Period{}, false
}

func sortPeriods(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		if periods[i].StartDate.Equal(periods[j].StartDate) {
			return periods[i].ID < periods[j].ID
		}
		return periods[i].StartDate.Before(periods[j].StartDate)
	})
}
