package accounting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// YearCloseResult summarises a fiscal year close.
type YearCloseResult struct {
	SourcePeriodID            string
	NextPeriodID              string
	NextPeriodCreated         bool
	NetProfit                 decimal.Decimal
	RetainedEarningsAccountID string
	OpeningLines              []OpeningBalanceLine
}

// CloseFiscalYear rolls net profit into retained earnings and seeds the next
// fiscal year's opening balances, all in one transaction.
func (s *Service) CloseFiscalYear(ctx context.Context, in PeriodActionInput) (YearCloseResult, error) {
	if err := in.validate(); err != nil {
		return YearCloseResult{}, err
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, authz.PermFiscalYearClose); err != nil {
		return YearCloseResult{}, err
	}
	now := s.now().UTC()
	nextID := s.newID()

	var result YearCloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = YearCloseResult{}
		settings, err := tx.GetCompanySettings(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		period, err := tx.GetPeriod(ctx, in.CompanyID, in.PeriodID)
		if err != nil {
			return err
		}
		switch {
		case period.Status != PeriodStatusClosed:
			return shared.ErrYearCloseNotAllowed.WithMessage("period %s must be closed first", period.Name)
		case !period.IsFiscalYear:
			return shared.ErrYearCloseNotAllowed.WithMessage("period %s is not a fiscal year", period.Name)
		case period.YearClosed:
			return shared.ErrYearCloseNotAllowed.WithMessage("period %s is already year-closed", period.Name)
		}
		periods, err := tx.ListPeriods(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		for _, p := range periods {
			if p.ID != period.ID && p.EndDate.Before(period.StartDate) && p.Status != PeriodStatusClosed {
				return shared.ErrYearCloseNotAllowed.WithMessage("prior period %s is still open", p.Name)
			}
		}
		pending, err := tx.ScanVouchers(ctx, VoucherQuery{
			CompanyID: in.CompanyID,
			From:      period.StartDate,
			To:        period.EndDate,
			Statuses:  []VoucherStatus{VoucherStatusPending},
			Limit:     1,
		})
		if err != nil {
			return shared.Internal(err)
		}
		if len(pending) > 0 {
			return shared.ErrYearCloseNotAllowed.WithMessage("pending vouchers remain in period %s", period.Name)
		}

		accounts, err := tx.ListAccounts(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		retained, err := resolveRetainedEarnings(accounts, settings)
		if err != nil {
			return err
		}
		// Closing balances carry everything since the latest seeded opening set,
		// or the whole history when none was ever seeded.
		var (
			openings []OpeningBalanceLine
			from     time.Time
		)
		if anchor, ok := openingAnchor(periods, period); ok {
			openings, err = tx.ListOpeningBalances(ctx, in.CompanyID, anchor.ID)
			if err != nil {
				return shared.Internal(err)
			}
			from = anchor.StartDate
		}
		vouchers, err := ScanEffectiveVouchers(ctx, tx, in.CompanyID, from, period.EndDate)
		if err != nil {
			return err
		}
		balances, _ := AggregateBalances(accounts, openings, vouchers, "", false)
		net := reports.BuildProfitAndLoss(balances).NetProfit

		closing := make(map[string]decimal.Decimal)
		for _, b := range balances {
			if _, ok := reports.BSSection(b); ok {
				closing[b.AccountID] = b.Closing()
			}
		}
		closing[retained.ID] = closing[retained.ID].Add(net)

		next, created, err := nextFiscalPeriod(periods, period, nextID, now)
		if err != nil {
			return err
		}
		if next.OpeningBalancesCreated {
			return shared.ErrYearCloseNotAllowed.WithMessage("opening balances already seeded for %s", next.Name)
		}

		ids := make([]string, 0, len(closing))
		for id, amount := range closing {
			if !amount.IsZero() {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		lines := make([]OpeningBalanceLine, 0, len(ids))
		for _, id := range ids {
			lines = append(lines, OpeningBalanceLine{CompanyID: in.CompanyID, PeriodID: next.ID, AccountID: id, OpeningBalance: closing[id]})
		}
		if err := tx.InsertOpeningBalances(ctx, lines); err != nil {
			return shared.Internal(err)
		}
		next.OpeningBalancesCreated = true
		next.UpdatedAt = now
		if err := tx.PutPeriod(ctx, next); err != nil {
			return shared.Internal(err)
		}
		period.YearClosed = true
		period.UpdatedAt = now
		if err := tx.PutPeriod(ctx, period); err != nil {
			return shared.Internal(err)
		}
		result = YearCloseResult{
			SourcePeriodID:            period.ID,
			NextPeriodID:              next.ID,
			NextPeriodCreated:         created,
			NetProfit:                 net,
			RetainedEarningsAccountID: retained.ID,
			OpeningLines:              lines,
		}
		return nil
	})
	if err != nil {
		return YearCloseResult{}, err
	}
	s.bumpReports(ctx, in.CompanyID)
	s.record(ctx, in.Actor, in.CompanyID, "fiscal_year.close", result.SourcePeriodID, map[string]any{
		"next_period_id": result.NextPeriodID,
		"net_profit":     result.NetProfit.String(),
		"opening_lines":  len(result.OpeningLines),
	})
	return result, nil
}

// openingAnchor returns the latest period starting no later than source whose
// opening balances were seeded.
func openingAnchor(periods []Period, source Period) (Period, bool) {
	var (
		anchor Period
		found  bool
	)
	for _, p := range periods {
		if !p.OpeningBalancesCreated || truncateDay(p.StartDate).After(truncateDay(source.StartDate)) {
			continue
		}
		if !found || p.StartDate.After(anchor.StartDate) {
			anchor, found = p, true
		}
	}
	return anchor, found
}

// resolveRetainedEarnings prefers the configured account and falls back to the
// first equity account, by code, whose name mentions "retained".
func resolveRetainedEarnings(accounts []Account, settings CompanySettings) (Account, error) {
	if id := strings.TrimSpace(settings.RetainedEarningsAccountID); id != "" {
		for _, a := range accounts {
			if a.ID == id {
				if a.Type != AccountTypeEquity {
					return Account{}, shared.ErrRetainedEarningsMissing.WithMessage("configured retained earnings account %s is not equity", a.Code)
				}
				return a, nil
			}
		}
		return Account{}, shared.ErrRetainedEarningsMissing.WithMessage("configured retained earnings account %s not found", id)
	}
	sorted := append([]Account(nil), accounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })
	for _, a := range sorted {
		if a.Type == AccountTypeEquity && strings.Contains(strings.ToLower(a.Name), "retained") {
			return a, nil
		}
	}
	return Account{}, shared.ErrRetainedEarningsMissing
}

// nextFiscalPeriod finds the period starting the day after source ends, or
// builds an open one of the same length.
func nextFiscalPeriod(periods []Period, source Period, id string, now time.Time) (Period, bool, error) {
	start := truncateDay(source.EndDate).AddDate(0, 0, 1)
	for _, p := range periods {
		if truncateDay(p.StartDate).Equal(start) {
			return p, false, nil
		}
	}
	end := start.Add(truncateDay(source.EndDate).Sub(truncateDay(source.StartDate)))
	if truncateDay(source.StartDate).AddDate(1, 0, -1).Equal(truncateDay(source.EndDate)) {
		end = start.AddDate(1, 0, -1)
	}
	next := Period{
		ID:           id,
		CompanyID:    source.CompanyID,
		Name:         fmt.Sprintf("FY %s", start.Format("2006")),
		StartDate:    start,
		EndDate:      end,
		Status:       PeriodStatusOpen,
		IsFiscalYear: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if conflict, ok := overlappingOpen(periods, next); ok {
		return Period{}, false, shared.ErrPeriodOverlap.WithMessage("next fiscal year overlaps open period %s", conflict.Name)
	}
	return next, true, nil
}
