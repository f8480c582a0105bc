package accounting

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// FindOpenPeriodForDate returns the most recent open period starting on or before date.
func FindOpenPeriodForDate(periods []Period, date time.Time) (Period, error) {
	d := truncateDay(date)
	var (
		best  Period
		found bool
	)
	for _, p := range periods {
		if p.Status != PeriodStatusOpen || truncateDay(p.StartDate).After(d) {
			continue
		}
		if !found || p.StartDate.After(best.StartDate) {
			best = p
			found = true
		}
	}
	if !found {
		return Period{}, shared.ErrNoOpenPeriod.WithMessage("no open period for %s", d.Format("2006-01-02"))
	}
	if d.After(truncateDay(best.EndDate)) {
		return Period{}, shared.ErrPeriodClosedForDate.WithMessage("period %s ends %s before %s", best.Name, best.EndDate.Format("2006-01-02"), d.Format("2006-01-02"))
	}
	return best, nil
}

// gatePeriod runs the period gate inside the transaction.
func gatePeriod(ctx context.Context, tx TxRepository, companyID string, date time.Time) (Period, error) {
	periods, err := tx.ListPeriods(ctx, companyID)
	if err != nil {
		return Period{}, shared.Internal(err)
	}
	return FindOpenPeriodForDate(periods, date)
}
