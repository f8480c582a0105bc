package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// PeriodKey derives the YYYYMM numbering key for date.
func PeriodKey(date time.Time) string {
	return date.UTC().Format("200601")
}

// CounterID builds the counter document id for a company and period key.
func CounterID(companyID, periodKey string) string {
	return companyID + "_" + periodKey
}

// FormatVoucherNumber renders the voucher number for sequence n.
func FormatVoucherNumber(periodKey string, n int64) string {
	return fmt.Sprintf("%s-%06d", periodKey, n)
}

// nextVoucherNumber reads and advances the company-month counter. It must run
// in the same transaction that commits the approval.
func nextVoucherNumber(ctx context.Context, tx TxRepository, companyID string, date time.Time) (string, error) {
	key := PeriodKey(date)
	counter, err := tx.GetCounter(ctx, CounterID(companyID, key))
	if err != nil {
		return "", shared.Internal(err)
	}
	n := counter.NextNumber
	if n < 1 {
		n = 1
	}
	counter.NextNumber = n + 1
	if err := tx.PutCounter(ctx, counter); err != nil {
		return "", shared.Internal(err)
	}
	return FormatVoucherNumber(key, n), nil
}
