package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
// Implementations retry fn on serialization conflicts, so fn must be a pure
// function of what it reads through the TxRepository.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the reads and writes available within a transaction.
type TxRepository interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)

	GetCompanySettings(ctx context.Context, companyID string) (CompanySettings, error)
	PutCompanySettings(ctx context.Context, settings CompanySettings) error

	GetAccount(ctx context.Context, companyID, accountID string) (Account, error)
	ListAccounts(ctx context.Context, companyID string) ([]Account, error)
	PutAccount(ctx context.Context, account Account) error
	// ApplyAccountDeltas increments balances and stamps IsLockedForChildren on every touched account.
	ApplyAccountDeltas(ctx context.Context, companyID string, deltas []AccountDelta) error

	GetVoucher(ctx context.Context, companyID, voucherID string) (Voucher, error)
	PutVoucher(ctx context.Context, voucher Voucher) error
	DeleteVoucher(ctx context.Context, companyID, voucherID string) error
	ScanVouchers(ctx context.Context, query VoucherQuery) ([]Voucher, error)

	GetPeriod(ctx context.Context, companyID, periodID string) (Period, error)
	ListPeriods(ctx context.Context, companyID string) ([]Period, error)
	PutPeriod(ctx context.Context, period Period) error

	// GetCounter returns the counter or a zero counter with the given id when absent.
	GetCounter(ctx context.Context, counterID string) (VoucherNumberCounter, error)
	PutCounter(ctx context.Context, counter VoucherNumberCounter) error

	InsertOpeningBalances(ctx context.Context, lines []OpeningBalanceLine) error
	ListOpeningBalances(ctx context.Context, companyID, periodID string) ([]OpeningBalanceLine, error)

	// ClaimIdempotencyKey binds key to claim. When the key is already bound it
	// returns the stored claim and claimed=false.
	ClaimIdempotencyKey(ctx context.Context, companyID, key string, claim IdempotencyClaim) (existing IdempotencyClaim, claimed bool, err error)
}

// IdempotencyClaim is the voucher a create key was first bound to, with a
// fingerprint of the payload that created it.
type IdempotencyClaim struct {
	VoucherID   string
	Fingerprint string
}

// AccountDelta is a signed balance change for one account.
type AccountDelta struct {
	AccountID string
	Amount    decimal.Decimal
}

// VoucherCursor marks the last (date, id) pair returned by a scan page.
type VoucherCursor struct {
	Date time.Time
	ID   string
}

// VoucherQuery selects vouchers ordered by (date, id).
type VoucherQuery struct {
	CompanyID string
	From      time.Time
	To        time.Time
	Statuses  []VoucherStatus
	After     *VoucherCursor
	Limit     int
}

// Matches reports whether v satisfies the query filters, ignoring paging.
func (q VoucherQuery) Matches(v Voucher) bool {
	if v.CompanyID != q.CompanyID {
		return false
	}
	d := truncateDay(v.Date)
	if !q.From.IsZero() && d.Before(truncateDay(q.From)) {
		return false
	}
	if !q.To.IsZero() && d.After(truncateDay(q.To)) {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if s == v.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.After != nil {
		ad := truncateDay(q.After.Date)
		if d.Before(ad) || (d.Equal(ad) && v.ID <= q.After.ID) {
			return false
		}
	}
	return true
}
