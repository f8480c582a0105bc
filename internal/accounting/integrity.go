package accounting

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// IntegrityViolation describes one inconsistency found by VerifyIntegrity.
type IntegrityViolation struct {
	Kind      string
	VoucherID string
	AccountID string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

// Integrity violation kinds.
const (
	ViolationUnbalancedVoucher = "unbalanced_voucher"
	ViolationStaleTotals       = "stale_totals"
	ViolationBalanceDrift      = "balance_drift"
	ViolationLedgerNotZero     = "ledger_not_zero"
)

// IntegrityReport summarises a company's ledger check.
type IntegrityReport struct {
	CompanyID  string
	Vouchers   int
	Accounts   int
	Violations []IntegrityViolation
}

// OK reports whether no violation was found.
func (r IntegrityReport) OK() bool { return len(r.Violations) == 0 }

// ListCompanyIDs returns every company known to the store.
func (s *Service) ListCompanyIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ListCompanyIDs(ctx)
		if err != nil {
			return shared.Internal(err)
		}
		return nil
	})
	return ids, err
}

// VerifyIntegrity re-derives account balances from effective vouchers and
// checks that every voucher balances and the ledger nets to zero. It runs
// as a system operation and does not consult the permission checker.
func (s *Service) VerifyIntegrity(ctx context.Context, companyID string) (IntegrityReport, error) {
	if strings.TrimSpace(companyID) == "" {
		return IntegrityReport{}, shared.ErrInvalidInput.WithMessage("company id required")
	}
	var report IntegrityReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report = IntegrityReport{CompanyID: companyID}
		accounts, err := tx.ListAccounts(ctx, companyID)
		if err != nil {
			return shared.Internal(err)
		}
		vouchers, err := ScanEffectiveVouchers(ctx, tx, companyID, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		report.Accounts = len(accounts)
		report.Vouchers = len(vouchers)

		derived := make(map[string]decimal.Decimal)
		for _, v := range vouchers {
			debit, credit := LineTotals(v.Lines)
			if debit.Sub(credit).Abs().GreaterThan(BalanceEpsilon) {
				report.Violations = append(report.Violations, IntegrityViolation{
					Kind: ViolationUnbalancedVoucher, VoucherID: v.ID, Expected: debit, Actual: credit,
				})
			}
			if !debit.Equal(v.TotalDebit) || !credit.Equal(v.TotalCredit) {
				report.Violations = append(report.Violations, IntegrityViolation{
					Kind: ViolationStaleTotals, VoucherID: v.ID, Expected: debit, Actual: v.TotalDebit,
				})
			}
			for id, delta := range LineDeltas(v.Lines) {
				derived[id] = derived[id].Add(delta)
			}
		}

		sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
		net := decimal.Zero
		for _, a := range accounts {
			net = net.Add(a.CurrentBalance)
			if want := derived[a.ID]; !want.Equal(a.CurrentBalance) {
				report.Violations = append(report.Violations, IntegrityViolation{
					Kind: ViolationBalanceDrift, AccountID: a.ID, Expected: want, Actual: a.CurrentBalance,
				})
			}
		}
		if net.Abs().GreaterThan(BalanceEpsilon) {
			report.Violations = append(report.Violations, IntegrityViolation{
				Kind: ViolationLedgerNotZero, Expected: decimal.Zero, Actual: net,
			})
		}
		return nil
	})
	return report, err
}
