package accounting_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

const companyID = "acme"

var (
	owner      = accounting.Actor{UserID: "u-owner", Role: accounting.RoleOwner}
	admin      = accounting.Actor{UserID: "u-admin", Role: accounting.RoleAdmin}
	manager    = accounting.Actor{UserID: "u-manager", Role: accounting.RoleManager}
	accountant = accounting.Actor{UserID: "u-acct", Role: accounting.RoleAccountant}
	viewer     = accounting.Actor{UserID: "u-viewer", Role: accounting.RoleViewer}
	allActors  = []accounting.Actor{owner, admin, manager, accountant, viewer}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	svc   *accounting.Service
}

func newFixture(t *testing.T, tweak ...func(*accounting.CompanySettings)) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: memstore.New()}
	f.svc = accounting.NewService(f.store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.WithNow(func() time.Time { return time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC) })

	settings := accounting.DefaultCompanySettings(companyID)
	settings.CashBoxParentAccountID = "cashbox"
	for _, fn := range tweak {
		fn(&settings)
	}
	cashbox := "cashbox"
	accounts := []accounting.Account{
		{ID: "cashbox", Code: "1.1", Name: "Cash Boxes", Type: accounting.AccountTypeAsset, IsParent: true},
		{ID: "cash", Code: "1.1.1", Name: "Main Cash", Type: accounting.AccountTypeAsset, ParentID: &cashbox, CustodianUserIDs: []string{"u-cashier"}},
		{ID: "petty", Code: "1.1.2", Name: "Petty Cash", Type: accounting.AccountTypeAsset, ParentID: &cashbox, CustodianUserIDs: []string{accountant.UserID}},
		{ID: "bank", Code: "1.2", Name: "Bank", Type: accounting.AccountTypeAsset},
		{ID: "suspense", Code: "1.9", Name: "Suspense", Type: accounting.AccountTypeAsset, IsProtected: true},
		{ID: "dormant", Code: "1.8", Name: "Dormant", Type: accounting.AccountTypeAsset},
		{ID: "payable", Code: "2.1", Name: "Payables", Type: accounting.AccountTypeLiability},
		{ID: "capital", Code: "3.1", Name: "Owner Capital", Type: accounting.AccountTypeEquity},
		{ID: "retained", Code: "3.2", Name: "Retained Earnings", Type: accounting.AccountTypeEquity},
		{ID: "sales", Code: "4.1", Name: "Sales", Type: accounting.AccountTypeRevenue},
		{ID: "rent", Code: "6.1", Name: "Rent", Type: accounting.AccountTypeExpense},
	}
	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.PutCompanySettings(ctx, settings); err != nil {
			return err
		}
		for _, a := range accounts {
			a.CompanyID = companyID
			a.IsActive = a.ID != "dormant"
			if err := tx.PutAccount(ctx, a); err != nil {
				return err
			}
		}
		return tx.PutPeriod(ctx, accounting.Period{
			ID:           "fy2025",
			CompanyID:    companyID,
			Name:         "FY 2025",
			StartDate:    day(2025, 1, 1),
			EndDate:      day(2025, 12, 31),
			Status:       accounting.PeriodStatusOpen,
			IsFiscalYear: true,
		})
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) balance(accountID string) decimal.Decimal {
	f.t.Helper()
	var account accounting.Account
	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, companyID, accountID)
		return err
	})
	require.NoError(f.t, err)
	return account.CurrentBalance
}

func (f *fixture) account(accountID string) accounting.Account {
	f.t.Helper()
	var account accounting.Account
	err := f.store.WithTx(f.ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, companyID, accountID)
		return err
	})
	require.NoError(f.t, err)
	return account
}

func (f *fixture) voucher(id string) accounting.Voucher {
	f.t.Helper()
	v, err := f.svc.GetVoucher(f.ctx, companyID, id, owner)
	require.NoError(f.t, err)
	return v
}

func line(accountID string, side accounting.Side, amount string) accounting.VoucherLine {
	return accounting.VoucherLine{AccountID: accountID, Side: side, Amount: dec(amount)}
}

func journal(date time.Time, lines ...accounting.VoucherLine) accounting.SaveVoucherInput {
	return accounting.SaveVoucherInput{
		CompanyID: companyID,
		Type:      accounting.VoucherTypeJournal,
		Date:      date,
		Lines:     lines,
		Actor:     accountant,
	}
}

func (f *fixture) save(in accounting.SaveVoucherInput) string {
	f.t.Helper()
	res, err := f.svc.SaveVoucher(f.ctx, in)
	require.NoError(f.t, err)
	return res.ID
}

func (f *fixture) move(id string, target accounting.VoucherStatus, actor accounting.Actor) (accounting.StatusChangeResult, error) {
	return f.svc.ChangeVoucherStatus(f.ctx, accounting.StatusChangeInput{
		CompanyID: companyID,
		VoucherID: id,
		Target:    target,
		Actor:     actor,
	})
}

func (f *fixture) approve(id string) accounting.StatusChangeResult {
	f.t.Helper()
	res, err := f.move(id, accounting.VoucherStatusApproved, manager)
	require.NoError(f.t, err)
	return res
}

func requireCode(t *testing.T, err error, want *shared.Error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, want), "expected %s, got %v", want.Code, err)
	require.Equal(t, want.Kind, shared.KindOf(err))
}

type recordingNotifier struct {
	mu      sync.Mutex
	impacts []accounting.Impact
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, impact accounting.Impact) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.impacts = append(n.impacts, impact)
	return n.err
}

func (n *recordingNotifier) kinds() []accounting.ChangeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]accounting.ChangeKind, 0, len(n.impacts))
	for _, i := range n.impacts {
		out = append(out, i.ChangeKind)
	}
	return out
}

type denyChecker struct {
	denied map[string]bool
}

func (d denyChecker) AssertAllowed(_ context.Context, _, _, permission string) error {
	if d.denied[permission] {
		return shared.ErrPermissionDenied.WithMessage("%s denied", permission)
	}
	return nil
}
