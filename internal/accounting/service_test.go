package accounting_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestJournalApprovalSettlesAndNumbers(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "100"),
		line("sales", accounting.SideCredit, "100"),
	))

	res := f.approve(id)
	require.Equal(t, accounting.VoucherStatusApproved, res.Status)
	require.Equal(t, "202501-000001", res.Number)
	require.NotNil(t, res.ApprovedAt)

	assert.True(t, f.balance("cash").Equal(dec("100")), "cash balance %s", f.balance("cash"))
	assert.True(t, f.balance("sales").Equal(dec("-100")), "sales balance %s", f.balance("sales"))
	assert.True(t, f.account("cash").IsLockedForChildren)

	v := f.voucher(id)
	require.NotNil(t, v.AccountingPeriodID)
	assert.Equal(t, "fy2025", *v.AccountingPeriodID)
	assert.Equal(t, manager.UserID, *v.ApprovedBy)
	assert.Equal(t, accounting.VoucherStatusApproved, v.AuditLog[len(v.AuditLog)-1].To)
}

func TestUnbalancedSubmitLeavesBalancesUntouched(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "100"),
		line("sales", accounting.SideCredit, "90"),
	))

	_, err := f.move(id, accounting.VoucherStatusPending, accountant)
	requireCode(t, err, shared.ErrUnbalanced)
	assert.Contains(t, err.Error(), "not balanced")

	assert.True(t, f.balance("cash").IsZero())
	assert.True(t, f.balance("sales").IsZero())
	assert.Equal(t, accounting.VoucherStatusDraft, f.voucher(id).Status)
}

func TestReceiverSelfApprovalOnSubmit(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.AutoApproveWhenReceiverIsActing = true
	})
	in := journal(day(2025, 1, 10),
		line("bank", accounting.SideCredit, "50"),
		line("petty", accounting.SideDebit, "50"),
	)
	in.Type = accounting.VoucherTypePayment
	id := f.save(in)

	res, err := f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusApproved, res.Status)
	assert.Equal(t, "202501-000001", res.Number)
	assert.True(t, f.balance("petty").Equal(dec("50")))
	assert.True(t, f.balance("bank").Equal(dec("-50")))
}

func TestReceiverSelfApprovalRequiresSoleCustodian(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.AutoApproveWhenReceiverIsActing = true
	})
	in := journal(day(2025, 1, 10),
		line("bank", accounting.SideCredit, "50"),
		line("cash", accounting.SideDebit, "50"),
	)
	in.Type = accounting.VoucherTypePayment
	id := f.save(in)

	res, err := f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusPending, res.Status)
	assert.Empty(t, res.Number)
	assert.True(t, f.balance("cash").IsZero())
}

func TestStrictModeRequiresPendingStage(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.StrictApprovalMode = true
		s.AutoApproveOnSubmitTypes = []accounting.VoucherType{accounting.VoucherTypeReceipt}
	})
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err := f.move(id, accounting.VoucherStatusApproved, owner)
	requireCode(t, err, shared.ErrIllegalTransition)

	receipt := journal(day(2025, 1, 15),
		line("bank", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	)
	receipt.Type = accounting.VoucherTypeReceipt
	rid := f.save(receipt)
	res, err := f.move(rid, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusPending, res.Status)

	res = f.approve(rid)
	assert.Equal(t, accounting.VoucherStatusApproved, res.Status)
}

func TestAutoApproveOnSubmitForCashTypes(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.AutoApproveOnSubmitTypes = []accounting.VoucherType{accounting.VoucherTypeReceipt, accounting.VoucherTypeJournal}
	})
	receipt := journal(day(2025, 1, 15),
		line("bank", accounting.SideDebit, "25"),
		line("sales", accounting.SideCredit, "25"),
	)
	receipt.Type = accounting.VoucherTypeReceipt
	rid := f.save(receipt)
	res, err := f.move(rid, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusApproved, res.Status)
	assert.True(t, f.balance("bank").Equal(dec("25")))

	// journals never move cash, so the setting is ignored
	jid := f.save(journal(day(2025, 1, 15),
		line("bank", accounting.SideDebit, "5"),
		line("sales", accounting.SideCredit, "5"),
	))
	res, err = f.move(jid, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusPending, res.Status)
}

func TestIllegalTransitionsRejectedForEveryRole(t *testing.T) {
	f := newFixture(t)
	locked := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "40"),
		line("sales", accounting.SideCredit, "40"),
	))
	f.approve(locked)
	_, err := f.move(locked, accounting.VoucherStatusLocked, manager)
	require.NoError(t, err)

	canceled := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "7"),
		line("sales", accounting.SideCredit, "7"),
	))
	_, err = f.move(canceled, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	_, err = f.move(canceled, accounting.VoucherStatusCanceled, manager)
	require.NoError(t, err)

	targets := []accounting.VoucherStatus{
		accounting.VoucherStatusDraft,
		accounting.VoucherStatusPending,
		accounting.VoucherStatusApproved,
		accounting.VoucherStatusLocked,
		accounting.VoucherStatusCanceled,
	}
	for _, id := range []string{locked, canceled} {
		for _, actor := range allActors {
			for _, target := range targets {
				_, err := f.move(id, target, actor)
				requireCode(t, err, shared.ErrIllegalTransition)
			}
		}
	}
	assert.True(t, f.balance("cash").Equal(dec("40")))
	assert.True(t, f.balance("sales").Equal(dec("-40")))
}

func TestViewerCannotSubmitOrApprove(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err := f.move(id, accounting.VoucherStatusPending, viewer)
	requireCode(t, err, shared.ErrPermissionDenied)
	_, err = f.move(id, accounting.VoucherStatusApproved, accountant)
	requireCode(t, err, shared.ErrPermissionDenied)
	assert.Equal(t, accounting.VoucherStatusDraft, f.voucher(id).Status)
}

func TestRejectAndCancel(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err := f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)

	res, err := f.svc.ChangeVoucherStatus(f.ctx, accounting.StatusChangeInput{
		CompanyID: companyID, VoucherID: id, Target: accounting.VoucherStatusDraft, Reason: "missing receipt", Actor: manager,
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusDraft, res.Status)
	assert.Equal(t, "missing receipt", f.voucher(id).StatusReason)

	_, err = f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	res, err = f.move(id, accounting.VoucherStatusCanceled, manager)
	require.NoError(t, err)
	assert.NotNil(t, res.CanceledAt)

	_, err = f.svc.SaveVoucher(f.ctx, accounting.SaveVoucherInput{
		CompanyID: companyID, VoucherID: id, Type: accounting.VoucherTypeJournal, Date: day(2025, 1, 15),
		Lines: []accounting.VoucherLine{line("cash", accounting.SideDebit, "10"), line("sales", accounting.SideCredit, "10")},
		Actor: owner,
	})
	requireCode(t, err, shared.ErrVoucherCanceled)
	assert.True(t, f.balance("cash").IsZero())
}

func TestSendBackRestampsPeriodOnResubmit(t *testing.T) {
	f := newFixture(t)
	january, err := f.svc.CreateAccountingPeriod(f.ctx, accounting.CreatePeriodInput{
		CompanyID: companyID, Name: "Jan 2026", StartDate: day(2026, 1, 1), EndDate: day(2026, 1, 31), Actor: owner,
	})
	require.NoError(t, err)

	in := journal(day(2025, 6, 1),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	)
	id := f.save(in)
	_, err = f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	require.NotNil(t, f.voucher(id).AccountingPeriodID)
	assert.Equal(t, "fy2025", *f.voucher(id).AccountingPeriodID)

	_, err = f.move(id, accounting.VoucherStatusDraft, manager)
	require.NoError(t, err)
	assert.Nil(t, f.voucher(id).AccountingPeriodID)

	in.VoucherID = id
	in.Date = day(2026, 1, 10)
	f.save(in)
	_, err = f.move(id, accounting.VoucherStatusPending, accountant)
	require.NoError(t, err)
	require.NotNil(t, f.voucher(id).AccountingPeriodID)
	assert.Equal(t, january.ID, *f.voucher(id).AccountingPeriodID)
}

func TestPeriodGateRejectsDatesOutsideOpenPeriods(t *testing.T) {
	f := newFixture(t)
	early := f.save(journal(day(2024, 12, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err := f.move(early, accounting.VoucherStatusApproved, manager)
	requireCode(t, err, shared.ErrNoOpenPeriod)

	late := f.save(journal(day(2026, 2, 3),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err = f.move(late, accounting.VoucherStatusApproved, manager)
	requireCode(t, err, shared.ErrPeriodClosedForDate)

	_, err = f.svc.CloseAccountingPeriod(f.ctx, accounting.PeriodActionInput{CompanyID: companyID, PeriodID: "fy2025", Actor: owner})
	require.NoError(t, err)
	inside := f.save(journal(day(2025, 3, 3),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err = f.move(inside, accounting.VoucherStatusApproved, manager)
	requireCode(t, err, shared.ErrNoOpenPeriod)

	assert.True(t, f.balance("cash").IsZero())
	assert.True(t, f.balance("sales").IsZero())
}

func TestValidationRules(t *testing.T) {
	cases := []struct {
		name  string
		typ   accounting.VoucherType
		lines []accounting.VoucherLine
		want  *shared.Error
	}{
		{
			name:  "two sources",
			lines: []accounting.VoucherLine{line("cash", accounting.SideDebit, "5"), line("bank", accounting.SideDebit, "5"), line("sales", accounting.SideCredit, "10")},
			want:  shared.ErrSourceLineCount,
		},
		{
			name:  "no destination",
			lines: []accounting.VoucherLine{line("cash", accounting.SideDebit, "5")},
			want:  shared.ErrDestinationLineMissing,
		},
		{
			name:  "zero amount",
			lines: []accounting.VoucherLine{line("cash", accounting.SideDebit, "0"), line("sales", accounting.SideCredit, "0")},
			want:  shared.ErrInvalidLineAmount,
		},
		{
			name:  "protected",
			lines: []accounting.VoucherLine{line("suspense", accounting.SideDebit, "5"), line("sales", accounting.SideCredit, "5")},
			want:  shared.ErrProtectedAccount,
		},
		{
			name:  "parent",
			lines: []accounting.VoucherLine{line("cashbox", accounting.SideDebit, "5"), line("sales", accounting.SideCredit, "5")},
			want:  shared.ErrParentAccount,
		},
		{
			name:  "inactive",
			lines: []accounting.VoucherLine{line("dormant", accounting.SideDebit, "5"), line("sales", accounting.SideCredit, "5")},
			want:  shared.ErrInactiveAccount,
		},
		{
			name:  "unknown account",
			lines: []accounting.VoucherLine{line("ghost", accounting.SideDebit, "5"), line("sales", accounting.SideCredit, "5")},
			want:  shared.ErrAccountNotFound,
		},
		{
			name:  "cash transfer outside cash boxes",
			typ:   accounting.VoucherTypeCashTransfer,
			lines: []accounting.VoucherLine{line("cash", accounting.SideCredit, "5"), line("bank", accounting.SideDebit, "5")},
			want:  shared.ErrCashTransferParent,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := journal(day(2025, 1, 15), tc.lines...)
			if tc.typ != "" {
				in.Type = tc.typ
			}
			id := f.save(in)
			_, err := f.move(id, accounting.VoucherStatusApproved, manager)
			requireCode(t, err, tc.want)
			assert.Equal(t, accounting.VoucherStatusDraft, f.voucher(id).Status)
		})
	}
}

func TestCashTransferBetweenCashBoxes(t *testing.T) {
	f := newFixture(t)
	in := journal(day(2025, 1, 15),
		line("cash", accounting.SideCredit, "30"),
		line("petty", accounting.SideDebit, "30"),
	)
	in.Type = accounting.VoucherTypeCashTransfer
	id := f.save(in)
	f.approve(id)
	assert.True(t, f.balance("cash").Equal(dec("-30")))
	assert.True(t, f.balance("petty").Equal(dec("30")))
}

func TestDeleteApprovedVoucherRestoresBalances(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.ApprovalEditPolicy = accounting.ApprovalEditOpen
	})
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "123.45"),
		line("sales", accounting.SideCredit, "100"),
		line("payable", accounting.SideCredit, "23.45"),
	))
	f.approve(id)
	require.True(t, f.balance("payable").Equal(dec("-23.45")))

	_, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: viewer})
	requireCode(t, err, shared.ErrPermissionDenied)

	deleted, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, id, deleted)
	for _, acc := range []string{"cash", "sales", "payable"} {
		assert.Truef(t, f.balance(acc).IsZero(), "%s balance %s", acc, f.balance(acc))
	}
	_, err = f.svc.GetVoucher(f.ctx, companyID, id, owner)
	requireCode(t, err, shared.ErrVoucherNotFound)
}

func TestDeleteApprovedBlockedWithoutPolicy(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	f.approve(id)
	_, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: owner})
	requireCode(t, err, shared.ErrApprovedEditBlocked)
	assert.True(t, f.balance("cash").Equal(dec("10")))
}

func TestDeleteLockedVoucherByOwner(t *testing.T) {
	lockedVoucher := func(f *fixture) string {
		id := f.save(journal(day(2025, 1, 15),
			line("cash", accounting.SideDebit, "10"),
			line("sales", accounting.SideCredit, "10"),
		))
		f.approve(id)
		_, err := f.move(id, accounting.VoucherStatusLocked, manager)
		require.NoError(t, err)
		return id
	}
	remove := func(f *fixture, id string, actor accounting.Actor) error {
		_, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: actor})
		return err
	}

	// locked vouchers stay put for everyone while locked edits are off
	f := newFixture(t)
	id := lockedVoucher(f)
	requireCode(t, remove(f, id, owner), shared.ErrVoucherLocked)
	requireCode(t, remove(f, id, admin), shared.ErrVoucherLocked)
	assert.True(t, f.balance("cash").Equal(dec("10")))

	g := newFixture(t, func(s *accounting.CompanySettings) {
		s.AllowLockedVoucherEdits = true
	})
	id = lockedVoucher(g)
	requireCode(t, remove(g, id, manager), shared.ErrPermissionDenied)
	requireCode(t, remove(g, id, admin), shared.ErrVoucherLocked)
	require.NoError(t, remove(g, id, owner))
	assert.True(t, g.balance("cash").IsZero())
	assert.True(t, g.balance("sales").IsZero())

	h := newFixture(t, func(s *accounting.CompanySettings) {
		s.AllowLockedVoucherEdits = true
		s.AllowApprovedVoucherDeletion = true
	})
	id = lockedVoucher(h)
	require.NoError(t, remove(h, id, admin))
	assert.True(t, h.balance("cash").IsZero())
}

func TestDeleteDraftLeavesBalances(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "10"),
		line("sales", accounting.SideCredit, "10"),
	))
	_, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: accountant})
	require.NoError(t, err)
	assert.True(t, f.balance("cash").IsZero())
}

func TestApprovedAmountEditSettlesDifference(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.ApprovalEditPolicy = accounting.ApprovalEditOpen
	})
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "100"),
		line("sales", accounting.SideCredit, "100"),
	))
	number := f.approve(id).Number

	edit := journal(day(2025, 1, 15),
		line("bank", accounting.SideDebit, "150"),
		line("sales", accounting.SideCredit, "150"),
	)
	edit.VoucherID = id
	edit.Actor = owner
	res, err := f.svc.SaveVoucher(f.ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, accounting.VoucherStatusApproved, res.Status)
	assert.Equal(t, number, res.Number)

	assert.True(t, f.balance("cash").IsZero())
	assert.True(t, f.balance("bank").Equal(dec("150")))
	assert.True(t, f.balance("sales").Equal(dec("-150")))
	assert.Equal(t, int64(3), f.voucher(id).Version)
}

func TestApprovedEditPolicies(t *testing.T) {
	f := newFixture(t)
	id := f.save(journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "100"),
		line("sales", accounting.SideCredit, "100"),
	))
	f.approve(id)

	edit := journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "90"),
		line("sales", accounting.SideCredit, "90"),
	)
	edit.VoucherID = id
	edit.Actor = owner
	_, err := f.svc.SaveVoucher(f.ctx, edit)
	requireCode(t, err, shared.ErrApprovedEditBlocked)

	// descriptive edits stay allowed under any policy
	notes := journal(day(2025, 1, 15),
		line("cash", accounting.SideDebit, "100"),
		line("sales", accounting.SideCredit, "100"),
	)
	notes.VoucherID = id
	notes.Actor = manager
	notes.Header = accounting.VoucherHeader{Description: "January takings"}
	_, err = f.svc.SaveVoucher(f.ctx, notes)
	require.NoError(t, err)
	assert.Equal(t, "January takings", f.voucher(id).Header.Description)
	assert.True(t, f.balance("cash").Equal(dec("100")))
}

func TestReceiverOnlyPolicyAllowsCustodian(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.ApprovalEditPolicy = accounting.ApprovalEditReceiverOnly
	})
	in := journal(day(2025, 1, 15),
		line("petty", accounting.SideDebit, "20"),
		line("sales", accounting.SideCredit, "20"),
	)
	in.Actor = manager
	id := f.save(in)
	f.approve(id)

	edit := in
	edit.VoucherID = id
	edit.Actor = accountant
	edit.Lines = []accounting.VoucherLine{line("petty", accounting.SideDebit, "25"), line("sales", accounting.SideCredit, "25")}
	_, err := f.svc.SaveVoucher(f.ctx, edit)
	require.NoError(t, err)
	assert.True(t, f.balance("petty").Equal(dec("25")))

	other := newFixture(t, func(s *accounting.CompanySettings) {
		s.ApprovalEditPolicy = accounting.ApprovalEditReceiverOnly
	})
	in.Lines = []accounting.VoucherLine{line("cash", accounting.SideDebit, "20"), line("sales", accounting.SideCredit, "20")}
	oid := other.save(in)
	other.approve(oid)
	edit.VoucherID = oid
	edit.Lines = []accounting.VoucherLine{line("cash", accounting.SideDebit, "25"), line("sales", accounting.SideCredit, "25")}
	_, err = other.svc.SaveVoucher(other.ctx, edit)
	requireCode(t, err, shared.ErrPermissionDenied)
}

func TestLockedVoucherEdits(t *testing.T) {
	for _, allow := range []bool{false, true} {
		t.Run(fmt.Sprintf("allow=%v", allow), func(t *testing.T) {
			f := newFixture(t, func(s *accounting.CompanySettings) {
				s.AllowLockedVoucherEdits = allow
			})
			id := f.save(journal(day(2025, 1, 15),
				line("cash", accounting.SideDebit, "100"),
				line("sales", accounting.SideCredit, "100"),
			))
			f.approve(id)
			_, err := f.move(id, accounting.VoucherStatusLocked, manager)
			require.NoError(t, err)

			edit := journal(day(2025, 1, 15),
				line("cash", accounting.SideDebit, "80"),
				line("sales", accounting.SideCredit, "80"),
			)
			edit.VoucherID = id
			edit.Actor = admin
			_, err = f.svc.SaveVoucher(f.ctx, edit)
			if !allow {
				requireCode(t, err, shared.ErrVoucherLocked)
				assert.True(t, f.balance("cash").Equal(dec("100")))
				return
			}
			require.NoError(t, err)
			assert.True(t, f.balance("cash").Equal(dec("80")))
			assert.Equal(t, accounting.VoucherStatusLocked, f.voucher(id).Status)

			edit.Actor = manager
			_, err = f.svc.SaveVoucher(f.ctx, edit)
			requireCode(t, err, shared.ErrPermissionDenied)
		})
	}
}

func TestConcurrentApprovalsAssignUniqueNumbers(t *testing.T) {
	f := newFixture(t)
	const n = 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.save(journal(day(2025, 1, 15),
			line("cash", accounting.SideDebit, "1"),
			line("sales", accounting.SideCredit, "1"),
		))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.move(id, accounting.VoucherStatusApproved, manager)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, res.Number)
		}(id)
	}
	wg.Wait()
	require.Empty(t, errs)
	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("202501-%06d", i+1), number)
	}
	assert.True(t, f.balance("cash").Equal(dec("20")))
	assert.True(t, f.balance("sales").Equal(dec("-20")))
}

func TestNumberingRestartsPerMonth(t *testing.T) {
	f := newFixture(t)
	jan := f.save(journal(day(2025, 1, 31), line("cash", accounting.SideDebit, "1"), line("sales", accounting.SideCredit, "1")))
	feb := f.save(journal(day(2025, 2, 1), line("cash", accounting.SideDebit, "1"), line("sales", accounting.SideCredit, "1")))
	assert.Equal(t, "202501-000001", f.approve(jan).Number)
	assert.Equal(t, "202502-000001", f.approve(feb).Number)
}

func TestIdempotentCreateReplays(t *testing.T) {
	f := newFixture(t)
	in := journal(day(2025, 1, 15), line("cash", accounting.SideDebit, "1"), line("sales", accounting.SideCredit, "1"))
	in.IdempotencyKey = "req-1"
	first, err := f.svc.SaveVoucher(f.ctx, in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := f.svc.SaveVoucher(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)

	changed := journal(day(2025, 1, 15), line("cash", accounting.SideDebit, "999"), line("sales", accounting.SideCredit, "999"))
	changed.IdempotencyKey = "req-1"
	_, err = f.svc.SaveVoucher(f.ctx, changed)
	requireCode(t, err, shared.ErrIdempotencyKeyReused)
	assert.True(t, f.voucher(first.ID).TotalDebit.Equal(dec("1")))

	// equal amounts written differently still replay
	respelled := journal(day(2025, 1, 15), line("cash", accounting.SideDebit, "1.00"), line("sales", accounting.SideCredit, "1.0"))
	respelled.IdempotencyKey = "req-1"
	third, err := f.svc.SaveVoucher(f.ctx, respelled)
	require.NoError(t, err)
	assert.True(t, third.Replayed)
}

func TestForeignCurrencyVoucherIsNormalised(t *testing.T) {
	f := newFixture(t)
	fxDebit, fxCredit := dec("100"), dec("100")
	in := journal(day(2025, 1, 15),
		accounting.VoucherLine{AccountID: "bank", Side: accounting.SideDebit, FxAmount: &fxDebit},
		accounting.VoucherLine{AccountID: "sales", Side: accounting.SideCredit, FxAmount: &fxCredit},
	)
	in.TransactionCurrency = "EUR"
	in.ExchangeRate = dec("1.08")
	id := f.save(in)
	f.approve(id)

	v := f.voucher(id)
	assert.Equal(t, "USD", v.Currency)
	assert.Equal(t, "EUR", v.TransactionCurrency)
	assert.True(t, f.balance("bank").Equal(dec("108")))
	assert.True(t, f.balance("sales").Equal(dec("-108")))

	in.ExchangeRate = dec("-1")
	_, err := f.svc.SaveVoucher(f.ctx, in)
	requireCode(t, err, shared.ErrInvalidCurrency)
}

func TestNotifierFailureDoesNotUnwind(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{err: fmt.Errorf("queue down")}
	f.svc.WithNotifier(notifier)
	id := f.save(journal(day(2025, 1, 15), line("cash", accounting.SideDebit, "9"), line("sales", accounting.SideCredit, "9")))
	f.approve(id)

	assert.Equal(t, []accounting.ChangeKind{accounting.ChangeCreate, accounting.ChangeApprove}, notifier.kinds())
	assert.True(t, f.balance("cash").Equal(dec("9")))
	notifier.mu.Lock()
	impacted := notifier.impacts[1].ImpactedUserIDs
	notifier.mu.Unlock()
	assert.ElementsMatch(t, []string{accountant.UserID, "u-cashier"}, impacted)
}

func TestPermissionCheckerDenies(t *testing.T) {
	f := newFixture(t)
	f.svc = accounting.NewService(f.store, denyChecker{denied: map[string]bool{authz.PermVoucherApprove: true}}, nil)
	id := f.save(journal(day(2025, 1, 15), line("cash", accounting.SideDebit, "9"), line("sales", accounting.SideCredit, "9")))
	_, err := f.move(id, accounting.VoucherStatusApproved, owner)
	requireCode(t, err, shared.ErrPermissionDenied)
	assert.True(t, strings.Contains(err.Error(), authz.PermVoucherApprove))
}

func TestInvalidInputs(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveVoucher(f.ctx, accounting.SaveVoucherInput{CompanyID: companyID, Actor: accountant})
	requireCode(t, err, shared.ErrInvalidInput)

	_, err = f.move("", accounting.VoucherStatusApproved, manager)
	requireCode(t, err, shared.ErrInvalidInput)

	_, err = f.move("missing", accounting.VoucherStatus("POSTED"), manager)
	requireCode(t, err, shared.ErrInvalidInput)

	_, err = f.move("missing", accounting.VoucherStatusApproved, manager)
	requireCode(t, err, shared.ErrVoucherNotFound)
}

func TestBalancesStayConsistentWithVouchers(t *testing.T) {
	f := newFixture(t, func(s *accounting.CompanySettings) {
		s.ApprovalEditPolicy = accounting.ApprovalEditOpen
	})
	var approved []string
	for i := 1; i <= 6; i++ {
		id := f.save(journal(day(2025, 1, i),
			line("bank", accounting.SideDebit, fmt.Sprintf("%d.25", i*10)),
			line("sales", accounting.SideCredit, fmt.Sprintf("%d.25", i*10)),
		))
		if i%2 == 0 {
			f.approve(id)
			approved = append(approved, id)
		}
	}
	_, err := f.svc.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: approved[0], Actor: owner})
	require.NoError(t, err)

	var total = dec("0")
	err = f.store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		vouchers, err := accounting.ScanEffectiveVouchers(ctx, tx, companyID, day(2025, 1, 1), day(2025, 12, 31))
		if err != nil {
			return err
		}
		for _, v := range vouchers {
			total = total.Add(accounting.LineDeltas(v.Lines)["bank"])
		}
		return nil
	})
	require.NoError(t, err)
	assert.True(t, f.balance("bank").Equal(total), "bank %s vs vouchers %s", f.balance("bank"), total)
	assert.True(t, total.Equal(dec("100.50")))
}

type flakyAccountTx struct {
	accounting.TxRepository
	fail string
}

func (tx flakyAccountTx) GetAccount(ctx context.Context, companyID, accountID string) (accounting.Account, error) {
	if accountID == tx.fail {
		return accounting.Account{}, errors.New("account read timed out")
	}
	return tx.TxRepository.GetAccount(ctx, companyID, accountID)
}

type flakyAccountRepo struct {
	inner accounting.RepositoryPort
	fail  string
}

func (r flakyAccountRepo) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.inner.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return fn(ctx, flakyAccountTx{TxRepository: tx, fail: r.fail})
	})
}

func TestAccountReadFailuresAreInternal(t *testing.T) {
	f := newFixture(t)
	transfer := journal(day(2025, 2, 1),
		line("petty", accounting.SideDebit, "25"),
		line("bank", accounting.SideCredit, "25"),
	)
	id := f.save(transfer)

	flaky := accounting.NewService(flakyAccountRepo{inner: f.store, fail: "petty"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := flaky.ChangeVoucherStatus(f.ctx, accounting.StatusChangeInput{
		CompanyID: companyID, VoucherID: id, Target: accounting.VoucherStatusPending, Actor: accountant,
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindInternal, shared.KindOf(err))
	assert.Equal(t, accounting.VoucherStatusDraft, f.voucher(id).Status)
	assert.True(t, f.balance("petty").IsZero())

	_, err = flaky.SaveVoucher(f.ctx, transfer)
	require.Error(t, err)
	assert.Equal(t, shared.KindInternal, shared.KindOf(err))

	_, err = flaky.DeleteVoucher(f.ctx, accounting.DeleteVoucherInput{CompanyID: companyID, VoucherID: id, Actor: accountant})
	require.Error(t, err)
	assert.Equal(t, shared.KindInternal, shared.KindOf(err))
	assert.Equal(t, accounting.VoucherStatusDraft, f.voucher(id).Status)
}
