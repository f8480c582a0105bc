package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func seedAccount(t *testing.T, s *Store) {
	t.Helper()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.PutAccount(ctx, accounting.Account{ID: "cash", CompanyID: "acme", Code: "1.1", Name: "Cash", Type: accounting.AccountTypeAsset, IsActive: true})
	})
	require.NoError(t, err)
}

func TestConflictingWriteIsRetried(t *testing.T) {
	s := New()
	seedAccount(t, s)
	var retries []int
	s.OnRetry = func(attempt int) { retries = append(retries, attempt) }

	ctx := context.Background()
	attempts := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		attempts++
		if _, err := tx.GetAccount(ctx, "acme", "cash"); err != nil {
			return err
		}
		if attempts == 1 {
			// a competing transaction commits between our read and our commit
			if err := s.WithTx(ctx, func(ctx context.Context, inner accounting.TxRepository) error {
				return inner.ApplyAccountDeltas(ctx, "acme", []accounting.AccountDelta{{AccountID: "cash", Amount: decimal.NewFromInt(5)}})
			}); err != nil {
				return err
			}
		}
		return tx.ApplyAccountDeltas(ctx, "acme", []accounting.AccountDelta{{AccountID: "cash", Amount: decimal.NewFromInt(10)}})
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, []int{1}, retries)

	err = s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := tx.GetAccount(ctx, "acme", "cash")
		if err != nil {
			return err
		}
		require.True(t, account.CurrentBalance.Equal(decimal.NewFromInt(15)), "balance %s", account.CurrentBalance)
		require.True(t, account.IsLockedForChildren)
		return nil
	})
	require.NoError(t, err)
}

func TestRetriesAreBounded(t *testing.T) {
	s := New().WithMaxRetries(3)
	seedAccount(t, s)
	ctx := context.Background()
	attempts := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		attempts++
		if _, err := tx.GetAccount(ctx, "acme", "cash"); err != nil {
			return err
		}
		return s.WithTx(ctx, func(ctx context.Context, inner accounting.TxRepository) error {
			return inner.ApplyAccountDeltas(ctx, "acme", []accounting.AccountDelta{{AccountID: "cash", Amount: decimal.NewFromInt(1)}})
		})
	})
	require.True(t, errors.Is(err, ErrConflict), "got %v", err)
	require.Equal(t, 3, attempts)
}

func TestCollectionVersionGuardsPhantoms(t *testing.T) {
	s := New()
	ctx := context.Background()
	attempts := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		attempts++
		periods, err := tx.ListPeriods(ctx, "acme")
		if err != nil {
			return err
		}
		if attempts == 1 {
			require.Empty(t, periods)
			if err := s.WithTx(ctx, func(ctx context.Context, inner accounting.TxRepository) error {
				return inner.PutPeriod(ctx, accounting.Period{ID: "p1", CompanyID: "acme", Name: "Jan", Status: accounting.PeriodStatusOpen})
			}); err != nil {
				return err
			}
		} else {
			require.Len(t, periods, 1)
		}
		return tx.PutPeriod(ctx, accounting.Period{ID: "p2", CompanyID: "acme", Name: "Feb", Status: accounting.PeriodStatusOpen})
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestFailedTransactionDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.PutCounter(ctx, accounting.VoucherNumberCounter{ID: "acme_202501", NextNumber: 9}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		counter, err := tx.GetCounter(ctx, "acme_202501")
		require.NoError(t, err)
		require.Zero(t, counter.NextNumber)
		return nil
	})
	require.NoError(t, err)
}

func TestVoucherScanPagesAndDeletes(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		for i, id := range []string{"c", "a", "b", "d"} {
			status := accounting.VoucherStatusApproved
			if id == "d" {
				status = accounting.VoucherStatusDraft
			}
			if err := tx.PutVoucher(ctx, accounting.Voucher{ID: id, CompanyID: "acme", Date: base.AddDate(0, 0, i/2), Status: status}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		q := accounting.VoucherQuery{CompanyID: "acme", Statuses: []accounting.VoucherStatus{accounting.VoucherStatusApproved}, Limit: 2}
		page, err := tx.ScanVouchers(ctx, q)
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, "a", page[0].ID)
		require.Equal(t, "c", page[1].ID)
		q.After = &accounting.VoucherCursor{Date: page[1].Date, ID: page[1].ID}
		page, err = tx.ScanVouchers(ctx, q)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, "b", page[0].ID)
		return tx.DeleteVoucher(ctx, "acme", "b")
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		_, err := tx.GetVoucher(ctx, "acme", "b")
		require.True(t, errors.Is(err, shared.ErrVoucherNotFound))
		require.True(t, errors.Is(tx.DeleteVoucher(ctx, "acme", "b"), shared.ErrVoucherNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestIdempotencyAndCompanies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s)
	err := s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		first := accounting.IdempotencyClaim{VoucherID: "v1", Fingerprint: "f1"}
		existing, claimed, err := tx.ClaimIdempotencyKey(ctx, "acme", "k1", first)
		require.NoError(t, err)
		require.True(t, claimed)
		require.Equal(t, first, existing)
		existing, claimed, err = tx.ClaimIdempotencyKey(ctx, "acme", "k1", accounting.IdempotencyClaim{VoucherID: "v2", Fingerprint: "f2"})
		require.NoError(t, err)
		require.False(t, claimed)
		require.Equal(t, first, existing)
		return tx.PutCompanySettings(ctx, accounting.DefaultCompanySettings("globex"))
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		ids, err := tx.ListCompanyIDs(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"acme", "globex"}, ids)
		settings, err := tx.GetCompanySettings(ctx, "initech")
		require.NoError(t, err)
		require.Equal(t, accounting.DefaultBaseCurrency, settings.BaseCurrency)
		return nil
	})
	require.NoError(t, err)
}
