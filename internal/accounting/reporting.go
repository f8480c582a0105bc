package accounting

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ReportPageSize bounds each voucher scan page.
const ReportPageSize = 300

// ReportCache stores built reports under a per-company version.
type ReportCache interface {
	BuildKey(ctx context.Context, companyID string, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, companyID string) error
}

type reportGroup struct {
	sf singleflight.Group
}

func newReportGroup() *reportGroup { return &reportGroup{} }

// ReportQuery addresses a report for a period, optionally narrowed to one account.
type ReportQuery struct {
	CompanyID string
	PeriodID  string
	AccountID string
	Actor     Actor
}

func (q ReportQuery) validate() error {
	if strings.TrimSpace(q.CompanyID) == "" || strings.TrimSpace(q.PeriodID) == "" {
		return shared.ErrInvalidInput.WithMessage("company id and period id required")
	}
	return nil
}

// ledgerSnapshot is the aggregated view of a period.
type ledgerSnapshot struct {
	Period   Period
	Balances []reports.AccountBalance
	Entries  map[string][]reports.LedgerEntry
}

// GetTrialBalance builds the trial balance of a period.
func (s *Service) GetTrialBalance(ctx context.Context, q ReportQuery) (reports.TrialBalance, error) {
	return cachedReport(ctx, s, "trial_balance", authz.PermReportTrialBalance, q, func(ctx context.Context) (reports.TrialBalance, error) {
		snap, err := s.loadSnapshot(ctx, q.CompanyID, q.PeriodID, "", false)
		if err != nil {
			return reports.TrialBalance{}, err
		}
		return reports.BuildTrialBalance(snap.Balances), nil
	})
}

// GetGeneralLedger builds per-account chronological rows, optionally for a single account.
func (s *Service) GetGeneralLedger(ctx context.Context, q ReportQuery) (reports.GeneralLedger, error) {
	return cachedReport(ctx, s, "general_ledger", authz.PermReportGeneralLedger, q, func(ctx context.Context) (reports.GeneralLedger, error) {
		snap, err := s.loadSnapshot(ctx, q.CompanyID, q.PeriodID, q.AccountID, true)
		if err != nil {
			return reports.GeneralLedger{}, err
		}
		return reports.BuildGeneralLedger(snap.Balances, snap.Entries), nil
	})
}

// GetProfitAndLoss builds the profit and loss statement of a period.
func (s *Service) GetProfitAndLoss(ctx context.Context, q ReportQuery) (reports.ProfitAndLoss, error) {
	return cachedReport(ctx, s, "profit_and_loss", authz.PermReportProfitAndLoss, q, func(ctx context.Context) (reports.ProfitAndLoss, error) {
		snap, err := s.loadSnapshot(ctx, q.CompanyID, q.PeriodID, "", false)
		if err != nil {
			return reports.ProfitAndLoss{}, err
		}
		return reports.BuildProfitAndLoss(snap.Balances), nil
	})
}

// GetBalanceSheet builds the balance sheet with the period's net profit as retained earnings.
func (s *Service) GetBalanceSheet(ctx context.Context, q ReportQuery) (reports.BalanceSheet, error) {
	return cachedReport(ctx, s, "balance_sheet", authz.PermReportBalanceSheet, q, func(ctx context.Context) (reports.BalanceSheet, error) {
		snap, err := s.loadSnapshot(ctx, q.CompanyID, q.PeriodID, "", false)
		if err != nil {
			return reports.BalanceSheet{}, err
		}
		pl := reports.BuildProfitAndLoss(snap.Balances)
		return reports.BuildBalanceSheet(snap.Balances, pl.NetProfit), nil
	})
}

func cachedReport[T any](ctx context.Context, s *Service, kind, perm string, q ReportQuery, build func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := q.validate(); err != nil {
		return zero, err
	}
	if err := s.assert(ctx, q.Actor, q.CompanyID, perm); err != nil {
		return zero, err
	}
	key := strings.Join([]string{"ledger", kind, q.CompanyID, q.PeriodID, q.AccountID}, ":")
	cache := s.cache
	if cache != nil {
		versioned, err := cache.BuildKey(ctx, q.CompanyID, "ledger", kind, q.PeriodID, q.AccountID)
		if err != nil {
			s.logger.Warn("report cache key unavailable", slog.String("company_id", q.CompanyID), slog.Any("error", err))
			cache = nil
		} else {
			key = versioned
		}
	}
	value, err, _ := s.reports.sf.Do(key, func() (any, error) {
		if cache == nil {
			return build(ctx)
		}
		var (
			out      T
			buildErr error
		)
		err := cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			built, err := build(ctx)
			buildErr = err
			return built, err
		})
		if buildErr != nil {
			return nil, buildErr
		}
		if err != nil {
			s.logger.Warn("report cache unavailable", slog.String("key", key), slog.Any("error", err))
			return build(ctx)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return value.(T), nil
}

func (s *Service) loadSnapshot(ctx context.Context, companyID, periodID, accountID string, withEntries bool) (ledgerSnapshot, error) {
	var snap ledgerSnapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriod(ctx, companyID, periodID)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx, companyID)
		if err != nil {
			return shared.Internal(err)
		}
		openings, err := tx.ListOpeningBalances(ctx, companyID, period.ID)
		if err != nil {
			return shared.Internal(err)
		}
		vouchers, err := ScanEffectiveVouchers(ctx, tx, companyID, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		if accountID != "" {
			found := false
			for _, a := range accounts {
				if a.ID == accountID {
					found = true
					break
				}
			}
			if !found {
				return shared.ErrAccountNotFound.WithMessage("account %s not found", accountID)
			}
		}
		balances, entries := AggregateBalances(accounts, openings, vouchers, accountID, withEntries)
		snap = ledgerSnapshot{Period: period, Balances: balances, Entries: entries}
		return nil
	})
	return snap, err
}

// ScanEffectiveVouchers pages through approved and locked vouchers dated in [from, to].
// Zero bounds are open.
func ScanEffectiveVouchers(ctx context.Context, tx TxRepository, companyID string, from, to time.Time) ([]Voucher, error) {
	q := VoucherQuery{
		CompanyID: companyID,
		From:      from,
		To:        to,
		Statuses:  []VoucherStatus{VoucherStatusApproved, VoucherStatusLocked},
		Limit:     ReportPageSize,
	}
	var out []Voucher
	for {
		page, err := tx.ScanVouchers(ctx, q)
		if err != nil {
			return nil, shared.Internal(err)
		}
		out = append(out, page...)
		if len(page) < q.Limit {
			return out, nil
		}
		last := page[len(page)-1]
		q.After = &VoucherCursor{Date: last.Date, ID: last.ID}
	}
}

// AggregateBalances accumulates debit and credit per qualifying account. Accounts
// with an opening balance are always included; accountID narrows the result.
func AggregateBalances(accounts []Account, openings []OpeningBalanceLine, vouchers []Voucher, accountID string, withEntries bool) ([]reports.AccountBalance, map[string][]reports.LedgerEntry) {
	byID := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	rows := make(map[string]*reports.AccountBalance)
	row := func(a Account) *reports.AccountBalance {
		r, ok := rows[a.ID]
		if !ok {
			r = &reports.AccountBalance{AccountID: a.ID, Code: a.Code, Name: a.Name, Type: string(a.Type), Section: a.ReportSection}
			rows[a.ID] = r
		}
		return r
	}
	for _, line := range openings {
		a, ok := byID[line.AccountID]
		if !ok || (accountID != "" && a.ID != accountID) {
			continue
		}
		r := row(a)
		r.Opening = r.Opening.Add(line.OpeningBalance)
	}
	var entries map[string][]reports.LedgerEntry
	if withEntries {
		entries = make(map[string][]reports.LedgerEntry)
	}
	for _, v := range vouchers {
		for _, line := range v.Lines {
			a, ok := byID[line.AccountID]
			if !ok || !a.Postable() || (accountID != "" && a.ID != accountID) {
				continue
			}
			r := row(a)
			var debit, credit decimal.Decimal
			if line.Side == SideDebit {
				debit = line.Amount
			} else {
				credit = line.Amount
			}
			r.Debit = r.Debit.Add(debit)
			r.Credit = r.Credit.Add(credit)
			if withEntries {
				entries[a.ID] = append(entries[a.ID], reports.LedgerEntry{
					Date:        v.Date,
					VoucherID:   v.ID,
					Number:      v.Number,
					VoucherType: string(v.Type),
					Description: firstNonEmpty(line.Notes, v.Header.Description),
					Debit:       debit,
					Credit:      credit,
				})
			}
		}
	}
	if withEntries && accountID != "" {
		if a, ok := byID[accountID]; ok {
			row(a)
		}
	}
	out := make([]reports.AccountBalance, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, entries
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
