package accounting

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the ledger tables when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("accounting: migrate: %w", err)
	}
	return nil
}

// Repository persists ledger documents in Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	policy db.RetryPolicy
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, policy db.RetryPolicy) *Repository {
	return &Repository{pool: pool, policy: policy}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a serializable transaction, re-running it on serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithSerializableTx(ctx, r.pool, r.policy, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) ListCompanyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT company_id FROM ledger_company_settings
UNION SELECT DISTINCT company_id FROM ledger_accounts ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) GetCompanySettings(ctx context.Context, companyID string) (CompanySettings, error) {
	s := CompanySettings{CompanyID: companyID}
	var types []string
	err := r.tx.QueryRow(ctx, `SELECT base_currency, strict_approval_mode, auto_approve_receiver, auto_approve_on_submit_types,
approval_edit_policy, allow_locked_voucher_edits, allow_approved_voucher_delete, cash_box_parent_account_id, retained_earnings_account_id
FROM ledger_company_settings WHERE company_id=$1`, companyID).Scan(&s.BaseCurrency, &s.StrictApprovalMode, &s.AutoApproveWhenReceiverIsActing,
		&types, &s.ApprovalEditPolicy, &s.AllowLockedVoucherEdits, &s.AllowApprovedVoucherDeletion, &s.CashBoxParentAccountID, &s.RetainedEarningsAccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultCompanySettings(companyID), nil
	}
	if err != nil {
		return CompanySettings{}, err
	}
	for _, t := range types {
		s.AutoApproveOnSubmitTypes = append(s.AutoApproveOnSubmitTypes, VoucherType(t))
	}
	return s, nil
}

func (r *txRepository) PutCompanySettings(ctx context.Context, s CompanySettings) error {
	types := make([]string, 0, len(s.AutoApproveOnSubmitTypes))
	for _, t := range s.AutoApproveOnSubmitTypes {
		types = append(types, string(t))
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_company_settings (company_id, base_currency, strict_approval_mode, auto_approve_receiver,
auto_approve_on_submit_types, approval_edit_policy, allow_locked_voucher_edits, allow_approved_voucher_delete, cash_box_parent_account_id,
retained_earnings_account_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (company_id) DO UPDATE SET base_currency=EXCLUDED.base_currency, strict_approval_mode=EXCLUDED.strict_approval_mode,
auto_approve_receiver=EXCLUDED.auto_approve_receiver, auto_approve_on_submit_types=EXCLUDED.auto_approve_on_submit_types,
approval_edit_policy=EXCLUDED.approval_edit_policy, allow_locked_voucher_edits=EXCLUDED.allow_locked_voucher_edits,
allow_approved_voucher_delete=EXCLUDED.allow_approved_voucher_delete, cash_box_parent_account_id=EXCLUDED.cash_box_parent_account_id,
retained_earnings_account_id=EXCLUDED.retained_earnings_account_id, updated_at=NOW()`,
		s.CompanyID, s.BaseCurrency, s.StrictApprovalMode, s.AutoApproveWhenReceiverIsActing, types, string(s.ApprovalEditPolicy),
		s.AllowLockedVoucherEdits, s.AllowApprovedVoucherDeletion, s.CashBoxParentAccountID, s.RetainedEarningsAccountID)
	return err
}

const accountColumns = `company_id, id, code, name, type, parent_id, is_parent, is_protected, is_active, is_locked_for_children,
current_balance, custodian_user_ids, report_section, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.CompanyID, &a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsParent, &a.IsProtected, &a.IsActive,
		&a.IsLockedForChildren, &a.CurrentBalance, &a.CustodianUserIDs, &a.ReportSection, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, companyID, accountID string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE company_id=$1 AND id=$2`, companyID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrAccountNotFound.WithMessage("account %s not found", accountID)
	}
	return a, err
}

func (r *txRepository) ListAccounts(ctx context.Context, companyID string) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) PutAccount(ctx context.Context, a Account) error {
	custodians := a.CustodianUserIDs
	if custodians == nil {
		custodians = []string{}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_accounts (`+accountColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (company_id, id) DO UPDATE SET code=EXCLUDED.code, name=EXCLUDED.name, type=EXCLUDED.type, parent_id=EXCLUDED.parent_id,
is_parent=EXCLUDED.is_parent, is_protected=EXCLUDED.is_protected, is_active=EXCLUDED.is_active,
is_locked_for_children=EXCLUDED.is_locked_for_children, current_balance=EXCLUDED.current_balance,
custodian_user_ids=EXCLUDED.custodian_user_ids, report_section=EXCLUDED.report_section, updated_at=EXCLUDED.updated_at`,
		a.CompanyID, a.ID, a.Code, a.Name, string(a.Type), a.ParentID, a.IsParent, a.IsProtected, a.IsActive, a.IsLockedForChildren,
		a.CurrentBalance, custodians, a.ReportSection, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return shared.ErrDuplicateAccountCode.WithMessage("account code %s already exists", a.Code)
	}
	return err
}

func (r *txRepository) ApplyAccountDeltas(ctx context.Context, companyID string, deltas []AccountDelta) error {
	for _, d := range deltas {
		tag, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET current_balance = current_balance + $3, is_locked_for_children = TRUE, updated_at = NOW()
WHERE company_id=$1 AND id=$2`, companyID, d.AccountID, d.Amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrAccountNotFound.WithMessage("account %s not found", d.AccountID)
		}
	}
	return nil
}

const voucherColumns = `company_id, id, number, type, status, date, currency, transaction_currency, exchange_rate, total_debit, total_credit,
fx_total_debit, fx_total_credit, lines, header, extensions, audit_log, accounting_period_id, status_reason, created_by, submitted_by,
approved_by, locked_by, submitted_at, approved_at, locked_at, canceled_at, created_at, updated_at, version`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var (
		v              Voucher
		fxDebit, fxCrd decimal.NullDecimal
	)
	err := row.Scan(&v.CompanyID, &v.ID, &v.Number, &v.Type, &v.Status, &v.Date, &v.Currency, &v.TransactionCurrency, &v.ExchangeRate,
		&v.TotalDebit, &v.TotalCredit, &fxDebit, &fxCrd, &v.Lines, &v.Header, &v.Extensions, &v.AuditLog, &v.AccountingPeriodID,
		&v.StatusReason, &v.CreatedBy, &v.SubmittedBy, &v.ApprovedBy, &v.LockedBy, &v.SubmittedAt, &v.ApprovedAt, &v.LockedAt,
		&v.CanceledAt, &v.CreatedAt, &v.UpdatedAt, &v.Version)
	if err != nil {
		return Voucher{}, err
	}
	if fxDebit.Valid {
		v.FxTotalDebit = &fxDebit.Decimal
	}
	if fxCrd.Valid {
		v.FxTotalCredit = &fxCrd.Decimal
	}
	return v, nil
}

func (r *txRepository) GetVoucher(ctx context.Context, companyID, voucherID string) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM ledger_vouchers WHERE company_id=$1 AND id=$2`, companyID, voucherID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, shared.ErrVoucherNotFound.WithMessage("voucher %s not found", voucherID)
	}
	return v, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *txRepository) PutVoucher(ctx context.Context, v Voucher) error {
	lines := v.Lines
	if lines == nil {
		lines = []VoucherLine{}
	}
	extensions := v.Extensions
	if extensions == nil {
		extensions = map[string]string{}
	}
	auditLog := v.AuditLog
	if auditLog == nil {
		auditLog = []AuditEntry{}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_vouchers (`+voucherColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
ON CONFLICT (company_id, id) DO UPDATE SET number=EXCLUDED.number, type=EXCLUDED.type, status=EXCLUDED.status, date=EXCLUDED.date,
currency=EXCLUDED.currency, transaction_currency=EXCLUDED.transaction_currency, exchange_rate=EXCLUDED.exchange_rate,
total_debit=EXCLUDED.total_debit, total_credit=EXCLUDED.total_credit, fx_total_debit=EXCLUDED.fx_total_debit,
fx_total_credit=EXCLUDED.fx_total_credit, lines=EXCLUDED.lines, header=EXCLUDED.header, extensions=EXCLUDED.extensions,
audit_log=EXCLUDED.audit_log, accounting_period_id=EXCLUDED.accounting_period_id, status_reason=EXCLUDED.status_reason,
submitted_by=EXCLUDED.submitted_by, approved_by=EXCLUDED.approved_by, locked_by=EXCLUDED.locked_by,
submitted_at=EXCLUDED.submitted_at, approved_at=EXCLUDED.approved_at, locked_at=EXCLUDED.locked_at,
canceled_at=EXCLUDED.canceled_at, updated_at=EXCLUDED.updated_at, version=EXCLUDED.version`,
		v.CompanyID, v.ID, v.Number, string(v.Type), string(v.Status), v.Date, v.Currency, v.TransactionCurrency, v.ExchangeRate,
		v.TotalDebit, v.TotalCredit, nullDecimal(v.FxTotalDebit), nullDecimal(v.FxTotalCredit), lines, v.Header, extensions, auditLog,
		v.AccountingPeriodID, v.StatusReason, v.CreatedBy, v.SubmittedBy, v.ApprovedBy, v.LockedBy, v.SubmittedAt, v.ApprovedAt,
		v.LockedAt, v.CanceledAt, v.CreatedAt, v.UpdatedAt, v.Version)
	return err
}

func (r *txRepository) DeleteVoucher(ctx context.Context, companyID, voucherID string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM ledger_vouchers WHERE company_id=$1 AND id=$2`, companyID, voucherID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrVoucherNotFound.WithMessage("voucher %s not found", voucherID)
	}
	return nil
}

// buildVoucherScan renders the keyset query for q.
func buildVoucherScan(q VoucherQuery) (string, []any) {
	var (
		where = []string{"company_id=$1"}
		args  = []any{q.CompanyID}
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.From.IsZero() {
		where = append(where, "date >= "+next(truncateDay(q.From)))
	}
	if !q.To.IsZero() {
		where = append(where, "date <= "+next(truncateDay(q.To)))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+next(statuses)+")")
	}
	if q.After != nil {
		date := next(truncateDay(q.After.Date))
		id := next(q.After.ID)
		where = append(where, fmt.Sprintf("(date, id) > (%s::date, %s)", date, id))
	}
	sql := `SELECT ` + voucherColumns + ` FROM ledger_vouchers WHERE ` + strings.Join(where, " AND ") + ` ORDER BY date, id`
	if q.Limit > 0 {
		sql += " LIMIT " + next(q.Limit)
	}
	return sql, args
}

func (r *txRepository) ScanVouchers(ctx context.Context, q VoucherQuery) ([]Voucher, error) {
	sql, args := buildVoucherScan(q)
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const periodColumns = `company_id, id, name, start_date, end_date, status, is_fiscal_year, year_closed, opening_balances_created,
closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.CompanyID, &p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.IsFiscalYear, &p.YearClosed,
		&p.OpeningBalancesCreated, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *txRepository) GetPeriod(ctx context.Context, companyID, periodID string) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE company_id=$1 AND id=$2`, companyID, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrPeriodNotFound.WithMessage("period %s not found", periodID)
	}
	return p, err
}

func (r *txRepository) ListPeriods(ctx context.Context, companyID string) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE company_id=$1 ORDER BY start_date, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) PutPeriod(ctx context.Context, p Period) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_periods (`+periodColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (company_id, id) DO UPDATE SET name=EXCLUDED.name, start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date,
status=EXCLUDED.status, is_fiscal_year=EXCLUDED.is_fiscal_year, year_closed=EXCLUDED.year_closed,
opening_balances_created=EXCLUDED.opening_balances_created, closed_at=EXCLUDED.closed_at, closed_by=EXCLUDED.closed_by,
updated_at=EXCLUDED.updated_at`,
		p.CompanyID, p.ID, p.Name, p.StartDate, p.EndDate, string(p.Status), p.IsFiscalYear, p.YearClosed, p.OpeningBalancesCreated,
		p.ClosedAt, p.ClosedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *txRepository) GetCounter(ctx context.Context, counterID string) (VoucherNumberCounter, error) {
	c := VoucherNumberCounter{ID: counterID}
	err := r.tx.QueryRow(ctx, `SELECT next_number FROM ledger_voucher_counters WHERE id=$1`, counterID).Scan(&c.NextNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	return c, err
}

func (r *txRepository) PutCounter(ctx context.Context, c VoucherNumberCounter) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_voucher_counters (id, next_number) VALUES ($1,$2)
ON CONFLICT (id) DO UPDATE SET next_number=EXCLUDED.next_number`, c.ID, c.NextNumber)
	return err
}

func (r *txRepository) InsertOpeningBalances(ctx context.Context, lines []OpeningBalanceLine) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`INSERT INTO ledger_opening_balances (company_id, period_id, account_id, opening_balance) VALUES ($1,$2,$3,$4)`,
			l.CompanyID, l.PeriodID, l.AccountID, l.OpeningBalance)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) ListOpeningBalances(ctx context.Context, companyID, periodID string) ([]OpeningBalanceLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT company_id, period_id, account_id, opening_balance FROM ledger_opening_balances
WHERE company_id=$1 AND period_id=$2 ORDER BY account_id`, companyID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpeningBalanceLine
	for rows.Next() {
		var l OpeningBalanceLine
		if err := rows.Scan(&l.CompanyID, &l.PeriodID, &l.AccountID, &l.OpeningBalance); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, companyID, key string, claim IdempotencyClaim) (IdempotencyClaim, bool, error) {
	var claimedID string
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_idempotency_keys (company_id, key, voucher_id, fingerprint) VALUES ($1,$2,$3,$4)
ON CONFLICT (company_id, key) DO NOTHING RETURNING voucher_id`, companyID, key, claim.VoucherID, claim.Fingerprint).Scan(&claimedID)
	if err == nil {
		return claim, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyClaim{}, false, err
	}
	var existing IdempotencyClaim
	if err := r.tx.QueryRow(ctx, `SELECT voucher_id, fingerprint FROM ledger_idempotency_keys WHERE company_id=$1 AND key=$2`, companyID, key).
		Scan(&existing.VoucherID, &existing.Fingerprint); err != nil {
		return IdempotencyClaim{}, false, err
	}
	return existing, false, nil
}
