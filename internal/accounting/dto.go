package accounting

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type voucherLineRequest struct {
	AccountID string           `json:"account_id" validate:"required"`
	Side      string           `json:"side" validate:"required,oneof=DEBIT CREDIT debit credit"`
	Amount    decimal.Decimal  `json:"amount"`
	FxAmount  *decimal.Decimal `json:"fx_amount,omitempty"`
	Notes     string           `json:"notes,omitempty" validate:"max=500"`
}

type voucherRequest struct {
	Type         string               `json:"type" validate:"required"`
	Date         string               `json:"date" validate:"required,datetime=2006-01-02"`
	Currency     string               `json:"currency,omitempty" validate:"omitempty,len=3"`
	ExchangeRate decimal.Decimal      `json:"exchange_rate"`
	Lines        []voucherLineRequest `json:"lines" validate:"dive"`
	Reference    string               `json:"reference,omitempty"`
	Description  string               `json:"description,omitempty"`
	Counterparty string               `json:"counterparty,omitempty"`
	Extensions   map[string]string    `json:"extensions,omitempty"`
}

func (req voucherRequest) toInput(companyID, voucherID string, actor Actor) SaveVoucherInput {
	date, _ := time.Parse(dateLayout, req.Date)
	lines := make([]VoucherLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		side := SideDebit
		if l.Side == "CREDIT" || l.Side == "credit" {
			side = SideCredit
		}
		lines = append(lines, VoucherLine{AccountID: l.AccountID, Side: side, Amount: l.Amount, FxAmount: l.FxAmount, Notes: l.Notes})
	}
	return SaveVoucherInput{
		CompanyID:           companyID,
		VoucherID:           voucherID,
		Type:                VoucherType(req.Type),
		Date:                date,
		TransactionCurrency: req.Currency,
		ExchangeRate:        req.ExchangeRate,
		Lines:               lines,
		Header:              VoucherHeader{Reference: req.Reference, Description: req.Description, Counterparty: req.Counterparty},
		Extensions:          req.Extensions,
		Actor:               actor,
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type periodRequest struct {
	Name         string `json:"name" validate:"required,max=120"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"end_date" validate:"required,datetime=2006-01-02"`
	IsFiscalYear bool   `json:"is_fiscal_year"`
}

type accountRequest struct {
	Code             string   `json:"code" validate:"required,max=32"`
	Name             string   `json:"name" validate:"required,max=200"`
	Type             string   `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentID         string   `json:"parent_id,omitempty"`
	IsParent         bool     `json:"is_parent"`
	IsProtected      bool     `json:"is_protected"`
	CustodianUserIDs []string `json:"custodian_user_ids,omitempty"`
	ReportSection    string   `json:"report_section,omitempty"`
}

type settingsRequest struct {
	BaseCurrency                    string   `json:"base_currency" validate:"omitempty,len=3"`
	StrictApprovalMode              bool     `json:"strict_approval_mode"`
	AutoApproveWhenReceiverIsActing bool     `json:"auto_approve_when_receiver_is_acting"`
	AutoApproveOnSubmitTypes        []string `json:"auto_approve_on_submit_types,omitempty"`
	ApprovalEditPolicy              string   `json:"approval_edit_policy" validate:"omitempty,oneof=none open receiver_only"`
	AllowLockedVoucherEdits         bool     `json:"allow_locked_voucher_edits"`
	AllowApprovedVoucherDeletion    bool     `json:"allow_approved_voucher_deletion"`
	CashBoxParentAccountID          string   `json:"cash_box_parent_account_id,omitempty"`
	RetainedEarningsAccountID       string   `json:"retained_earnings_account_id,omitempty"`
}

type voucherResponse struct {
	ID                  string            `json:"id"`
	Number              string            `json:"number,omitempty"`
	Type                VoucherType       `json:"type"`
	Status              VoucherStatus     `json:"status"`
	Date                string            `json:"date"`
	Currency            string            `json:"currency"`
	TransactionCurrency string            `json:"transaction_currency"`
	ExchangeRate        decimal.Decimal   `json:"exchange_rate"`
	TotalDebit          decimal.Decimal   `json:"total_debit"`
	TotalCredit         decimal.Decimal   `json:"total_credit"`
	Lines               []VoucherLine     `json:"lines"`
	Header              VoucherHeader     `json:"header"`
	Extensions          map[string]string `json:"extensions,omitempty"`
	StatusReason        string            `json:"status_reason,omitempty"`
	AccountingPeriodID  *string           `json:"accounting_period_id,omitempty"`
	CreatedBy           string            `json:"created_by"`
	ApprovedBy          *string           `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time        `json:"approved_at,omitempty"`
	AuditLog            []AuditEntry      `json:"audit_log,omitempty"`
	Version             int64             `json:"version"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func newVoucherResponse(v Voucher) voucherResponse {
	return voucherResponse{
		ID:                  v.ID,
		Number:              v.Number,
		Type:                v.Type,
		Status:              v.Status,
		Date:                v.Date.Format(dateLayout),
		Currency:            v.Currency,
		TransactionCurrency: v.TransactionCurrency,
		ExchangeRate:        v.ExchangeRate,
		TotalDebit:          v.TotalDebit,
		TotalCredit:         v.TotalCredit,
		Lines:               v.Lines,
		Header:              v.Header,
		Extensions:          v.Extensions,
		StatusReason:        v.StatusReason,
		AccountingPeriodID:  v.AccountingPeriodID,
		CreatedBy:           v.CreatedBy,
		ApprovedBy:          v.ApprovedBy,
		ApprovedAt:          v.ApprovedAt,
		AuditLog:            v.AuditLog,
		Version:             v.Version,
		UpdatedAt:           v.UpdatedAt,
	}
}

type saveVoucherResponse struct {
	ID       string        `json:"id"`
	Status   VoucherStatus `json:"status"`
	Number   string        `json:"number,omitempty"`
	Replayed bool          `json:"replayed,omitempty"`
}

type statusResponse struct {
	ID          string        `json:"id"`
	Status      VoucherStatus `json:"status"`
	Number      string        `json:"number,omitempty"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	LockedAt    *time.Time    `json:"locked_at,omitempty"`
	CanceledAt  *time.Time    `json:"canceled_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type periodResponse struct {
	ID                     string       `json:"id"`
	Name                   string       `json:"name"`
	StartDate              string       `json:"start_date"`
	EndDate                string       `json:"end_date"`
	Status                 PeriodStatus `json:"status"`
	IsFiscalYear           bool         `json:"is_fiscal_year"`
	YearClosed             bool         `json:"year_closed"`
	OpeningBalancesCreated bool         `json:"opening_balances_created"`
	ClosedAt               *time.Time   `json:"closed_at,omitempty"`
	ClosedBy               *string      `json:"closed_by,omitempty"`
}

func newPeriodResponse(p Period) periodResponse {
	return periodResponse{
		ID:                     p.ID,
		Name:                   p.Name,
		StartDate:              p.StartDate.Format(dateLayout),
		EndDate:                p.EndDate.Format(dateLayout),
		Status:                 p.Status,
		IsFiscalYear:           p.IsFiscalYear,
		YearClosed:             p.YearClosed,
		OpeningBalancesCreated: p.OpeningBalancesCreated,
		ClosedAt:               p.ClosedAt,
		ClosedBy:               p.ClosedBy,
	}
}

type accountResponse struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Type             AccountType     `json:"type"`
	ParentID         *string         `json:"parent_id,omitempty"`
	IsParent         bool            `json:"is_parent"`
	IsProtected      bool            `json:"is_protected"`
	IsActive         bool            `json:"is_active"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	CustodianUserIDs []string        `json:"custodian_user_ids,omitempty"`
}

func newAccountResponse(a Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		Code:             a.Code,
		Name:             a.Name,
		Type:             a.Type,
		ParentID:         a.ParentID,
		IsParent:         a.IsParent,
		IsProtected:      a.IsProtected,
		IsActive:         a.IsActive,
		CurrentBalance:   a.CurrentBalance,
		CustodianUserIDs: a.CustodianUserIDs,
	}
}

type yearCloseResponse struct {
	SourcePeriodID            string          `json:"source_period_id"`
	NextPeriodID              string          `json:"next_period_id"`
	NextPeriodCreated         bool            `json:"next_period_created"`
	NetProfit                 decimal.Decimal `json:"net_profit"`
	RetainedEarningsAccountID string          `json:"retained_earnings_account_id"`
	OpeningLines              int             `json:"opening_lines"`
}
