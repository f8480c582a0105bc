package accounting

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// DebitNature reports whether balances of this type grow on the debit side.
func (t AccountType) DebitNature() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// VoucherStatus enumerates voucher lifecycle values.
type VoucherStatus string

const (
	VoucherStatusDraft    VoucherStatus = "DRAFT"
	VoucherStatusPending  VoucherStatus = "PENDING"
	VoucherStatusApproved VoucherStatus = "APPROVED"
	VoucherStatusLocked   VoucherStatus = "LOCKED"
	VoucherStatusCanceled VoucherStatus = "CANCELED"
)

// Effective reports whether the status carries balance impact.
func (s VoucherStatus) Effective() bool {
	return s == VoucherStatusApproved || s == VoucherStatusLocked
}

// FinancialEffect reports whether entering the status requires period gating and validation.
func (s VoucherStatus) FinancialEffect() bool {
	return s == VoucherStatusPending || s == VoucherStatusApproved || s == VoucherStatusLocked
}

// ParseVoucherStatus normalises a client supplied status.
func ParseVoucherStatus(raw string) (VoucherStatus, bool) {
	status := VoucherStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case VoucherStatusDraft, VoucherStatusPending, VoucherStatusApproved, VoucherStatusLocked, VoucherStatusCanceled:
		return status, true
	}
	return "", false
}

// VoucherType names the business document a voucher represents.
type VoucherType string

const (
	VoucherTypeJournal           VoucherType = "Journal"
	VoucherTypeReceipt           VoucherType = "Receipt"
	VoucherTypePayment           VoucherType = "Payment"
	VoucherTypeCashTransfer      VoucherType = "Cash Transfer"
	VoucherTypePartnerWithdrawal VoucherType = "Partner Withdrawal"
	VoucherTypeExpense           VoucherType = "Expense"
	VoucherTypeSalesInvoice      VoucherType = "Sales Invoice"
	VoucherTypePurchaseInvoice   VoucherType = "Purchase Invoice"
)

// Side marks a line as debit or credit.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Role is the actor's company role as resolved by the session layer.
type Role string

const (
	RoleOwner      Role = "OWNER"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleAccountant Role = "ACCOUNTANT"
	RoleViewer     Role = "VIEWER"
)

// Actor identifies who performs an operation.
type Actor struct {
	UserID string
	Role   Role
}

// BalanceEpsilon is the tolerated debit/credit difference in base currency.
var BalanceEpsilon = decimal.New(1, -4)

// Account models a chart of accounts node.
type Account struct {
	ID                  string
	CompanyID           string
	Code                string
	Name                string
	Type                AccountType
	ParentID            *string
	IsParent            bool
	IsProtected         bool
	IsActive            bool
	IsLockedForChildren bool
	CurrentBalance      decimal.Decimal
	CustodianUserIDs    []string
	// ReportSection overrides the default P&L / balance sheet section for the account.
	ReportSection string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Postable reports whether a voucher line may reference the account.
func (a Account) Postable() bool {
	return a.IsActive && !a.IsParent && !a.IsProtected
}

// SoleCustodian reports whether userID is the only custodian of the account.
func (a Account) SoleCustodian(userID string) bool {
	return userID != "" && len(a.CustodianUserIDs) == 1 && a.CustodianUserIDs[0] == userID
}

// Period represents an accounting period window.
type Period struct {
	ID                     string
	CompanyID              string
	Name                   string
	StartDate              time.Time
	EndDate                time.Time
	Status                 PeriodStatus
	IsFiscalYear           bool
	YearClosed             bool
	OpeningBalancesCreated bool
	ClosedAt               *time.Time
	ClosedBy               *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Contains reports whether date falls inside the period, by calendar day.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return !truncateDay(p.StartDate).After(truncateDay(other.EndDate)) &&
		!truncateDay(other.StartDate).After(truncateDay(p.EndDate))
}

// VoucherLine stores a debit or credit amount for an account.
type VoucherLine struct {
	AccountID string           `json:"account_id"`
	Side      Side             `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	FxAmount  *decimal.Decimal `json:"fx_amount,omitempty"`
	Notes     string           `json:"notes,omitempty"`
}

// Delta returns the signed balance impact of the line.
func (l VoucherLine) Delta() decimal.Decimal {
	if l.Side == SideCredit {
		return l.Amount.Neg()
	}
	return l.Amount
}

// VoucherHeader carries descriptive fields shared by every voucher type.
type VoucherHeader struct {
	Reference    string `json:"reference,omitempty"`
	Description  string `json:"description,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
}

// AuditEntry records a single change on the voucher itself.
type AuditEntry struct {
	At      time.Time     `json:"at"`
	ActorID string        `json:"actor_id"`
	Action  string        `json:"action"`
	From    VoucherStatus `json:"from,omitempty"`
	To      VoucherStatus `json:"to,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Voucher captures a financial transaction made of balanced lines.
type Voucher struct {
	ID                  string
	CompanyID           string
	Type                VoucherType
	Date                time.Time
	Currency            string
	TransactionCurrency string
	ExchangeRate        decimal.Decimal
	Lines               []VoucherLine
	Status              VoucherStatus
	Number              string
	TotalDebit          decimal.Decimal
	TotalCredit         decimal.Decimal
	FxTotalDebit        *decimal.Decimal
	FxTotalCredit       *decimal.Decimal
	Header              VoucherHeader
	// Extensions holds type-specific header fields, e.g. "due_date" on invoices.
	Extensions         map[string]string
	CreatedBy          string
	SubmittedBy        *string
	ApprovedBy         *string
	LockedBy           *string
	StatusReason       string
	AccountingPeriodID *string
	AuditLog           []AuditEntry
	SubmittedAt        *time.Time
	ApprovedAt         *time.Time
	LockedAt           *time.Time
	CanceledAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// Clone returns a deep copy so stores and callers never share slices.
func (v Voucher) Clone() Voucher {
	out := v
	out.Lines = append([]VoucherLine(nil), v.Lines...)
	out.AuditLog = append([]AuditEntry(nil), v.AuditLog...)
	if v.Extensions != nil {
		out.Extensions = make(map[string]string, len(v.Extensions))
		for k, val := range v.Extensions {
			out.Extensions[k] = val
		}
	}
	return out
}

// VoucherNumberCounter holds the next sequence for a company and month.
type VoucherNumberCounter struct {
	ID         string
	NextNumber int64
}

// OpeningBalanceLine seeds an account balance at the start of a fiscal year.
type OpeningBalanceLine struct {
	CompanyID      string
	PeriodID       string
	AccountID      string
	OpeningBalance decimal.Decimal
}

// ApprovalEditPolicy controls edits of approved vouchers.
type ApprovalEditPolicy string

const (
	ApprovalEditNone         ApprovalEditPolicy = "none"
	ApprovalEditOpen         ApprovalEditPolicy = "open"
	ApprovalEditReceiverOnly ApprovalEditPolicy = "receiver_only"
)

// DefaultBaseCurrency applies when a company has no configured base currency.
const DefaultBaseCurrency = "USD"

// CompanySettings holds the policy switches consulted by the engine.
type CompanySettings struct {
	CompanyID                       string
	BaseCurrency                    string
	StrictApprovalMode              bool
	AutoApproveWhenReceiverIsActing bool
	AutoApproveOnSubmitTypes        []VoucherType
	ApprovalEditPolicy              ApprovalEditPolicy
	AllowLockedVoucherEdits         bool
	AllowApprovedVoucherDeletion    bool
	CashBoxParentAccountID          string
	RetainedEarningsAccountID       string
}

// DefaultCompanySettings returns the policy used for companies without stored settings.
func DefaultCompanySettings(companyID string) CompanySettings {
	return CompanySettings{
		CompanyID:          companyID,
		BaseCurrency:       DefaultBaseCurrency,
		ApprovalEditPolicy: ApprovalEditNone,
	}
}

// AutoApprovesOnSubmit reports whether submissions of the type fast-forward to approved.
func (c CompanySettings) AutoApprovesOnSubmit(t VoucherType) bool {
	if c.StrictApprovalMode || !cashMovingTypes[t] {
		return false
	}
	for _, candidate := range c.AutoApproveOnSubmitTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

var cashMovingTypes = map[VoucherType]bool{
	VoucherTypeReceipt:           true,
	VoucherTypePayment:           true,
	VoucherTypeCashTransfer:      true,
	VoucherTypePartnerWithdrawal: true,
}

// SaveVoucherInput describes a voucher draft submitted for create or edit.
type SaveVoucherInput struct {
	CompanyID           string
	VoucherID           string
	IdempotencyKey      string
	Type                VoucherType
	Date                time.Time
	TransactionCurrency string
	ExchangeRate        decimal.Decimal
	Lines               []VoucherLine
	Header              VoucherHeader
	Extensions          map[string]string
	Actor               Actor
}

// Validate ensures the draft meets minimum criteria.
func (in SaveVoucherInput) Validate() error {
	if strings.TrimSpace(in.CompanyID) == "" {
		return shared.ErrInvalidInput.WithMessage("company id required")
	}
	if strings.TrimSpace(in.Actor.UserID) == "" {
		return shared.ErrInvalidInput.WithMessage("actor required")
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return shared.ErrInvalidInput.WithMessage("voucher type required")
	}
	if in.Date.IsZero() {
		return shared.ErrInvalidInput.WithMessage("voucher date required")
	}
	for idx, line := range in.Lines {
		if line.Side != SideDebit && line.Side != SideCredit {
			return shared.ErrInvalidInput.WithMessage("line %d has invalid side %q", idx, line.Side)
		}
		if line.Amount.IsNegative() {
			return shared.ErrInvalidLineAmount.WithMessage("line %d negative amount", idx)
		}
		if line.FxAmount != nil && line.FxAmount.IsNegative() {
			return shared.ErrInvalidLineAmount.WithMessage("line %d negative fx amount", idx)
		}
	}
	return nil
}

// StatusChangeInput requests a voucher transition.
type StatusChangeInput struct {
	CompanyID string
	VoucherID string
	Target    VoucherStatus
	Reason    string
	Actor     Actor
}

// StatusChangeResult reports the committed status and its timestamps.
type StatusChangeResult struct {
	ID          string
	Status      VoucherStatus
	Number      string
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	LockedAt    *time.Time
	CanceledAt  *time.Time
	UpdatedAt   time.Time
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	CompanyID    string
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	IsFiscalYear bool
	Actor        Actor
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.CompanyID) == "" {
		return shared.ErrInvalidInput.WithMessage("company id required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.ErrInvalidInput.WithMessage("period name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return shared.ErrInvalidInput.WithMessage("start and end date required")
	}
	if truncateDay(in.StartDate).After(truncateDay(in.EndDate)) {
		return shared.ErrInvalidInput.WithMessage("start date cannot be after end date")
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
