package accounting

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// CreateAccountInput describes a new chart of accounts node.
type CreateAccountInput struct {
	CompanyID        string
	Code             string
	Name             string
	Type             AccountType
	ParentID         string
	IsParent         bool
	IsProtected      bool
	CustodianUserIDs []string
	ReportSection    string
	Actor            Actor
}

// Validate ensures the account input is coherent.
func (in CreateAccountInput) Validate() error {
	if strings.TrimSpace(in.CompanyID) == "" {
		return shared.ErrInvalidInput.WithMessage("company id required")
	}
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return shared.ErrInvalidInput.WithMessage("account code and name required")
	}
	switch in.Type {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
	default:
		return shared.ErrInvalidInput.WithMessage("unknown account type %q", in.Type)
	}
	return nil
}

// CreateAccount adds an account, marking its parent as a parent node.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, authz.PermAccountManage); err != nil {
		return Account{}, err
	}
	now := s.now().UTC()
	account := Account{
		ID:               s.newID(),
		CompanyID:        in.CompanyID,
		Code:             strings.TrimSpace(in.Code),
		Name:             strings.TrimSpace(in.Name),
		Type:             in.Type,
		IsParent:         in.IsParent,
		IsProtected:      in.IsProtected,
		IsActive:         true,
		CurrentBalance:   decimal.Zero,
		CustodianUserIDs: append([]string(nil), in.CustodianUserIDs...),
		ReportSection:    strings.TrimSpace(in.ReportSection),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if parent := strings.TrimSpace(in.ParentID); parent != "" {
		account.ParentID = &parent
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListAccounts(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		for _, a := range existing {
			if a.Code == account.Code {
				return shared.ErrDuplicateAccountCode.WithMessage("account code %s already exists", a.Code)
			}
		}
		if account.ParentID != nil {
			parent, err := tx.GetAccount(ctx, in.CompanyID, *account.ParentID)
			if err != nil {
				return err
			}
			if parent.IsLockedForChildren {
				return shared.ErrAccountHierarchyLocked.WithMessage("account %s already carries postings", parent.Code)
			}
			if !parent.IsParent {
				parent.IsParent = true
				parent.UpdatedAt = now
				if err := tx.PutAccount(ctx, parent); err != nil {
					return shared.Internal(err)
				}
			}
		}
		return tx.PutAccount(ctx, account)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, in.Actor, in.CompanyID, "account.create", account.ID, map[string]any{"code": account.Code})
	return account, nil
}

// ListAccounts returns the chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, companyID string, actor Actor) ([]Account, error) {
	if err := s.assert(ctx, actor, companyID, authz.PermVoucherView); err != nil {
		return nil, err
	}
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, companyID)
		if err != nil {
			return shared.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
	return accounts, nil
}

// GetCompanySettings returns the stored policy switches or defaults.
func (s *Service) GetCompanySettings(ctx context.Context, companyID string, actor Actor) (CompanySettings, error) {
	if err := s.assert(ctx, actor, companyID, authz.PermVoucherView); err != nil {
		return CompanySettings{}, err
	}
	var settings CompanySettings
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		settings, err = tx.GetCompanySettings(ctx, companyID)
		if err != nil {
			return shared.Internal(err)
		}
		return nil
	})
	return settings, err
}

// UpdateCompanySettings replaces the company policy switches.
func (s *Service) UpdateCompanySettings(ctx context.Context, settings CompanySettings, actor Actor) (CompanySettings, error) {
	if strings.TrimSpace(settings.CompanyID) == "" {
		return CompanySettings{}, shared.ErrInvalidInput.WithMessage("company id required")
	}
	if err := s.assert(ctx, actor, settings.CompanyID, authz.PermAccountManage); err != nil {
		return CompanySettings{}, err
	}
	if settings.BaseCurrency == "" {
		settings.BaseCurrency = DefaultBaseCurrency
	}
	unit, err := fx.ParseCurrency(settings.BaseCurrency)
	if err != nil {
		return CompanySettings{}, err
	}
	settings.BaseCurrency = unit.String()
	switch settings.ApprovalEditPolicy {
	case "":
		settings.ApprovalEditPolicy = ApprovalEditNone
	case ApprovalEditNone, ApprovalEditOpen, ApprovalEditReceiverOnly:
	default:
		return CompanySettings{}, shared.ErrInvalidInput.WithMessage("unknown approval edit policy %q", settings.ApprovalEditPolicy)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range []string{settings.CashBoxParentAccountID, settings.RetainedEarningsAccountID} {
			if id == "" {
				continue
			}
			if _, err := tx.GetAccount(ctx, settings.CompanyID, id); err != nil {
				return err
			}
		}
		return tx.PutCompanySettings(ctx, settings)
	})
	if err != nil {
		return CompanySettings{}, err
	}
	s.record(ctx, actor, settings.CompanyID, "settings.update", settings.CompanyID, map[string]any{
		"strict_approval_mode": settings.StrictApprovalMode,
		"approval_edit_policy": settings.ApprovalEditPolicy,
	})
	return settings, nil
}
