package accounting

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// creditSourced lists the cash-out voucher types whose source line sits on the credit side.
var creditSourced = map[VoucherType]bool{
	VoucherTypePayment:           true,
	VoucherTypeCashTransfer:      true,
	VoucherTypePartnerWithdrawal: true,
	VoucherTypeExpense:           true,
}

// SourceSide returns the side that carries the single source line for the voucher type.
func SourceSide(t VoucherType) Side {
	if creditSourced[t] {
		return SideCredit
	}
	return SideDebit
}

// Validation is the outcome of a successful voucher validation.
type Validation struct {
	Accounts    map[string]Account
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// ValidateVoucher checks the structure, accounts and balance of v.
// Lines must already carry base-currency amounts.
func ValidateVoucher(ctx context.Context, tx TxRepository, v Voucher, settings CompanySettings) (Validation, error) {
	source := SourceSide(v.Type)
	var sources, destinations int
	for idx, line := range v.Lines {
		if line.AccountID == "" {
			continue
		}
		if !line.Amount.IsPositive() {
			return Validation{}, shared.ErrInvalidLineAmount.WithMessage("line %d amount must be positive", idx)
		}
		if line.Side == source {
			sources++
		} else {
			destinations++
		}
	}
	if sources != 1 {
		return Validation{}, shared.ErrSourceLineCount
	}
	if destinations == 0 {
		return Validation{}, shared.ErrDestinationLineMissing
	}

	accounts := make(map[string]Account, len(v.Lines))
	for _, line := range v.Lines {
		if line.AccountID == "" {
			continue
		}
		if _, seen := accounts[line.AccountID]; seen {
			continue
		}
		account, err := tx.GetAccount(ctx, v.CompanyID, line.AccountID)
		if err != nil {
			if errors.Is(err, shared.ErrAccountNotFound) {
				return Validation{}, shared.ErrAccountNotFound.WithMessage("account %s not found", line.AccountID)
			}
			return Validation{}, shared.Internal(err)
		}
		if err := checkPostable(account); err != nil {
			return Validation{}, err
		}
		accounts[account.ID] = account
	}

	if v.Type == VoucherTypeCashTransfer {
		parent := settings.CashBoxParentAccountID
		for _, account := range accounts {
			if parent == "" || account.ParentID == nil || *account.ParentID != parent {
				return Validation{}, shared.ErrCashTransferParent.WithMessage("account %s is not under the cash box parent", account.Code)
			}
		}
	}

	debit, credit := LineTotals(v.Lines)
	if debit.Sub(credit).Abs().GreaterThan(BalanceEpsilon) {
		return Validation{}, shared.ErrUnbalanced.WithMessage("voucher not balanced: debit %s credit %s", debit.StringFixed(2), credit.StringFixed(2))
	}
	return Validation{Accounts: accounts, TotalDebit: debit, TotalCredit: credit}, nil
}

func checkPostable(account Account) error {
	switch {
	case !account.IsActive:
		return shared.ErrInactiveAccount.WithMessage("account %s is inactive", account.Code)
	case account.IsParent:
		return shared.ErrParentAccount.WithMessage("account %s is a parent account", account.Code)
	case account.IsProtected:
		return shared.ErrProtectedAccount.WithMessage("account %s is protected", account.Code)
	}
	return nil
}

// LineTotals sums base amounts per side.
func LineTotals(lines []VoucherLine) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		if line.Side == SideDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

// ReceivingAccountIDs returns the distinct accounts on the debit side of the voucher.
func ReceivingAccountIDs(v Voucher) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, line := range v.Lines {
		if line.Side != SideDebit || line.AccountID == "" || seen[line.AccountID] {
			continue
		}
		seen[line.AccountID] = true
		ids = append(ids, line.AccountID)
	}
	return ids
}
