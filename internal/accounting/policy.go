package accounting

import (
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

var (
	approverRoles  = []Role{RoleOwner, RoleAdmin, RoleManager}
	submitterRoles = []Role{RoleOwner, RoleAdmin, RoleManager, RoleAccountant}
	elevatedRoles  = []Role{RoleOwner, RoleAdmin}
)

func hasRole(actor Actor, roles ...Role) bool {
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}

func isCreator(actor Actor, v Voucher) bool {
	return actor.UserID != "" && actor.UserID == v.CreatedBy
}

// ReceiverActing reports whether receiver self-approval applies: the policy is
// enabled and the actor is the sole custodian of every receiving account.
func ReceiverActing(actor Actor, receiving []Account, settings CompanySettings) bool {
	if !settings.AutoApproveWhenReceiverIsActing || len(receiving) == 0 {
		return false
	}
	for _, account := range receiving {
		if !account.SoleCustodian(actor.UserID) {
			return false
		}
	}
	return true
}

func receivingCustodian(actor Actor, receiving []Account) bool {
	if len(receiving) == 0 {
		return false
	}
	for _, account := range receiving {
		found := false
		for _, id := range account.CustodianUserIDs {
			if id == actor.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EditChange classifies what an edit touches.
type EditChange struct {
	Amount  bool
	Fx      bool
	Account bool
	Other   bool
}

// Financial reports whether the edit alters balance impact or posting date.
func (c EditChange) Financial() bool {
	return c.Amount || c.Fx || c.Account
}

// ClassifyEdit compares the persisted voucher with the edited one.
func ClassifyEdit(before, after Voucher) EditChange {
	var c EditChange
	if before.TransactionCurrency != after.TransactionCurrency || !before.ExchangeRate.Equal(after.ExchangeRate) {
		c.Fx = true
	}
	if before.Type != after.Type || !truncateDay(before.Date).Equal(truncateDay(after.Date)) {
		c.Account = true
	}
	if len(before.Lines) != len(after.Lines) {
		c.Amount = true
		c.Account = true
	} else {
		for i := range before.Lines {
			b, a := before.Lines[i], after.Lines[i]
			if b.AccountID != a.AccountID || b.Side != a.Side {
				c.Account = true
			}
			if !b.Amount.Equal(a.Amount) {
				c.Amount = true
			}
			if (b.FxAmount == nil) != (a.FxAmount == nil) || (b.FxAmount != nil && !b.FxAmount.Equal(*a.FxAmount)) {
				c.Fx = true
			}
			if b.Notes != a.Notes {
				c.Other = true
			}
		}
	}
	if before.Header != after.Header || !sameExtensions(before.Extensions, after.Extensions) {
		c.Other = true
	}
	return c
}

func sameExtensions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// AuthorizeEdit decides whether actor may apply change to v.
func AuthorizeEdit(v Voucher, actor Actor, settings CompanySettings, receiving []Account, change EditChange) error {
	switch v.Status {
	case VoucherStatusCanceled:
		return shared.ErrVoucherCanceled
	case VoucherStatusLocked:
		if !settings.AllowLockedVoucherEdits {
			return shared.ErrVoucherLocked
		}
		if !hasRole(actor, elevatedRoles...) {
			return shared.ErrPermissionDenied.WithMessage("locked vouchers are editable by owner or admin only")
		}
		return nil
	case VoucherStatusApproved:
		if !change.Financial() {
			if hasRole(actor, approverRoles...) || isCreator(actor, v) {
				return nil
			}
			return shared.ErrPermissionDenied.WithMessage("actor cannot edit approved voucher")
		}
		return authorizeApprovedFinancial(v, actor, settings, receiving)
	default:
		if hasRole(actor, submitterRoles...) || isCreator(actor, v) {
			return nil
		}
		return shared.ErrPermissionDenied.WithMessage("actor cannot edit voucher")
	}
}

func authorizeApprovedFinancial(v Voucher, actor Actor, settings CompanySettings, receiving []Account) error {
	switch settings.ApprovalEditPolicy {
	case ApprovalEditOpen:
		if hasRole(actor, elevatedRoles...) || isCreator(actor, v) {
			return nil
		}
	case ApprovalEditReceiverOnly:
		if hasRole(actor, elevatedRoles...) || isCreator(actor, v) || receivingCustodian(actor, receiving) {
			return nil
		}
	default:
		return shared.ErrApprovedEditBlocked
	}
	return shared.ErrPermissionDenied.WithMessage("actor cannot change approved voucher under %s policy", settings.ApprovalEditPolicy)
}

// AuthorizeDelete decides whether actor may delete v.
func AuthorizeDelete(v Voucher, actor Actor, settings CompanySettings, receiving []Account) error {
	switch v.Status {
	case VoucherStatusApproved:
		return authorizeApprovedFinancial(v, actor, settings, receiving)
	case VoucherStatusLocked:
		if !settings.AllowLockedVoucherEdits {
			return shared.ErrVoucherLocked
		}
		if !hasRole(actor, elevatedRoles...) {
			return shared.ErrPermissionDenied.WithMessage("locked vouchers are deletable by owner or admin only")
		}
		if actor.Role != RoleOwner && !settings.AllowApprovedVoucherDeletion {
			return shared.ErrVoucherLocked.WithMessage("locked voucher can only be deleted by the owner")
		}
		return nil
	default:
		if hasRole(actor, approverRoles...) || isCreator(actor, v) {
			return nil
		}
		return shared.ErrPermissionDenied.WithMessage("actor cannot delete voucher")
	}
}
