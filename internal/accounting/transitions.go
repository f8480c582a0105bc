package accounting

import (
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var allowedTransitions = map[VoucherStatus][]VoucherStatus{
	VoucherStatusDraft:    {VoucherStatusPending, VoucherStatusApproved},
	VoucherStatusPending:  {VoucherStatusApproved, VoucherStatusDraft, VoucherStatusCanceled},
	VoucherStatusApproved: {VoucherStatusLocked},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to VoucherStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// TransitionPermission returns the permission code checked for a requested target status.
func TransitionPermission(to VoucherStatus) string {
	switch to {
	case VoucherStatusPending:
		return authz.PermVoucherSubmit
	case VoucherStatusApproved:
		return authz.PermVoucherApprove
	case VoucherStatusDraft:
		return authz.PermVoucherReject
	case VoucherStatusCanceled:
		return authz.PermVoucherCancel
	case VoucherStatusLocked:
		return authz.PermVoucherLock
	}
	return authz.PermVoucherEdit
}

// GuardRequest carries everything the transition guard inspects.
type GuardRequest struct {
	From      VoucherStatus
	To        VoucherStatus
	Actor     Actor
	Voucher   Voucher
	Receiving []Account
	Settings  CompanySettings
}

// ResolveTransition applies the role and policy guards and returns the status
// the voucher actually moves to, which differs from the request when a
// submission is fast-forwarded to approved.
func ResolveTransition(req GuardRequest) (VoucherStatus, error) {
	if !CanTransition(req.From, req.To) {
		return "", shared.ErrIllegalTransition.WithMessage("cannot move voucher from %s to %s", req.From, req.To)
	}
	receiver := ReceiverActing(req.Actor, req.Receiving, req.Settings)
	switch {
	case req.From == VoucherStatusDraft && req.To == VoucherStatusPending:
		if receiver {
			return VoucherStatusApproved, nil
		}
		if !hasRole(req.Actor, submitterRoles...) {
			return "", shared.ErrPermissionDenied.WithMessage("role %s cannot submit vouchers", req.Actor.Role)
		}
		if req.Settings.AutoApprovesOnSubmit(req.Voucher.Type) {
			return VoucherStatusApproved, nil
		}
		return VoucherStatusPending, nil
	case req.From == VoucherStatusPending && req.To == VoucherStatusApproved:
		if receiver || hasRole(req.Actor, approverRoles...) {
			return VoucherStatusApproved, nil
		}
		return "", shared.ErrPermissionDenied.WithMessage("role %s cannot approve vouchers", req.Actor.Role)
	case req.From == VoucherStatusDraft && req.To == VoucherStatusApproved:
		if receiver {
			return VoucherStatusApproved, nil
		}
		if req.Settings.StrictApprovalMode {
			return "", shared.ErrIllegalTransition.WithMessage("strict approval mode requires a pending stage")
		}
		if hasRole(req.Actor, approverRoles...) {
			return VoucherStatusApproved, nil
		}
		return "", shared.ErrPermissionDenied.WithMessage("role %s cannot approve vouchers", req.Actor.Role)
	case req.From == VoucherStatusPending && (req.To == VoucherStatusDraft || req.To == VoucherStatusCanceled):
		if hasRole(req.Actor, approverRoles...) || isCreator(req.Actor, req.Voucher) {
			return req.To, nil
		}
		return "", shared.ErrPermissionDenied.WithMessage("role %s cannot reject vouchers", req.Actor.Role)
	case req.From == VoucherStatusApproved && req.To == VoucherStatusLocked:
		if hasRole(req.Actor, approverRoles...) {
			return VoucherStatusLocked, nil
		}
		return "", shared.ErrPermissionDenied.WithMessage("role %s cannot lock vouchers", req.Actor.Role)
	}
	return "", shared.ErrIllegalTransition
}
