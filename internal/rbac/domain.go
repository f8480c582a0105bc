package rbac

import (
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Company membership roles.
const (
	RoleOwner      = "OWNER"
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleAccountant = "ACCOUNTANT"
	RoleViewer     = "VIEWER"
)

// Membership ties a user to a company under one role.
type Membership struct {
	CompanyID string
	UserID    string
	Role      string
}

// Matrix maps a role onto the permissions it grants.
type Matrix map[string][]string

// DefaultMatrix returns the ledger role matrix. Approval is granted to
// accountants so receiving custodians can self-approve; the engine's role
// guards still restrict everyone else to managers and above.
func DefaultMatrix() Matrix {
	all := shared.LedgerScopes()
	return Matrix{
		RoleOwner: all,
		RoleAdmin: all,
		RoleManager: append(shared.VoucherScopes(), append(shared.ReportScopes(),
			shared.PermPeriodCreate,
			shared.PermPeriodClose,
			shared.PermPeriodReopen,
		)...),
		RoleAccountant: append([]string{
			shared.PermVoucherCreate,
			shared.PermVoucherEdit,
			shared.PermVoucherSubmit,
			shared.PermVoucherApprove,
			shared.PermVoucherReject,
			shared.PermVoucherCancel,
			shared.PermVoucherDelete,
			shared.PermVoucherView,
		}, shared.ReportScopes()...),
		RoleViewer: append([]string{shared.PermVoucherView}, shared.ReportScopes()...),
	}
}

// Allows reports whether role grants permission.
func (m Matrix) Allows(role, permission string) bool {
	return hasAnyPermission(m[strings.ToUpper(strings.TrimSpace(role))], normalizePermissions([]string{permission}))
}
