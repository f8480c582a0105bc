package shared

// Ledger permissions checked before every engine operation.
const (
	PermVoucherCreate  = "voucher.create"
	PermVoucherEdit    = "voucher.edit"
	PermVoucherSubmit  = "voucher.submit"
	PermVoucherApprove = "voucher.approve"
	PermVoucherReject  = "voucher.reject"
	PermVoucherCancel  = "voucher.cancel"
	PermVoucherLock    = "voucher.lock"
	PermVoucherDelete  = "voucher.delete"
	PermVoucherView    = "voucher.view"

	PermReportTrialBalance  = "report.trialBalance"
	PermReportGeneralLedger = "report.generalLedger"
	PermReportProfitAndLoss = "report.profitAndLoss"
	PermReportBalanceSheet  = "report.balanceSheet"

	PermPeriodCreate    = "period.create"
	PermPeriodClose     = "period.close"
	PermPeriodReopen    = "period.reopen"
	PermFiscalYearClose = "fiscalYear.close"

	PermAccountManage = "account.manage"
)

// VoucherScopes lists permissions that act on vouchers.
func VoucherScopes() []string {
	return []string{
		PermVoucherCreate,
		PermVoucherEdit,
		PermVoucherSubmit,
		PermVoucherApprove,
		PermVoucherReject,
		PermVoucherCancel,
		PermVoucherLock,
		PermVoucherDelete,
		PermVoucherView,
	}
}

// ReportScopes lists report permissions.
func ReportScopes() []string {
	return []string{
		PermReportTrialBalance,
		PermReportGeneralLedger,
		PermReportProfitAndLoss,
		PermReportBalanceSheet,
	}
}

// PeriodScopes lists period and year-end permissions.
func PeriodScopes() []string {
	return []string{
		PermPeriodCreate,
		PermPeriodClose,
		PermPeriodReopen,
		PermFiscalYearClose,
		PermAccountManage,
	}
}

// LedgerScopes lists every ledger permission.
func LedgerScopes() []string {
	out := append([]string{}, VoucherScopes()...)
	out = append(out, ReportScopes()...)
	return append(out, PeriodScopes()...)
}
