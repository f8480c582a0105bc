package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client key for voucher creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires finance ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/companies/{companyID}", func(r chi.Router) {
		r.Use(h.rbac.RequireMember)

		r.Post("/vouchers", h.createVoucher)
		r.Get("/vouchers/{id}", h.getVoucher)
		r.Put("/vouchers/{id}", h.updateVoucher)
		r.Delete("/vouchers/{id}", h.deleteVoucher)
		r.Post("/vouchers/{id}/status", h.changeStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(authz.ReportScopes()...))
			r.Get("/reports/trial-balance", h.trialBalance)
			r.Get("/reports/general-ledger", h.generalLedger)
			r.Get("/reports/profit-and-loss", h.profitAndLoss)
			r.Get("/reports/balance-sheet", h.balanceSheet)
		})

		r.Get("/periods", h.listPeriods)
		r.Post("/periods", h.createPeriod)
		r.Post("/periods/{id}/close", h.closePeriod)
		r.Post("/periods/{id}/reopen", h.reopenPeriod)
		r.Post("/periods/{id}/close-year", h.closeYear)

		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
	})
}

func actorFrom(r *http.Request) Actor {
	p, _ := authz.PrincipalFromContext(r.Context())
	return Actor{UserID: p.UserID, Role: Role(p.Role)}
}

func (h *Handler) decode(r *http.Request, dest any) error {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		return shared.ErrInvalidInput.WithMessage("malformed body: %v", err)
	}
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.ErrInvalidInput.WithMessage("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return shared.ErrInvalidInput.WithMessage("%v", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) createVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create voucher", err)
		return
	}
	in := req.toInput(chi.URLParam(r, "companyID"), "", actorFrom(r))
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	res, err := h.service.SaveVoucher(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create voucher", err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, saveVoucherResponse(res))
}

func (h *Handler) updateVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update voucher", err)
		return
	}
	in := req.toInput(chi.URLParam(r, "companyID"), chi.URLParam(r, "id"), actorFrom(r))
	res, err := h.service.SaveVoucher(r.Context(), in)
	if err != nil {
		h.fail(w, r, "update voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saveVoucherResponse(res))
}

func (h *Handler) getVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetVoucher(r.Context(), chi.URLParam(r, "companyID"), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		h.fail(w, r, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newVoucherResponse(v))
}

func (h *Handler) deleteVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.DeleteVoucher(r.Context(), DeleteVoucherInput{
		CompanyID: chi.URLParam(r, "companyID"),
		VoucherID: chi.URLParam(r, "id"),
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, "delete voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "change voucher status", err)
		return
	}
	target, ok := ParseVoucherStatus(req.Status)
	if !ok {
		h.fail(w, r, "change voucher status", shared.ErrInvalidInput.WithMessage("unknown status %q", req.Status))
		return
	}
	res, err := h.service.ChangeVoucherStatus(r.Context(), StatusChangeInput{
		CompanyID: chi.URLParam(r, "companyID"),
		VoucherID: chi.URLParam(r, "id"),
		Target:    target,
		Reason:    req.Reason,
		Actor:     actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, "change voucher status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse(res))
}

func reportQuery(r *http.Request) ReportQuery {
	return ReportQuery{
		CompanyID: chi.URLParam(r, "companyID"),
		PeriodID:  r.URL.Query().Get("period_id"),
		AccountID: r.URL.Query().Get("account_id"),
		Actor:     actorFrom(r),
	}
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetTrialBalance(r.Context(), reportQuery(r))
	if err != nil {
		h.fail(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) generalLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetGeneralLedger(r.Context(), reportQuery(r))
	if err != nil {
		h.fail(w, r, "general ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetProfitAndLoss(r.Context(), reportQuery(r))
	if err != nil {
		h.fail(w, r, "profit and loss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetBalanceSheet(r.Context(), reportQuery(r))
	if err != nil {
		h.fail(w, r, "balance sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.ListPeriods(r.Context(), chi.URLParam(r, "companyID"), actorFrom(r))
	if err != nil {
		h.fail(w, r, "list periods", err)
		return
	}
	out := make([]periodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, newPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	start, _ := time.Parse(dateLayout, req.StartDate)
	end, _ := time.Parse(dateLayout, req.EndDate)
	period, err := h.service.CreateAccountingPeriod(r.Context(), CreatePeriodInput{
		CompanyID:    chi.URLParam(r, "companyID"),
		Name:         req.Name,
		StartDate:    start,
		EndDate:      end,
		IsFiscalYear: req.IsFiscalYear,
		Actor:        actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newPeriodResponse(period))
}

func periodAction(r *http.Request) PeriodActionInput {
	return PeriodActionInput{CompanyID: chi.URLParam(r, "companyID"), PeriodID: chi.URLParam(r, "id"), Actor: actorFrom(r)}
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.service.CloseAccountingPeriod(r.Context(), periodAction(r))
	if err != nil {
		h.fail(w, r, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPeriodResponse(period))
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.service.ReopenAccountingPeriod(r.Context(), periodAction(r))
	if err != nil {
		h.fail(w, r, "reopen period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPeriodResponse(period))
}

func (h *Handler) closeYear(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CloseFiscalYear(r.Context(), periodAction(r))
	if err != nil {
		h.fail(w, r, "close fiscal year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, yearCloseResponse{
		SourcePeriodID:            res.SourcePeriodID,
		NextPeriodID:              res.NextPeriodID,
		NextPeriodCreated:         res.NextPeriodCreated,
		NetProfit:                 res.NetProfit,
		RetainedEarningsAccountID: res.RetainedEarningsAccountID,
		OpeningLines:              len(res.OpeningLines),
	})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context(), chi.URLParam(r, "companyID"), actorFrom(r))
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		CompanyID:        chi.URLParam(r, "companyID"),
		Code:             req.Code,
		Name:             req.Name,
		Type:             AccountType(req.Type),
		ParentID:         req.ParentID,
		IsParent:         req.IsParent,
		IsProtected:      req.IsProtected,
		CustodianUserIDs: req.CustodianUserIDs,
		ReportSection:    req.ReportSection,
		Actor:            actorFrom(r),
	})
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.GetCompanySettings(r.Context(), chi.URLParam(r, "companyID"), actorFrom(r))
	if err != nil {
		h.fail(w, r, "get settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSettingsResponse(settings))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update settings", err)
		return
	}
	types := make([]VoucherType, 0, len(req.AutoApproveOnSubmitTypes))
	for _, t := range req.AutoApproveOnSubmitTypes {
		types = append(types, VoucherType(t))
	}
	settings, err := h.service.UpdateCompanySettings(r.Context(), CompanySettings{
		CompanyID:                       chi.URLParam(r, "companyID"),
		BaseCurrency:                    req.BaseCurrency,
		StrictApprovalMode:              req.StrictApprovalMode,
		AutoApproveWhenReceiverIsActing: req.AutoApproveWhenReceiverIsActing,
		AutoApproveOnSubmitTypes:        types,
		ApprovalEditPolicy:              ApprovalEditPolicy(req.ApprovalEditPolicy),
		AllowLockedVoucherEdits:         req.AllowLockedVoucherEdits,
		AllowApprovedVoucherDeletion:    req.AllowApprovedVoucherDeletion,
		CashBoxParentAccountID:          req.CashBoxParentAccountID,
		RetainedEarningsAccountID:       req.RetainedEarningsAccountID,
	}, actorFrom(r))
	if err != nil {
		h.fail(w, r, "update settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newSettingsResponse(settings))
}

func newSettingsResponse(s CompanySettings) settingsRequest {
	types := make([]string, 0, len(s.AutoApproveOnSubmitTypes))
	for _, t := range s.AutoApproveOnSubmitTypes {
		types = append(types, string(t))
	}
	return settingsRequest{
		BaseCurrency:                    s.BaseCurrency,
		StrictApprovalMode:              s.StrictApprovalMode,
		AutoApproveWhenReceiverIsActing: s.AutoApproveWhenReceiverIsActing,
		AutoApproveOnSubmitTypes:        types,
		ApprovalEditPolicy:              string(s.ApprovalEditPolicy),
		AllowLockedVoucherEdits:         s.AllowLockedVoucherEdits,
		AllowApprovedVoucherDeletion:    s.AllowApprovedVoucherDeletion,
		CashBoxParentAccountID:          s.CashBoxParentAccountID,
		RetainedEarningsAccountID:       s.RetainedEarningsAccountID,
	}
}
