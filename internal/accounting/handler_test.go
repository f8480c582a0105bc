package accounting_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
}

func newAPI(t *testing.T) (*fixture, *apiClient) {
	t.Helper()
	f := newFixture(t)
	members := rbac.NewStaticMemberships()
	for _, a := range allActors {
		_ = members.Grant(f.ctx, rbac.Membership{CompanyID: companyID, UserID: a.UserID, Role: string(a.Role)})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checker := rbac.NewChecker(members, nil, logger)
	svc := accounting.NewService(f.store, checker, logger)
	svc.WithNow(func() time.Time { return time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC) })
	mw := rbac.Middleware{Checker: checker, Logger: logger}
	r := chi.NewRouter()
	accounting.NewHandler(logger, svc, mw).MountRoutes(r)
	return f, &apiClient{t: t, router: r}
}

func (c *apiClient) do(method, path, actor string, body any, headers ...string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/companies/"+companyID+path, &buf)
	if actor != "" {
		req.Header.Set(rbac.ActorHeader, actor)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func journalBody(amountDebit, amountCredit string) map[string]any {
	return map[string]any{
		"type": "Journal",
		"date": "2025-01-15",
		"lines": []map[string]any{
			{"account_id": "bank", "side": "DEBIT", "amount": amountDebit},
			{"account_id": "capital", "side": "CREDIT", "amount": amountCredit},
		},
		"description": "owner funding",
	}
}

func TestHandlerVoucherLifecycle(t *testing.T) {
	f, api := newAPI(t)

	rec := api.do(http.MethodPost, "/vouchers", accountant.UserID, journalBody("250", "250"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeInto[map[string]any](t, rec)
	id := created["id"].(string)
	require.Equal(t, "DRAFT", created["status"])

	rec = api.do(http.MethodPost, "/vouchers/"+id+"/status", manager.UserID, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decodeInto[map[string]any](t, rec)
	require.Equal(t, "APPROVED", moved["status"])
	require.Equal(t, "202501-000001", moved["number"])
	require.Equal(t, "250", f.balance("bank").String())

	rec = api.do(http.MethodGet, "/vouchers/"+id, viewer.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeInto[map[string]any](t, rec)
	require.Equal(t, "2025-01-15", got["date"])
	require.Equal(t, "owner funding", got["header"].(map[string]any)["description"])

	rec = api.do(http.MethodGet, "/reports/trial-balance?period_id=fy2025", viewer.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodDelete, "/vouchers/"+id, accountant.UserID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerMapsDomainErrors(t *testing.T) {
	_, api := newAPI(t)

	rec := api.do(http.MethodPost, "/vouchers", accountant.UserID, journalBody("250", "200"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeInto[map[string]any](t, rec)["id"].(string)

	rec = api.do(http.MethodPost, "/vouchers/"+id+"/status", manager.UserID, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "VOUCHER_NOT_BALANCED", decodeInto[httpx.ProblemDetail](t, rec).Code)

	rec = api.do(http.MethodGet, "/vouchers/missing", viewer.UserID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "VOUCHER_NOT_FOUND", decodeInto[httpx.ProblemDetail](t, rec).Code)

	rec = api.do(http.MethodPost, "/vouchers/"+id+"/status", manager.UserID, map[string]string{"status": "archived"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_INPUT", decodeInto[httpx.ProblemDetail](t, rec).Code)

	rec = api.do(http.MethodPost, "/vouchers", accountant.UserID, map[string]any{"type": "Journal", "date": "15/01/2025"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, "/vouchers", viewer.UserID, journalBody("1", "1"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/vouchers", "", journalBody("1", "1"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/vouchers", "u-stranger", journalBody("1", "1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerIdempotentCreate(t *testing.T) {
	_, api := newAPI(t)

	first := api.do(http.MethodPost, "/vouchers", accountant.UserID, journalBody("10", "10"), accounting.IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := api.do(http.MethodPost, "/vouchers", accountant.UserID, journalBody("10", "10"), accounting.IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusOK, second.Code)

	a := decodeInto[map[string]any](t, first)
	b := decodeInto[map[string]any](t, second)
	require.Equal(t, a["id"], b["id"])
	require.Equal(t, true, b["replayed"])

	third := api.do(http.MethodPost, "/vouchers", accountant.UserID, journalBody("999", "999"), accounting.IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusConflict, third.Code)
	require.Equal(t, "IDEMPOTENCY_KEY_REUSED", decodeInto[httpx.ProblemDetail](t, third).Code)
}

func TestHandlerPeriodsAndSettings(t *testing.T) {
	_, api := newAPI(t)

	rec := api.do(http.MethodPost, "/periods", owner.UserID, map[string]any{
		"name": "FY 2026", "start_date": "2026-01-01", "end_date": "2026-12-31", "is_fiscal_year": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	period := decodeInto[map[string]any](t, rec)
	require.Equal(t, "OPEN", period["status"])

	rec = api.do(http.MethodPost, "/periods/"+period["id"].(string)+"/close", owner.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "CLOSED", decodeInto[map[string]any](t, rec)["status"])

	rec = api.do(http.MethodGet, "/periods", viewer.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeInto[[]map[string]any](t, rec), 2)

	rec = api.do(http.MethodPut, "/settings", owner.UserID, map[string]any{"base_currency": "eur", "approval_edit_policy": "open"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "EUR", decodeInto[map[string]any](t, rec)["base_currency"])

	rec = api.do(http.MethodPut, "/settings", owner.UserID, map[string]any{"approval_edit_policy": "sometimes"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/accounts", viewer.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeInto[[]map[string]any](t, rec), 11)
}
