package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a ledger failure for callers and transport mapping.
type Kind string

const (
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindFailedPrecondition Kind = "FAILED_PRECONDITION"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindNotFound           Kind = "NOT_FOUND"
	KindInternal           Kind = "INTERNAL"
)

// Error carries a stable reason code next to the human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("accounting: %s: %v", e.Message, e.Err)
	}
	return "accounting: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on reason code so wrapped copies with a different message still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// ErrInvalidInput indicates malformed or missing input.
	ErrInvalidInput = newError(KindInvalidArgument, "INVALID_INPUT", "invalid input")
	// ErrSourceLineCount indicates the voucher does not have exactly one source line.
	ErrSourceLineCount = newError(KindInvalidArgument, "SOURCE_LINE_COUNT", "expected exactly one source line")
	// ErrDestinationLineMissing indicates no destination line was supplied.
	ErrDestinationLineMissing = newError(KindInvalidArgument, "DESTINATION_LINE_MISSING", "expected at least one destination line")
	// ErrInvalidLineAmount indicates a zero or negative line amount.
	ErrInvalidLineAmount = newError(KindInvalidArgument, "INVALID_LINE_AMOUNT", "line amount must be positive")
	// ErrInvalidCurrency indicates an unknown currency or exchange rate.
	ErrInvalidCurrency = newError(KindInvalidArgument, "INVALID_CURRENCY", "invalid currency or exchange rate")

	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = newError(KindFailedPrecondition, "VOUCHER_NOT_BALANCED", "voucher not balanced")
	// ErrProtectedAccount indicates a posting to a protected account.
	ErrProtectedAccount = newError(KindFailedPrecondition, "PROTECTED_ACCOUNT_NO_POST", "protected account cannot be posted to")
	// ErrParentAccount indicates a posting to a parent account.
	ErrParentAccount = newError(KindFailedPrecondition, "PARENT_ACCOUNT_NO_POST", "parent account cannot be posted to")
	// ErrInactiveAccount indicates a posting to a deactivated account.
	ErrInactiveAccount = newError(KindFailedPrecondition, "INACTIVE_ACCOUNT_NO_POST", "inactive account cannot be posted to")
	// ErrCashTransferParent indicates cash transfer lines outside the cash-box parent.
	ErrCashTransferParent = newError(KindFailedPrecondition, "CASH_TRANSFER_PARENT_MISMATCH", "cash transfer accounts must share the cash box parent")
	// ErrNoOpenPeriod indicates no open period starts on or before the voucher date.
	ErrNoOpenPeriod = newError(KindFailedPrecondition, "NO_OPEN_PERIOD_FOR_DATE", "no open period for date")
	// ErrPeriodClosedForDate indicates the covering open period ends before the voucher date.
	ErrPeriodClosedForDate = newError(KindFailedPrecondition, "PERIOD_CLOSED_FOR_DATE", "period closed for date")
	// ErrIllegalTransition indicates the status change is not a legal edge.
	ErrIllegalTransition = newError(KindFailedPrecondition, "ILLEGAL_TRANSITION", "invalid status transition")
	// ErrVoucherLocked indicates an edit to a locked voucher.
	ErrVoucherLocked = newError(KindFailedPrecondition, "VOUCHER_LOCKED", "voucher is locked")
	// ErrApprovedEditBlocked indicates approved voucher edits are disabled by policy.
	ErrApprovedEditBlocked = newError(KindFailedPrecondition, "APPROVED_EDIT_BLOCKED", "approved voucher cannot be edited")
	// ErrVoucherCanceled indicates a change to a canceled voucher.
	ErrVoucherCanceled = newError(KindFailedPrecondition, "VOUCHER_CANCELED", "voucher is canceled")
	// ErrPeriodOverlap indicates the requested period conflicts with an open range.
	ErrPeriodOverlap = newError(KindFailedPrecondition, "PERIOD_OVERLAP", "period overlaps existing open range")
	// ErrInvalidPeriodTransition indicates the period status change is not allowed.
	ErrInvalidPeriodTransition = newError(KindFailedPrecondition, "INVALID_PERIOD_TRANSITION", "period transition invalid")
	// ErrYearCloseNotAllowed indicates a fiscal-year close precondition failed.
	ErrYearCloseNotAllowed = newError(KindFailedPrecondition, "YEAR_CLOSE_NOT_ALLOWED", "fiscal year cannot be closed")
	// ErrAccountHierarchyLocked indicates a child added under an account that already carries postings.
	ErrAccountHierarchyLocked = newError(KindFailedPrecondition, "ACCOUNT_HIERARCHY_LOCKED", "account hierarchy locked by postings")
	// ErrDuplicateAccountCode indicates the account code is already used in the company.
	ErrDuplicateAccountCode = newError(KindFailedPrecondition, "DUPLICATE_ACCOUNT_CODE", "account code already exists")
	// ErrIdempotencyKeyReused indicates the idempotency key was first used for a different voucher.
	ErrIdempotencyKeyReused = newError(KindFailedPrecondition, "IDEMPOTENCY_KEY_REUSED", "idempotency key already used for a different voucher")
	// ErrRetainedEarningsMissing indicates no retained earnings account can be resolved.
	ErrRetainedEarningsMissing = newError(KindFailedPrecondition, "RETAINED_EARNINGS_ACCOUNT_MISSING", "retained earnings account not configured")

	// ErrPermissionDenied indicates the actor lacks the required role or permission.
	ErrPermissionDenied = newError(KindPermissionDenied, "PERMISSION_DENIED", "permission denied")

	// ErrVoucherNotFound indicates a missing voucher.
	ErrVoucherNotFound = newError(KindNotFound, "VOUCHER_NOT_FOUND", "voucher not found")
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = newError(KindNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = newError(KindNotFound, "PERIOD_NOT_FOUND", "period not found")

	// ErrInternal indicates an unexpected collaborator failure.
	ErrInternal = newError(KindInternal, "INTERNAL", "internal error")
)

// Internal wraps an unexpected collaborator error, keeping already-classified errors as they are.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Code: ErrInternal.Code, Message: ErrInternal.Message, Err: err}
}

// KindOf reports the classification of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the reason code of err, defaulting to INTERNAL.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// HTTPStatus maps the error kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindFailedPrecondition:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ReasonCode exposes Code to transport layers.
func (e *Error) ReasonCode() string { return e.Code }
