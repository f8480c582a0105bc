// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Classified is implemented by domain errors that know their response status.
type Classified interface {
	error
	HTTPStatus() int
	ReasonCode() string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var classified Classified
	switch {
	case errors.As(err, &classified):
		status := classified.HTTPStatus()
		detail := classified.Error()
		if status >= http.StatusInternalServerError {
			detail = ""
		}
		CodedProblem(w, status, http.StatusText(status), detail, classified.ReasonCode())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
