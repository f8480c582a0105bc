package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type codedErr struct{ status int }

func (e codedErr) Error() string      { return "boom" }
func (e codedErr) HTTPStatus() int    { return e.status }
func (e codedErr) ReasonCode() string { return "SOMETHING_FAILED" }

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondErrorUsesClassification(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("wrapped: %w", codedErr{status: http.StatusConflict}))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	body := decodeProblem(t, rec)
	require.Equal(t, "SOMETHING_FAILED", body.Code)
	require.Equal(t, "boom", body.Detail)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, codedErr{status: http.StatusInternalServerError})

	body := decodeProblem(t, rec)
	require.Equal(t, http.StatusInternalServerError, body.Status)
	require.Empty(t, body.Detail)
	require.Equal(t, "SOMETHING_FAILED", body.Code)
}

func TestRespondErrorSentinels(t *testing.T) {
	cases := map[error]int{
		ErrValidation:        http.StatusBadRequest,
		ErrForbidden:         http.StatusForbidden,
		ErrUnauthorized:      http.StatusUnauthorized,
		fmt.Errorf("unknown"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		if rec.Code != want {
			t.Fatalf("RespondError(%v) status = %d, want %d", err, rec.Code, want)
		}
	}
}
