package rbac

import (
	"errors"
	"net/http"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ActorHeader carries the authenticated user id set by the upstream gateway.
const ActorHeader = "X-Actor-ID"

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Checker *Checker
	Logger  *slog.Logger
}

// RequireMember resolves the caller's membership in the {companyID} route
// parameter and stores the principal in the request context.
func (m Middleware) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(ActorHeader))
		if userID == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		companyID := chi.URLParam(r, "companyID")
		role, err := m.Checker.RoleOf(r.Context(), companyID, userID)
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac require member", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the current member holds at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if hasAnyPermission(m.Checker.matrix[p.Role], normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
