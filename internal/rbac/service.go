package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ErrNotFound indicates that the user has no membership in the company.
var ErrNotFound = errors.New("rbac: not found")

// MembershipStore resolves a user's role within a company.
type MembershipStore interface {
	RoleOf(ctx context.Context, companyID, userID string) (string, error)
}

// PgMemberships reads memberships from the ledger_memberships table.
type PgMemberships struct {
	pool *pgxpool.Pool
}

// NewPgMemberships constructs a Postgres-backed MembershipStore.
func NewPgMemberships(pool *pgxpool.Pool) *PgMemberships {
	return &PgMemberships{pool: pool}
}

// RoleOf returns the member's role.
func (s *PgMemberships) RoleOf(ctx context.Context, companyID, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM ledger_memberships WHERE company_id=$1 AND user_id=$2`, companyID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("rbac: role of %s: %w", userID, err)
	}
	return role, nil
}

// Grant upserts a membership.
func (s *PgMemberships) Grant(ctx context.Context, m Membership) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ledger_memberships (company_id, user_id, role) VALUES ($1,$2,$3)
ON CONFLICT (company_id, user_id) DO UPDATE SET role=EXCLUDED.role`, m.CompanyID, m.UserID, strings.ToUpper(m.Role))
	return err
}

// StaticMemberships is an in-memory MembershipStore for local runs and tests.
type StaticMemberships struct {
	mu      sync.RWMutex
	members map[string]string
}

// NewStaticMemberships seeds the store.
func NewStaticMemberships(members ...Membership) *StaticMemberships {
	s := &StaticMemberships{members: make(map[string]string, len(members))}
	for _, m := range members {
		_ = s.Grant(context.Background(), m)
	}
	return s
}

func membershipKey(companyID, userID string) string { return companyID + "\x00" + userID }

// RoleOf returns the member's role.
func (s *StaticMemberships) RoleOf(_ context.Context, companyID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.members[membershipKey(companyID, userID)]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

// Grant upserts a membership.
func (s *StaticMemberships) Grant(_ context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[membershipKey(m.CompanyID, m.UserID)] = strings.ToUpper(m.Role)
	return nil
}

// Checker answers ledger permission checks from memberships and a role matrix.
type Checker struct {
	store  MembershipStore
	matrix Matrix
	logger *slog.Logger
}

// NewChecker constructs a Checker. A nil matrix falls back to DefaultMatrix.
func NewChecker(store MembershipStore, matrix Matrix, logger *slog.Logger) *Checker {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, matrix: matrix, logger: logger}
}

// RoleOf resolves the actor's role in the company.
func (c *Checker) RoleOf(ctx context.Context, companyID, userID string) (string, error) {
	return c.store.RoleOf(ctx, companyID, userID)
}

// AssertAllowed fails with PERMISSION_DENIED unless the member's role grants permission.
func (c *Checker) AssertAllowed(ctx context.Context, actorID, companyID, permission string) error {
	role, err := c.store.RoleOf(ctx, companyID, actorID)
	if errors.Is(err, ErrNotFound) {
		return ledgererr.ErrPermissionDenied.WithMessage("%s is not a member of %s", actorID, companyID)
	}
	if err != nil {
		c.logger.Error("rbac membership lookup", slog.String("company_id", companyID), slog.Any("error", err))
		return err
	}
	if !c.matrix.Allows(role, permission) {
		return ledgererr.ErrPermissionDenied.WithMessage("%s not granted to %s", permission, strings.ToLower(role))
	}
	return nil
}
