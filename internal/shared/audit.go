package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	CompanyID string
	ActorID   string
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// ErrIncompleteAuditLog rejects entries missing their subject.
var ErrIncompleteAuditLog = errors.New("audit log requires company/action/entity/entity_id")

// Validate checks the fields every audit row needs.
func (l AuditLog) Validate() error {
	if l.CompanyID == "" || l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return ErrIncompleteAuditLog
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{db: pool}
}

const insertAuditLog = `INSERT INTO audit_logs (company_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, insertAuditLog, log.CompanyID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// MemoryAudit keeps the most recent audit entries in memory.
type MemoryAudit struct {
	mu      sync.Mutex
	limit   int
	entries []AuditLog
}

// NewMemoryAudit retains at most limit entries; limit <= 0 keeps 1000.
func NewMemoryAudit(limit int) *MemoryAudit {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryAudit{limit: limit}
}

// Record stores the entry, evicting the oldest beyond the limit.
func (m *MemoryAudit) Record(_ context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	if over := len(m.entries) - m.limit; over > 0 {
		m.entries = append([]AuditLog(nil), m.entries[over:]...)
	}
	return nil
}

// Entries returns the retained entries for one entity, oldest first. An
// empty entityID returns every entry of the company.
func (m *MemoryAudit) Entries(companyID, entityID string) []AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditLog
	for _, e := range m.entries {
		if e.CompanyID != companyID || (entityID != "" && e.EntityID != entityID) {
			continue
		}
		out = append(out, e)
	}
	return out
}
