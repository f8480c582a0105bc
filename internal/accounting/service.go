package accounting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	authz "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PermissionChecker asserts an actor holds a permission within a company.
type PermissionChecker interface {
	AssertAllowed(ctx context.Context, actorID, companyID, permission string) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log authz.AuditLog) error
}

// ChangeKind classifies a voucher change for the impact notifier.
type ChangeKind string

const (
	ChangeCreate        ChangeKind = "create"
	ChangeApprove       ChangeKind = "approve"
	ChangeReject        ChangeKind = "reject"
	ChangeEdit          ChangeKind = "edit"
	ChangeAmountChange  ChangeKind = "amount_change"
	ChangeFxChange      ChangeKind = "fx_change"
	ChangeAccountChange ChangeKind = "account_change"
	ChangeDelete        ChangeKind = "delete"
)

// Impact describes a committed voucher change for downstream fan-out.
type Impact struct {
	CompanyID       string
	Voucher         Voucher
	ActorID         string
	ChangeKind      ChangeKind
	Settings        CompanySettings
	ImpactedUserIDs []string
}

// ImpactNotifier receives committed changes. Failures never unwind the ledger.
type ImpactNotifier interface {
	Notify(ctx context.Context, impact Impact) error
}

// Observer receives engine counters.
type Observer interface {
	TransitionCommitted(target VoucherStatus)
	SettlementApplied(kind string)
	NotifyFailed()
}

// Service coordinates voucher posting, settlement, periods and reports.
type Service struct {
	repo     RepositoryPort
	perms    PermissionChecker
	notifier ImpactNotifier
	cache    ReportCache
	audit    AuditPort
	observer Observer
	logger   *slog.Logger
	reports  *reportGroup
	now      func() time.Time
	newID    func() string
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, perms PermissionChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		perms:   perms,
		logger:  logger,
		reports: newReportGroup(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithIDGenerator overrides id generation.
func (s *Service) WithIDGenerator(fn func() string) {
	if fn != nil {
		s.newID = fn
	}
}

// WithNotifier attaches the impact notifier.
func (s *Service) WithNotifier(n ImpactNotifier) { s.notifier = n }

// WithReportCache attaches the report cache.
func (s *Service) WithReportCache(c ReportCache) { s.cache = c }

// WithAudit attaches the audit trail writer.
func (s *Service) WithAudit(a AuditPort) { s.audit = a }

// WithObserver attaches metrics.
func (s *Service) WithObserver(o Observer) { s.observer = o }

func (s *Service) assert(ctx context.Context, actor Actor, companyID, permission string) error {
	if s.perms == nil {
		return nil
	}
	if err := s.perms.AssertAllowed(ctx, actor.UserID, companyID, permission); err != nil {
		if shared.KindOf(err) == shared.KindPermissionDenied {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return shared.Internal(err)
		}
		return shared.ErrPermissionDenied.WithMessage("%s not granted: %v", permission, err)
	}
	return nil
}

// SaveVoucherResult reports the persisted voucher identity.
type SaveVoucherResult struct {
	ID       string
	Status   VoucherStatus
	Number   string
	Replayed bool
}

// SaveVoucher creates a draft or edits an existing voucher, keeping its status and number.
func (s *Service) SaveVoucher(ctx context.Context, in SaveVoucherInput) (SaveVoucherResult, error) {
	if err := in.Validate(); err != nil {
		return SaveVoucherResult{}, err
	}
	creating := strings.TrimSpace(in.VoucherID) == ""
	perm := authz.PermVoucherEdit
	if creating {
		perm = authz.PermVoucherCreate
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, perm); err != nil {
		return SaveVoucherResult{}, err
	}

	now := s.now().UTC()
	id := in.VoucherID
	if creating {
		id = s.newID()
	}

	var (
		saved    Voucher
		settings CompanySettings
		kind     ChangeKind
		impacted []string
		settled  bool
		replayed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settled, replayed = false, false
		var err error
		settings, err = tx.GetCompanySettings(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		candidate, err := buildVoucher(id, in, settings)
		if err != nil {
			return err
		}
		if creating && in.IdempotencyKey != "" {
			fingerprint, err := voucherFingerprint(candidate)
			if err != nil {
				return shared.Internal(err)
			}
			existing, claimed, err := tx.ClaimIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey, IdempotencyClaim{VoucherID: id, Fingerprint: fingerprint})
			if err != nil {
				return shared.Internal(err)
			}
			if !claimed {
				if existing.Fingerprint != "" && existing.Fingerprint != fingerprint {
					return shared.ErrIdempotencyKeyReused.WithMessage("idempotency key %q was used for voucher %s with a different payload", in.IdempotencyKey, existing.VoucherID)
				}
				saved, err = tx.GetVoucher(ctx, in.CompanyID, existing.VoucherID)
				if err != nil {
					return err
				}
				replayed = true
				return nil
			}
		}
		if creating {
			candidate.Status = VoucherStatusDraft
			candidate.CreatedBy = in.Actor.UserID
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.Version = 1
			candidate.AuditLog = []AuditEntry{{At: now, ActorID: in.Actor.UserID, Action: string(ChangeCreate), To: VoucherStatusDraft}}
			kind = ChangeCreate
			impacted, err = impactedUsers(ctx, tx, candidate, in.Actor)
			if err != nil {
				return err
			}
			saved = candidate
			return tx.PutVoucher(ctx, candidate)
		}

		existing, err := tx.GetVoucher(ctx, in.CompanyID, id)
		if err != nil {
			return err
		}
		change := ClassifyEdit(existing, candidate)
		receiving, err := loadAccounts(ctx, tx, existing.CompanyID, ReceivingAccountIDs(existing))
		if err != nil {
			return err
		}
		if err := AuthorizeEdit(existing, in.Actor, settings, receiving, change); err != nil {
			return err
		}
		next := mergeEdit(existing, candidate, change)
		if existing.Status.FinancialEffect() && (change.Financial() || existing.Status == VoucherStatusPending) {
			validation, err := ValidateVoucher(ctx, tx, next, settings)
			if err != nil {
				return err
			}
			period, err := gatePeriod(ctx, tx, next.CompanyID, next.Date)
			if err != nil {
				return err
			}
			next.AccountingPeriodID = &period.ID
			next.TotalDebit, next.TotalCredit = validation.TotalDebit, validation.TotalCredit
		}
		if existing.Status.Effective() && change.Financial() {
			if err := settleDifference(ctx, tx, next.CompanyID, existing.Lines, next.Lines); err != nil {
				return err
			}
			settled = true
		}
		next.UpdatedAt = now
		next.Version = existing.Version + 1
		next.AuditLog = append(next.AuditLog, AuditEntry{At: now, ActorID: in.Actor.UserID, Action: string(editKind(change)), From: existing.Status, To: existing.Status})
		kind = editKind(change)
		impacted, err = impactedUsers(ctx, tx, next, in.Actor)
		if err != nil {
			return err
		}
		saved = next
		return tx.PutVoucher(ctx, next)
	})
	if err != nil {
		return SaveVoucherResult{}, err
	}
	result := SaveVoucherResult{ID: saved.ID, Status: saved.Status, Number: saved.Number, Replayed: replayed}
	if replayed {
		return result, nil
	}
	if settled {
		s.observe(func(o Observer) { o.SettlementApplied("difference") })
		s.bumpReports(ctx, in.CompanyID)
	}
	s.notify(ctx, Impact{CompanyID: in.CompanyID, Voucher: saved, ActorID: in.Actor.UserID, ChangeKind: kind, Settings: settings, ImpactedUserIDs: impacted})
	s.record(ctx, in.Actor, in.CompanyID, "voucher."+string(kind), saved.ID, map[string]any{"status": saved.Status, "number": saved.Number})
	return result, nil
}

func editKind(change EditChange) ChangeKind {
	switch {
	case change.Account:
		return ChangeAccountChange
	case change.Amount:
		return ChangeAmountChange
	case change.Fx:
		return ChangeFxChange
	}
	return ChangeEdit
}

// buildVoucher turns the input into a voucher with base-currency line amounts.
func buildVoucher(id string, in SaveVoucherInput, settings CompanySettings) (Voucher, error) {
	base := settings.BaseCurrency
	if base == "" {
		base = DefaultBaseCurrency
	}
	fxLines := make([]fx.Line, len(in.Lines))
	for i, line := range in.Lines {
		fxLines[i] = fx.Line{Debit: line.Side == SideDebit, Amount: line.Amount, FxAmount: line.FxAmount}
	}
	rate := in.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	normalized, err := fx.Normalize(base, in.TransactionCurrency, rate, fxLines)
	if err != nil {
		return Voucher{}, err
	}
	lines := make([]VoucherLine, len(in.Lines))
	for i, line := range in.Lines {
		lines[i] = line
		lines[i].Amount = normalized.Amounts[i]
		if !normalized.Foreign {
			lines[i].FxAmount = nil
		}
	}
	txCurrency := strings.ToUpper(strings.TrimSpace(in.TransactionCurrency))
	if txCurrency == "" {
		txCurrency = base
	}
	v := Voucher{
		ID:                  id,
		CompanyID:           in.CompanyID,
		Type:                in.Type,
		Date:                truncateDay(in.Date),
		Currency:            base,
		TransactionCurrency: txCurrency,
		ExchangeRate:        normalized.Rate,
		Lines:               lines,
		Header:              in.Header,
		Extensions:          in.Extensions,
	}
	v.TotalDebit, v.TotalCredit = LineTotals(lines)
	if normalized.Foreign {
		fd, fc := normalized.FxTotalDebit, normalized.FxTotalCredit
		v.FxTotalDebit, v.FxTotalCredit = &fd, &fc
	}
	return v, nil
}

// voucherFingerprint hashes the content of a create request. Ids, audit fields
// and status are excluded so a retried request matches its first attempt.
func voucherFingerprint(v Voucher) (string, error) {
	payload, err := json.Marshal(struct {
		Type                VoucherType       `json:"type"`
		Date                string            `json:"date"`
		TransactionCurrency string            `json:"transaction_currency"`
		ExchangeRate        decimal.Decimal   `json:"exchange_rate"`
		Lines               []VoucherLine     `json:"lines"`
		Header              VoucherHeader     `json:"header"`
		Extensions          map[string]string `json:"extensions"`
	}{
		Type:                v.Type,
		Date:                v.Date.Format("2006-01-02"),
		TransactionCurrency: v.TransactionCurrency,
		ExchangeRate:        v.ExchangeRate,
		Lines:               v.Lines,
		Header:              v.Header,
		Extensions:          v.Extensions,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// mergeEdit applies editable fields of candidate onto existing.
func mergeEdit(existing, candidate Voucher, change EditChange) Voucher {
	next := existing.Clone()
	next.Header = candidate.Header
	next.Extensions = candidate.Extensions
	if change.Financial() || existing.Status == VoucherStatusDraft || existing.Status == VoucherStatusPending {
		next.Type = candidate.Type
		next.Date = candidate.Date
		next.TransactionCurrency = candidate.TransactionCurrency
		next.ExchangeRate = candidate.ExchangeRate
		next.Lines = candidate.Lines
		next.TotalDebit, next.TotalCredit = candidate.TotalDebit, candidate.TotalCredit
		next.FxTotalDebit, next.FxTotalCredit = candidate.FxTotalDebit, candidate.FxTotalCredit
	} else {
		// only notes may differ on lines
		for i := range next.Lines {
			if i < len(candidate.Lines) {
				next.Lines[i].Notes = candidate.Lines[i].Notes
			}
		}
	}
	return next
}

// ChangeVoucherStatus moves a voucher along the lifecycle, settling on first approval.
func (s *Service) ChangeVoucherStatus(ctx context.Context, in StatusChangeInput) (StatusChangeResult, error) {
	if strings.TrimSpace(in.CompanyID) == "" || strings.TrimSpace(in.VoucherID) == "" {
		return StatusChangeResult{}, shared.ErrInvalidInput.WithMessage("company id and voucher id required")
	}
	target, ok := ParseVoucherStatus(string(in.Target))
	if !ok {
		return StatusChangeResult{}, shared.ErrInvalidInput.WithMessage("unknown target status %q", in.Target)
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, TransitionPermission(target)); err != nil {
		return StatusChangeResult{}, err
	}
	now := s.now().UTC()

	var (
		updated  Voucher
		settings CompanySettings
		impacted []string
		settled  bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settled = false
		var err error
		settings, err = tx.GetCompanySettings(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		current, err := tx.GetVoucher(ctx, in.CompanyID, in.VoucherID)
		if err != nil {
			return err
		}
		receiving, err := loadAccounts(ctx, tx, current.CompanyID, ReceivingAccountIDs(current))
		if err != nil {
			return err
		}
		effective, err := ResolveTransition(GuardRequest{
			From:      current.Status,
			To:        target,
			Actor:     in.Actor,
			Voucher:   current,
			Receiving: receiving,
			Settings:  settings,
		})
		if err != nil {
			return err
		}
		next := current.Clone()
		if effective.FinancialEffect() {
			validation, err := ValidateVoucher(ctx, tx, next, settings)
			if err != nil {
				return err
			}
			period, err := gatePeriod(ctx, tx, next.CompanyID, next.Date)
			if err != nil {
				return err
			}
			next.AccountingPeriodID = &period.ID
			next.TotalDebit, next.TotalCredit = validation.TotalDebit, validation.TotalCredit
		}
		actorID := in.Actor.UserID
		switch effective {
		case VoucherStatusPending:
			next.SubmittedBy, next.SubmittedAt = &actorID, &now
		case VoucherStatusApproved:
			if current.Status == VoucherStatusDraft {
				next.SubmittedBy, next.SubmittedAt = &actorID, &now
			}
			if next.Number == "" {
				number, err := nextVoucherNumber(ctx, tx, next.CompanyID, next.Date)
				if err != nil {
					return err
				}
				next.Number = number
			}
			if err := settleApproval(ctx, tx, next); err != nil {
				return err
			}
			settled = true
			next.ApprovedBy, next.ApprovedAt = &actorID, &now
		case VoucherStatusLocked:
			next.LockedBy, next.LockedAt = &actorID, &now
		case VoucherStatusCanceled:
			next.CanceledAt = &now
		}
		if effective == VoucherStatusDraft || effective == VoucherStatusCanceled {
			next.StatusReason = strings.TrimSpace(in.Reason)
		}
		if effective == VoucherStatusDraft {
			// a draft may be redated; the gate stamps the period again on resubmit
			next.AccountingPeriodID = nil
		}
		next.Status = effective
		next.UpdatedAt = now
		next.Version = current.Version + 1
		next.AuditLog = append(next.AuditLog, AuditEntry{At: now, ActorID: actorID, Action: "status", From: current.Status, To: effective, Reason: strings.TrimSpace(in.Reason)})
		impacted, err = impactedUsers(ctx, tx, next, in.Actor)
		if err != nil {
			return err
		}
		updated = next
		return tx.PutVoucher(ctx, next)
	})
	if err != nil {
		return StatusChangeResult{}, err
	}
	s.observe(func(o Observer) { o.TransitionCommitted(updated.Status) })
	kind := ChangeEdit
	switch updated.Status {
	case VoucherStatusApproved:
		kind = ChangeApprove
	case VoucherStatusDraft, VoucherStatusCanceled:
		kind = ChangeReject
	}
	if settled {
		s.observe(func(o Observer) { o.SettlementApplied("approval") })
		s.bumpReports(ctx, in.CompanyID)
	}
	s.notify(ctx, Impact{CompanyID: in.CompanyID, Voucher: updated, ActorID: in.Actor.UserID, ChangeKind: kind, Settings: settings, ImpactedUserIDs: impacted})
	s.record(ctx, in.Actor, in.CompanyID, "voucher.status", updated.ID, map[string]any{"status": updated.Status, "requested": target, "number": updated.Number})
	return StatusChangeResult{
		ID:          updated.ID,
		Status:      updated.Status,
		Number:      updated.Number,
		SubmittedAt: updated.SubmittedAt,
		ApprovedAt:  updated.ApprovedAt,
		LockedAt:    updated.LockedAt,
		CanceledAt:  updated.CanceledAt,
		UpdatedAt:   updated.UpdatedAt,
	}, nil
}

// DeleteVoucherInput identifies the voucher to delete.
type DeleteVoucherInput struct {
	CompanyID string
	VoucherID string
	Actor     Actor
}

// DeleteVoucher removes a voucher, reversing its balance impact when effective.
func (s *Service) DeleteVoucher(ctx context.Context, in DeleteVoucherInput) (string, error) {
	if strings.TrimSpace(in.CompanyID) == "" || strings.TrimSpace(in.VoucherID) == "" {
		return "", shared.ErrInvalidInput.WithMessage("company id and voucher id required")
	}
	if err := s.assert(ctx, in.Actor, in.CompanyID, authz.PermVoucherDelete); err != nil {
		return "", err
	}
	var (
		deleted  Voucher
		settings CompanySettings
		impacted []string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		settings, err = tx.GetCompanySettings(ctx, in.CompanyID)
		if err != nil {
			return shared.Internal(err)
		}
		current, err := tx.GetVoucher(ctx, in.CompanyID, in.VoucherID)
		if err != nil {
			return err
		}
		receiving, err := loadAccounts(ctx, tx, current.CompanyID, ReceivingAccountIDs(current))
		if err != nil {
			return err
		}
		if err := AuthorizeDelete(current, in.Actor, settings, receiving); err != nil {
			return err
		}
		if current.Status.Effective() {
			if _, err := gatePeriod(ctx, tx, current.CompanyID, current.Date); err != nil {
				return err
			}
			if err := settleReversal(ctx, tx, current); err != nil {
				return err
			}
		}
		impacted, err = impactedUsers(ctx, tx, current, in.Actor)
		if err != nil {
			return err
		}
		deleted = current
		return tx.DeleteVoucher(ctx, current.CompanyID, current.ID)
	})
	if err != nil {
		return "", err
	}
	if deleted.Status.Effective() {
		s.observe(func(o Observer) { o.SettlementApplied("reversal") })
		s.bumpReports(ctx, in.CompanyID)
	}
	s.notify(ctx, Impact{CompanyID: in.CompanyID, Voucher: deleted, ActorID: in.Actor.UserID, ChangeKind: ChangeDelete, Settings: settings, ImpactedUserIDs: impacted})
	s.record(ctx, in.Actor, in.CompanyID, "voucher.delete", deleted.ID, map[string]any{"status": deleted.Status, "number": deleted.Number})
	return deleted.ID, nil
}

// GetVoucher loads a voucher by id.
func (s *Service) GetVoucher(ctx context.Context, companyID, voucherID string, actor Actor) (Voucher, error) {
	if err := s.assert(ctx, actor, companyID, authz.PermVoucherView); err != nil {
		return Voucher{}, err
	}
	var v Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		v, err = tx.GetVoucher(ctx, companyID, voucherID)
		return err
	})
	return v, err
}

// loadAccounts reads the accounts that exist among ids; missing ones are skipped.
func loadAccounts(ctx context.Context, tx TxRepository, companyID string, ids []string) ([]Account, error) {
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		account, err := tx.GetAccount(ctx, companyID, id)
		if errors.Is(err, shared.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, shared.Internal(err)
		}
		out = append(out, account)
	}
	return out, nil
}

// impactedUsers lists the creator and custodians of touched accounts, excluding the actor.
func impactedUsers(ctx context.Context, tx TxRepository, v Voucher, actor Actor) ([]string, error) {
	seen := map[string]bool{actor.UserID: true}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(v.CreatedBy)
	ids := make([]string, 0, len(v.Lines))
	for id := range LineDeltas(v.Lines) {
		ids = append(ids, id)
	}
	accounts, err := loadAccounts(ctx, tx, v.CompanyID, ids)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		for _, custodian := range account.CustodianUserIDs {
			add(custodian)
		}
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, impact Impact) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, impact); err != nil {
		s.observe(func(o Observer) { o.NotifyFailed() })
		s.logger.Warn("voucher impact notify failed",
			slog.String("company_id", impact.CompanyID),
			slog.String("voucher_id", impact.Voucher.ID),
			slog.String("change", string(impact.ChangeKind)),
			slog.Any("error", err))
	}
}

func (s *Service) bumpReports(ctx context.Context, companyID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, companyID); err != nil {
		s.logger.Warn("report cache bump failed", slog.String("company_id", companyID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor Actor, companyID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entity := "voucher"
	if strings.HasPrefix(action, "period.") || strings.HasPrefix(action, "fiscal_year.") {
		entity = "period"
	} else if strings.HasPrefix(action, "account.") || strings.HasPrefix(action, "settings.") {
		entity = "account"
	}
	if err := s.audit.Record(ctx, authz.AuditLog{
		CompanyID: companyID,
		ActorID:   actor.UserID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Meta:      meta,
		At:        s.now(),
	}); err != nil {
		s.logger.Debug("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(fn func(Observer)) {
	if s.observer != nil {
		fn(s.observer)
	}
}
