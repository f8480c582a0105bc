// Package memstore provides an in-memory accounting store with optimistic
// transactions: reads are versioned, commits validate the read set and
// conflicting transactions are retried.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// ErrConflict indicates a transaction read data that changed before it committed.
var ErrConflict = errors.New("memstore: transaction conflict")

// DefaultMaxRetries bounds automatic retries of conflicting transactions.
const DefaultMaxRetries = 32

type document struct {
	version uint64
	value   any
}

// Store keeps documents in memory.
type Store struct {
	mu         sync.Mutex
	docs       map[string]document
	maxRetries int
	// OnRetry, when set, is called each time a transaction is retried.
	OnRetry func(attempt int)
}

// New constructs an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]document), maxRetries: DefaultMaxRetries}
}

// WithMaxRetries overrides the retry bound.
func (s *Store) WithMaxRetries(n int) *Store {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// WithTx runs fn in an optimistic transaction, retrying on conflict.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &txn{store: s, reads: make(map[string]uint64), writes: make(map[string]write)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= s.maxRetries {
			return err
		}
		if s.OnRetry != nil {
			s.OnRetry(attempt)
		}
	}
}

func (s *Store) commit(tx *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, version := range tx.reads {
		if s.docs[key].version != version {
			return fmt.Errorf("%w on %s", ErrConflict, key)
		}
	}
	touched := make(map[string]bool)
	for key, w := range tx.writes {
		current := s.docs[key]
		if w.deleted {
			// tombstone keeps the version so concurrent readers of the key still conflict
			s.docs[key] = document{version: current.version + 1}
		} else {
			s.docs[key] = document{version: current.version + 1, value: w.value}
		}
		if w.collection != "" {
			touched[w.collection] = true
		}
	}
	for collection := range touched {
		s.docs[collection] = document{version: s.docs[collection].version + 1}
	}
	return nil
}

func (s *Store) read(key string) document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[key]
}

// scan returns committed documents whose key has prefix and the collection version.
func (s *Store) scan(prefix, collection string) (map[string]any, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any)
	for key, doc := range s.docs {
		if doc.value != nil && strings.HasPrefix(key, prefix) {
			out[key] = doc.value
		}
	}
	return out, s.docs[collection].version
}

type write struct {
	value      any
	deleted    bool
	collection string
}

type txn struct {
	store  *Store
	reads  map[string]uint64
	writes map[string]write
}

func (t *txn) get(key string) (any, bool) {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, false
		}
		return w.value, true
	}
	doc := t.store.read(key)
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = doc.version
	}
	if doc.value == nil {
		return nil, false
	}
	return doc.value, true
}

// list merges committed documents under prefix with this transaction's writes.
func (t *txn) list(prefix, collection string) []any {
	committed, version := t.store.scan(prefix, collection)
	if _, seen := t.reads[collection]; !seen {
		t.reads[collection] = version
	}
	for key, w := range t.writes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if w.deleted {
			delete(committed, key)
		} else {
			committed[key] = w.value
		}
	}
	keys := make([]string, 0, len(committed))
	for key := range committed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, committed[key])
	}
	return out
}

func (t *txn) put(key, collection string, value any) {
	t.writes[key] = write{value: value, collection: collection}
}

func (t *txn) del(key, collection string) {
	t.writes[key] = write{deleted: true, collection: collection}
}

func settingsKey(companyID string) string         { return "settings/" + companyID }
func accountKey(companyID, id string) string      { return "account/" + companyID + "/" + id }
func accountsCollection(companyID string) string  { return "#accounts/" + companyID }
func voucherKey(companyID, id string) string      { return "voucher/" + companyID + "/" + id }
func vouchersCollection(companyID string) string  { return "#vouchers/" + companyID }
func periodKey(companyID, id string) string       { return "period/" + companyID + "/" + id }
func periodsCollection(companyID string) string   { return "#periods/" + companyID }
func counterKey(id string) string                 { return "counter/" + id }
func idempotencyKey(companyID, key string) string { return "idem/" + companyID + "/" + key }

func openingPrefix(companyID, periodID string) string {
	return "opening/" + companyID + "/" + periodID + "/"
}

func openingsCollection(companyID, periodID string) string {
	return "#openings/" + companyID + "/" + periodID
}

const companiesCollection = "#companies"

func (t *txn) GetCompanySettings(_ context.Context, companyID string) (accounting.CompanySettings, error) {
	v, ok := t.get(settingsKey(companyID))
	if !ok {
		return accounting.DefaultCompanySettings(companyID), nil
	}
	settings := v.(accounting.CompanySettings)
	settings.AutoApproveOnSubmitTypes = append([]accounting.VoucherType(nil), settings.AutoApproveOnSubmitTypes...)
	return settings, nil
}

func (t *txn) PutCompanySettings(_ context.Context, settings accounting.CompanySettings) error {
	settings.AutoApproveOnSubmitTypes = append([]accounting.VoucherType(nil), settings.AutoApproveOnSubmitTypes...)
	t.put(settingsKey(settings.CompanyID), "", settings)
	t.registerCompany(settings.CompanyID)
	return nil
}

func (t *txn) registerCompany(companyID string) {
	key := companiesCollection + "/" + companyID
	if _, ok := t.writes[key]; ok {
		return
	}
	if doc := t.store.read(key); doc.value != nil {
		return
	}
	t.put(key, companiesCollection, companyID)
}

func cloneAccount(a accounting.Account) accounting.Account {
	a.CustodianUserIDs = append([]string(nil), a.CustodianUserIDs...)
	if a.ParentID != nil {
		parent := *a.ParentID
		a.ParentID = &parent
	}
	return a
}

func (t *txn) GetAccount(_ context.Context, companyID, accountID string) (accounting.Account, error) {
	v, ok := t.get(accountKey(companyID, accountID))
	if !ok {
		return accounting.Account{}, shared.ErrAccountNotFound.WithMessage("account %s not found", accountID)
	}
	return cloneAccount(v.(accounting.Account)), nil
}

func (t *txn) ListAccounts(_ context.Context, companyID string) ([]accounting.Account, error) {
	docs := t.list("account/"+companyID+"/", accountsCollection(companyID))
	out := make([]accounting.Account, 0, len(docs))
	for _, doc := range docs {
		out = append(out, cloneAccount(doc.(accounting.Account)))
	}
	return out, nil
}

func (t *txn) PutAccount(_ context.Context, account accounting.Account) error {
	if account.CompanyID == "" || account.ID == "" {
		return errors.New("memstore: account requires company and id")
	}
	t.put(accountKey(account.CompanyID, account.ID), accountsCollection(account.CompanyID), cloneAccount(account))
	t.registerCompany(account.CompanyID)
	return nil
}

func (t *txn) ApplyAccountDeltas(ctx context.Context, companyID string, deltas []accounting.AccountDelta) error {
	for _, delta := range deltas {
		account, err := t.GetAccount(ctx, companyID, delta.AccountID)
		if err != nil {
			return err
		}
		account.CurrentBalance = account.CurrentBalance.Add(delta.Amount)
		account.IsLockedForChildren = true
		t.put(accountKey(companyID, account.ID), accountsCollection(companyID), account)
	}
	return nil
}

func (t *txn) GetVoucher(_ context.Context, companyID, voucherID string) (accounting.Voucher, error) {
	v, ok := t.get(voucherKey(companyID, voucherID))
	if !ok {
		return accounting.Voucher{}, shared.ErrVoucherNotFound.WithMessage("voucher %s not found", voucherID)
	}
	return v.(accounting.Voucher).Clone(), nil
}

func (t *txn) PutVoucher(_ context.Context, voucher accounting.Voucher) error {
	if voucher.CompanyID == "" || voucher.ID == "" {
		return errors.New("memstore: voucher requires company and id")
	}
	t.put(voucherKey(voucher.CompanyID, voucher.ID), vouchersCollection(voucher.CompanyID), voucher.Clone())
	return nil
}

func (t *txn) DeleteVoucher(_ context.Context, companyID, voucherID string) error {
	if _, ok := t.get(voucherKey(companyID, voucherID)); !ok {
		return shared.ErrVoucherNotFound.WithMessage("voucher %s not found", voucherID)
	}
	t.del(voucherKey(companyID, voucherID), vouchersCollection(companyID))
	return nil
}

func (t *txn) ScanVouchers(_ context.Context, query accounting.VoucherQuery) ([]accounting.Voucher, error) {
	docs := t.list("voucher/"+query.CompanyID+"/", vouchersCollection(query.CompanyID))
	out := make([]accounting.Voucher, 0)
	for _, doc := range docs {
		v := doc.(accounting.Voucher)
		if query.Matches(v) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (t *txn) GetPeriod(_ context.Context, companyID, periodID string) (accounting.Period, error) {
	v, ok := t.get(periodKey(companyID, periodID))
	if !ok {
		return accounting.Period{}, shared.ErrPeriodNotFound.WithMessage("period %s not found", periodID)
	}
	return v.(accounting.Period), nil
}

func (t *txn) ListPeriods(_ context.Context, companyID string) ([]accounting.Period, error) {
	docs := t.list("period/"+companyID+"/", periodsCollection(companyID))
	out := make([]accounting.Period, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.(accounting.Period))
	}
	return out, nil
}

func (t *txn) PutPeriod(_ context.Context, period accounting.Period) error {
	if period.CompanyID == "" || period.ID == "" {
		return errors.New("memstore: period requires company and id")
	}
	t.put(periodKey(period.CompanyID, period.ID), periodsCollection(period.CompanyID), period)
	return nil
}

func (t *txn) GetCounter(_ context.Context, counterID string) (accounting.VoucherNumberCounter, error) {
	v, ok := t.get(counterKey(counterID))
	if !ok {
		return accounting.VoucherNumberCounter{ID: counterID}, nil
	}
	return v.(accounting.VoucherNumberCounter), nil
}

func (t *txn) PutCounter(_ context.Context, counter accounting.VoucherNumberCounter) error {
	t.put(counterKey(counter.ID), "", counter)
	return nil
}

func (t *txn) InsertOpeningBalances(_ context.Context, lines []accounting.OpeningBalanceLine) error {
	for _, line := range lines {
		key := openingPrefix(line.CompanyID, line.PeriodID) + line.AccountID
		if _, exists := t.get(key); exists {
			return fmt.Errorf("memstore: opening balance for account %s in period %s already exists", line.AccountID, line.PeriodID)
		}
		t.put(key, openingsCollection(line.CompanyID, line.PeriodID), line)
	}
	return nil
}

func (t *txn) ListOpeningBalances(_ context.Context, companyID, periodID string) ([]accounting.OpeningBalanceLine, error) {
	docs := t.list(openingPrefix(companyID, periodID), openingsCollection(companyID, periodID))
	out := make([]accounting.OpeningBalanceLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.(accounting.OpeningBalanceLine))
	}
	return out, nil
}

func (t *txn) ClaimIdempotencyKey(_ context.Context, companyID, key string, claim accounting.IdempotencyClaim) (accounting.IdempotencyClaim, bool, error) {
	k := idempotencyKey(companyID, key)
	if v, ok := t.get(k); ok {
		return v.(accounting.IdempotencyClaim), false, nil
	}
	t.put(k, "", claim)
	return claim, true, nil
}

func (t *txn) ListCompanyIDs(_ context.Context) ([]string, error) {
	docs := t.list(companiesCollection+"/", companiesCollection)
	seen := make(map[string]bool)
	var out []string
	for _, doc := range docs {
		id := doc.(string)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
