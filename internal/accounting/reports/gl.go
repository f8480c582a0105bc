package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one voucher line posted to an account.
type LedgerEntry struct {
	Date        time.Time       `json:"date"`
	VoucherID   string          `json:"voucher_id"`
	Number      string          `json:"number"`
	VoucherType string          `json:"voucher_type"`
	Description string          `json:"description,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// LedgerRow is a ledger entry with the running balance after it.
type LedgerRow struct {
	LedgerEntry
	Balance decimal.Decimal `json:"balance"`
}

// LedgerAccount lists the chronological rows of one account.
type LedgerAccount struct {
	AccountID string          `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Opening   decimal.Decimal `json:"opening"`
	Rows      []LedgerRow     `json:"rows"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Closing   decimal.Decimal `json:"closing"`
}

// GeneralLedger is the report across accounts, ordered by code.
type GeneralLedger struct {
	Accounts []LedgerAccount `json:"accounts"`
}

// BuildGeneralLedger computes running balances, in each account's natural sign,
// for the entries keyed by account id.
func BuildGeneralLedger(accounts []AccountBalance, entries map[string][]LedgerEntry) GeneralLedger {
	sorted := append([]AccountBalance(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	out := GeneralLedger{Accounts: make([]LedgerAccount, 0, len(sorted))}
	for _, acc := range sorted {
		rows := append([]LedgerEntry(nil), entries[acc.AccountID]...)
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Date.Equal(rows[j].Date) {
				return rows[i].VoucherID < rows[j].VoucherID
			}
			return rows[i].Date.Before(rows[j].Date)
		})
		ledger := LedgerAccount{
			AccountID: acc.AccountID,
			Code:      acc.Code,
			Name:      acc.Name,
			Type:      acc.Type,
			Opening:   acc.Opening,
			Rows:      make([]LedgerRow, 0, len(rows)),
		}
		balance := acc.Opening
		for _, entry := range rows {
			movement := entry.Debit.Sub(entry.Credit)
			if !acc.DebitNature() {
				movement = movement.Neg()
			}
			balance = balance.Add(movement)
			ledger.Debit = ledger.Debit.Add(entry.Debit)
			ledger.Credit = ledger.Credit.Add(entry.Credit)
			ledger.Rows = append(ledger.Rows, LedgerRow{LedgerEntry: entry, Balance: balance})
		}
		ledger.Closing = balance
		out.Accounts = append(out.Accounts, ledger)
	}
	return out
}
