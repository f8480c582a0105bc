package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ImbalanceTolerance is the largest total difference reported as balanced.
var ImbalanceTolerance = decimal.New(5, -3)

// AccountBalance models a ledger account with aggregated movements for a range.
// Opening is expressed in the account's natural sign.
type AccountBalance struct {
	AccountID string
	Code      string
	Name      string
	Type      string
	Section   string
	Opening   decimal.Decimal
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// DebitNature reports whether the account grows on the debit side.
func (a AccountBalance) DebitNature() bool {
	switch strings.ToUpper(a.Type) {
	case "ASSET", "EXPENSE":
		return true
	}
	return false
}

// Net returns the period movement in the account's natural sign.
func (a AccountBalance) Net() decimal.Decimal {
	if a.DebitNature() {
		return a.Debit.Sub(a.Credit)
	}
	return a.Credit.Sub(a.Debit)
}

// Closing computes the closing balance for the account.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Net())
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	AccountID string          `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Opening   decimal.Decimal `json:"opening"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Net       decimal.Decimal `json:"net"`
	Closing   decimal.Decimal `json:"closing"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    decimal.Decimal       `json:"debit"`
	Credit   decimal.Decimal       `json:"credit"`
}

// TrialBalance is the final structure returned to clients.
type TrialBalance struct {
	Rows        []TrialBalanceAccount `json:"rows"`
	Groups      []TrialBalanceGroup   `json:"groups"`
	TotalDebit  decimal.Decimal       `json:"total_debit"`
	TotalCredit decimal.Decimal       `json:"total_credit"`
	Imbalance   bool                  `json:"imbalance"`
}

// BuildTrialBalance converts account balances into code-ordered rows and groups.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	sorted := append([]AccountBalance(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	result := TrialBalance{Rows: make([]TrialBalanceAccount, 0, len(sorted))}
	for _, acc := range sorted {
		row := TrialBalanceAccount{
			AccountID: acc.AccountID,
			Code:      acc.Code,
			Name:      acc.Name,
			Type:      acc.Type,
			Opening:   acc.Opening,
			Debit:     acc.Debit,
			Credit:    acc.Credit,
			Net:       acc.Net(),
			Closing:   acc.Closing(),
		}
		result.Rows = append(result.Rows, row)
		result.TotalDebit = result.TotalDebit.Add(row.Debit)
		result.TotalCredit = result.TotalCredit.Add(row.Credit)

		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result.Groups = append(result.Groups, *groups[key])
	}
	result.Imbalance = result.TotalDebit.Sub(result.TotalCredit).Abs().GreaterThan(ImbalanceTolerance)
	return result
}
