package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Balance sheet section keys.
const (
	SectionCurrentAsset        = "current_asset"
	SectionNonCurrentAsset     = "non_current_asset"
	SectionCurrentLiability    = "current_liability"
	SectionNonCurrentLiability = "non_current_liability"
	SectionEquity              = "equity"
)

// RetainedEarningsLabel names the synthetic current-period earnings line.
const RetainedEarningsLabel = "Retained Earnings (current period)"

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	AccountID string          `json:"account_id,omitempty"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Key      string                `json:"key"`
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
type BalanceSheet struct {
	CurrentAssets             BalanceSheetSection `json:"current_assets"`
	NonCurrentAssets          BalanceSheetSection `json:"non_current_assets"`
	CurrentLiabilities        BalanceSheetSection `json:"current_liabilities"`
	NonCurrentLiabilities     BalanceSheetSection `json:"non_current_liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	TotalAssets               decimal.Decimal     `json:"total_assets"`
	TotalLiabilities          decimal.Decimal     `json:"total_liabilities"`
	TotalEquity               decimal.Decimal     `json:"total_equity"`
	TotalLiabilitiesAndEquity decimal.Decimal     `json:"total_liabilities_and_equity"`
	Imbalance                 bool                `json:"imbalance"`
}

// BSSection resolves the balance sheet section of an account.
func BSSection(acc AccountBalance) (string, bool) {
	override := normaliseSection(acc.Section)
	switch strings.ToUpper(acc.Type) {
	case "ASSET":
		if override == SectionNonCurrentAsset {
			return SectionNonCurrentAsset, true
		}
		return SectionCurrentAsset, true
	case "LIABILITY":
		if override == SectionNonCurrentLiability {
			return SectionNonCurrentLiability, true
		}
		return SectionCurrentLiability, true
	case "EQUITY":
		return SectionEquity, true
	}
	return "", false
}

// BuildBalanceSheet aggregates closing balances and injects netProfit as a synthetic equity line.
func BuildBalanceSheet(accounts []AccountBalance, netProfit decimal.Decimal) BalanceSheet {
	bs := BalanceSheet{
		CurrentAssets:         BalanceSheetSection{Key: SectionCurrentAsset, Label: "Current Assets"},
		NonCurrentAssets:      BalanceSheetSection{Key: SectionNonCurrentAsset, Label: "Non-Current Assets"},
		CurrentLiabilities:    BalanceSheetSection{Key: SectionCurrentLiability, Label: "Current Liabilities"},
		NonCurrentLiabilities: BalanceSheetSection{Key: SectionNonCurrentLiability, Label: "Non-Current Liabilities"},
		Equity:                BalanceSheetSection{Key: SectionEquity, Label: "Equity"},
	}
	sections := map[string]*BalanceSheetSection{
		SectionCurrentAsset:        &bs.CurrentAssets,
		SectionNonCurrentAsset:     &bs.NonCurrentAssets,
		SectionCurrentLiability:    &bs.CurrentLiabilities,
		SectionNonCurrentLiability: &bs.NonCurrentLiabilities,
		SectionEquity:              &bs.Equity,
	}
	for _, acc := range accounts {
		key, ok := BSSection(acc)
		if !ok {
			continue
		}
		sec := sections[key]
		row := BalanceSheetAccount{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name, Balance: acc.Closing()}
		sec.Accounts = append(sec.Accounts, row)
		sec.Total = sec.Total.Add(row.Balance)
	}
	for _, sec := range sections {
		rows := sec.Accounts
		sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	}
	bs.Equity.Accounts = append(bs.Equity.Accounts, BalanceSheetAccount{Name: RetainedEarningsLabel, Balance: netProfit, Synthetic: true})
	bs.Equity.Total = bs.Equity.Total.Add(netProfit)

	bs.TotalAssets = bs.CurrentAssets.Total.Add(bs.NonCurrentAssets.Total)
	bs.TotalLiabilities = bs.CurrentLiabilities.Total.Add(bs.NonCurrentLiabilities.Total)
	bs.TotalEquity = bs.Equity.Total
	bs.TotalLiabilitiesAndEquity = bs.TotalLiabilities.Add(bs.TotalEquity)
	bs.Imbalance = bs.TotalAssets.Sub(bs.TotalLiabilitiesAndEquity).Abs().GreaterThan(ImbalanceTolerance)
	return bs
}
