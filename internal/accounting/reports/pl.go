package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Profit and loss section keys, in presentation order.
const (
	SectionRevenue          = "revenue"
	SectionCOGS             = "cogs"
	SectionOperatingExpense = "operating_expense"
	SectionAdminExpense     = "admin_expense"
	SectionOtherIncome      = "other_income"
	SectionOtherExpense     = "other_expense"
)

var plSections = []struct {
	key    string
	label  string
	income bool
}{
	{SectionRevenue, "Revenue", true},
	{SectionCOGS, "Cost of Goods Sold", false},
	{SectionOperatingExpense, "Operating Expense", false},
	{SectionAdminExpense, "Administrative Expense", false},
	{SectionOtherIncome, "Other Income", true},
	{SectionOtherExpense, "Other Expense", false},
}

// ProfitAndLossAccount represents a revenue or expense account summary.
type ProfitAndLossAccount struct {
	AccountID string          `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Key      string                 `json:"key"`
	Label    string                 `json:"label"`
	Accounts []ProfitAndLossAccount `json:"accounts"`
	Total    decimal.Decimal        `json:"total"`
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	Sections        []ProfitAndLossSection `json:"sections"`
	GrossProfit     decimal.Decimal        `json:"gross_profit"`
	OperatingProfit decimal.Decimal        `json:"operating_profit"`
	NetProfit       decimal.Decimal        `json:"net_profit"`
}

// Section returns the section with key, or an empty section.
func (p ProfitAndLoss) Section(key string) ProfitAndLossSection {
	for _, s := range p.Sections {
		if s.Key == key {
			return s
		}
	}
	return ProfitAndLossSection{Key: key}
}

// PLSection resolves the section of a revenue or expense account, honouring an explicit override.
func PLSection(acc AccountBalance) (string, bool) {
	if override := normaliseSection(acc.Section); override != "" {
		for _, s := range plSections {
			if s.key == override {
				return override, true
			}
		}
	}
	switch strings.ToUpper(acc.Type) {
	case "REVENUE":
		return SectionRevenue, true
	case "EXPENSE":
		return SectionOperatingExpense, true
	}
	return "", false
}

func normaliseSection(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

// BuildProfitAndLoss aggregates revenue and expense accounts into the fixed section taxonomy.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	byKey := make(map[string]*ProfitAndLossSection, len(plSections))
	result := ProfitAndLoss{Sections: make([]ProfitAndLossSection, len(plSections))}
	for i, s := range plSections {
		result.Sections[i] = ProfitAndLossSection{Key: s.key, Label: s.label}
		byKey[s.key] = &result.Sections[i]
	}
	income := make(map[string]bool, len(plSections))
	for _, s := range plSections {
		income[s.key] = s.income
	}

	for _, acc := range accounts {
		typ := strings.ToUpper(acc.Type)
		if typ != "REVENUE" && typ != "EXPENSE" {
			continue
		}
		key, ok := PLSection(acc)
		if !ok {
			continue
		}
		amount := acc.Debit.Sub(acc.Credit)
		if income[key] {
			amount = acc.Credit.Sub(acc.Debit)
		}
		sec := byKey[key]
		sec.Accounts = append(sec.Accounts, ProfitAndLossAccount{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name, Amount: amount})
		sec.Total = sec.Total.Add(amount)
	}
	for i := range result.Sections {
		rows := result.Sections[i].Accounts
		sort.Slice(rows, func(a, b int) bool { return rows[a].Code < rows[b].Code })
	}

	result.GrossProfit = byKey[SectionRevenue].Total.Sub(byKey[SectionCOGS].Total)
	result.OperatingProfit = result.GrossProfit.
		Sub(byKey[SectionOperatingExpense].Total).
		Sub(byKey[SectionAdminExpense].Total)
	result.NetProfit = result.OperatingProfit.
		Add(byKey[SectionOtherIncome].Total).
		Sub(byKey[SectionOtherExpense].Total)
	return result
}
