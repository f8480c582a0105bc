// Package fx converts transaction-currency voucher lines into base-currency amounts.
package fx

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Line is the currency-relevant view of a voucher line.
type Line struct {
	Debit    bool
	Amount   decimal.Decimal
	FxAmount *decimal.Decimal
}

// Result holds base amounts in input order plus transaction-currency totals.
type Result struct {
	Rate          decimal.Decimal
	Amounts       []decimal.Decimal
	Foreign       bool
	FxTotalDebit  decimal.Decimal
	FxTotalCredit decimal.Decimal
}

// ParseCurrency validates an ISO-4217 code and returns its canonical form.
func ParseCurrency(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return currency.Unit{}, shared.ErrInvalidCurrency.WithMessage("unknown currency %q", code)
	}
	return unit, nil
}

// Scale returns the number of minor-unit decimals for the currency.
func Scale(unit currency.Unit) int32 {
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Normalize computes base amounts for lines booked in txCurrency at rate.
// Lines in the base currency keep their amounts and the rate is forced to 1.
// Foreign lines are converted as round(fxAmount*rate); when the foreign totals
// balance, any rounding residual in base is absorbed by the largest line on
// the short side.
func Normalize(base, txCurrency string, rate decimal.Decimal, lines []Line) (Result, error) {
	baseUnit, err := ParseCurrency(base)
	if err != nil {
		return Result{}, err
	}
	txUnit := baseUnit
	if strings.TrimSpace(txCurrency) != "" {
		if txUnit, err = ParseCurrency(txCurrency); err != nil {
			return Result{}, err
		}
	}
	out := Result{Amounts: make([]decimal.Decimal, len(lines))}
	if txUnit == baseUnit {
		out.Rate = decimal.NewFromInt(1)
		for i, line := range lines {
			out.Amounts[i] = line.Amount
		}
		return out, nil
	}
	if !rate.IsPositive() {
		return Result{}, shared.ErrInvalidCurrency.WithMessage("exchange rate must be positive")
	}
	out.Rate = rate
	out.Foreign = true
	scale := Scale(baseUnit)
	var baseDebit, baseCredit decimal.Decimal
	largestDebit, largestCredit := -1, -1
	for i, line := range lines {
		if line.FxAmount == nil {
			return Result{}, shared.ErrInvalidCurrency.WithMessage("line %d missing fx amount", i)
		}
		amount := line.FxAmount.Mul(rate).Round(scale)
		out.Amounts[i] = amount
		if line.Debit {
			out.FxTotalDebit = out.FxTotalDebit.Add(*line.FxAmount)
			baseDebit = baseDebit.Add(amount)
			if largestDebit < 0 || amount.GreaterThan(out.Amounts[largestDebit]) {
				largestDebit = i
			}
		} else {
			out.FxTotalCredit = out.FxTotalCredit.Add(*line.FxAmount)
			baseCredit = baseCredit.Add(amount)
			if largestCredit < 0 || amount.GreaterThan(out.Amounts[largestCredit]) {
				largestCredit = i
			}
		}
	}
	if !out.FxTotalDebit.Equal(out.FxTotalCredit) {
		return out, nil
	}
	residual := baseDebit.Sub(baseCredit)
	switch {
	case residual.IsPositive() && largestCredit >= 0:
		out.Amounts[largestCredit] = out.Amounts[largestCredit].Add(residual)
	case residual.IsNegative() && largestDebit >= 0:
		out.Amounts[largestDebit] = out.Amounts[largestDebit].Sub(residual)
	}
	return out, nil
}
