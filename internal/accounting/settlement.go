package accounting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// LineDeltas nets the signed balance impact of lines per account.
func LineDeltas(lines []VoucherLine) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, line := range lines {
		if line.AccountID == "" {
			continue
		}
		out[line.AccountID] = out[line.AccountID].Add(line.Delta())
	}
	return out
}

// settleApproval applies the deltas of a voucher entering approved for the first time.
func settleApproval(ctx context.Context, tx TxRepository, v Voucher) error {
	return applyDeltas(ctx, tx, v.CompanyID, LineDeltas(v.Lines), nil)
}

// settleReversal undoes the balance impact of an effective voucher.
func settleReversal(ctx context.Context, tx TxRepository, v Voucher) error {
	return applyDeltas(ctx, tx, v.CompanyID, nil, LineDeltas(v.Lines))
}

// settleDifference reverts old lines and applies new ones, netted per account.
func settleDifference(ctx context.Context, tx TxRepository, companyID string, oldLines, newLines []VoucherLine) error {
	return applyDeltas(ctx, tx, companyID, LineDeltas(newLines), LineDeltas(oldLines))
}

func applyDeltas(ctx context.Context, tx TxRepository, companyID string, apply, revert map[string]decimal.Decimal) error {
	net := make(map[string]decimal.Decimal, len(apply)+len(revert))
	for id, amount := range apply {
		net[id] = net[id].Add(amount)
	}
	for id, amount := range revert {
		net[id] = net[id].Sub(amount)
	}
	if len(net) == 0 {
		return nil
	}
	ids := make([]string, 0, len(net))
	for id := range net {
		ids = append(ids, id)
	}
	// stable order keeps row lock acquisition consistent across transactions
	sort.Strings(ids)
	deltas := make([]AccountDelta, 0, len(ids))
	for _, id := range ids {
		deltas = append(deltas, AccountDelta{AccountID: id, Amount: net[id]})
	}
	if err := tx.ApplyAccountDeltas(ctx, companyID, deltas); err != nil {
		return shared.Internal(err)
	}
	return nil
}
