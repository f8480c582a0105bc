package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Verifier is the part of accounting.Service used by the verify command.
type Verifier interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)
	VerifyIntegrity(ctx context.Context, companyID string) (accounting.IntegrityReport, error)
}

// IntegrityCLI runs ledger integrity checks from the command line.
type IntegrityCLI struct {
	verifier Verifier
}

// NewIntegrityCLI constructs the helper.
func NewIntegrityCLI(verifier Verifier) (*IntegrityCLI, error) {
	if verifier == nil {
		return nil, errors.New("integrity cli: verifier required")
	}
	return &IntegrityCLI{verifier: verifier}, nil
}

// VerifyOptions defines available flags for the verify command.
type VerifyOptions struct {
	CompanyID  string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary is the JSON output of the verify command.
type VerifySummary struct {
	OK        bool                   `json:"ok"`
	Companies []VerifyCompanySummary `json:"companies"`
}

// VerifyCompanySummary reports one company.
type VerifyCompanySummary struct {
	CompanyID  string            `json:"company_id"`
	Vouchers   int               `json:"vouchers"`
	Accounts   int               `json:"accounts"`
	Violations []VerifyViolation `json:"violations"`
}

// VerifyViolation is a single finding.
type VerifyViolation struct {
	Kind      string `json:"kind"`
	VoucherID string `json:"voucher_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// VerifyCommand checks one or all companies. It exits 10 when violations
// are found and 1 on operational errors.
func (c *IntegrityCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	companies := []string{strings.TrimSpace(opts.CompanyID)}
	if companies[0] == "" {
		ids, err := c.verifier.ListCompanyIDs(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify: list companies: %v\n", err)
			return 1
		}
		companies = ids
	}
	sort.Strings(companies)

	summary := VerifySummary{OK: true, Companies: make([]VerifyCompanySummary, 0, len(companies))}
	for _, id := range companies {
		report, err := c.verifier.VerifyIntegrity(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify %s: %v\n", id, err)
			return 1
		}
		summary.Companies = append(summary.Companies, buildCompanySummary(report))
		if !report.OK() {
			summary.OK = false
		}
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderVerifyHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildCompanySummary(report accounting.IntegrityReport) VerifyCompanySummary {
	out := VerifyCompanySummary{
		CompanyID:  report.CompanyID,
		Vouchers:   report.Vouchers,
		Accounts:   report.Accounts,
		Violations: make([]VerifyViolation, 0, len(report.Violations)),
	}
	for _, v := range report.Violations {
		out.Violations = append(out.Violations, VerifyViolation{
			Kind:      v.Kind,
			VoucherID: v.VoucherID,
			AccountID: v.AccountID,
			Expected:  v.Expected.String(),
			Actual:    v.Actual.String(),
		})
	}
	return out
}

func renderVerifyHuman(out io.Writer, summary VerifySummary) {
	if len(summary.Companies) == 0 {
		_, _ = fmt.Fprintln(out, "No companies found.")
		return
	}
	for _, company := range summary.Companies {
		_, _ = fmt.Fprintf(out, "Company %s: %d voucher(s), %d account(s)\n", company.CompanyID, company.Vouchers, company.Accounts)
		if len(company.Violations) == 0 {
			_, _ = fmt.Fprintln(out, "  ledger consistent")
			continue
		}
		for _, v := range company.Violations {
			subject := v.AccountID
			if subject == "" {
				subject = v.VoucherID
			}
			if subject == "" {
				subject = "-"
			}
			_, _ = fmt.Fprintf(out, "  %s %s: expected %s, got %s\n", v.Kind, subject, v.Expected, v.Actual)
		}
	}
}
