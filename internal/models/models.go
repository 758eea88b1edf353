// Package models defines the core data structures for the reconstructed
// ledger: accounts, journal entries, monthly balances and reference-chart
// rows, plus the parsing helpers shared by the record parser and the ledger
// builder.
//
// All monetary fields use decimal.Decimal. Reconciliation decisions are
// equality-to-zero tests, so no floating-point representation is permitted
// anywhere balances are summed or compared.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes posting accounts from aggregate-only ones.
type AccountKind string

const (
	// KindAnalytic marks a leaf account that receives direct postings.
	KindAnalytic AccountKind = "A"
	// KindSynthetic marks a non-leaf, aggregate-only account.
	KindSynthetic AccountKind = "S"
)

// IsValid checks if the account kind is valid
func (k AccountKind) IsValid() bool {
	return k == KindAnalytic || k == KindSynthetic
}

// AccountNature classifies an account by its economic nature.
type AccountNature string

const (
	NatureAsset     AccountNature = "ASSET"
	NatureLiability AccountNature = "LIABILITY"
	NatureEquity    AccountNature = "EQUITY"
	NatureResult    AccountNature = "RESULT"
	NatureOther     AccountNature = "OTHER"
)

// ParseAccountNature maps the two-digit nature code carried by chart-of-
// accounts records onto an AccountNature. Unknown codes degrade to
// NatureOther rather than failing the account.
func ParseAccountNature(code string) AccountNature {
	switch strings.TrimSpace(code) {
	case "01", "1":
		return NatureAsset
	case "02", "2":
		return NatureLiability
	case "03", "3":
		return NatureEquity
	case "04", "4":
		return NatureResult
	default:
		return NatureOther
	}
}

// MappingOrigin tags how an account's reference code was obtained. The audit
// layer pattern-matches on these values, so they are part of the stable
// output contract.
type MappingOrigin string

const (
	// OriginDeclared: mapping present in the current filing.
	OriginDeclared MappingOrigin = "DECLARED"
	// OriginNeighborAccount: same account code found in the best-matching
	// neighboring filing year.
	OriginNeighborAccount MappingOrigin = "NEIGHBOR_ACCOUNT"
	// OriginNeighborGroup: most frequent reference code of the same parent
	// group in the best-matching neighboring filing year.
	OriginNeighborGroup MappingOrigin = "NEIGHBOR_GROUP"
	// OriginConsensus: global majority vote across all learned years.
	OriginConsensus MappingOrigin = "CONSENSUS"
	// OriginUnmapped: no resolution rule fired.
	OriginUnmapped MappingOrigin = "UNMAPPED"
)

// Account is one row of a filing's chart of accounts. Owned by the ledger for
// the lifetime of one filing; never shared across filings.
type Account struct {
	Code          string        `json:"account_code"`
	ParentCode    string        `json:"parent_code"`
	Name          string        `json:"name"`
	Level         int           `json:"level"`
	Kind          AccountKind   `json:"kind"`
	Nature        AccountNature `json:"nature"`
	ReferenceCode string        `json:"reference_code,omitempty"`
	MappingOrigin MappingOrigin `json:"mapping_origin,omitempty"`
	// SourceYear carries the filing year a bridged mapping was taken from.
	// Empty for declared, consensus and unmapped origins.
	SourceYear string `json:"mapping_source_year,omitempty"`
}

// IsAnalytic returns true for leaf accounts.
func (a *Account) IsAnalytic() bool {
	return a.Kind == KindAnalytic
}

// String returns a compact representation used in logs and reports.
func (a *Account) String() string {
	return fmt.Sprintf("%s - %s", a.Code, strings.ToUpper(strings.TrimSpace(a.Name)))
}

// JournalEntry is one posted line, produced once from the join of entry
// headers and entry lines. Immutable after construction.
type JournalEntry struct {
	EntryNumber string          `json:"entry_number"`
	Date        time.Time       `json:"date"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit_amount"`
	Credit      decimal.Decimal `json:"credit_amount"`
	Signed      decimal.Decimal `json:"signed_amount"`
	Closing     bool            `json:"closing_flag"`
	History     string          `json:"history_text"`
}

// NewJournalEntry builds an entry from an amount plus its debit/credit
// indicator. Exactly one of debit/credit is non-zero and
// signed = debit - credit.
func NewJournalEntry(entryNumber string, date time.Time, accountCode string, amount decimal.Decimal, indicator string, closing bool, history string) JournalEntry {
	debit := decimal.Zero
	credit := decimal.Zero
	if strings.TrimSpace(indicator) == "D" {
		debit = amount
	} else {
		credit = amount
	}

	return JournalEntry{
		EntryNumber: entryNumber,
		Date:        date,
		AccountCode: accountCode,
		Debit:       debit,
		Credit:      credit,
		Signed:      debit.Sub(credit),
		Closing:     closing,
		History:     history,
	}
}

// Validate checks the sign-convention invariants.
func (e *JournalEntry) Validate() error {
	if strings.TrimSpace(e.AccountCode) == "" {
		return fmt.Errorf("journal entry account code cannot be empty")
	}
	if !e.Debit.IsZero() && !e.Credit.IsZero() {
		return fmt.Errorf("journal entry cannot carry both debit and credit: %s / %s", e.Debit, e.Credit)
	}
	if !e.Signed.Equal(e.Debit.Sub(e.Credit)) {
		return fmt.Errorf("signed amount %s does not equal debit - credit", e.Signed)
	}
	return nil
}

// MonthlyBalance is the per-account per-period balance row. It is mutated in
// place only by the reconciliation passes (closing reversal, forward roll,
// hierarchical aggregation) and is immutable afterward.
type MonthlyBalance struct {
	AccountCode   string          `json:"account_code"`
	PeriodEnd     time.Time       `json:"period_end_date"`
	OpeningSigned decimal.Decimal `json:"opening_signed"`
	DebitSum      decimal.Decimal `json:"debit_sum"`
	CreditSum     decimal.Decimal `json:"credit_sum"`
	ClosingSigned decimal.Decimal `json:"closing_signed"`
}

// Movement returns the signed movement of the period.
func (b *MonthlyBalance) Movement() decimal.Decimal {
	return b.DebitSum.Sub(b.CreditSum)
}

// String returns a compact representation used in logs.
func (b *MonthlyBalance) String() string {
	return fmt.Sprintf("Balance{%s %s open=%s close=%s}",
		b.AccountCode, b.PeriodEnd.Format("2006-01-02"), b.OpeningSigned, b.ClosingSigned)
}

// PlanTransfer carries an opening balance transferred from a prior chart of
// accounts, used when the chart changed between consecutive filings.
type PlanTransfer struct {
	AccountCode   string          `json:"account_code"`
	OpeningSigned decimal.Decimal `json:"opening_signed"`
}

// ReferenceAccount is one row of a government reference chart.
type ReferenceAccount struct {
	Code        string `json:"reference_code"`
	Description string `json:"description"`
	ParentCode  string `json:"parent_code"`
	Level       int    `json:"level"`
	Nature      string `json:"nature"`
}

// ReferenceBalance is a per-reference-code per-period balance row in the
// taxonomy view of the reconciled ledger.
type ReferenceBalance struct {
	ReferenceCode string          `json:"reference_code"`
	Description   string          `json:"description"`
	ParentCode    string          `json:"parent_code"`
	Level         int             `json:"level"`
	PeriodEnd     time.Time       `json:"period_end_date"`
	OpeningSigned decimal.Decimal `json:"opening_signed"`
	DebitSum      decimal.Decimal `json:"debit_sum"`
	CreditSum     decimal.Decimal `json:"credit_sum"`
	ClosingSigned decimal.Decimal `json:"closing_signed"`
}

// Parsing helpers shared by the parser and the ledger builder.

// ParseDecimal parses a decimal accepting either '.' or ',' as the fractional
// separator. Empty strings parse to zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseDayMonthYear parses a DDMMYYYY date, zero-padding shorter inputs on
// the left (legacy exporters drop the leading zero of single-digit days).
func ParseDayMonthYear(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	if len(s) < 8 {
		s = strings.Repeat("0", 8-len(s)) + s
	}

	t, err := time.Parse("02012006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day-month-year date '%s': %w", s, err)
	}

	return t, nil
}

// SignedAmount applies the process-wide sign convention: debit positive,
// credit negative.
func SignedAmount(amount decimal.Decimal, indicator string) decimal.Decimal {
	if strings.TrimSpace(indicator) == "D" {
		return amount
	}
	return amount.Neg()
}

// PeriodKey formats a period-end date as the YYYYMMDD string used to
// namespace synthesized record keys.
func PeriodKey(t time.Time) string {
	return t.Format("20060102")
}
