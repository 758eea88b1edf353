// Package reconcile derives the temporally-consistent, hierarchically-
// consolidated balances of one filing.
//
// The engine runs a fixed sequence of passes over the monthly balances:
// closing-entry reversal, forward-roll continuity, prior-plan transfer
// bridging, bottom-up aggregation through the company chart, and
// re-projection onto the government reference taxonomy. Every addition and
// subtraction is exact decimal arithmetic; a non-zero leftover after a pass
// is a reportable divergence, never tolerated rounding.
package reconcile

import (
	"sort"
	"time"

	"ecd-reconciliation-service/internal/ledger"
	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// DivergenceKind classifies a reconciliation leftover.
type DivergenceKind string

const (
	// DivergenceHierarchy: a synthetic account's closing does not equal the
	// sum of its children's closings.
	DivergenceHierarchy DivergenceKind = "hierarchy_mismatch"
	// DivergenceUnmapped: an analytic account with a material balance has no
	// reference mapping.
	DivergenceUnmapped DivergenceKind = "unmapped_account"
)

// Divergence is data to report, not an error.
type Divergence struct {
	Kind        DivergenceKind  `json:"kind"`
	AccountCode string          `json:"account_code"`
	PeriodEnd   time.Time       `json:"period_end_date"`
	Amount      decimal.Decimal `json:"amount"`
	Detail      string          `json:"detail,omitempty"`
}

// Result is the engine's output for one filing.
type Result struct {
	// CompanyView holds one row per chart account per period, hierarchically
	// aggregated.
	CompanyView []*models.MonthlyBalance
	// ReferenceView holds one row per reference-chart code per period.
	ReferenceView []models.ReferenceBalance
	// Divergences collects the non-zero leftovers of the reconciliation.
	Divergences []Divergence
	// ClosingReversals counts the (account, period) pairs whose declared
	// closing balance was rewound to its pre-zeroing value.
	ClosingReversals int
}

// Engine reconciles one filing. Single use: Reconcile applies each pass
// exactly once, so a second reversal of the same closing entries cannot
// happen by construction.
type Engine struct {
	logger logger.Logger
	done   bool
}

// NewEngine creates an engine for one filing.
func NewEngine() *Engine {
	return &Engine{
		logger: logger.GetGlobalLogger().WithComponent("reconcile_engine"),
	}
}

// Reconcile runs the full pass sequence. The ledger's balance rows are
// mutated in place (reversal, roll, bridging) and are immutable afterward;
// the aggregated views are built on copies. refChart may be nil, in which
// case the reference view is empty.
func (e *Engine) Reconcile(l *ledger.Ledger, refChart []models.ReferenceAccount) *Result {
	result := &Result{}
	if e.done {
		// A second invocation would reverse closings twice.
		e.logger.Error("Reconcile called twice on the same engine; ignoring")
		return result
	}
	e.done = true

	if len(l.Balances) == 0 {
		e.logger.WithField("file", l.FileName).Warn("No monthly balances; skipping reconciliation")
		return result
	}

	result.ClosingReversals = e.reverseClosings(l.Balances, l.Journal)
	e.rollForward(l.Balances, l.PlanTransfers)

	companyView, hierarchyDivs := e.aggregateCompany(l.Accounts, l.Balances)
	result.CompanyView = companyView
	result.Divergences = append(result.Divergences, hierarchyDivs...)
	result.Divergences = append(result.Divergences, e.unmappedDivergences(l.Accounts, l.Balances)...)

	result.ReferenceView = e.projectReference(l.Accounts, l.Balances, refChart)

	e.logger.WithFields(logger.Fields{
		"file":              l.FileName,
		"company_rows":      len(result.CompanyView),
		"reference_rows":    len(result.ReferenceView),
		"closing_reversals": result.ClosingReversals,
		"divergences":       len(result.Divergences),
	}).Info("Reconciliation complete")

	return result
}

type periodKey struct {
	account string
	period  time.Time
}

// closingAdjustment accumulates the closing-flagged entries of one
// (account, period-end) pair. Two distinct closing batches for the same
// account on the same date are indistinguishably summed; the submission
// format gives no way to tell them apart, and the ambiguity is preserved
// rather than silently resolved.
type closingAdjustment struct {
	signed decimal.Decimal
	debit  decimal.Decimal
	credit decimal.Decimal
}

// reverseClosings subtracts year-end zeroing entries back out of the declared
// closing balances and movement sums, recovering the pre-zeroing economic
// balance. Applied exactly once per (account, period) pair. Returns the
// number of pairs adjusted.
func (e *Engine) reverseClosings(balances []*models.MonthlyBalance, journal []models.JournalEntry) int {
	adjustments := make(map[periodKey]*closingAdjustment)
	for _, entry := range journal {
		if !entry.Closing {
			continue
		}
		key := periodKey{entry.AccountCode, entry.Date}
		adj, ok := adjustments[key]
		if !ok {
			adj = &closingAdjustment{}
			adjustments[key] = adj
		}
		adj.signed = adj.signed.Add(entry.Signed)
		adj.debit = adj.debit.Add(entry.Debit)
		adj.credit = adj.credit.Add(entry.Credit)
	}

	if len(adjustments) == 0 {
		return 0
	}

	reversed := 0
	for _, balance := range balances {
		adj, ok := adjustments[periodKey{balance.AccountCode, balance.PeriodEnd}]
		if !ok {
			continue
		}
		balance.ClosingSigned = balance.ClosingSigned.Sub(adj.signed)
		balance.DebitSum = balance.DebitSum.Sub(adj.debit)
		balance.CreditSum = balance.CreditSum.Sub(adj.credit)
		reversed++
	}

	return reversed
}

// rollForward orders each account's periods by date and overwrites every
// opening balance with the prior period's (reversed) closing balance. The
// declared openings are not trusted once a continuation exists. A plan
// transfer substitutes the opening only for an account's very first period.
func (e *Engine) rollForward(balances []*models.MonthlyBalance, transfers []models.PlanTransfer) {
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].AccountCode != balances[j].AccountCode {
			return balances[i].AccountCode < balances[j].AccountCode
		}
		return balances[i].PeriodEnd.Before(balances[j].PeriodEnd)
	})

	transferred := make(map[string]decimal.Decimal, len(transfers))
	for _, t := range transfers {
		transferred[t.AccountCode] = t.OpeningSigned
	}

	prevAccount := ""
	var prevClosing decimal.Decimal
	hasPrev := false

	for _, balance := range balances {
		if balance.AccountCode != prevAccount {
			prevAccount = balance.AccountCode
			hasPrev = false
		}

		if hasPrev {
			balance.OpeningSigned = prevClosing
		} else if opening, ok := transferred[balance.AccountCode]; ok {
			balance.OpeningSigned = opening
		}

		prevClosing = balance.ClosingSigned
		hasPrev = true
	}
}

// aggregateCompany builds the company view: one row per chart account per
// period, with synthetic accounts accumulated bottom-up from their children.
// Accounts are processed by descending level in a single pass over a
// code-indexed row table, so children hold their final values before any
// parent consumes them; the root level never propagates further.
func (e *Engine) aggregateCompany(accounts []*models.Account, balances []*models.MonthlyBalance) ([]*models.MonthlyBalance, []Divergence) {
	if len(accounts) == 0 {
		return nil, nil
	}

	// Deepest first; ties keep chart order.
	ordered := make([]*models.Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Level > ordered[j].Level
	})

	var view []*models.MonthlyBalance
	var divergences []Divergence

	for _, period := range periodsOf(balances) {
		rows := make(map[string]*models.MonthlyBalance, len(accounts))
		for _, account := range accounts {
			rows[account.Code] = &models.MonthlyBalance{
				AccountCode: account.Code,
				PeriodEnd:   period,
			}
		}
		for _, balance := range balances {
			if !balance.PeriodEnd.Equal(period) {
				continue
			}
			if row, ok := rows[balance.AccountCode]; ok {
				row.OpeningSigned = row.OpeningSigned.Add(balance.OpeningSigned)
				row.DebitSum = row.DebitSum.Add(balance.DebitSum)
				row.CreditSum = row.CreditSum.Add(balance.CreditSum)
				row.ClosingSigned = row.ClosingSigned.Add(balance.ClosingSigned)
			}
		}

		childrenSum := make(map[string]decimal.Decimal, len(accounts))
		for _, account := range ordered {
			row := rows[account.Code]
			if account.Level > 1 && account.ParentCode != "" {
				if parent, ok := rows[account.ParentCode]; ok {
					parent.OpeningSigned = parent.OpeningSigned.Add(row.OpeningSigned)
					parent.DebitSum = parent.DebitSum.Add(row.DebitSum)
					parent.CreditSum = parent.CreditSum.Add(row.CreditSum)
					parent.ClosingSigned = parent.ClosingSigned.Add(row.ClosingSigned)
					childrenSum[account.ParentCode] = childrenSum[account.ParentCode].Add(row.ClosingSigned)
				}
			}
		}

		for _, account := range accounts {
			row := rows[account.Code]
			if !account.IsAnalytic() {
				leftover := row.ClosingSigned.Sub(childrenSum[account.Code])
				if !leftover.IsZero() {
					divergences = append(divergences, Divergence{
						Kind:        DivergenceHierarchy,
						AccountCode: account.Code,
						PeriodEnd:   period,
						Amount:      leftover,
						Detail:      "synthetic closing differs from the sum of its children",
					})
				}
			}
			view = append(view, row)
		}
	}

	return view, divergences
}

// unmappedDivergences reports analytic accounts that carry a material
// closing balance in some period but resolved to no reference code.
func (e *Engine) unmappedDivergences(accounts []*models.Account, balances []*models.MonthlyBalance) []Divergence {
	unmapped := make(map[string]bool)
	for _, account := range accounts {
		if account.IsAnalytic() && account.ReferenceCode == "" {
			unmapped[account.Code] = true
		}
	}
	if len(unmapped) == 0 {
		return nil
	}

	var divergences []Divergence
	for _, balance := range balances {
		if !unmapped[balance.AccountCode] || balance.ClosingSigned.IsZero() {
			continue
		}
		divergences = append(divergences, Divergence{
			Kind:        DivergenceUnmapped,
			AccountCode: balance.AccountCode,
			PeriodEnd:   balance.PeriodEnd,
			Amount:      balance.ClosingSigned,
			Detail:      "material balance on an account without reference mapping",
		})
	}
	return divergences
}

// periodsOf returns the distinct period-end dates present, ascending.
func periodsOf(balances []*models.MonthlyBalance) []time.Time {
	seen := make(map[time.Time]bool)
	var periods []time.Time
	for _, balance := range balances {
		if !seen[balance.PeriodEnd] {
			seen[balance.PeriodEnd] = true
			periods = append(periods, balance.PeriodEnd)
		}
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}
