package reconcile

import (
	"sort"

	"ecd-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// projectReference re-projects the finalized analytic balances onto the
// reference taxonomy: group by resolved reference code, merge into the full
// chart skeleton (unmapped reference codes still appear, zero-filled), and
// re-aggregate bottom-up within the reference hierarchy using the same
// level-order algorithm as the company view.
func (e *Engine) projectReference(accounts []*models.Account, balances []*models.MonthlyBalance, refChart []models.ReferenceAccount) []models.ReferenceBalance {
	if len(refChart) == 0 || len(balances) == 0 {
		return nil
	}

	refOf := make(map[string]string, len(accounts))
	for _, account := range accounts {
		if account.ReferenceCode != "" {
			refOf[account.Code] = account.ReferenceCode
		}
	}
	if len(refOf) == 0 {
		return nil
	}

	// Several company accounts may map onto the same reference code; sum
	// their balances per (reference code, period).
	type refPeriod struct {
		code   string
		period int64
	}
	type sums struct {
		opening decimal.Decimal
		debit   decimal.Decimal
		credit  decimal.Decimal
		closing decimal.Decimal
	}
	grouped := make(map[refPeriod]*sums)
	for _, balance := range balances {
		ref, ok := refOf[balance.AccountCode]
		if !ok {
			continue
		}
		key := refPeriod{ref, balance.PeriodEnd.Unix()}
		s, ok := grouped[key]
		if !ok {
			s = &sums{}
			grouped[key] = s
		}
		s.opening = s.opening.Add(balance.OpeningSigned)
		s.debit = s.debit.Add(balance.DebitSum)
		s.credit = s.credit.Add(balance.CreditSum)
		s.closing = s.closing.Add(balance.ClosingSigned)
	}

	// Deepest reference levels first, chart order within a level.
	ordered := make([]models.ReferenceAccount, len(refChart))
	copy(ordered, refChart)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Level > ordered[j].Level
	})

	var view []models.ReferenceBalance
	for _, period := range periodsOf(balances) {
		rows := make(map[string]*models.ReferenceBalance, len(refChart))
		for _, ref := range refChart {
			rows[ref.Code] = &models.ReferenceBalance{
				ReferenceCode: ref.Code,
				Description:   ref.Description,
				ParentCode:    ref.ParentCode,
				Level:         ref.Level,
				PeriodEnd:     period,
			}
		}

		for _, ref := range refChart {
			if s, ok := grouped[refPeriod{ref.Code, period.Unix()}]; ok {
				row := rows[ref.Code]
				row.OpeningSigned = s.opening
				row.DebitSum = s.debit
				row.CreditSum = s.credit
				row.ClosingSigned = s.closing
			}
		}

		for _, ref := range ordered {
			if ref.Level <= 1 || ref.ParentCode == "" {
				continue
			}
			parent, ok := rows[ref.ParentCode]
			if !ok {
				continue
			}
			row := rows[ref.Code]
			parent.OpeningSigned = parent.OpeningSigned.Add(row.OpeningSigned)
			parent.DebitSum = parent.DebitSum.Add(row.DebitSum)
			parent.CreditSum = parent.CreditSum.Add(row.CreditSum)
			parent.ClosingSigned = parent.ClosingSigned.Add(row.ClosingSigned)
		}

		for _, ref := range refChart {
			view = append(view, *rows[ref.Code])
		}
	}

	return view
}
