// Package ledger turns the parser's Node stream into the typed relations of
// one filing: chart of accounts, journal, monthly balances, plan transfers
// and financial statements. Joins are structural, by recovered parent key.
//
// A missing record type yields an empty relation, never an error; downstream
// reconciliation steps treat empty inputs as "skip with no data".
package ledger

import (
	"strconv"
	"strings"
	"time"

	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/internal/parser"
	"ecd-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Record codes of the submission format consumed by the builder.
const (
	RecordRoot          = "0000" // filing header: taxpayer, period, institution
	RecordAccount       = "I050" // chart-of-accounts row
	RecordMapping       = "I051" // declared reference mapping (child of I050)
	RecordPeriod        = "I150" // trial-balance period header
	RecordBalance       = "I155" // monthly balance (child of I150)
	RecordPlanTransfer  = "I157" // opening balance carried from a prior chart
	RecordEntryHeader   = "I200" // journal entry header
	RecordEntryLine     = "I250" // journal entry line (child of I200)
	RecordStmtPeriod    = "J005" // financial-statement period header
	RecordBalanceSheet  = "J100" // balance-sheet row (child of J005)
	RecordIncomeStmt    = "J150" // income-statement row (child of J005)
	closingEntryKind    = "E"    // entry kind marking year-end zeroing entries
	modernLayoutVersion = 8.0    // institution code moved to the root record
)

// StatementLine is one row of a published financial statement.
type StatementLine struct {
	PeriodEnd   time.Time       `json:"period_end_date"`
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Level       int             `json:"level"`
	Signed      decimal.Decimal `json:"signed_amount"`
}

// Ledger is the reconstructed, filing-scoped output artifact. The builder
// fills the structural relations; the reconciliation engine fills Balances
// and ReferenceBalances with their final values.
type Ledger struct {
	FileName      string
	LayoutVersion string

	TaxpayerID      string
	PeriodEnd       time.Time
	Year            int
	InstitutionCode string

	Accounts      []*models.Account
	Journal       []models.JournalEntry
	Balances      []*models.MonthlyBalance
	PlanTransfers []models.PlanTransfer

	ReferenceBalances []models.ReferenceBalance

	BalanceSheet    []StatementLine
	IncomeStatement []StatementLine
}

// AccountByCode builds the code -> account index used by the reconciliation
// and mapping passes.
func (l *Ledger) AccountByCode() map[string]*models.Account {
	index := make(map[string]*models.Account, len(l.Accounts))
	for _, account := range l.Accounts {
		index[account.Code] = account
	}
	return index
}

// AnalyticSet returns the set of analytic account codes, the filing's chart
// fingerprint used for cross-year structural similarity.
func (l *Ledger) AnalyticSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, account := range l.Accounts {
		if account.IsAnalytic() {
			set[account.Code] = struct{}{}
		}
	}
	return set
}

// Builder accumulates parsed Nodes grouped by record type and assembles the
// Ledger's relations.
type Builder struct {
	fileName      string
	layoutVersion string
	byType        map[string][]*parser.Node
	logger        logger.Logger
}

// NewBuilder creates a builder for one filing.
func NewBuilder(fileName, layoutVersion string) *Builder {
	return &Builder{
		fileName:      fileName,
		layoutVersion: layoutVersion,
		byType:        make(map[string][]*parser.Node),
		logger: logger.GetGlobalLogger().WithComponent("ledger_builder").
			WithField("file", fileName),
	}
}

// Add accepts one parsed Node. Designed as the parser's emit callback.
func (b *Builder) Add(node *parser.Node) error {
	b.byType[node.Type] = append(b.byType[node.Type], node)
	return nil
}

// Build assembles the typed relations into a Ledger.
func (b *Builder) Build() *Ledger {
	l := &Ledger{
		FileName:      b.fileName,
		LayoutVersion: b.layoutVersion,
	}

	b.extractMetadata(l)
	l.Accounts = b.buildAccounts()
	l.Journal = b.buildJournal()
	l.Balances = b.buildBalances()
	l.PlanTransfers = b.buildPlanTransfers()
	l.BalanceSheet = b.buildStatement(RecordBalanceSheet)
	l.IncomeStatement = b.buildStatement(RecordIncomeStmt)

	b.logger.WithFields(logger.Fields{
		"taxpayer": l.TaxpayerID,
		"year":     l.Year,
		"accounts": len(l.Accounts),
		"journal":  len(l.Journal),
		"balances": len(l.Balances),
	}).Info("Built filing relations")

	return l
}

// extractMetadata recovers taxpayer, period and institution code. The
// institution code lives on the root record in modern layouts and on the
// first declared-mapping row in legacy ones.
func (b *Builder) extractMetadata(l *Ledger) {
	roots := b.byType[RecordRoot]
	if len(roots) > 0 {
		root := roots[0]
		l.TaxpayerID = root.Field("CNPJ").Text()
		if t, ok := root.Field("DT_FIN").Date(); ok {
			l.PeriodEnd = t
			l.Year = t.Year()
		}
	}

	version, err := strconv.ParseFloat(b.layoutVersion, 64)
	if err != nil {
		version = 0
	}

	if version >= modernLayoutVersion {
		if len(roots) > 0 {
			l.InstitutionCode = strings.TrimSpace(roots[0].Field("COD_PLAN_REF").Text())
		}
	} else if mappings := b.byType[RecordMapping]; len(mappings) > 0 {
		l.InstitutionCode = strings.TrimSpace(mappings[0].Field("COD_PLAN_REF").Text())
	}

	if l.InstitutionCode == "" {
		b.logger.WithField("layout_version", b.layoutVersion).
			Warn("Institution code not located; reference mapping may be unavailable")
	}
}

// buildAccounts joins chart rows with their declared mapping children.
func (b *Builder) buildAccounts() []*models.Account {
	accountNodes := b.byType[RecordAccount]
	if len(accountNodes) == 0 {
		return nil
	}

	// Declared mappings attach to their chart row by parent key.
	declaredRef := make(map[string]string)
	for _, m := range b.byType[RecordMapping] {
		ref := strings.TrimSpace(m.Field("COD_CTA_REF").Text())
		if m.ParentKey != "" && ref != "" {
			declaredRef[m.ParentKey] = ref
		}
	}

	accounts := make([]*models.Account, 0, len(accountNodes))
	for _, node := range accountNodes {
		level, _ := strconv.Atoi(strings.TrimSpace(node.Field("NIVEL").Text()))
		account := &models.Account{
			Code:       strings.TrimSpace(node.Field("COD_CTA").Text()),
			ParentCode: strings.TrimSpace(node.Field("COD_CTA_SUP").Text()),
			Name:       strings.TrimSpace(node.Field("CTA").Text()),
			Level:      level,
			Kind:       models.AccountKind(strings.TrimSpace(node.Field("IND_CTA").Text())),
			Nature:     models.ParseAccountNature(node.Field("COD_NAT").Text()),
		}

		if ref, ok := declaredRef[node.Key]; ok {
			account.ReferenceCode = ref
			account.MappingOrigin = models.OriginDeclared
		}

		accounts = append(accounts, account)
	}

	return accounts
}

// buildJournal joins entry lines to their headers by parent key.
func (b *Builder) buildJournal() []models.JournalEntry {
	headers := make(map[string]*parser.Node, len(b.byType[RecordEntryHeader]))
	for _, h := range b.byType[RecordEntryHeader] {
		headers[h.Key] = h
	}

	lines := b.byType[RecordEntryLine]
	if len(headers) == 0 || len(lines) == 0 {
		return nil
	}

	journal := make([]models.JournalEntry, 0, len(lines))
	for _, line := range lines {
		header, ok := headers[line.ParentKey]
		if !ok {
			// Orphaned line: its header was skipped as malformed.
			b.logger.WithField("line", line.LineNumber).Warn("Journal line without header")
			continue
		}

		date, _ := header.Field("DT_LCTO").Date()
		amount, _ := line.Field("VL_DC").Decimal()
		closing := strings.TrimSpace(header.Field("IND_LCTO").Text()) == closingEntryKind

		entry := models.NewJournalEntry(
			strings.TrimSpace(header.Field("NUM_LCTO").Text()),
			date,
			strings.TrimSpace(line.Field("COD_CTA").Text()),
			amount,
			line.Field("IND_DC").Text(),
			closing,
			strings.TrimSpace(line.Field("HIST").Text()),
		)
		journal = append(journal, entry)
	}

	return journal
}

// buildBalances joins monthly balances to their period headers and applies
// the sign convention to openings and closings.
func (b *Builder) buildBalances() []*models.MonthlyBalance {
	periods := make(map[string]time.Time, len(b.byType[RecordPeriod]))
	for _, p := range b.byType[RecordPeriod] {
		if t, ok := p.Field("DT_FIN").Date(); ok {
			periods[p.Key] = t
		}
	}

	rows := b.byType[RecordBalance]
	if len(periods) == 0 || len(rows) == 0 {
		return nil
	}

	balances := make([]*models.MonthlyBalance, 0, len(rows))
	for _, row := range rows {
		periodEnd, ok := periods[row.ParentKey]
		if !ok {
			b.logger.WithField("line", row.LineNumber).Warn("Balance row without period header")
			continue
		}

		opening, _ := row.Field("VL_SLD_INI").Decimal()
		closing, _ := row.Field("VL_SLD_FIN").Decimal()
		debit, _ := row.Field("VL_DEB").Decimal()
		credit, _ := row.Field("VL_CRED").Decimal()

		balances = append(balances, &models.MonthlyBalance{
			AccountCode:   strings.TrimSpace(row.Field("COD_CTA").Text()),
			PeriodEnd:     periodEnd,
			OpeningSigned: models.SignedAmount(opening, row.Field("IND_DC_INI").Text()),
			DebitSum:      debit,
			CreditSum:     credit,
			ClosingSigned: models.SignedAmount(closing, row.Field("IND_DC_FIN").Text()),
		})
	}

	return balances
}

func (b *Builder) buildPlanTransfers() []models.PlanTransfer {
	rows := b.byType[RecordPlanTransfer]
	if len(rows) == 0 {
		return nil
	}

	transfers := make([]models.PlanTransfer, 0, len(rows))
	for _, row := range rows {
		amount, _ := row.Field("VL_SLD_INI").Decimal()
		transfers = append(transfers, models.PlanTransfer{
			AccountCode:   strings.TrimSpace(row.Field("COD_CTA").Text()),
			OpeningSigned: models.SignedAmount(amount, row.Field("IND_DC_INI").Text()),
		})
	}

	return transfers
}

// buildStatement joins statement rows to their period header by parent key.
func (b *Builder) buildStatement(code string) []StatementLine {
	periods := make(map[string]time.Time, len(b.byType[RecordStmtPeriod]))
	for _, p := range b.byType[RecordStmtPeriod] {
		if t, ok := p.Field("DT_FIN").Date(); ok {
			periods[p.Key] = t
		}
	}

	rows := b.byType[code]
	if len(periods) == 0 || len(rows) == 0 {
		return nil
	}

	statement := make([]StatementLine, 0, len(rows))
	for _, row := range rows {
		periodEnd, ok := periods[row.ParentKey]
		if !ok {
			continue
		}

		level, _ := strconv.Atoi(strings.TrimSpace(row.Field("NIVEL_AGL").Text()))
		amount, _ := row.Field("VL_CTA").Decimal()

		statement = append(statement, StatementLine{
			PeriodEnd:   periodEnd,
			Code:        strings.TrimSpace(row.Field("COD_AGL").Text()),
			Description: strings.TrimSpace(row.Field("DESCR_COD_AGL").Text()),
			Level:       level,
			Signed:      models.SignedAmount(amount, row.Field("IND_DC_CTA").Text()),
		})
	}

	return statement
}
