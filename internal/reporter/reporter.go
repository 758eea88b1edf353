// Package reporter renders batch outcomes for humans and downstream
// tooling: a per-filing summary and the divergence list produced by the
// reconciliation engine.
//
// Supported output formats:
//   - Console: tabular output for terminal display
//   - CSV: divergence rows for spreadsheet triage
//   - JSON: structured summaries for programmatic consumption
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"ecd-reconciliation-service/internal/pipeline"
)

// OutputFormat selects how a report is rendered.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatCSV     OutputFormat = "csv"
	FormatJSON    OutputFormat = "json"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatCSV, FormatJSON:
		return true
	default:
		return false
	}
}

// FilingSummary is the flattened per-filing outcome.
type FilingSummary struct {
	Path             string `json:"path"`
	Taxpayer         string `json:"taxpayer"`
	Year             int    `json:"year"`
	Accounts         int    `json:"accounts"`
	JournalEntries   int    `json:"journal_entries"`
	BalanceRows      int    `json:"balance_rows"`
	ReferenceRows    int    `json:"reference_rows"`
	ClosingReversals int    `json:"closing_reversals"`
	Divergences      int    `json:"divergences"`
	Unmapped         int    `json:"unmapped_accounts"`
	Error            string `json:"error,omitempty"`
}

// Summarize flattens a batch result into filing summaries.
func Summarize(batch *pipeline.BatchResult) []FilingSummary {
	summaries := make([]FilingSummary, 0, len(batch.Filings))
	for _, filing := range batch.Filings {
		summary := FilingSummary{Path: filing.Path}
		if filing.Err != nil {
			summary.Error = filing.Err.Error()
			summaries = append(summaries, summary)
			continue
		}
		if filing.Ledger != nil {
			summary.Taxpayer = filing.Ledger.TaxpayerID
			summary.Year = filing.Ledger.Year
			summary.Accounts = len(filing.Ledger.Accounts)
			summary.JournalEntries = len(filing.Ledger.Journal)
			summary.BalanceRows = len(filing.Ledger.Balances)
			summary.ReferenceRows = len(filing.Ledger.ReferenceBalances)
		}
		if filing.Reconciliation != nil {
			summary.ClosingReversals = filing.Reconciliation.ClosingReversals
			summary.Divergences = len(filing.Reconciliation.Divergences)
		}
		summary.Unmapped = filing.MappingStats.Unmapped
		summaries = append(summaries, summary)
	}
	return summaries
}

// WriteReport renders the batch in the requested format.
func WriteReport(w io.Writer, batch *pipeline.BatchResult, format OutputFormat) error {
	switch format {
	case FormatConsole:
		return writeConsole(w, batch)
	case FormatCSV:
		return writeDivergenceCSV(w, batch)
	case FormatJSON:
		return writeJSON(w, batch)
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
}

func writeConsole(w io.Writer, batch *pipeline.BatchResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tTAXPAYER\tYEAR\tACCOUNTS\tBALANCES\tREVERSALS\tDIVERGENCES\tUNMAPPED\tSTATUS")
	for _, summary := range Summarize(batch) {
		status := "ok"
		if summary.Error != "" {
			status = summary.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			summary.Path, summary.Taxpayer, summary.Year, summary.Accounts,
			summary.BalanceRows, summary.ClosingReversals, summary.Divergences,
			summary.Unmapped, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	divergences := 0
	for _, filing := range batch.Filings {
		if filing.Reconciliation != nil {
			divergences += len(filing.Reconciliation.Divergences)
		}
	}
	fmt.Fprintf(w, "\n%d filing(s), %d divergence(s), %d error(s)\n",
		len(batch.Filings), divergences, batch.Errors.Total)
	return nil
}

// writeDivergenceCSV emits one row per divergence across the batch.
func writeDivergenceCSV(w io.Writer, batch *pipeline.BatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "kind", "account_code", "period_end_date", "amount", "detail"}); err != nil {
		return err
	}

	for _, filing := range batch.Filings {
		if filing.Reconciliation == nil {
			continue
		}
		for _, divergence := range filing.Reconciliation.Divergences {
			record := []string{
				filing.Path,
				string(divergence.Kind),
				divergence.AccountCode,
				divergence.PeriodEnd.Format("2006-01-02"),
				divergence.Amount.String(),
				divergence.Detail,
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, batch *pipeline.BatchResult) error {
	payload := struct {
		Filings   []FilingSummary `json:"filings"`
		Taxpayers int             `json:"taxpayers_learned"`
		Errors    int             `json:"errors"`
	}{
		Filings:   Summarize(batch),
		Taxpayers: batch.Learned.Taxpayers,
		Errors:    batch.Errors.Total,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
