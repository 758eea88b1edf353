package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ecd-reconciliation-service/internal/ledger"
	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/internal/pipeline"
	"ecd-reconciliation-service/internal/reconcile"
	"ecd-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func testBatch() *pipeline.BatchResult {
	periodEnd := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	ok := &pipeline.FilingResult{
		Path: "2023.txt",
		Ledger: &ledger.Ledger{
			FileName:   "2023.txt",
			TaxpayerID: "12345678000199",
			Year:       2023,
			Accounts: []*models.Account{
				{Code: "1.01", Kind: models.KindAnalytic},
			},
			Balances: []*models.MonthlyBalance{
				{AccountCode: "1.01", PeriodEnd: periodEnd},
			},
		},
		Reconciliation: &reconcile.Result{
			ClosingReversals: 2,
			Divergences: []reconcile.Divergence{
				{
					Kind:        reconcile.DivergenceUnmapped,
					AccountCode: "1.01",
					PeriodEnd:   periodEnd,
					Amount:      decimal.RequireFromString("250.00"),
					Detail:      "material balance on an account without reference mapping",
				},
			},
		},
		MappingStats: reconcile.MappingStats{Unmapped: 1},
	}

	failed := &pipeline.FilingResult{
		Path: "broken.txt",
		Err:  errors.FileError(errors.CodeEmptyInput, "broken.txt", nil),
	}

	return &pipeline.BatchResult{
		Filings: []*pipeline.FilingResult{ok, failed},
		Errors:  errors.NewErrorSummary([]*errors.PipelineError{failed.Err}),
	}
}

func TestOutputFormat_IsValid(t *testing.T) {
	for _, format := range []OutputFormat{FormatConsole, FormatCSV, FormatJSON} {
		if !format.IsValid() {
			t.Errorf("%s should be valid", format)
		}
	}
	if OutputFormat("xml").IsValid() {
		t.Error("xml should not be valid")
	}
}

func TestSummarize(t *testing.T) {
	summaries := Summarize(testBatch())

	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}

	ok := summaries[0]
	if ok.Taxpayer != "12345678000199" || ok.Year != 2023 {
		t.Errorf("summary = %+v", ok)
	}
	if ok.ClosingReversals != 2 || ok.Divergences != 1 || ok.Unmapped != 1 {
		t.Errorf("counters = %+v", ok)
	}
	if ok.Error != "" {
		t.Errorf("successful filing carries error %q", ok.Error)
	}

	failed := summaries[1]
	if failed.Error == "" {
		t.Error("failed filing lost its error")
	}
	if failed.Accounts != 0 {
		t.Error("failed filing should carry no ledger counters")
	}
}

func TestWriteReport_Console(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, testBatch(), FormatConsole); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "2023.txt") || !strings.Contains(out, "broken.txt") {
		t.Errorf("console output missing filings:\n%s", out)
	}
	if !strings.Contains(out, "2 filing(s), 1 divergence(s), 1 error(s)") {
		t.Errorf("console output missing totals line:\n%s", out)
	}
}

func TestWriteReport_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, testBatch(), FormatCSV); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header plus one divergence", len(lines))
	}
	if lines[0] != "file,kind,account_code,period_end_date,amount,detail" {
		t.Errorf("csv header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2023.txt,unmapped_account,1.01,2023-12-31,250,") {
		t.Errorf("csv row = %q", lines[1])
	}
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, testBatch(), FormatJSON); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	var payload struct {
		Filings []FilingSummary `json:"filings"`
		Errors  int             `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(payload.Filings) != 2 || payload.Errors != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWriteReport_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, testBatch(), OutputFormat("xml")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
