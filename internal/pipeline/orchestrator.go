// Package pipeline orchestrates the reconstruction of filings.
//
// One filing runs as a strict sequential pipeline: version detection, record
// parsing, relation building, mapping resolution, balance reconciliation.
// A batch of filings runs in two phases: a parallel-safe learn pass feeding
// the historical consensus mapper, then a consensus barrier, then the
// reconciliation passes, which read the frozen consensus. Completed filings
// are final; interrupting a batch between filings corrupts nothing.
package pipeline

import (
	"strconv"
	"sync"

	"ecd-reconciliation-service/internal/histmap"
	"ecd-reconciliation-service/internal/layout"
	"ecd-reconciliation-service/internal/ledger"
	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/internal/parser"
	"ecd-reconciliation-service/internal/reconcile"
	"ecd-reconciliation-service/internal/refplan"
	"ecd-reconciliation-service/pkg/errors"
	"ecd-reconciliation-service/pkg/logger"
)

// Config holds the orchestrator's runtime options.
type Config struct {
	// LayoutDir holds the layout_<version>.json documents.
	LayoutDir string
	// CatalogPath points at the reference catalog index. Empty disables
	// reference projection.
	CatalogPath string
	// MappingMandatory makes an unreadable catalog fatal for the run.
	MappingMandatory bool
	// AliasPriority overrides the default reference-chart alias funnel.
	AliasPriority []string
	// Workers bounds the parallelism of the learn phase.
	Workers int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{Workers: 4}
}

// FilingResult bundles everything produced for one filing.
type FilingResult struct {
	Path           string
	Ledger         *ledger.Ledger
	Reconciliation *reconcile.Result
	MappingStats   reconcile.MappingStats
	ParseStats     parser.Stats
	Err            *errors.PipelineError
}

// BatchResult is the outcome of a multi-filing run.
type BatchResult struct {
	Filings []*FilingResult
	Errors  *errors.ErrorSummary
	Learned histmap.Summary
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	config   *Config
	registry *layout.Registry
	catalog  *refplan.Catalog
	mapper   *histmap.Mapper
	logger   logger.Logger
}

// New creates an orchestrator, loading the layout registry and, when
// configured, the reference catalog.
func New(config *Config) (*Orchestrator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	log := logger.GetGlobalLogger().WithComponent("pipeline")

	registry := layout.NewRegistry()
	if config.LayoutDir != "" {
		if err := registry.LoadDir(config.LayoutDir); err != nil {
			return nil, err
		}
	}

	var catalog *refplan.Catalog
	if config.CatalogPath != "" {
		var err error
		catalog, err = refplan.Load(config.CatalogPath)
		if err != nil {
			if config.MappingMandatory {
				return nil, err
			}
			log.WithError(err).Warn("Reference catalog unavailable; proceeding without taxonomy view")
			catalog = nil
		}
	}

	return &Orchestrator{
		config:   config,
		registry: registry,
		catalog:  catalog,
		mapper:   histmap.NewMapper(),
		logger:   log,
	}, nil
}

// Registry exposes the layout registry, mainly for embedding layouts in
// tests and tools.
func (o *Orchestrator) Registry() *layout.Registry {
	return o.registry
}

// LoadFiling parses one submission file into its structural relations.
func (o *Orchestrator) LoadFiling(path string) (*ledger.Ledger, parser.Stats, error) {
	version, err := parser.DetectVersionFile(path)
	if err != nil {
		return nil, parser.Stats{}, err
	}

	l, err := o.registry.Get(version)
	if err != nil {
		if pe, ok := errors.AsPipelineError(err); ok {
			pe.WithContext("file", path)
		}
		return nil, parser.Stats{}, err
	}

	p := parser.New(l, path)
	builder := ledger.NewBuilder(path, version)
	if err := p.ParseFile(path, builder.Add); err != nil {
		return nil, p.Stats(), err
	}

	return builder.Build(), p.Stats(), nil
}

// learn feeds one filing's declared knowledge into the consensus mapper.
func (o *Orchestrator) learn(l *ledger.Ledger) {
	if l.TaxpayerID == "" || l.Year == 0 {
		o.logger.WithField("file", l.FileName).Warn("Filing without taxpayer or year; not learnable")
		return
	}

	parentOf := make(map[string]string, len(l.Accounts))
	for _, account := range l.Accounts {
		parentOf[account.Code] = account.ParentCode
	}

	var rows []histmap.MappingRow
	for _, account := range l.Accounts {
		if account.ReferenceCode == "" {
			continue
		}
		rows = append(rows, histmap.MappingRow{
			AccountCode:   account.Code,
			ParentCode:    parentOf[account.Code],
			ReferenceCode: account.ReferenceCode,
		})
	}

	o.mapper.Learn(l.TaxpayerID, strconv.Itoa(l.Year), rows, l.InstitutionCode, l.AnalyticSet())
}

// reconcileFiling resolves mappings against the frozen consensus and runs
// the balance engine for one loaded filing.
func (o *Orchestrator) reconcileFiling(result *FilingResult, consensus *histmap.Consensus) {
	l := result.Ledger
	result.MappingStats = reconcile.ResolveMappings(l, consensus)

	institution := l.InstitutionCode
	if institution == "" && consensus != nil {
		institution = consensus.InferInstitution(l.TaxpayerID, strconv.Itoa(l.Year))
		if institution != "" {
			l.InstitutionCode = institution
		}
	}

	engineChart, err := o.resolveChart(institution, l.Year)
	if err != nil {
		// The catalog located a chart but could not read it.
		if o.config.MappingMandatory {
			result.Err = errors.WrapIfNeeded(err, errors.CategoryCatalog, errors.CodeChartUnreadable, "reference chart unreadable")
			return
		}
		o.logger.WithError(err).WithField("file", l.FileName).Warn("Reference chart unreadable; skipping taxonomy view")
		engineChart = nil
	}

	engine := reconcile.NewEngine()
	result.Reconciliation = engine.Reconcile(l, engineChart)
	l.Balances = result.Reconciliation.CompanyView
	l.ReferenceBalances = result.Reconciliation.ReferenceView
}

// ProcessBatch runs the full two-phase batch over a taxpayer history (or any
// set of filings). Fatal errors of individual filings are collected; the
// batch continues with the remaining files.
func (o *Orchestrator) ProcessBatch(paths []string) *BatchResult {
	results := make([]*FilingResult, len(paths))

	// Phase 1: parallel parse + learn. Write-only on the consensus mapper,
	// keyed per taxpayer.
	progress := logger.NewBatchProgress("learn", len(paths), o.logger)
	var wg sync.WaitGroup
	jobs := make(chan int)

	for w := 0; w < o.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				path := paths[i]
				result := &FilingResult{Path: path}
				results[i] = result

				l, stats, err := o.LoadFiling(path)
				result.ParseStats = stats
				if err != nil {
					result.Err = errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "filing load failed")
					progress.FilingDone(0)
					continue
				}

				result.Ledger = l
				o.learn(l)
				progress.FilingDone(stats.NodesEmitted)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	progress.Complete()

	// Phase 2: consensus barrier. Nothing reads consensus before this.
	consensus := o.mapper.BuildConsensus()
	learned := o.mapper.Summarize()

	// Phase 3: reconciliation, reading the frozen consensus.
	for _, result := range results {
		if result.Err != nil || result.Ledger == nil {
			continue
		}
		o.reconcileFiling(result, consensus)
	}

	var errs []*errors.PipelineError
	for _, result := range results {
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
	}

	o.logger.WithFields(logger.Fields{
		"filings":   len(paths),
		"failed":    len(errs),
		"taxpayers": learned.Taxpayers,
	}).Info("Batch complete")

	return &BatchResult{
		Filings: results,
		Errors:  errors.NewErrorSummary(errs),
		Learned: learned,
	}
}

// resolveChart fetches the reference chart for an institution and year, or
// nil when no catalog or no match.
func (o *Orchestrator) resolveChart(institution string, year int) ([]models.ReferenceAccount, error) {
	if o.catalog == nil || institution == "" || year == 0 {
		return nil, nil
	}
	return o.catalog.ResolveReferencePlan(institution, year, o.config.AliasPriority)
}
