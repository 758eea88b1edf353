// Package refplan resolves and loads government reference charts of
// accounts. An externally-maintained catalog index maps an institution code
// and a validity year, through a preferred alias list, to a pipe-delimited
// chart table. A miss at any stage of the funnel means "no reference mapping
// possible this run", which is a skip, not an error.
package refplan

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/pkg/errors"
	"ecd-reconciliation-service/pkg/logger"
)

// DefaultAliasPriority is the alias funnel used for balance reconciliation:
// the balance-sheet oriented charts first, then the generic reference chart.
var DefaultAliasPriority = []string{"L100_A", "L100_B", "L100_C", "REF"}

// planVersion points at one versioned chart table file.
type planVersion struct {
	File string `json:"file"`
}

// periodEntry scopes a set of chart tables to a validity year range.
type periodEntry struct {
	Range []int                             `json:"range"`
	Plans map[string]map[string]planVersion `json:"plans"`
}

// Catalog is the loaded, read-only catalog index. Chart tables are read
// lazily on resolution.
type Catalog struct {
	path    string
	dataDir string
	index   map[string]map[string]periodEntry
	logger  logger.Logger
}

// Load reads the catalog index. An unreadable index is fatal only for runs
// where mapping is mandatory; callers that can proceed unmapped treat the
// error as "no catalog".
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.CatalogError(errors.CodeCatalogUnreadable, path, err)
	}

	var index map[string]map[string]periodEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.CatalogError(errors.CodeCatalogUnreadable, path, err)
	}

	return &Catalog{
		path:    path,
		dataDir: filepath.Join(filepath.Dir(path), "data"),
		index:   index,
		logger:  logger.GetGlobalLogger().WithComponent("reference_catalog"),
	}, nil
}

// ResolveReferencePlan walks the funnel: institution code, then validity
// year range, then the alias priority list, then the highest available
// version. Returns nil with no error when any stage misses; returns an error
// only when a located chart table cannot be read.
func (c *Catalog) ResolveReferencePlan(institutionCode string, year int, aliasPriority []string) ([]models.ReferenceAccount, error) {
	if c == nil || institutionCode == "" || year == 0 {
		return nil, nil
	}
	if len(aliasPriority) == 0 {
		aliasPriority = DefaultAliasPriority
	}

	institution, ok := c.index[institutionCode]
	if !ok {
		c.logger.WithField("institution", institutionCode).Debug("Institution not in catalog")
		return nil, nil
	}

	var period *periodEntry
	for _, entry := range institution {
		if len(entry.Range) == 2 && entry.Range[0] <= year && year <= entry.Range[1] {
			e := entry
			period = &e
			break
		}
	}
	if period == nil {
		c.logger.WithFields(logger.Fields{
			"institution": institutionCode,
			"year":        year,
		}).Debug("No catalog period covers the filing year")
		return nil, nil
	}

	for _, alias := range aliasPriority {
		versions, ok := period.Plans[alias]
		if !ok || len(versions) == 0 {
			continue
		}

		file := versions[highestVersion(versions)].File
		if file == "" {
			continue
		}

		chart, err := c.loadChart(filepath.Join(c.dataDir, file))
		if err != nil {
			return nil, err
		}

		c.logger.WithFields(logger.Fields{
			"institution": institutionCode,
			"year":        year,
			"alias":       alias,
			"accounts":    len(chart),
		}).Info("Resolved reference chart")
		return chart, nil
	}

	return nil, nil
}

// highestVersion picks the numerically greatest version key.
func highestVersion(versions map[string]planVersion) string {
	best := ""
	bestNum := -1
	for v := range versions {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		if n > bestNum {
			bestNum = n
			best = v
		}
	}
	return best
}

// loadChart reads a pipe-delimited chart table:
// code|description|parent_code|level|nature, header row required.
func (c *Catalog) loadChart(path string) ([]models.ReferenceAccount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.CatalogError(errors.CodeChartUnreadable, path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.CatalogError(errors.CodeChartUnreadable, path, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var chart []models.ReferenceAccount
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.CatalogError(errors.CodeChartUnreadable, path, err)
		}

		code := field(row, "code")
		if code == "" {
			continue
		}

		level, _ := strconv.Atoi(field(row, "level"))
		chart = append(chart, models.ReferenceAccount{
			Code:        code,
			Description: field(row, "description"),
			ParentCode:  field(row, "parent_code"),
			Level:       level,
			Nature:      field(row, "nature"),
		})
	}

	return chart, nil
}
