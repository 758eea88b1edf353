package reconcile

import (
	"strconv"

	"ecd-reconciliation-service/internal/histmap"
	"ecd-reconciliation-service/internal/ledger"
	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/pkg/logger"
)

// MappingStats counts how each account's reference code was resolved.
type MappingStats struct {
	Declared        int
	NeighborAccount int
	NeighborGroup   int
	Consensus       int
	Unmapped        int
}

// ResolveMappings fills the reference code of every account that the filing
// itself does not map, in strict priority order: declared mapping first, then
// the consensus mapper's bridging rules. Synthetic accounts are left alone —
// only analytic accounts receive postings and need a reference projection.
// Every resolution carries its provenance tag; the audit layer depends on it.
func ResolveMappings(l *ledger.Ledger, consensus *histmap.Consensus) MappingStats {
	log := logger.GetGlobalLogger().WithComponent("reference_mapper").
		WithField("file", l.FileName)

	var stats MappingStats
	year := strconv.Itoa(l.Year)

	for _, account := range l.Accounts {
		if account.ReferenceCode != "" {
			account.MappingOrigin = models.OriginDeclared
			stats.Declared++
			continue
		}
		if !account.IsAnalytic() {
			continue
		}

		if consensus == nil {
			account.MappingOrigin = models.OriginUnmapped
			stats.Unmapped++
			continue
		}

		resolution := consensus.Resolve(l.TaxpayerID, account.Code, year, account.ParentCode)
		account.ReferenceCode = resolution.ReferenceCode
		account.MappingOrigin = resolution.Origin
		account.SourceYear = resolution.SourceYear

		switch resolution.Origin {
		case models.OriginDeclared:
			// The consensus mapper saw this year's own declaration even
			// though the chart join missed it; count it as declared.
			stats.Declared++
		case models.OriginNeighborAccount:
			stats.NeighborAccount++
		case models.OriginNeighborGroup:
			stats.NeighborGroup++
		case models.OriginConsensus:
			stats.Consensus++
		default:
			stats.Unmapped++
		}
	}

	log.WithFields(logger.Fields{
		"declared":         stats.Declared,
		"neighbor_account": stats.NeighborAccount,
		"neighbor_group":   stats.NeighborGroup,
		"consensus":        stats.Consensus,
		"unmapped":         stats.Unmapped,
	}).Info("Resolved reference mappings")

	return stats
}
