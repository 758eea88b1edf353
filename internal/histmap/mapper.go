// Package histmap learns account-to-reference-code assignments across the
// filing years of a taxpayer and fills mapping gaps in years that omit them.
//
// The mapper is an explicit two-phase object. The learn phase is a write-only
// accumulator, safe for concurrent Learn calls (per-taxpayer locking). The
// BuildConsensus step freezes the accumulated knowledge into an immutable
// snapshot; every resolution reads the snapshot, never the live accumulator.
// Building mid-batch is allowed and simply yields a snapshot of what has been
// learned so far.
package histmap

import (
	"sync"

	"ecd-reconciliation-service/internal/models"
	"ecd-reconciliation-service/pkg/logger"
)

// neighborThreshold is the minimum chart coverage for a filing year to count
// as a usable structural neighbor.
const neighborThreshold = 0.5

// MappingRow is one learned account-to-reference observation.
type MappingRow struct {
	AccountCode   string
	ParentCode    string
	ReferenceCode string
}

// Resolution is the outcome of a mapping lookup. Origin is mandatory output:
// the audit layer depends on knowing whether a mapping is declared or
// inferred, and from which year an inferred one was bridged.
type Resolution struct {
	ReferenceCode string
	Origin        models.MappingOrigin
	SourceYear    string
}

// history is the per-taxpayer accumulator.
type history struct {
	mu sync.Mutex

	// account -> year -> reference code; years never overwrite each other.
	observations map[string]map[string]string
	// year -> analytic account set (the chart fingerprint).
	structures map[string]map[string]struct{}
	// year -> parent group -> reference code -> vote count.
	groupVotes map[string]map[string]map[string]int
	// year -> declared institution code.
	institutions map[string]string
	// order in which years were first learned; fixes tie-breaking.
	yearOrder []string
	// per (year, parent group) first-seen reference order, for ties.
	groupOrder map[string]map[string][]string
}

func newHistory() *history {
	return &history{
		observations: make(map[string]map[string]string),
		structures:   make(map[string]map[string]struct{}),
		groupVotes:   make(map[string]map[string]map[string]int),
		institutions: make(map[string]string),
		groupOrder:   make(map[string]map[string][]string),
	}
}

func (h *history) noteYear(year string) {
	for _, y := range h.yearOrder {
		if y == year {
			return
		}
	}
	h.yearOrder = append(h.yearOrder, year)
}

// Mapper is the write-side accumulator keyed by taxpayer.
type Mapper struct {
	mu        sync.Mutex
	taxpayers map[string]*history
	logger    logger.Logger
}

// NewMapper creates an empty consensus mapper.
func NewMapper() *Mapper {
	return &Mapper{
		taxpayers: make(map[string]*history),
		logger:    logger.GetGlobalLogger().WithComponent("consensus_mapper"),
	}
}

func (m *Mapper) historyFor(taxpayer string) *history {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.taxpayers[taxpayer]
	if !ok {
		h = newHistory()
		m.taxpayers[taxpayer] = h
	}
	return h
}

// Learn accumulates one filing year's mapping rows, chart fingerprint and
// institution code for a taxpayer. Safe for concurrent calls; concurrent
// learns for the same taxpayer serialize on its history lock.
func (m *Mapper) Learn(taxpayer, year string, rows []MappingRow, institutionCode string, analyticSet map[string]struct{}) {
	if taxpayer == "" || year == "" {
		return
	}

	h := m.historyFor(taxpayer)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.noteYear(year)

	if len(analyticSet) > 0 {
		fingerprint := make(map[string]struct{}, len(analyticSet))
		for code := range analyticSet {
			fingerprint[code] = struct{}{}
		}
		h.structures[year] = fingerprint
	}

	if institutionCode != "" {
		h.institutions[year] = institutionCode
	}

	for _, row := range rows {
		if row.AccountCode == "" || row.ReferenceCode == "" {
			continue
		}

		years, ok := h.observations[row.AccountCode]
		if !ok {
			years = make(map[string]string)
			h.observations[row.AccountCode] = years
		}
		years[year] = row.ReferenceCode

		if row.ParentCode == "" {
			continue
		}
		groups, ok := h.groupVotes[year]
		if !ok {
			groups = make(map[string]map[string]int)
			h.groupVotes[year] = groups
			h.groupOrder[year] = make(map[string][]string)
		}
		votes, ok := groups[row.ParentCode]
		if !ok {
			votes = make(map[string]int)
			groups[row.ParentCode] = votes
		}
		if _, seen := votes[row.ReferenceCode]; !seen {
			h.groupOrder[year][row.ParentCode] = append(h.groupOrder[year][row.ParentCode], row.ReferenceCode)
		}
		votes[row.ReferenceCode]++
	}
}

// Summary reports accumulator statistics for batch logging.
type Summary struct {
	Taxpayers        int
	MappedAccounts   int
	FingerprintYears int
}

// Summarize returns accumulator statistics.
func (m *Mapper) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	s.Taxpayers = len(m.taxpayers)
	for _, h := range m.taxpayers {
		h.mu.Lock()
		s.MappedAccounts += len(h.observations)
		s.FingerprintYears += len(h.structures)
		h.mu.Unlock()
	}
	return s
}

// Consensus is the immutable snapshot produced by BuildConsensus. All
// resolution reads go through it; it never sees later Learn calls.
type Consensus struct {
	taxpayers map[string]*frozenHistory
	logger    logger.Logger
}

type frozenHistory struct {
	observations map[string]map[string]string
	structures   map[string]map[string]struct{}
	groupVotes   map[string]map[string]map[string]int
	groupOrder   map[string]map[string][]string
	institutions map[string]string
	yearOrder    []string

	// majority-vote results
	accountConsensus     map[string]string
	institutionConsensus string
}

// BuildConsensus freezes the accumulated knowledge into a snapshot: the
// majority-vote reference code per account (ties broken by the code first
// reaching the maximum count in learn order) and the majority institution
// code per taxpayer. Call once after all Learn calls of a batch and before
// any Resolve.
func (m *Mapper) BuildConsensus() *Consensus {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &Consensus{
		taxpayers: make(map[string]*frozenHistory, len(m.taxpayers)),
		logger:    m.logger,
	}

	for taxpayer, h := range m.taxpayers {
		h.mu.Lock()
		frozen := &frozenHistory{
			observations: copyObservations(h.observations),
			structures:   copyStructures(h.structures),
			groupVotes:   copyGroupVotes(h.groupVotes),
			groupOrder:   copyGroupOrder(h.groupOrder),
			institutions: copyStringMap(h.institutions),
			yearOrder:    append([]string(nil), h.yearOrder...),
		}
		h.mu.Unlock()

		frozen.accountConsensus = make(map[string]string, len(frozen.observations))
		for account, byYear := range frozen.observations {
			if ref := majorityByYearOrder(byYear, frozen.yearOrder); ref != "" {
				frozen.accountConsensus[account] = ref
			}
		}
		frozen.institutionConsensus = majorityByYearOrder(frozen.institutions, frozen.yearOrder)

		c.taxpayers[taxpayer] = frozen
	}

	m.logger.WithField("taxpayers", len(c.taxpayers)).Info("Built mapping consensus")
	return c
}

// majorityByYearOrder picks the most frequent value of a year-keyed map,
// breaking ties by the value first encountered in learn order.
func majorityByYearOrder(byYear map[string]string, yearOrder []string) string {
	counts := make(map[string]int, len(byYear))
	var firstSeen []string
	for _, year := range yearOrder {
		value, ok := byYear[year]
		if !ok {
			continue
		}
		if _, seen := counts[value]; !seen {
			firstSeen = append(firstSeen, value)
		}
		counts[value]++
	}

	best := ""
	bestCount := 0
	for _, value := range firstSeen {
		if counts[value] > bestCount {
			best = value
			bestCount = counts[value]
		}
	}
	return best
}

// FindBestNeighbor scores every other learned year of the taxpayer by how
// much of the target year's chart it covers:
//
//	|target ∩ candidate| / |target|
//
// Candidates without any learned mappings are excluded even when structurally
// similar. Returns the best year when its coverage reaches the threshold,
// else the empty string.
func (c *Consensus) FindBestNeighbor(taxpayer, targetYear string) string {
	h, ok := c.taxpayers[taxpayer]
	if !ok {
		return ""
	}

	target, ok := h.structures[targetYear]
	if !ok || len(target) == 0 {
		return ""
	}

	bestYear := ""
	bestScore := -1.0

	for _, year := range h.yearOrder {
		if year == targetYear {
			continue
		}
		candidate, ok := h.structures[year]
		if !ok {
			continue
		}
		if !h.hasMappings(year) {
			continue
		}

		intersection := 0
		for code := range target {
			if _, ok := candidate[code]; ok {
				intersection++
			}
		}
		score := float64(intersection) / float64(len(target))
		if score > bestScore {
			bestScore = score
			bestYear = year
		}
	}

	if bestScore >= neighborThreshold {
		return bestYear
	}
	return ""
}

func (h *frozenHistory) hasMappings(year string) bool {
	for _, byYear := range h.observations {
		if _, ok := byYear[year]; ok {
			return true
		}
	}
	return false
}

// Resolve maps one account of one filing year to a reference code, in strict
// priority order, first hit wins:
//
//  1. declared mapping of the year itself;
//  2. same account code in the best structural neighbor year;
//  3. most frequent reference code of the same parent group in that
//     neighbor year;
//  4. global majority consensus for the account;
//  5. unmapped.
func (c *Consensus) Resolve(taxpayer, accountCode, year, parentGroup string) Resolution {
	h, ok := c.taxpayers[taxpayer]
	if !ok {
		return Resolution{Origin: models.OriginUnmapped}
	}

	if ref, ok := h.observations[accountCode][year]; ok {
		return Resolution{ReferenceCode: ref, Origin: models.OriginDeclared, SourceYear: year}
	}

	if neighbor := c.FindBestNeighbor(taxpayer, year); neighbor != "" {
		if ref, ok := h.observations[accountCode][neighbor]; ok {
			return Resolution{ReferenceCode: ref, Origin: models.OriginNeighborAccount, SourceYear: neighbor}
		}

		if parentGroup != "" {
			if votes, ok := h.groupVotes[neighbor][parentGroup]; ok && len(votes) > 0 {
				ref := mostVoted(votes, h.groupOrder[neighbor][parentGroup])
				return Resolution{ReferenceCode: ref, Origin: models.OriginNeighborGroup, SourceYear: neighbor}
			}
		}
	}

	if ref, ok := h.accountConsensus[accountCode]; ok {
		return Resolution{ReferenceCode: ref, Origin: models.OriginConsensus}
	}

	return Resolution{Origin: models.OriginUnmapped}
}

// InferInstitution returns the institution code of the best neighbor year,
// falling back to the majority consensus. A filing's own declared code always
// wins upstream; this is inference for filings that omit it.
func (c *Consensus) InferInstitution(taxpayer, targetYear string) string {
	h, ok := c.taxpayers[taxpayer]
	if !ok {
		return ""
	}

	if targetYear != "" {
		if neighbor := c.FindBestNeighbor(taxpayer, targetYear); neighbor != "" {
			if code, ok := h.institutions[neighbor]; ok && code != "" {
				return code
			}
		}
	}

	return h.institutionConsensus
}

// mostVoted picks the reference code with the highest vote count, breaking
// ties by first-seen order.
func mostVoted(votes map[string]int, order []string) string {
	best := ""
	bestCount := 0
	for _, ref := range order {
		if votes[ref] > bestCount {
			best = ref
			bestCount = votes[ref]
		}
	}
	return best
}

// copy helpers keep the snapshot independent of later Learn calls.

func copyObservations(src map[string]map[string]string) map[string]map[string]string {
	dst := make(map[string]map[string]string, len(src))
	for account, byYear := range src {
		dst[account] = copyStringMap(byYear)
	}
	return dst
}

func copyStructures(src map[string]map[string]struct{}) map[string]map[string]struct{} {
	dst := make(map[string]map[string]struct{}, len(src))
	for year, set := range src {
		setCopy := make(map[string]struct{}, len(set))
		for code := range set {
			setCopy[code] = struct{}{}
		}
		dst[year] = setCopy
	}
	return dst
}

func copyGroupVotes(src map[string]map[string]map[string]int) map[string]map[string]map[string]int {
	dst := make(map[string]map[string]map[string]int, len(src))
	for year, groups := range src {
		groupsCopy := make(map[string]map[string]int, len(groups))
		for group, votes := range groups {
			votesCopy := make(map[string]int, len(votes))
			for ref, count := range votes {
				votesCopy[ref] = count
			}
			groupsCopy[group] = votesCopy
		}
		dst[year] = groupsCopy
	}
	return dst
}

func copyGroupOrder(src map[string]map[string][]string) map[string]map[string][]string {
	dst := make(map[string]map[string][]string, len(src))
	for year, groups := range src {
		groupsCopy := make(map[string][]string, len(groups))
		for group, order := range groups {
			groupsCopy[group] = append([]string(nil), order...)
		}
		dst[year] = groupsCopy
	}
	return dst
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
