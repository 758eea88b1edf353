package histmap

import (
	"fmt"
	"sync"
	"testing"

	"ecd-reconciliation-service/internal/models"
)

func analyticSet(codes ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

func TestResolve_DeclaredWins(t *testing.T) {
	m := NewMapper()
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ParentCode: "1", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01"))
	m.Learn("111", "2023", []MappingRow{
		{AccountCode: "1.01", ParentCode: "1", ReferenceCode: "REF-B"},
	}, "10", analyticSet("1.01"))

	c := m.BuildConsensus()

	r := c.Resolve("111", "1.01", "2023", "1")
	if r.Origin != models.OriginDeclared {
		t.Errorf("origin = %v, want DECLARED", r.Origin)
	}
	if r.ReferenceCode != "REF-B" {
		t.Errorf("reference = %q, want the 2023 declaration REF-B", r.ReferenceCode)
	}
	if r.SourceYear != "2023" {
		t.Errorf("source year = %q, want 2023", r.SourceYear)
	}
}

func TestResolve_NeighborAccountBridging(t *testing.T) {
	m := NewMapper()

	// 2022 declares mappings over a chart of five analytic accounts.
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ParentCode: "1", ReferenceCode: "REF-CASH"},
		{AccountCode: "1.02", ParentCode: "1", ReferenceCode: "REF-RECV"},
	}, "10", analyticSet("1.01", "1.02", "1.03", "2.01", "3.01"))

	// 2023 shares four of its five accounts with 2022 (80% coverage) but
	// declares nothing.
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "1.02", "1.03", "2.01", "9.99"))

	c := m.BuildConsensus()

	r := c.Resolve("111", "1.01", "2023", "1")
	if r.Origin != models.OriginNeighborAccount {
		t.Fatalf("origin = %v, want NEIGHBOR_ACCOUNT", r.Origin)
	}
	if r.ReferenceCode != "REF-CASH" {
		t.Errorf("reference = %q, want REF-CASH from the neighbor year", r.ReferenceCode)
	}
	if r.SourceYear != "2022" {
		t.Errorf("source year = %q, want 2022", r.SourceYear)
	}
}

func TestResolve_NeighborGroupFallback(t *testing.T) {
	m := NewMapper()

	// The neighbor year maps two siblings of group "1" to REF-X and one to
	// REF-Y; REF-X wins the group vote.
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ParentCode: "1", ReferenceCode: "REF-X"},
		{AccountCode: "1.02", ParentCode: "1", ReferenceCode: "REF-X"},
		{AccountCode: "1.03", ParentCode: "1", ReferenceCode: "REF-Y"},
	}, "10", analyticSet("1.01", "1.02", "1.03"))

	// The target year adds a brand-new account 1.04 under the same group.
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "1.02", "1.04"))

	c := m.BuildConsensus()

	r := c.Resolve("111", "1.04", "2023", "1")
	if r.Origin != models.OriginNeighborGroup {
		t.Fatalf("origin = %v, want NEIGHBOR_GROUP", r.Origin)
	}
	if r.ReferenceCode != "REF-X" {
		t.Errorf("reference = %q, want the group's most voted REF-X", r.ReferenceCode)
	}
	if r.SourceYear != "2022" {
		t.Errorf("source year = %q, want 2022", r.SourceYear)
	}
}

func TestResolve_ConsensusFallback(t *testing.T) {
	m := NewMapper()

	// Structurally dissimilar years: no neighbor reaches the coverage
	// threshold, so resolution falls through to the global majority.
	m.Learn("111", "2020", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-OLD"},
	}, "10", analyticSet("1.01", "8.01", "8.02", "8.03"))
	m.Learn("111", "2021", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-NEW"},
	}, "10", analyticSet("1.01", "7.01", "7.02", "7.03"))
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-NEW"},
	}, "10", analyticSet("1.01", "6.01", "6.02", "6.03"))
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "5.01", "5.02", "5.03"))

	c := m.BuildConsensus()

	r := c.Resolve("111", "1.01", "2023", "")
	if r.Origin != models.OriginConsensus {
		t.Fatalf("origin = %v, want CONSENSUS", r.Origin)
	}
	if r.ReferenceCode != "REF-NEW" {
		t.Errorf("reference = %q, want majority REF-NEW", r.ReferenceCode)
	}
}

func TestResolve_Unmapped(t *testing.T) {
	m := NewMapper()
	m.Learn("111", "2023", nil, "", analyticSet("1.01"))

	c := m.BuildConsensus()

	r := c.Resolve("111", "1.01", "2023", "1")
	if r.Origin != models.OriginUnmapped || r.ReferenceCode != "" {
		t.Errorf("resolution = %+v, want UNMAPPED with no reference", r)
	}

	r = c.Resolve("unknown-taxpayer", "1.01", "2023", "1")
	if r.Origin != models.OriginUnmapped {
		t.Errorf("unknown taxpayer origin = %v, want UNMAPPED", r.Origin)
	}
}

func TestFindBestNeighbor_Threshold(t *testing.T) {
	m := NewMapper()

	// Only 1 of 4 target accounts overlaps: 25% coverage, below threshold.
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01", "8.01", "8.02", "8.03"))
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "2.01", "2.02", "2.03"))

	c := m.BuildConsensus()

	if neighbor := c.FindBestNeighbor("111", "2023"); neighbor != "" {
		t.Errorf("neighbor = %q, want none below coverage threshold", neighbor)
	}
}

func TestFindBestNeighbor_ExcludesYearsWithoutMappings(t *testing.T) {
	m := NewMapper()

	// 2021 is a perfect structural match but declared nothing; 2020 is a
	// weaker match with actual mappings.
	m.Learn("111", "2021", nil, "", analyticSet("1.01", "1.02", "1.03", "1.04"))
	m.Learn("111", "2020", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01", "1.02", "1.03", "9.99"))
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "1.02", "1.03", "1.04"))

	c := m.BuildConsensus()

	if neighbor := c.FindBestNeighbor("111", "2023"); neighbor != "2020" {
		t.Errorf("neighbor = %q, want 2020 (2021 has no mappings to lend)", neighbor)
	}
}

func TestBuildConsensus_SnapshotIsolation(t *testing.T) {
	m := NewMapper()
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01"))

	c := m.BuildConsensus()

	// Learning after the snapshot must not leak into it.
	m.Learn("111", "2023", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-B"},
		{AccountCode: "2.01", ReferenceCode: "REF-C"},
	}, "10", analyticSet("1.01", "2.01"))

	r := c.Resolve("111", "1.01", "2023", "")
	if r.Origin == models.OriginDeclared {
		t.Error("snapshot saw a declaration learned after BuildConsensus")
	}
	r = c.Resolve("111", "2.01", "2022", "")
	if r.Origin != models.OriginUnmapped {
		t.Errorf("snapshot resolved an account learned after the freeze: %+v", r)
	}

	// A fresh snapshot does see it.
	c2 := m.BuildConsensus()
	r = c2.Resolve("111", "2.01", "2023", "")
	if r.Origin != models.OriginDeclared {
		t.Errorf("fresh snapshot origin = %v, want DECLARED", r.Origin)
	}
}

func TestLearn_YearsNeverOverwrite(t *testing.T) {
	m := NewMapper()
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01"))
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "10", analyticSet("1.01"))

	s := m.Summarize()
	if s.Taxpayers != 1 || s.MappedAccounts != 1 || s.FingerprintYears != 1 {
		t.Errorf("summary = %+v, want one taxpayer, one account, one year", s)
	}
}

func TestInferInstitution(t *testing.T) {
	m := NewMapper()
	m.Learn("111", "2022", []MappingRow{
		{AccountCode: "1.01", ReferenceCode: "REF-A"},
	}, "40", analyticSet("1.01", "1.02"))
	m.Learn("111", "2023", nil, "", analyticSet("1.01", "1.02"))

	c := m.BuildConsensus()

	if code := c.InferInstitution("111", "2023"); code != "40" {
		t.Errorf("inferred institution = %q, want 40 from the neighbor year", code)
	}
	if code := c.InferInstitution("missing", "2023"); code != "" {
		t.Errorf("inferred institution for unknown taxpayer = %q, want empty", code)
	}
}

func TestLearn_ConcurrentTaxpayers(t *testing.T) {
	m := NewMapper()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taxpayer := fmt.Sprintf("cnpj-%d", i%4)
			year := fmt.Sprintf("20%02d", 10+i)
			m.Learn(taxpayer, year, []MappingRow{
				{AccountCode: "1.01", ReferenceCode: "REF-A"},
			}, "10", analyticSet("1.01"))
		}(i)
	}
	wg.Wait()

	s := m.Summarize()
	if s.Taxpayers != 4 {
		t.Errorf("taxpayers = %d, want 4", s.Taxpayers)
	}

	c := m.BuildConsensus()
	r := c.Resolve("cnpj-0", "1.01", "2010", "")
	if r.ReferenceCode != "REF-A" {
		t.Errorf("resolution after concurrent learn = %+v", r)
	}
}
