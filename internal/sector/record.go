package sector

import (
	"time"
)

// Reclassification is an updated production/purpose judgment produced by a
// scan. It is only applied when its confidence is medium or high.
type Reclassification struct {
	Production bool
	Purpose    string
	Confidence string
}

// RecordScanResult folds one scan's outcome into the sector's bookkeeping:
// scan timestamps and count, the EMA proposal yield, and — when the scan's
// reclassification is confident enough — the production flag and confidence
// tier.
func (s *State) RecordScanResult(path string, cycle, proposalCount int, reclass *Reclassification, ts time.Time) {
	sec := s.find(path)
	if sec == nil {
		return
	}
	sec.LastScannedAt = ts
	sec.LastScannedCycle = cycle
	sec.ScanCount++
	sec.ProposalYield = yieldAlpha*sec.ProposalYield + (1-yieldAlpha)*float64(proposalCount)

	if reclass != nil {
		if reclass.Confidence == ConfidenceMedium || reclass.Confidence == ConfidenceHigh {
			sec.Production = reclass.Production
			sec.Confidence = reclass.Confidence
			if reclass.Purpose != "" {
				sec.Purpose = reclass.Purpose
			}
		}
	}
}

// RecordTicketOutcome folds one ticket's result into the sector's counters.
// Every 20th combined observation both counters decay by 0.7, bounding
// growth while keeping the signal recent-weighted. The optional category
// feeds the per-category affinity tally.
func (s *State) RecordTicketOutcome(path string, success bool, category string) {
	sec := s.find(path)
	if sec == nil {
		return
	}
	if success {
		sec.SuccessCount++
	} else {
		sec.FailureCount++
	}
	sec.OutcomeObservations++
	if sec.OutcomeObservations%outcomeDecayEvery == 0 {
		sec.SuccessCount *= outcomeDecayFactor
		sec.FailureCount *= outcomeDecayFactor
	}

	if category != "" {
		if sec.CategoryStats == nil {
			sec.CategoryStats = map[string]CategoryTally{}
		}
		tally := sec.CategoryStats[category]
		if success {
			tally.Success++
		} else {
			tally.Failure++
		}
		sec.CategoryStats[category] = tally
	}
}

// RecordMerged increments the merged-PR counter for a sector.
func (s *State) RecordMerged(path string) {
	if sec := s.find(path); sec != nil {
		sec.MergedCount++
	}
}

// RecordClosed increments the closed-without-merge counter.
func (s *State) RecordClosed(path string) {
	if sec := s.find(path); sec != nil {
		sec.ClosedCount++
	}
}

// Affinity thresholds: a category with at least minAttempts observations is
// boosted above boostRate success and suppressed below suppressRate.
const (
	affinityMinAttempts  = 3
	affinityBoostRate    = 0.6
	affinitySuppressRate = 0.3
)

// CategoryAffinity summarizes which work categories historically succeed or
// fail in a sector.
type CategoryAffinity struct {
	Boosted    []string
	Suppressed []string
}

// SectorCategoryAffinity computes the boost/suppress lists for a sector.
func (s *State) SectorCategoryAffinity(path string) CategoryAffinity {
	sec := s.find(path)
	affinity := CategoryAffinity{}
	if sec == nil {
		return affinity
	}
	for category, tally := range sec.CategoryStats {
		attempts := tally.Success + tally.Failure
		if attempts < affinityMinAttempts {
			continue
		}
		rate := float64(tally.Success) / float64(attempts)
		switch {
		case rate > affinityBoostRate:
			affinity.Boosted = append(affinity.Boosted, category)
		case rate < affinitySuppressRate:
			affinity.Suppressed = append(affinity.Suppressed, category)
		}
	}
	return affinity
}

// Coverage is a read-only rollup over production sectors.
type Coverage struct {
	ScannedSectors int `json:"scanned_sectors"`
	TotalSectors   int `json:"total_sectors"`
	ScannedFiles   int `json:"scanned_files"`
	TotalFiles     int `json:"total_files"`
}

// ComputeCoverage counts production-only scanned versus total sectors and
// files.
func (s *State) ComputeCoverage() Coverage {
	var cov Coverage
	for i := range s.Sectors {
		sec := &s.Sectors[i]
		if !sec.Production {
			continue
		}
		cov.TotalSectors++
		cov.TotalFiles += sec.FileCount
		if sec.ScanCount > 0 {
			cov.ScannedSectors++
			cov.ScannedFiles += sec.FileCount
		}
	}
	return cov
}

// Scope adjustment recommendations.
const (
	AdjustWiden  = "widen"
	AdjustNarrow = "narrow"
	AdjustStable = "stable"
)

// SuggestScopeAdjustment recommends widening when every scanned production
// sector is barren, narrowing when the top three sectors by yield average
// more than twice the overall average, and stable otherwise. With fewer than
// three scanned production sectors there is not enough signal to say
// anything but stable.
func (s *State) SuggestScopeAdjustment() string {
	var scanned []*Sector
	for i := range s.Sectors {
		sec := &s.Sectors[i]
		if sec.Production && sec.ScanCount > 0 {
			scanned = append(scanned, sec)
		}
	}
	if len(scanned) < 3 {
		return AdjustStable
	}

	allBarren := true
	total := 0.0
	var yields []float64
	for _, sec := range scanned {
		if !sec.isBarren() {
			allBarren = false
		}
		total += sec.ProposalYield
		yields = append(yields, sec.ProposalYield)
	}
	if allBarren {
		return AdjustWiden
	}

	overall := total / float64(len(scanned))
	if overall > 0 {
		top3 := topYields(yields, 3)
		topAvg := 0.0
		for _, y := range top3 {
			topAvg += y
		}
		topAvg /= float64(len(top3))
		if topAvg > 2*overall {
			return AdjustNarrow
		}
	}
	return AdjustStable
}

func topYields(yields []float64, n int) []float64 {
	top := make([]float64, 0, n)
	for _, y := range yields {
		inserted := false
		for i, t := range top {
			if y > t {
				top = append(top[:i], append([]float64{y}, top[i:]...)...)
				inserted = true
				break
			}
		}
		if !inserted && len(top) < n {
			top = append(top, y)
		}
		if len(top) > n {
			top = top[:n]
		}
	}
	return top
}
