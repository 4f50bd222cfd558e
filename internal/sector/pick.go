package sector

import (
	"time"
)

// PickNext selects the sector to investigate next. Selection is a strict
// priority ordering; each rule only breaks ties left by the previous one:
//
//  1. never-scanned sectors
//  2. sectors not scanned in the current cycle
//  3. sectors not marked polished
//  4. sectors that are neither barren nor high-failure
//  5. lower classification confidence (uncertain regions earn attention)
//  6. higher EMA proposal yield
//  7. temporal decay: both stale past 7 days and more than a day apart,
//     the staler sorts first
//  8. alphabetical path
//
// The candidate pool is production sectors; when every production sector has
// already been scanned this cycle the pool falls back to non-production
// sectors. Returns nil when no sector has any files.
//
// Side effect: the picked sector's polished mark is refreshed — set when the
// polish condition newly holds, cleared when it newly stops holding.
func PickNext(state *State, currentCycle int, now time.Time) *Sector {
	candidates := poolFor(state, currentCycle, true)
	if len(candidates) == 0 {
		candidates = poolFor(state, currentCycle, false)
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if sortsBefore(c, best, currentCycle, now) {
			best = c
		}
	}

	refreshPolish(best, now)
	return best
}

// poolFor gathers candidates with files from one production tier. The
// production pool is exhausted for the cycle when every member has been
// scanned in it.
func poolFor(state *State, currentCycle int, production bool) []*Sector {
	var pool []*Sector
	allScannedThisCycle := true
	for i := range state.Sectors {
		s := &state.Sectors[i]
		if s.Production != production || s.FileCount == 0 {
			continue
		}
		pool = append(pool, s)
		if s.ScanCount == 0 || s.LastScannedCycle != currentCycle {
			allScannedThisCycle = false
		}
	}
	if production && allScannedThisCycle {
		return nil
	}
	return pool
}

// sortsBefore reports whether a should be picked ahead of b.
func sortsBefore(a, b *Sector, currentCycle int, now time.Time) bool {
	aNever, bNever := a.ScanCount == 0, b.ScanCount == 0
	if aNever != bNever {
		return aNever
	}

	aFresh, bFresh := a.LastScannedCycle == currentCycle && !aNever, b.LastScannedCycle == currentCycle && !bNever
	if aFresh != bFresh {
		return !aFresh
	}

	aPolished, bPolished := a.PolishedAt != nil, b.PolishedAt != nil
	if aPolished != bPolished {
		return !aPolished
	}

	aDiscouraged, bDiscouraged := a.isBarren() || a.isHighFailure(), b.isBarren() || b.isHighFailure()
	if aDiscouraged != bDiscouraged {
		return !aDiscouraged
	}

	if confidenceRank[a.Confidence] != confidenceRank[b.Confidence] {
		return confidenceRank[a.Confidence] < confidenceRank[b.Confidence]
	}

	if a.ProposalYield != b.ProposalYield {
		return a.ProposalYield > b.ProposalYield
	}

	aStale, bStale := now.Sub(a.LastScannedAt), now.Sub(b.LastScannedAt)
	if aStale > staleThreshold && bStale > staleThreshold {
		gap := aStale - bStale
		if gap > staleGap {
			return true
		}
		if gap < -staleGap {
			return false
		}
	}

	return a.Path < b.Path
}

// refreshPolish sets or clears the polished mark as the condition flips.
func refreshPolish(s *Sector, now time.Time) {
	holds := s.polishConditionHolds()
	switch {
	case holds && s.PolishedAt == nil:
		ts := now
		s.PolishedAt = &ts
	case !holds && s.PolishedAt != nil:
		s.PolishedAt = nil
	}
}
