// Package sector tracks classified regions of the repository and decides
// where the orchestrator should look for work next. Sectors are rebuilt from
// a structural scan each session, merged with the previous session's history,
// and re-prioritized after every scan and ticket outcome.
package sector

import (
	"math"
	"strings"
	"time"
)

// StateVersion is the persisted sectors.json schema version.
const StateVersion = 2

// Confidence tiers for sector classification.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// confidenceRank orders tiers for the scheduling comparator.
var confidenceRank = map[string]int{ConfidenceLow: 0, ConfidenceMedium: 1, ConfidenceHigh: 2}

// Tuning constants for the scheduler.
const (
	// yieldAlpha is the EMA weight on the previous yield value.
	yieldAlpha = 0.7

	// polishScanCount and polishYieldCeiling define when a sector is
	// considered polished: scanned often with consistently low yield.
	polishScanCount    = 5
	polishYieldCeiling = 0.3

	// barrenScanCount and barrenYieldCeiling define a barren sector.
	barrenScanCount    = 2
	barrenYieldCeiling = 0.5

	// highFailureCount and highFailureRate define a high-failure sector.
	highFailureCount = 3
	highFailureRate  = 0.6

	// outcomeDecayEvery and outcomeDecayFactor bound counter growth while
	// keeping recent-weighted signal.
	outcomeDecayEvery  = 20
	outcomeDecayFactor = 0.7

	// staleThreshold and staleGap drive the temporal-decay tiebreak.
	staleThreshold = 7 * 24 * time.Hour
	staleGap       = 24 * time.Hour

	// fileCountDriftRatio is how much a sector's file count may move before
	// its carried-forward history is discarded on merge.
	fileCountDriftRatio = 0.2
)

// CategoryTally tracks per-category ticket outcomes within a sector.
type CategoryTally struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Sector is one classified repository region.
type Sector struct {
	// Path is the normalized (slash-separated, no trailing slash) region path.
	Path string `json:"path"`

	// Purpose is the inferred role of the region (api, storage, docs, ...).
	Purpose string `json:"purpose,omitempty"`

	// Production marks regions whose code ships, as opposed to tests,
	// docs, examples, and CI plumbing.
	Production bool `json:"production"`

	// Confidence is the classification confidence tier.
	Confidence string `json:"confidence"`

	// FileCount is the number of files counted at build time.
	FileCount int `json:"file_count"`

	// Scan bookkeeping.
	LastScannedAt    time.Time `json:"last_scanned_at"`
	LastScannedCycle int       `json:"last_scanned_cycle"`
	ScanCount        int       `json:"scan_count"`

	// ProposalYield is the exponentially-averaged proposals-per-scan.
	ProposalYield float64 `json:"proposal_yield"`

	// Ticket outcome counters, decayed every 20 combined observations.
	SuccessCount float64 `json:"success_count"`
	FailureCount float64 `json:"failure_count"`

	// Merge and close counters for shipped work.
	MergedCount int `json:"merged_count"`
	ClosedCount int `json:"closed_count"`

	// PolishedAt marks a sector that has been scanned to exhaustion.
	PolishedAt *time.Time `json:"polished_at,omitempty"`

	// CategoryStats is the per-category outcome affinity map.
	CategoryStats map[string]CategoryTally `json:"category_stats,omitempty"`

	// outcomeObservations counts combined outcomes since the last decay.
	OutcomeObservations int `json:"outcome_observations"`
}

// State is the persisted per-repository sector list.
type State struct {
	Version int       `json:"version"`
	BuiltAt time.Time `json:"built_at"`
	Sectors []Sector  `json:"sectors"`
}

// Module is one structurally-detected repository region, the input to
// BuildSectors. Produced by Scan or by an external classifier.
type Module struct {
	Path       string
	Purpose    string
	Production bool
	Confidence string
	FileCount  int
}

// NormalizePath canonicalizes a sector path for keying: forward slashes, no
// leading "./", no trailing slash.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	return strings.TrimSuffix(path, "/")
}

// BuildSectors seeds one sector per detected module, deduplicated by
// normalized path. The first occurrence of a path wins.
func BuildSectors(modules []Module, now time.Time) State {
	seen := map[string]struct{}{}
	state := State{Version: StateVersion, BuiltAt: now}
	for _, m := range modules {
		path := NormalizePath(m.Path)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		confidence := m.Confidence
		if _, ok := confidenceRank[confidence]; !ok {
			confidence = ConfidenceLow
		}
		state.Sectors = append(state.Sectors, Sector{
			Path:       path,
			Purpose:    m.Purpose,
			Production: m.Production,
			Confidence: confidence,
			FileCount:  m.FileCount,
		})
	}
	return state
}

// Merge carries scan and outcome history from a previous session's sector
// list onto a freshly built one, keyed by normalized path. A sector whose
// file count moved more than 20% since last session is assumed to have
// changed enough that its history (and polished mark) no longer applies.
func Merge(fresh, previous State) State {
	prevByPath := make(map[string]Sector, len(previous.Sectors))
	for _, s := range previous.Sectors {
		prevByPath[NormalizePath(s.Path)] = s
	}

	merged := State{Version: StateVersion, BuiltAt: fresh.BuiltAt}
	for _, s := range fresh.Sectors {
		prev, ok := prevByPath[s.Path]
		if !ok {
			merged.Sectors = append(merged.Sectors, s)
			continue
		}
		if fileCountDrifted(s.FileCount, prev.FileCount) {
			s.PolishedAt = nil
			merged.Sectors = append(merged.Sectors, s)
			continue
		}
		s.LastScannedAt = prev.LastScannedAt
		s.LastScannedCycle = prev.LastScannedCycle
		s.ScanCount = prev.ScanCount
		s.ProposalYield = prev.ProposalYield
		s.SuccessCount = prev.SuccessCount
		s.FailureCount = prev.FailureCount
		s.MergedCount = prev.MergedCount
		s.ClosedCount = prev.ClosedCount
		s.PolishedAt = prev.PolishedAt
		s.OutcomeObservations = prev.OutcomeObservations
		if len(prev.CategoryStats) > 0 {
			s.CategoryStats = make(map[string]CategoryTally, len(prev.CategoryStats))
			for k, v := range prev.CategoryStats {
				s.CategoryStats[k] = v
			}
		}
		merged.Sectors = append(merged.Sectors, s)
	}
	return merged
}

func fileCountDrifted(current, previous int) bool {
	if previous == 0 {
		return current != 0
	}
	drift := math.Abs(float64(current-previous)) / float64(previous)
	return drift > fileCountDriftRatio
}

// find returns a pointer to the sector with the given normalized path.
func (s *State) find(path string) *Sector {
	path = NormalizePath(path)
	for i := range s.Sectors {
		if s.Sectors[i].Path == path {
			return &s.Sectors[i]
		}
	}
	return nil
}

// failureRate is the sector's failure fraction over decayed counters.
func (s *Sector) failureRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 0
	}
	return s.FailureCount / total
}

// isBarren reports a sector scanned repeatedly with little to show for it.
func (s *Sector) isBarren() bool {
	return s.ScanCount > barrenScanCount && s.ProposalYield < barrenYieldCeiling
}

// isHighFailure reports a sector where tickets mostly fail.
func (s *Sector) isHighFailure() bool {
	return s.FailureCount >= highFailureCount && s.failureRate() > highFailureRate
}

// polishConditionHolds reports whether the sector qualifies as polished.
func (s *Sector) polishConditionHolds() bool {
	return s.ScanCount >= polishScanCount && s.ProposalYield < polishYieldCeiling
}
