// Package spindle detects agents that are spinning without progress: stalled
// iterations, oscillating diffs, repeated identical output, and QA fix/break
// ping-pong. Evaluation is a pure function over a small rolling-window state
// so verdicts are reproducible from persisted state alone.
package spindle

import (
	"strings"
)

const (
	// DefaultMaxStallIterations is the number of consecutive no-change
	// iterations after which a work item is considered stalled.
	DefaultMaxStallIterations = 5

	// DefaultPingPongCycles is the number of A/B cycles in the failing-command
	// window that count as QA ping-pong.
	DefaultPingPongCycles = 3

	// DefaultCommandFailureLimit is how many times the same failing-command
	// signature may appear before the item is blocked.
	DefaultCommandFailureLimit = 3

	// outputHashCap bounds the rolling output-hash window.
	outputHashCap = 10

	// commandSignatureCap bounds the failing-command signature window.
	commandSignatureCap = 20

	// oscillationWindow is how many trailing diff hashes are inspected for
	// strict alternation. Matches the output window bound.
	oscillationWindow = 10
)

// Config holds the detector thresholds. The zero value is not usable; call
// DefaultConfig.
type Config struct {
	MaxStallIterations  int `yaml:"max_stall_iterations" json:"max_stall_iterations"`
	PingPongCycles      int `yaml:"ping_pong_cycles" json:"ping_pong_cycles"`
	CommandFailureLimit int `yaml:"command_failure_limit" json:"command_failure_limit"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxStallIterations:  DefaultMaxStallIterations,
		PingPongCycles:      DefaultPingPongCycles,
		CommandFailureLimit: DefaultCommandFailureLimit,
	}
}

// State is the rolling window the detector evaluates. It is embedded in the
// run state and reset whenever a new work item is assigned. Counters reset
// only on an actual content change or an explicit new-item reset, never on
// mere activity.
type State struct {
	// OutputHashes is the rolling window of agent output hashes, oldest
	// first, capped at ten entries.
	OutputHashes []string `json:"output_hashes,omitempty"`

	// DiffHashes accumulates hashes of non-empty diffs within the current
	// item. Only a trailing window is inspected.
	DiffHashes []string `json:"diff_hashes,omitempty"`

	// CommandSignatures is the rolling window of failing-command signature
	// hashes, capped at twenty entries.
	CommandSignatures []string `json:"command_signatures,omitempty"`

	// PlanHashes records submitted plan hashes for replan-loop diagnostics.
	PlanHashes []string `json:"plan_hashes,omitempty"`

	// IterationsSinceChange counts consecutive iterations that produced no
	// content change.
	IterationsSinceChange int `json:"iterations_since_change"`

	// TotalOutputChars accumulates raw output size for budget reporting.
	TotalOutputChars int64 `json:"total_output_chars"`

	// FileEditCounts maps file path to how many diffs touched it.
	FileEditCounts map[string]int `json:"file_edit_counts,omitempty"`
}

// NewState returns an empty detector state.
func NewState() State {
	return State{FileEditCounts: map[string]int{}}
}

// Reset returns the state to its zero values. Used when a new work item is
// assigned or after a spindle recovery.
func (s *State) Reset() {
	*s = NewState()
}

// RecordOutput appends the hash of a new agent output to the rolling window.
func (s *State) RecordOutput(output string) {
	s.OutputHashes = appendCapped(s.OutputHashes, HashOutput(output), outputHashCap)
	s.TotalOutputChars += int64(len(output))
}

// RecordDiff records the outcome of one iteration. An empty diff counts as a
// non-productive iteration; a non-empty diff resets the stall counter,
// appends a diff hash, and credits every file named in a "+++ b/" header.
func (s *State) RecordDiff(diff string) {
	if strings.TrimSpace(diff) == "" {
		s.IterationsSinceChange++
		return
	}
	s.IterationsSinceChange = 0
	s.DiffHashes = append(s.DiffHashes, HashDiff(diff))
	if s.FileEditCounts == nil {
		s.FileEditCounts = map[string]int{}
	}
	for _, path := range diffTouchedFiles(diff) {
		s.FileEditCounts[path]++
	}
}

// RecordCommandFailure appends a failing-command signature to the window.
func (s *State) RecordCommandFailure(signature string) {
	s.CommandSignatures = appendCapped(s.CommandSignatures, HashCommandFailure(signature), commandSignatureCap)
}

// RecordPlan appends a submitted plan hash.
func (s *State) RecordPlan(plan string) {
	s.PlanHashes = append(s.PlanHashes, HashPlan(plan))
}

// diffTouchedFiles extracts target paths from unified-diff "+++ b/<path>"
// headers. "/dev/null" targets (deletions) are skipped.
func diffTouchedFiles(diff string) []string {
	var files []string
	for _, line := range strings.Split(diff, "\n") {
		rest, ok := strings.CutPrefix(line, "+++ b/")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest != "" {
			files = append(files, rest)
		}
	}
	return files
}

func appendCapped(list []string, entry string, limit int) []string {
	list = append(list, entry)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
