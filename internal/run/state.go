// Package run owns the single source of truth for one orchestration
// session: the phase state machine, budgets, the active work item, and the
// embedded spindle state. Every mutation goes through a named transition
// method that persists the full state and appends an event record, making
// the session crash-consistent: state.json plus the replay-only event log
// fully describe its history.
package run

import (
	"time"

	"github.com/seedrift/tiller/internal/spindle"
)

// Plan is a work item's structured declaration of intent, submitted before
// execution and validated against scope policy.
type Plan struct {
	Files          []string `json:"files"`
	EstimatedLines int      `json:"estimated_lines"`
	RiskLevel      string   `json:"risk_level"`
	Summary        string   `json:"summary,omitempty"`
}

// Budgets are the session resource ceilings. Exhaustion is advisory: the
// manager reports it but never forces a phase change on its own.
type Budgets struct {
	// MaxSteps caps lifecycle steps across the whole session.
	MaxSteps int `json:"max_steps"`
	// MaxItemSteps caps steps spent on one work item.
	MaxItemSteps int `json:"max_item_steps"`
	// MaxChangedLines caps accepted changed lines per work item.
	MaxChangedLines int `json:"max_changed_lines"`
	// MaxPRs caps created pull requests; checked only when PRs are enabled.
	MaxPRs int `json:"max_prs"`
	// PRsEnabled routes QA success through the PR phase.
	PRsEnabled bool `json:"prs_enabled"`
}

// Coverage is the sector-coverage snapshot carried on the run state.
type Coverage struct {
	ScannedSectors int `json:"scanned_sectors"`
	TotalSectors   int `json:"total_sectors"`
	ScannedFiles   int `json:"scanned_files"`
	TotalFiles     int `json:"total_files"`
}

// RunState is the persisted session state, one per run.
type RunState struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Phase   Phase  `json:"phase"`

	// Step counts lifecycle steps globally; ItemSteps counts steps since
	// the current work item was assigned.
	Step      int `json:"step"`
	ItemSteps int `json:"item_steps"`

	// Per-item resource counters.
	ChangedLines int `json:"changed_lines"`
	ToolCalls    int `json:"tool_calls"`

	// Session outcome counters.
	TotalCompleted int      `json:"total_completed"`
	TotalFailed    int      `json:"total_failed"`
	TotalBlocked   int      `json:"total_blocked"`
	PRsCreated     int      `json:"prs_created"`
	PRURLs         []string `json:"pr_urls,omitempty"`

	// Active work item.
	CurrentTicketID string `json:"current_ticket_id,omitempty"`
	CurrentPlan     *Plan  `json:"current_plan,omitempty"`

	// Retry counters, reset when a new item is assigned.
	PlanRejections int            `json:"plan_rejections"`
	QARetries      int            `json:"qa_retries"`
	ScoutRetries   int            `json:"scout_retries"`
	QAFailures     map[string]int `json:"qa_failures,omitempty"`

	// Spindle detection.
	Spindle           spindle.State `json:"spindle"`
	SpindleRecoveries int           `json:"spindle_recoveries"`

	// Exploration and coverage bookkeeping.
	ExploredDirs []string `json:"explored_dirs,omitempty"`
	Coverage     Coverage `json:"coverage"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Ended     bool       `json:"ended"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Budgets Budgets `json:"budgets"`
}

// defaultMaxSpindleRecoveries bounds how many times one session forgives a
// misbehaving worker before the event turns terminal.
const defaultMaxSpindleRecoveries = 3

// planRejectionCap bounds plan resubmissions before escalating to a human.
const planRejectionCap = 3

// BudgetExhausted reports whether any session budget is spent, with the
// first exhausted budget named. Advisory: callers decide whether to stop.
func (s *RunState) BudgetExhausted(now time.Time) (bool, string) {
	if s.Budgets.MaxSteps > 0 && s.Step >= s.Budgets.MaxSteps {
		return true, "step budget exhausted"
	}
	if s.Budgets.MaxItemSteps > 0 && s.ItemSteps >= s.Budgets.MaxItemSteps {
		return true, "per-item step budget exhausted"
	}
	if s.Budgets.PRsEnabled && s.Budgets.MaxPRs > 0 && s.PRsCreated >= s.Budgets.MaxPRs {
		return true, "pull request cap reached"
	}
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return true, "session expired"
	}
	return false, ""
}

// exploreDirs appends paths not already recorded.
func (s *RunState) exploreDirs(dirs []string) {
	seen := make(map[string]struct{}, len(s.ExploredDirs))
	for _, d := range s.ExploredDirs {
		seen[d] = struct{}{}
	}
	for _, d := range dirs {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		s.ExploredDirs = append(s.ExploredDirs, d)
	}
}

// planAllows reports whether every reported file was declared in the
// approved plan, returning the first offender otherwise.
func planAllows(plan *Plan, files []string) (string, bool) {
	if plan == nil {
		if len(files) == 0 {
			return "", true
		}
		return files[0], false
	}
	declared := make(map[string]struct{}, len(plan.Files))
	for _, f := range plan.Files {
		declared[f] = struct{}{}
	}
	for _, f := range files {
		if _, ok := declared[f]; !ok {
			return f, false
		}
	}
	return "", true
}
