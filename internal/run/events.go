package run

import "time"

// Event types driving the phase machine, plus the bookkeeping records the
// manager emits on its own (run start/end, ticket assignment, spindle
// recovery).
const (
	EventScoutOutput       = "SCOUT_OUTPUT"
	EventProposalsReviewed = "PROPOSALS_REVIEWED"
	EventProposalsFiltered = "PROPOSALS_FILTERED"
	EventPlanSubmitted     = "PLAN_SUBMITTED"
	EventTicketResult      = "TICKET_RESULT"
	EventQACommandResult   = "QA_COMMAND_RESULT"
	EventQAPassed          = "QA_PASSED"
	EventQAFailed          = "QA_FAILED"
	EventPRCreated         = "PR_CREATED"
	EventUserOverride      = "USER_OVERRIDE"

	eventRunStarted      = "RUN_STARTED"
	eventRunEnded        = "RUN_ENDED"
	eventTicketAssigned  = "TICKET_ASSIGNED"
	eventSpindleRecovery = "SPINDLE_RECOVERY"
	eventSpindleTerminal = "SPINDLE_TERMINAL"
)

// Event is one appended line of the run's immutable event log.
type Event struct {
	TS      time.Time `json:"ts"`
	Step    int       `json:"step"`
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// HandlerResult is what every event handler returns to the caller.
type HandlerResult struct {
	Processed    bool   `json:"processed"`
	PhaseChanged bool   `json:"phase_changed"`
	NewPhase     Phase  `json:"new_phase,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ScoutOutput reports the result of one scouting pass.
type ScoutOutput struct {
	ProposalCount int      `json:"proposal_count"`
	ExploredDirs  []string `json:"explored_dirs,omitempty"`
}

// ProposalsReviewed reports how many scouted proposals survived review.
type ProposalsReviewed struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// ProposalsFiltered reports how many proposals remain after filtering.
type ProposalsFiltered struct {
	Remaining int `json:"remaining"`
}

// PlanSubmitted carries a work item's proposed plan.
type PlanSubmitted struct {
	Plan Plan `json:"plan"`
}

// TicketResult reports the outcome of executing the current work item.
type TicketResult struct {
	Success      bool     `json:"success"`
	Files        []string `json:"files,omitempty"`
	ChangedLines int      `json:"changed_lines"`
	Diff         string   `json:"diff,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// QACommandResult reports one QA command invocation.
type QACommandResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// QAPassed reports that the QA phase accepted the change.
type QAPassed struct{}

// QAFailed reports a QA failure with the raw output for classification.
type QAFailed struct {
	Output string `json:"output,omitempty"`
}

// PRCreated reports a created pull request.
type PRCreated struct {
	URL string `json:"url"`
}

// UserOverride forces the machine into a phase, e.g. resuming a blocked run.
type UserOverride struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
}
