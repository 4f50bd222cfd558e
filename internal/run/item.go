package run

import (
	"fmt"

	"github.com/seedrift/tiller/internal/scope"
)

// Item outcome statuses reported back to the session.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
)

// ItemOutcome is the settled result of one parallel work item, applied to
// the session counters through a single writer.
type ItemOutcome struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
	PRURL    string `json:"pr_url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ItemMachine is the per-item sub-state-machine hosted by PARALLEL_EXECUTE:
// PLAN → EXECUTE → QA → [CROSS_QA] → done. It shares the sequential path's
// transition rules but keeps all of its state local, so items can progress
// concurrently without touching the session state.
type ItemMachine struct {
	TicketID string
	Phase    Phase
	Plan     *Plan

	policy         scope.Policy
	lineBudget     int
	crossVerify    bool
	changedLines   int
	planRejections int
	qaFailures     map[string]int
	settled        *ItemOutcome
}

// NewItemMachine starts one item in PLAN under the given policy and line
// budget (zero means unlimited). With crossVerify set, a second independent
// QA pass (CROSS_QA) gates acceptance.
func NewItemMachine(ticketID string, policy scope.Policy, lineBudget int, crossVerify bool) *ItemMachine {
	return &ItemMachine{
		TicketID:    ticketID,
		Phase:       PhasePlan,
		policy:      policy,
		lineBudget:  lineBudget,
		crossVerify: crossVerify,
		qaFailures:  map[string]int{},
	}
}

// Outcome returns the settled result, or nil while the item is in flight.
func (im *ItemMachine) Outcome() *ItemOutcome {
	return im.settled
}

// SubmitPlan validates a plan under the same rules as the sequential path:
// rejection cap 3 then blocked, high risk blocked unconditionally.
func (im *ItemMachine) SubmitPlan(plan Plan) HandlerResult {
	if im.Phase != PhasePlan {
		return rejected(im.Phase, EventPlanSubmitted)
	}

	if err := scope.ValidatePlan(plan.Files, plan.EstimatedLines, plan.RiskLevel, im.policy); err != nil {
		im.planRejections++
		if im.planRejections >= planRejectionCap {
			return im.settle(OutcomeBlocked, fmt.Sprintf("plan rejected %d times: %v", im.planRejections, err))
		}
		return HandlerResult{
			Processed: true,
			Message:   fmt.Sprintf("plan rejected (%d/%d): %v", im.planRejections, planRejectionCap, err),
		}
	}
	if plan.RiskLevel == "high" {
		return im.settle(OutcomeBlocked, "high-risk plan requires human approval")
	}

	im.Plan = &plan
	im.Phase = PhaseExecute
	return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseExecute}
}

// ReportExecution applies the EXECUTE transition rule: files must stay
// within the approved plan and changed lines within the item's line budget,
// then the item moves to QA on success or settles failed otherwise.
func (im *ItemMachine) ReportExecution(result TicketResult) HandlerResult {
	if im.Phase != PhaseExecute {
		return rejected(im.Phase, EventTicketResult)
	}
	if !result.Success {
		return im.settle(OutcomeFailed, "execution failed: "+result.Message)
	}
	if offender, ok := planAllows(im.Plan, result.Files); !ok {
		return HandlerResult{
			Processed: true,
			Message:   fmt.Sprintf("file %s is not in the approved plan; revert it", offender),
		}
	}
	if im.lineBudget > 0 && im.changedLines+result.ChangedLines > im.lineBudget {
		return HandlerResult{
			Processed: true,
			Message: fmt.Sprintf("change of %d lines exceeds the per-item budget of %d",
				result.ChangedLines, im.lineBudget),
		}
	}
	im.changedLines += result.ChangedLines
	im.Phase = PhaseQA
	return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseQA}
}

// ReportQAPassed advances QA → CROSS_QA (when cross verification is on),
// CROSS_QA → done, or QA → done.
func (im *ItemMachine) ReportQAPassed() HandlerResult {
	switch im.Phase {
	case PhaseQA:
		if im.crossVerify {
			im.Phase = PhaseCrossQA
			return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseCrossQA}
		}
		return im.settle(OutcomeCompleted, "")
	case PhaseCrossQA:
		return im.settle(OutcomeCompleted, "")
	}
	return rejected(im.Phase, EventQAPassed)
}

// ReportQAFailed classifies the failure and applies the per-class retry
// ceiling; exhaustion settles the item blocked.
func (im *ItemMachine) ReportQAFailed(output string) HandlerResult {
	if im.Phase != PhaseQA && im.Phase != PhaseCrossQA {
		return rejected(im.Phase, EventQAFailed)
	}

	class := ClassifyQAFailure(output)
	im.qaFailures[class]++
	ceiling := RetryCeilings[class]
	if im.qaFailures[class] > ceiling {
		return im.settle(OutcomeBlocked, fmt.Sprintf("qa retries exhausted for %s failures", class))
	}
	return HandlerResult{
		Processed: true,
		Message:   fmt.Sprintf("qa failed (%s, attempt %d/%d), retrying", class, im.qaFailures[class], ceiling),
	}
}

func (im *ItemMachine) settle(status, message string) HandlerResult {
	im.settled = &ItemOutcome{
		TicketID: im.TicketID,
		Status:   status,
		Message:  message,
	}
	im.Phase = PhaseNextTicket
	return HandlerResult{
		Processed:    true,
		PhaseChanged: true,
		NewPhase:     PhaseNextTicket,
		Message:      message,
	}
}

// EnterParallel hosts a batch of per-item sub-machines.
func (m *Manager) EnterParallel() error {
	if m.state.Ended {
		return ErrRunEnded
	}
	switch m.state.Phase {
	case PhaseScout, PhaseNextTicket:
	default:
		return fmt.Errorf("cannot enter parallel execution from phase %s", m.state.Phase)
	}
	m.state.Phase = PhaseParallelExecute
	return m.commit(eventTicketAssigned, map[string]string{"mode": "parallel"})
}

// ApplyItemOutcome folds one settled parallel item into the session
// counters. All outcome application is routed through this single writer;
// items themselves never touch session state.
func (m *Manager) ApplyItemOutcome(outcome ItemOutcome) error {
	if m.state.Ended {
		return ErrRunEnded
	}
	switch outcome.Status {
	case OutcomeCompleted:
		m.state.TotalCompleted++
		if outcome.PRURL != "" {
			m.state.PRsCreated++
			m.state.PRURLs = append(m.state.PRURLs, outcome.PRURL)
		}
	case OutcomeFailed:
		m.state.TotalFailed++
	case OutcomeBlocked:
		m.state.TotalBlocked++
	default:
		return fmt.Errorf("unknown item outcome status %q", outcome.Status)
	}
	m.state.Step++
	return m.commit(EventTicketResult, outcome)
}

// LeaveParallel returns to the sequential loop after a batch settles.
func (m *Manager) LeaveParallel() error {
	if m.state.Ended {
		return ErrRunEnded
	}
	if m.state.Phase != PhaseParallelExecute {
		return fmt.Errorf("not in parallel execution (phase %s)", m.state.Phase)
	}
	m.state.Phase = PhaseNextTicket
	return m.commit(eventTicketAssigned, map[string]string{"mode": "sequential"})
}
