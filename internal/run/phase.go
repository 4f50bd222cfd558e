package run

// Phase is the lifecycle state machine position. The main loop is
// SCOUT → PLAN → EXECUTE → QA → PR → NEXT_TICKET → (PLAN | SCOUT), with
// BLOCKED_NEEDS_HUMAN as a side branch and FAILED_SPINDLE / DONE terminal.
type Phase string

const (
	PhaseScout           Phase = "SCOUT"
	PhasePlan            Phase = "PLAN"
	PhaseExecute         Phase = "EXECUTE"
	PhaseParallelExecute Phase = "PARALLEL_EXECUTE"
	PhaseQA              Phase = "QA"
	PhaseCrossQA         Phase = "CROSS_QA"
	PhasePR              Phase = "PR"
	PhaseNextTicket      Phase = "NEXT_TICKET"
	PhaseBlocked         Phase = "BLOCKED_NEEDS_HUMAN"
	PhaseFailedSpindle   Phase = "FAILED_SPINDLE"
	PhaseDone            Phase = "DONE"
)

// Terminal reports whether the phase ends the session. BLOCKED_NEEDS_HUMAN
// is terminal for automation; a human override can resume it.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseFailedSpindle, PhaseDone:
		return true
	}
	return false
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseScout, PhasePlan, PhaseExecute, PhaseParallelExecute,
		PhaseQA, PhaseCrossQA, PhasePR, PhaseNextTicket,
		PhaseBlocked, PhaseFailedSpindle, PhaseDone:
		return true
	}
	return false
}
