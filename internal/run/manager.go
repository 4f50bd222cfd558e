package run

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seedrift/tiller/internal/scope"
	"github.com/seedrift/tiller/internal/spindle"
	"github.com/seedrift/tiller/internal/storage"
)

// Manager drives one session's lifecycle. Mutation happens exclusively
// through its transition methods; each one persists the full state and
// appends an event before returning.
type Manager struct {
	state         RunState
	paths         storage.RunPaths
	lock          *storage.SessionLock
	policy        scope.Policy
	spindleCfg    spindle.Config
	maxRecoveries int
	logger        *slog.Logger
}

// Options configures Create.
type Options struct {
	// Root is the repository root; the run folder lives under its .state dir.
	Root string
	// Project names the project for ticket bookkeeping.
	Project string
	// Budgets are the session ceilings; zero fields mean unlimited.
	Budgets Budgets
	// Spindle holds detector thresholds; zero fields use defaults.
	Spindle spindle.Config
	// MaxSpindleRecoveries bounds spindle forgiveness per session; zero
	// means the default of three.
	MaxSpindleRecoveries int
	// TTL time-boxes the session; zero means no expiry.
	TTL time.Duration
	// Logger receives operational messages; nil discards them.
	Logger *slog.Logger
}

// Create starts a new session. It fails with storage.ErrSessionActive when
// another live process holds the repository's session lock.
func Create(opts Options) (*Manager, error) {
	lock, err := storage.AcquireSessionLock(opts.Root)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runID := uuid.NewString()
	paths := storage.BuildRunPaths(opts.Root, runID)
	if err := paths.Init(); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("init run folder: %w", err)
	}

	now := time.Now().UTC()
	state := RunState{
		RunID:     runID,
		Project:   opts.Project,
		Phase:     PhaseScout,
		Spindle:   spindle.NewState(),
		StartedAt: now,
		UpdatedAt: now,
		Budgets:   opts.Budgets,
	}
	if opts.TTL > 0 {
		expires := now.Add(opts.TTL)
		state.ExpiresAt = &expires
	}

	maxRecoveries := opts.MaxSpindleRecoveries
	if maxRecoveries <= 0 {
		maxRecoveries = defaultMaxSpindleRecoveries
	}

	m := &Manager{
		state:         state,
		paths:         paths,
		lock:          lock,
		spindleCfg:    opts.Spindle,
		maxRecoveries: maxRecoveries,
		logger:        logger,
	}
	if err := m.commit(eventRunStarted, map[string]string{"project": opts.Project}); err != nil {
		_ = lock.Release()
		return nil, err
	}
	logger.Info("run started", "run_id", runID, "project", opts.Project)
	return m, nil
}

// LoadState reads a run's last persisted state without taking the lock.
func LoadState(root, runID string) (RunState, error) {
	var state RunState
	paths := storage.BuildRunPaths(root, runID)
	if err := storage.ReadJSON(paths.StateFile, &state); err != nil {
		return RunState{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return state, nil
}

// ReadEvents replays a run's event log.
func ReadEvents(root, runID string) ([]Event, error) {
	paths := storage.BuildRunPaths(root, runID)
	return storage.ReadJSONLines[Event](paths.EventsFile)
}

// State returns a snapshot of the current run state.
func (m *Manager) State() RunState {
	return m.state
}

// Paths exposes the run folder layout for artifact writes.
func (m *Manager) Paths() storage.RunPaths {
	return m.paths
}

// End finishes the session and releases the lock. The state is immutable
// afterwards.
func (m *Manager) End() error {
	if m.state.Ended {
		return nil
	}
	now := time.Now().UTC()
	m.state.Ended = true
	m.state.EndedAt = &now
	if err := m.commit(eventRunEnded, nil); err != nil {
		return err
	}
	m.logger.Info("run ended",
		"run_id", m.state.RunID,
		"phase", m.state.Phase,
		"completed", m.state.TotalCompleted,
		"failed", m.state.TotalFailed,
		"blocked", m.state.TotalBlocked,
	)
	return m.lock.Release()
}

// AssignTicket makes a work item current, resets the per-item counters and
// spindle window, and enters PLAN.
func (m *Manager) AssignTicket(ticketID string, policy scope.Policy) error {
	if m.state.Ended {
		return ErrRunEnded
	}
	switch m.state.Phase {
	case PhaseScout, PhaseNextTicket:
	default:
		return fmt.Errorf("cannot assign ticket in phase %s", m.state.Phase)
	}

	m.state.CurrentTicketID = ticketID
	m.state.CurrentPlan = nil
	m.state.ItemSteps = 0
	m.state.ChangedLines = 0
	m.state.ToolCalls = 0
	m.state.PlanRejections = 0
	m.state.QARetries = 0
	m.state.ScoutRetries = 0
	m.state.QAFailures = nil
	m.state.Spindle.Reset()
	m.state.Phase = PhasePlan
	m.policy = policy
	return m.commit(eventTicketAssigned, map[string]string{"ticket_id": ticketID})
}

// ReturnToScout loops back to scouting when the proposal queue is empty.
func (m *Manager) ReturnToScout() error {
	if m.state.Ended {
		return ErrRunEnded
	}
	if m.state.Phase != PhaseNextTicket {
		return fmt.Errorf("cannot return to scout from phase %s", m.state.Phase)
	}
	m.state.CurrentTicketID = ""
	m.state.CurrentPlan = nil
	m.state.Phase = PhaseScout
	return m.commit(eventTicketAssigned, map[string]string{"ticket_id": ""})
}

// Finish moves the session to its DONE terminal.
func (m *Manager) Finish() error {
	if m.state.Ended {
		return ErrRunEnded
	}
	m.state.Phase = PhaseDone
	return m.commit(eventRunEnded, map[string]string{"phase": string(PhaseDone)})
}

// RecordToolCalls adds agent tool-call usage to the per-item counter.
func (m *Manager) RecordToolCalls(n int) error {
	if m.state.Ended {
		return ErrRunEnded
	}
	m.state.ToolCalls += n
	return m.persist()
}

// SetCoverage stores the latest sector-coverage snapshot.
func (m *Manager) SetCoverage(c Coverage) error {
	if m.state.Ended {
		return ErrRunEnded
	}
	m.state.Coverage = c
	return m.persist()
}

// Handle dispatches one protocol event into the phase machine. Events that
// do not apply in the current phase return Processed=false without mutating
// anything.
func (m *Manager) Handle(payload any) (HandlerResult, error) {
	if m.state.Ended {
		return HandlerResult{}, ErrRunEnded
	}

	var (
		result    HandlerResult
		eventType string
	)
	switch p := payload.(type) {
	case ScoutOutput:
		eventType, result = EventScoutOutput, m.handleScoutOutput(p)
	case ProposalsReviewed:
		eventType, result = EventProposalsReviewed, m.handleRecordOnly(PhaseScout, PhasePlan)
	case ProposalsFiltered:
		eventType, result = EventProposalsFiltered, m.handleRecordOnly(PhaseScout, PhasePlan)
	case PlanSubmitted:
		eventType, result = EventPlanSubmitted, m.handlePlanSubmitted(p)
	case TicketResult:
		eventType, result = EventTicketResult, m.handleTicketResult(p)
	case QACommandResult:
		eventType, result = EventQACommandResult, m.handleQACommandResult(p)
	case QAPassed:
		eventType, result = EventQAPassed, m.handleQAPassed()
	case QAFailed:
		eventType, result = EventQAFailed, m.handleQAFailed(p)
	case PRCreated:
		eventType, result = EventPRCreated, m.handlePRCreated(p)
	case UserOverride:
		eventType, result = EventUserOverride, m.handleUserOverride(p)
	default:
		return HandlerResult{}, fmt.Errorf("unknown event payload %T", payload)
	}

	if !result.Processed {
		return result, nil
	}
	m.state.Step++
	if m.state.CurrentTicketID != "" {
		m.state.ItemSteps++
	}
	if err := m.commit(eventType, payload); err != nil {
		return HandlerResult{}, err
	}
	return result, nil
}

func (m *Manager) handleScoutOutput(p ScoutOutput) HandlerResult {
	if m.state.Phase != PhaseScout {
		return rejected(m.state.Phase, EventScoutOutput)
	}
	m.state.exploreDirs(p.ExploredDirs)
	if p.ProposalCount == 0 {
		m.state.ScoutRetries++
		return HandlerResult{Processed: true, Message: "scout produced no proposals"}
	}
	m.state.ScoutRetries = 0
	return HandlerResult{
		Processed: true,
		Message:   fmt.Sprintf("%d proposals ready", p.ProposalCount),
	}
}

// handleRecordOnly accepts bookkeeping events that never change phase.
func (m *Manager) handleRecordOnly(phases ...Phase) HandlerResult {
	for _, p := range phases {
		if m.state.Phase == p {
			return HandlerResult{Processed: true}
		}
	}
	return rejected(m.state.Phase, "bookkeeping event")
}

func (m *Manager) handlePlanSubmitted(p PlanSubmitted) HandlerResult {
	if m.state.Phase != PhasePlan {
		return rejected(m.state.Phase, EventPlanSubmitted)
	}

	m.state.Spindle.RecordPlan(fmt.Sprintf("%v|%d|%s", p.Plan.Files, p.Plan.EstimatedLines, p.Plan.RiskLevel))

	if err := scope.ValidatePlan(p.Plan.Files, p.Plan.EstimatedLines, p.Plan.RiskLevel, m.policy); err != nil {
		m.state.PlanRejections++
		if m.state.PlanRejections >= planRejectionCap {
			m.state.TotalBlocked++
			m.state.Phase = PhaseBlocked
			return HandlerResult{
				Processed:    true,
				PhaseChanged: true,
				NewPhase:     PhaseBlocked,
				Message:      fmt.Sprintf("plan rejected %d times, needs human review: %v", m.state.PlanRejections, err),
			}
		}
		return HandlerResult{
			Processed: true,
			Message:   fmt.Sprintf("plan rejected (%d/%d): %v", m.state.PlanRejections, planRejectionCap, err),
		}
	}

	if p.Plan.RiskLevel == "high" {
		m.state.TotalBlocked++
		m.state.Phase = PhaseBlocked
		return HandlerResult{
			Processed:    true,
			PhaseChanged: true,
			NewPhase:     PhaseBlocked,
			Message:      "high-risk plan requires human approval",
		}
	}

	plan := p.Plan
	m.state.CurrentPlan = &plan
	m.state.Phase = PhaseExecute
	return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseExecute, Message: "plan approved"}
}

func (m *Manager) handleTicketResult(p TicketResult) HandlerResult {
	if m.state.Phase != PhaseExecute {
		return rejected(m.state.Phase, EventTicketResult)
	}

	if p.Diff != "" {
		m.state.Spindle.RecordDiff(p.Diff)
		if err := m.paths.WriteDiff(m.state.Step, m.state.CurrentTicketID, p.Diff); err != nil {
			m.logger.Warn("diff artifact write failed", "error", err)
		}
	}

	if !p.Success {
		m.state.TotalFailed++
		m.state.Phase = PhaseNextTicket
		return HandlerResult{
			Processed:    true,
			PhaseChanged: true,
			NewPhase:     PhaseNextTicket,
			Message:      "execution failed: " + p.Message,
		}
	}

	if offender, ok := planAllows(m.state.CurrentPlan, p.Files); !ok {
		return HandlerResult{
			Processed: true,
			Message:   fmt.Sprintf("file %s is not in the approved plan; revert it", offender),
		}
	}
	if m.state.Budgets.MaxChangedLines > 0 &&
		m.state.ChangedLines+p.ChangedLines > m.state.Budgets.MaxChangedLines {
		return HandlerResult{
			Processed: true,
			Message: fmt.Sprintf("change of %d lines exceeds the per-item budget of %d",
				p.ChangedLines, m.state.Budgets.MaxChangedLines),
		}
	}

	m.state.ChangedLines += p.ChangedLines
	m.state.Phase = PhaseQA
	return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseQA, Message: "changes accepted"}
}

func (m *Manager) handleQACommandResult(p QACommandResult) HandlerResult {
	if m.state.Phase != PhaseQA && m.state.Phase != PhaseCrossQA {
		return rejected(m.state.Phase, EventQACommandResult)
	}
	if !p.Success {
		m.state.Spindle.RecordCommandFailure(p.Command)
	}
	return HandlerResult{Processed: true}
}

func (m *Manager) handleQAPassed() HandlerResult {
	if m.state.Phase != PhaseQA && m.state.Phase != PhaseCrossQA {
		return rejected(m.state.Phase, EventQAPassed)
	}
	if m.state.Budgets.PRsEnabled {
		m.state.Phase = PhasePR
		return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhasePR}
	}
	m.state.TotalCompleted++
	m.state.Phase = PhaseNextTicket
	return HandlerResult{Processed: true, PhaseChanged: true, NewPhase: PhaseNextTicket, Message: "item completed"}
}

func (m *Manager) handleQAFailed(p QAFailed) HandlerResult {
	if m.state.Phase != PhaseQA && m.state.Phase != PhaseCrossQA {
		return rejected(m.state.Phase, EventQAFailed)
	}

	class := ClassifyQAFailure(p.Output)
	if m.state.QAFailures == nil {
		m.state.QAFailures = map[string]int{}
	}
	m.state.QAFailures[class]++
	m.state.QARetries++

	ceiling := RetryCeilings[class]
	if m.state.QAFailures[class] > ceiling {
		m.state.TotalBlocked++
		m.state.Phase = PhaseNextTicket
		return HandlerResult{
			Processed:    true,
			PhaseChanged: true,
			NewPhase:     PhaseNextTicket,
			Message:      fmt.Sprintf("qa retries exhausted for %s failures, item blocked", class),
		}
	}
	return HandlerResult{
		Processed: true,
		Message:   fmt.Sprintf("qa failed (%s, attempt %d/%d), retrying", class, m.state.QAFailures[class], ceiling),
	}
}

func (m *Manager) handlePRCreated(p PRCreated) HandlerResult {
	if m.state.Phase != PhasePR {
		return rejected(m.state.Phase, EventPRCreated)
	}
	m.state.PRsCreated++
	m.state.PRURLs = append(m.state.PRURLs, p.URL)
	m.state.TotalCompleted++
	m.state.Phase = PhaseNextTicket
	return HandlerResult{
		Processed:    true,
		PhaseChanged: true,
		NewPhase:     PhaseNextTicket,
		Message:      "pull request created: " + p.URL,
	}
}

func (m *Manager) handleUserOverride(p UserOverride) HandlerResult {
	if !p.Phase.Valid() {
		return HandlerResult{Processed: false, Message: fmt.Sprintf("invalid phase %q", p.Phase)}
	}
	m.state.Phase = p.Phase
	return HandlerResult{
		Processed:    true,
		PhaseChanged: true,
		NewPhase:     p.Phase,
		Message:      "user override: " + p.Reason,
	}
}

// ObserveIteration feeds one agent iteration's output and diff into the
// spindle window. An empty diff counts as a non-productive iteration.
func (m *Manager) ObserveIteration(output, diff string) error {
	if m.state.Ended {
		return ErrRunEnded
	}
	m.state.Spindle.RecordOutput(output)
	m.state.Spindle.RecordDiff(diff)
	return m.persist()
}

// EvaluateSpindle checks the detector and applies the recovery policy: on
// abort or block the current item is failed, the spindle window is reset,
// and a session-wide recovery counter increments; the third recovery turns
// the verdict terminal (FAILED_SPINDLE for abort, BLOCKED_NEEDS_HUMAN for
// block) instead of forgiving again.
func (m *Manager) EvaluateSpindle() (HandlerResult, error) {
	if m.state.Ended {
		return HandlerResult{}, ErrRunEnded
	}

	verdict := spindle.Check(m.state.Spindle, m.spindleCfg)
	if !verdict.ShouldAbort && !verdict.ShouldBlock {
		return HandlerResult{Processed: true, Message: fmt.Sprintf("spindle risk %s", verdict.Risk)}, nil
	}

	m.logger.Warn("spindle verdict",
		"reason", verdict.Reason,
		"confidence", verdict.Confidence,
		"abort", verdict.ShouldAbort,
		"recoveries", m.state.SpindleRecoveries,
	)

	m.state.TotalFailed++
	m.state.Spindle.Reset()
	m.state.SpindleRecoveries++
	m.state.CurrentTicketID = ""
	m.state.CurrentPlan = nil

	payload := map[string]any{
		"reason":     verdict.Reason,
		"confidence": verdict.Confidence,
		"recoveries": m.state.SpindleRecoveries,
	}

	if m.state.SpindleRecoveries >= m.maxRecoveries {
		if verdict.ShouldAbort {
			m.state.Phase = PhaseFailedSpindle
		} else {
			m.state.Phase = PhaseBlocked
		}
		if err := m.commit(eventSpindleTerminal, payload); err != nil {
			return HandlerResult{}, err
		}
		return HandlerResult{
			Processed:    true,
			PhaseChanged: true,
			NewPhase:     m.state.Phase,
			Message:      fmt.Sprintf("spindle %s after %d recoveries, stopping", verdict.Reason, m.state.SpindleRecoveries),
		}, nil
	}

	m.state.Phase = PhaseNextTicket
	if err := m.commit(eventSpindleRecovery, payload); err != nil {
		return HandlerResult{}, err
	}
	return HandlerResult{
		Processed:    true,
		PhaseChanged: true,
		NewPhase:     PhaseNextTicket,
		Message:      fmt.Sprintf("spindle %s, item failed and state reset (recovery %d/%d)", verdict.Reason, m.state.SpindleRecoveries, m.maxRecoveries),
	}, nil
}

// rejected builds the not-processed result for an out-of-phase event.
func rejected(current Phase, event string) HandlerResult {
	return HandlerResult{
		Processed: false,
		Message:   fmt.Sprintf("%s not accepted in phase %s", event, current),
	}
}

// persist writes the full state atomically without appending an event.
func (m *Manager) persist() error {
	m.state.UpdatedAt = time.Now().UTC()
	if err := storage.WriteJSONAtomic(m.paths.StateFile, m.state); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	return nil
}

// commit persists the state and appends an event record.
func (m *Manager) commit(eventType string, payload any) error {
	if err := m.persist(); err != nil {
		return err
	}
	event := Event{
		TS:      m.state.UpdatedAt,
		Step:    m.state.Step,
		Type:    eventType,
		Payload: payload,
	}
	if err := storage.AppendJSONLine(m.paths.EventsFile, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
