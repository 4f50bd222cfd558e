package run

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/seedrift/tiller/internal/scope"
	"github.com/seedrift/tiller/internal/spindle"
	"github.com/seedrift/tiller/internal/storage"
)

func testPolicy(t *testing.T) scope.Policy {
	t.Helper()
	return scope.Derive([]string{"src/**"}, "bugfix", 400, nil, "")
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Create(Options{
		Root:    t.TempDir(),
		Project: "demo",
		Budgets: Budgets{MaxSteps: 100, MaxItemSteps: 20, MaxChangedLines: 400},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = m.End() })
	return m
}

// advanceToExecute walks a fresh manager to EXECUTE with an approved plan.
func advanceToExecute(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.AssignTicket("tk-1", testPolicy(t)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	res, err := m.Handle(PlanSubmitted{Plan: Plan{
		Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low",
	}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseExecute {
		t.Fatalf("expected EXECUTE after approved plan, got %+v", res)
	}
}

func TestCreateStartsInScout(t *testing.T) {
	m := newTestManager(t)
	state := m.State()
	if state.Phase != PhaseScout {
		t.Errorf("expected initial phase SCOUT, got %s", state.Phase)
	}
	if state.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestCreateRejectsSecondSession(t *testing.T) {
	root := t.TempDir()
	m, err := Create(Options{Root: root, Project: "demo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.End()

	if _, err := Create(Options{Root: root, Project: "demo"}); !errors.Is(err, storage.ErrSessionActive) {
		t.Errorf("expected ErrSessionActive for second session, got %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	m, err := Create(Options{
		Root:    root,
		Project: "demo",
		Budgets: Budgets{MaxSteps: 100, MaxChangedLines: 400, PRsEnabled: true, MaxPRs: 5},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.End()

	if err := m.AssignTicket("tk-1", testPolicy(t)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.Handle(PlanSubmitted{Plan: Plan{
		Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low",
	}}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := m.ObserveIteration("output text", "+++ b/src/a.go\n@@\n+x\n"); err != nil {
		t.Fatalf("observe: %v", err)
	}

	before := m.State()
	loaded, err := LoadState(root, before.RunID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(before, loaded) {
		t.Errorf("round-trip mismatch:\nbefore %+v\nloaded %+v", before, loaded)
	}
}

func TestEventLogAppends(t *testing.T) {
	root := t.TempDir()
	m, err := Create(Options{Root: root, Project: "demo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.End()

	if _, err := m.Handle(ScoutOutput{ProposalCount: 2, ExploredDirs: []string{"src"}}); err != nil {
		t.Fatalf("scout: %v", err)
	}

	events, err := ReadEvents(root, m.State().RunID)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected run-started plus scout events, got %d", len(events))
	}
	if events[0].Type != eventRunStarted {
		t.Errorf("expected first event %s, got %s", eventRunStarted, events[0].Type)
	}
	if events[len(events)-1].Type != EventScoutOutput {
		t.Errorf("expected last event %s, got %s", EventScoutOutput, events[len(events)-1].Type)
	}
}

func TestScoutOutputRecordsDirsAndRetries(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Handle(ScoutOutput{ProposalCount: 0, ExploredDirs: []string{"src", "docs"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Processed || res.PhaseChanged {
		t.Errorf("expected processed, no phase change, got %+v", res)
	}
	state := m.State()
	if state.ScoutRetries != 1 {
		t.Errorf("expected 1 scout retry, got %d", state.ScoutRetries)
	}
	if len(state.ExploredDirs) != 2 {
		t.Errorf("expected 2 explored dirs, got %v", state.ExploredDirs)
	}

	// Duplicate dirs are not re-recorded; proposals reset the retry counter.
	if _, err := m.Handle(ScoutOutput{ProposalCount: 3, ExploredDirs: []string{"src"}}); err != nil {
		t.Fatal(err)
	}
	state = m.State()
	if state.ScoutRetries != 0 {
		t.Errorf("expected scout retries reset, got %d", state.ScoutRetries)
	}
	if len(state.ExploredDirs) != 2 {
		t.Errorf("expected dirs deduplicated, got %v", state.ExploredDirs)
	}
}

func TestAssignTicketResetsScoutRetries(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Handle(ScoutOutput{ProposalCount: 0}); err != nil {
		t.Fatal(err)
	}
	if got := m.State().ScoutRetries; got != 1 {
		t.Fatalf("expected 1 scout retry before assignment, got %d", got)
	}

	if err := m.AssignTicket("tk-1", testPolicy(t)); err != nil {
		t.Fatal(err)
	}
	if got := m.State().ScoutRetries; got != 0 {
		t.Errorf("expected scout retries reset on assignment, got %d", got)
	}
}

func TestPlanRejectionCapBlocks(t *testing.T) {
	m := newTestManager(t)
	if err := m.AssignTicket("tk-1", testPolicy(t)); err != nil {
		t.Fatal(err)
	}

	badPlan := PlanSubmitted{Plan: Plan{Files: nil, EstimatedLines: 10, RiskLevel: "low"}}
	for i := 1; i <= 2; i++ {
		res, err := m.Handle(badPlan)
		if err != nil {
			t.Fatal(err)
		}
		if res.PhaseChanged {
			t.Fatalf("rejection %d should not change phase, got %+v", i, res)
		}
	}

	res, err := m.Handle(badPlan)
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseBlocked {
		t.Errorf("expected BLOCKED_NEEDS_HUMAN after third rejection, got %+v", res)
	}
	if m.State().TotalBlocked != 1 {
		t.Errorf("expected 1 blocked item, got %d", m.State().TotalBlocked)
	}
}

func TestHighRiskPlanBlocksUnconditionally(t *testing.T) {
	m := newTestManager(t)
	if err := m.AssignTicket("tk-1", testPolicy(t)); err != nil {
		t.Fatal(err)
	}

	res, err := m.Handle(PlanSubmitted{Plan: Plan{
		Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "high",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseBlocked {
		t.Errorf("expected BLOCKED_NEEDS_HUMAN for high-risk plan, got %+v", res)
	}
}

func TestExecuteRejectsFileOutsidePlan(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)

	res, err := m.Handle(TicketResult{
		Success: true, Files: []string{"src/a.go", "src/other.go"}, ChangedLines: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PhaseChanged {
		t.Errorf("expected no phase change for out-of-plan file, got %+v", res)
	}
	if m.State().Phase != PhaseExecute {
		t.Errorf("expected to stay in EXECUTE, got %s", m.State().Phase)
	}
}

func TestExecuteRejectsLineBudgetOverrun(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)

	res, err := m.Handle(TicketResult{
		Success: true, Files: []string{"src/a.go"}, ChangedLines: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PhaseChanged {
		t.Errorf("expected no phase change for budget overrun, got %+v", res)
	}
	if m.State().ChangedLines != 0 {
		t.Errorf("expected rejected lines not counted, got %d", m.State().ChangedLines)
	}
}

func TestExecuteSuccessMovesToQA(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)

	res, err := m.Handle(TicketResult{
		Success: true, Files: []string{"src/a.go"}, ChangedLines: 12,
		Diff: "+++ b/src/a.go\n@@\n+x\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseQA {
		t.Errorf("expected QA after accepted result, got %+v", res)
	}
	if m.State().ChangedLines != 12 {
		t.Errorf("expected 12 changed lines counted, got %d", m.State().ChangedLines)
	}
}

func TestExecuteFailureMovesToNextTicket(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)

	res, err := m.Handle(TicketResult{Success: false, Message: "agent gave up"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseNextTicket {
		t.Errorf("expected NEXT_TICKET after failure, got %+v", res)
	}
	if m.State().TotalFailed != 1 {
		t.Errorf("expected 1 failed item, got %d", m.State().TotalFailed)
	}
}

func TestQAPassedCompletesWithoutPRs(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)
	if _, err := m.Handle(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 5}); err != nil {
		t.Fatal(err)
	}

	res, err := m.Handle(QAPassed{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseNextTicket {
		t.Errorf("expected NEXT_TICKET, got %+v", res)
	}
	if m.State().TotalCompleted != 1 {
		t.Errorf("expected 1 completed item, got %d", m.State().TotalCompleted)
	}
}

func TestQAPassedRoutesThroughPR(t *testing.T) {
	root := t.TempDir()
	m, err := Create(Options{
		Root: root, Project: "demo",
		Budgets: Budgets{PRsEnabled: true, MaxPRs: 5, MaxChangedLines: 400},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.End()
	advanceToExecute(t, m)
	if _, err := m.Handle(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 5}); err != nil {
		t.Fatal(err)
	}

	res, err := m.Handle(QAPassed{})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewPhase != PhasePR {
		t.Fatalf("expected PR phase, got %+v", res)
	}

	res, err = m.Handle(PRCreated{URL: "https://example.com/pr/1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewPhase != PhaseNextTicket {
		t.Errorf("expected NEXT_TICKET after PR, got %+v", res)
	}
	state := m.State()
	if state.PRsCreated != 1 || state.TotalCompleted != 1 {
		t.Errorf("expected 1 PR and 1 completion, got %d/%d", state.PRsCreated, state.TotalCompleted)
	}
}

func TestQAFailedRetriesThenBlocks(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)
	if _, err := m.Handle(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 5}); err != nil {
		t.Fatal(err)
	}

	// Environment failures have a retry ceiling of 1.
	res, err := m.Handle(QAFailed{Output: "bash: gofmt: command not found"})
	if err != nil {
		t.Fatal(err)
	}
	if res.PhaseChanged {
		t.Fatalf("first environment failure should retry, got %+v", res)
	}

	res, err = m.Handle(QAFailed{Output: "bash: gofmt: command not found"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseNextTicket {
		t.Errorf("expected item blocked after environment ceiling, got %+v", res)
	}
	if m.State().TotalBlocked != 1 {
		t.Errorf("expected 1 blocked item, got %d", m.State().TotalBlocked)
	}
}

func TestQACommandFailureFeedsSpindle(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)
	if _, err := m.Handle(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 5}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Handle(QACommandResult{Command: "go test ./...", Success: false}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(m.State().Spindle.CommandSignatures); got != 2 {
		t.Errorf("expected 2 recorded command failures, got %d", got)
	}
}

func TestOutOfPhaseEventNotProcessed(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Handle(QAPassed{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed {
		t.Errorf("expected QA_PASSED unprocessed in SCOUT, got %+v", res)
	}
	if m.State().Step != 0 {
		t.Errorf("unprocessed event should not consume a step, got %d", m.State().Step)
	}
}

func TestUserOverrideForcesPhase(t *testing.T) {
	m := newTestManager(t)

	res, err := m.Handle(UserOverride{Phase: PhaseNextTicket, Reason: "manual skip"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.PhaseChanged || res.NewPhase != PhaseNextTicket {
		t.Errorf("expected forced NEXT_TICKET, got %+v", res)
	}

	res, err = m.Handle(UserOverride{Phase: "NOT_A_PHASE"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed {
		t.Errorf("expected invalid override rejected, got %+v", res)
	}
}

func TestSpindleRecoveryScenario(t *testing.T) {
	m := newTestManager(t)

	stall := func() {
		t.Helper()
		for i := 0; i < spindle.DefaultMaxStallIterations; i++ {
			if err := m.ObserveIteration("same output", ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	// First recovery.
	advanceToExecute(t, m)
	stall()
	res, err := m.EvaluateSpindle()
	if err != nil {
		t.Fatal(err)
	}
	if res.NewPhase != PhaseNextTicket {
		t.Fatalf("expected NEXT_TICKET on first recovery, got %+v", res)
	}
	state := m.State()
	if state.SpindleRecoveries != 1 {
		t.Errorf("expected 1 recovery, got %d", state.SpindleRecoveries)
	}
	if state.Spindle.IterationsSinceChange != 0 || len(state.Spindle.OutputHashes) != 0 {
		t.Errorf("expected spindle state reset, got %+v", state.Spindle)
	}
	if state.TotalFailed != 1 {
		t.Errorf("expected 1 failed item, got %d", state.TotalFailed)
	}

	// Second recovery.
	if err := m.AssignTicket("tk-2", testPolicy(t)); err != nil {
		t.Fatal(err)
	}
	stall()
	if _, err := m.EvaluateSpindle(); err != nil {
		t.Fatal(err)
	}
	if got := m.State().SpindleRecoveries; got != 2 {
		t.Fatalf("expected 2 recoveries, got %d", got)
	}

	// Third occurrence turns terminal.
	if err := m.AssignTicket("tk-3", testPolicy(t)); err != nil {
		t.Fatal(err)
	}
	stall()
	res, err = m.EvaluateSpindle()
	if err != nil {
		t.Fatal(err)
	}
	if res.NewPhase != PhaseFailedSpindle {
		t.Errorf("expected terminal FAILED_SPINDLE on third recovery, got %+v", res)
	}
	if got := m.State().SpindleRecoveries; got != 3 {
		t.Errorf("expected 3 recoveries, got %d", got)
	}
}

func TestSpindleRecoveryCapConfigurable(t *testing.T) {
	m, err := Create(Options{
		Root:                 t.TempDir(),
		Project:              "demo",
		Budgets:              Budgets{MaxSteps: 100, MaxChangedLines: 400},
		MaxSpindleRecoveries: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = m.End() })

	advanceToExecute(t, m)
	for i := 0; i < spindle.DefaultMaxStallIterations; i++ {
		if err := m.ObserveIteration("same output", ""); err != nil {
			t.Fatal(err)
		}
	}

	res, err := m.EvaluateSpindle()
	if err != nil {
		t.Fatal(err)
	}
	if res.NewPhase != PhaseFailedSpindle {
		t.Errorf("expected a cap of one to turn the first recovery terminal, got %+v", res)
	}
}

func TestEvaluateSpindleHealthy(t *testing.T) {
	m := newTestManager(t)
	advanceToExecute(t, m)

	res, err := m.EvaluateSpindle()
	if err != nil {
		t.Fatal(err)
	}
	if res.PhaseChanged {
		t.Errorf("expected no action on healthy state, got %+v", res)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	tests := []struct {
		name  string
		state RunState
		want  bool
	}{
		{"fresh", RunState{Budgets: Budgets{MaxSteps: 10}}, false},
		{"steps", RunState{Step: 10, Budgets: Budgets{MaxSteps: 10}}, true},
		{"item steps", RunState{ItemSteps: 5, Budgets: Budgets{MaxItemSteps: 5}}, true},
		{"pr cap enabled", RunState{PRsCreated: 3, Budgets: Budgets{PRsEnabled: true, MaxPRs: 3}}, true},
		{"pr cap disabled", RunState{PRsCreated: 3, Budgets: Budgets{MaxPRs: 3}}, false},
		{"expired", RunState{ExpiresAt: &past}, true},
		{"unlimited", RunState{Step: 10000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.state.BudgetExhausted(now)
			if got != tt.want {
				t.Errorf("expected exhausted=%v, got %v (%s)", tt.want, got, reason)
			}
			if got && reason == "" {
				t.Error("expected a reason when exhausted")
			}
		})
	}
}

func TestEndMakesStateImmutable(t *testing.T) {
	root := t.TempDir()
	m, err := Create(Options{Root: root, Project: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.End(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Handle(ScoutOutput{ProposalCount: 1}); !errors.Is(err, ErrRunEnded) {
		t.Errorf("expected ErrRunEnded, got %v", err)
	}
	if err := m.AssignTicket("tk", testPolicy(t)); !errors.Is(err, ErrRunEnded) {
		t.Errorf("expected ErrRunEnded, got %v", err)
	}

	// The lock is released: a new session can start.
	m2, err := Create(Options{Root: root, Project: "demo"})
	if err != nil {
		t.Fatalf("expected lock released after end: %v", err)
	}
	_ = m2.End()
}

func TestClassifyQAFailure(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"test timed out after 30s", FailureTimeout},
		{"context deadline exceeded", FailureTimeout},
		{"bash: cargo: command not found", FailureEnvironment},
		{"open /etc/conf: no such file or directory", FailureEnvironment},
		{"Error: Cannot find module 'lodash'", FailureEnvironment},
		{"ModuleNotFoundError: No module named 'requests'", FailureEnvironment},
		{"error[E0308]: mismatched types", FailureCode},
		{"panic: runtime error: index out of range", FailureCode},
		{"--- FAIL: TestThing (0.01s)", FailureCode},
		{"TypeError: undefined is not a function", FailureCode},
		{"Traceback (most recent call last):\n  ...", FailureCode},
		{"undefined: someFunc", FailureCode},
		{"something inexplicable happened", FailureUnknown},
		{"", FailureUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyQAFailure(tt.output); got != tt.want {
			t.Errorf("ClassifyQAFailure(%q) = %s, expected %s", tt.output, got, tt.want)
		}
	}
}

func TestItemMachineFullFlow(t *testing.T) {
	im := NewItemMachine("tk-1", testPolicy(t), 400, true)

	res := im.SubmitPlan(Plan{Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low"})
	if res.NewPhase != PhaseExecute {
		t.Fatalf("expected EXECUTE, got %+v", res)
	}
	res = im.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 5})
	if res.NewPhase != PhaseQA {
		t.Fatalf("expected QA, got %+v", res)
	}

	// cross_verify interposes a second verification pass.
	res = im.ReportQAPassed()
	if res.NewPhase != PhaseCrossQA {
		t.Fatalf("expected CROSS_QA, got %+v", res)
	}
	res = im.ReportQAPassed()
	if res.NewPhase != PhaseNextTicket {
		t.Fatalf("expected settled item, got %+v", res)
	}

	outcome := im.Outcome()
	if outcome == nil || outcome.Status != OutcomeCompleted {
		t.Errorf("expected completed outcome, got %+v", outcome)
	}
}

func TestItemMachineBlocksHighRisk(t *testing.T) {
	im := NewItemMachine("tk-1", testPolicy(t), 400, false)
	res := im.SubmitPlan(Plan{Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "high"})
	if !res.PhaseChanged {
		t.Fatalf("expected settle, got %+v", res)
	}
	if outcome := im.Outcome(); outcome == nil || outcome.Status != OutcomeBlocked {
		t.Errorf("expected blocked outcome, got %+v", im.Outcome())
	}
}

func TestItemMachineRejectsLineBudgetOverrun(t *testing.T) {
	im := NewItemMachine("tk-1", testPolicy(t), 400, false)
	im.SubmitPlan(Plan{Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low"})

	res := im.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 500})
	if !res.Processed || res.PhaseChanged {
		t.Fatalf("expected over-budget result rejected in place, got %+v", res)
	}
	if im.Phase != PhaseExecute {
		t.Errorf("expected item to stay in EXECUTE, got %s", im.Phase)
	}

	// A result within budget still advances.
	res = im.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 300})
	if res.NewPhase != PhaseQA {
		t.Fatalf("expected QA after in-budget result, got %+v", res)
	}

	// The budget accumulates across accepted results: a later overrun on the
	// same item is rejected too.
	im2 := NewItemMachine("tk-2", testPolicy(t), 400, false)
	im2.SubmitPlan(Plan{Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low"})
	im2.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 300})
	im2.Phase = PhaseExecute
	res = im2.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}, ChangedLines: 200})
	if res.PhaseChanged {
		t.Errorf("expected cumulative overrun rejected, got %+v", res)
	}
}

func TestItemMachineQARetryCeiling(t *testing.T) {
	im := NewItemMachine("tk-1", testPolicy(t), 400, false)
	im.SubmitPlan(Plan{Files: []string{"src/a.go"}, EstimatedLines: 10, RiskLevel: "low"})
	im.ReportExecution(TicketResult{Success: true, Files: []string{"src/a.go"}})

	// Code failures retry up to three times before blocking.
	for i := 0; i < 3; i++ {
		res := im.ReportQAFailed("--- FAIL: TestX")
		if res.PhaseChanged {
			t.Fatalf("attempt %d should retry, got %+v", i+1, res)
		}
	}
	res := im.ReportQAFailed("--- FAIL: TestX")
	if !res.PhaseChanged {
		t.Fatalf("expected block after ceiling, got %+v", res)
	}
	if outcome := im.Outcome(); outcome == nil || outcome.Status != OutcomeBlocked {
		t.Errorf("expected blocked outcome, got %+v", im.Outcome())
	}
}

func TestParallelOutcomeAccounting(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnterParallel(); err != nil {
		t.Fatal(err)
	}
	if m.State().Phase != PhaseParallelExecute {
		t.Fatalf("expected PARALLEL_EXECUTE, got %s", m.State().Phase)
	}

	outcomes := []ItemOutcome{
		{TicketID: "a", Status: OutcomeCompleted, PRURL: "https://example.com/pr/1"},
		{TicketID: "b", Status: OutcomeFailed},
		{TicketID: "c", Status: OutcomeBlocked},
	}
	for _, o := range outcomes {
		if err := m.ApplyItemOutcome(o); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.LeaveParallel(); err != nil {
		t.Fatal(err)
	}

	state := m.State()
	if state.TotalCompleted != 1 || state.TotalFailed != 1 || state.TotalBlocked != 1 {
		t.Errorf("expected 1/1/1 outcome counters, got %d/%d/%d",
			state.TotalCompleted, state.TotalFailed, state.TotalBlocked)
	}
	if state.PRsCreated != 1 {
		t.Errorf("expected 1 PR counted, got %d", state.PRsCreated)
	}
	if state.Phase != PhaseNextTicket {
		t.Errorf("expected NEXT_TICKET after batch, got %s", state.Phase)
	}
}
