// Package engine runs the improvement loop: scout a sector for proposals,
// turn them into tickets, then plan, execute, verify, and optionally publish
// each one, with every transition recorded through the run manager. The
// engine owns pacing, the kill switch, budget checks, and the sector
// feedback that steers where the next scout looks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/seedrift/tiller/internal/config"
	"github.com/seedrift/tiller/internal/run"
	"github.com/seedrift/tiller/internal/scope"
	"github.com/seedrift/tiller/internal/sector"
	"github.com/seedrift/tiller/internal/spindle"
	"github.com/seedrift/tiller/internal/ticket"
)

// maxScoutRetries is how many consecutive empty scouting passes the engine
// tolerates before concluding the repository is exhausted.
const maxScoutRetries = 3

// maxItemIterations bounds the per-item loop in parallel mode, where no
// session step budget applies to individual items.
const maxItemIterations = 30

// Options configures New.
type Options struct {
	Config *config.Config
	Store  ticket.Store
	Worker Worker
	Logger *slog.Logger

	// PublishPRs routes completed items through the PR phase.
	PublishPRs bool
	// MaxPRs caps created pull requests when publishing is on.
	MaxPRs int
	// CrossVerify adds an independent second verification pass to parallel
	// items.
	CrossVerify bool
}

// Engine drives one session end to end.
type Engine struct {
	cfg    *config.Config
	store  ticket.Store
	worker Worker
	logger *slog.Logger

	publishPRs  bool
	maxPRs      int
	crossVerify bool

	root    string
	cycle   int
	queue   []string
	sectors sector.State
}

// New wires an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: ticket store is required")
	}
	if opts.Worker == nil {
		return nil, errors.New("engine: worker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root := opts.Config.WorktreeRoot
	if root == "" {
		root = "."
	}
	return &Engine{
		cfg:         opts.Config,
		store:       opts.Store,
		worker:      opts.Worker,
		logger:      logger,
		publishPRs:  opts.PublishPRs,
		maxPRs:      opts.MaxPRs,
		crossVerify: opts.CrossVerify,
		root:        root,
	}, nil
}

// Run executes the session until a terminal phase, budget exhaustion, the
// kill switch, or context cancellation. The run state is persisted on every
// transition, so an interrupted session leaves a consistent trail.
func (e *Engine) Run(ctx context.Context) (run.RunState, error) {
	if stopped, err := e.killSwitchSet(); err != nil {
		return run.RunState{}, err
	} else if stopped {
		return run.RunState{}, fmt.Errorf("kill switch present at %s", e.cfg.Pacing.KillSwitchFile)
	}

	if err := e.loadSectors(); err != nil {
		return run.RunState{}, err
	}

	mgr, err := run.Create(run.Options{
		Root:    e.root,
		Project: e.cfg.Project,
		Budgets: run.Budgets{
			MaxSteps:        e.cfg.Budget.MaxSteps,
			MaxItemSteps:    e.cfg.Budget.MaxItemSteps,
			MaxChangedLines: e.cfg.Budget.MaxChangedLines,
			PRsEnabled:      e.publishPRs,
			MaxPRs:          e.maxPRs,
		},
		Spindle: spindle.Config{
			MaxStallIterations:  e.cfg.Spindle.MaxStallIterations,
			PingPongCycles:      e.cfg.Spindle.PingPongCycles,
			CommandFailureLimit: e.cfg.Spindle.CommandFailureLimit,
		},
		MaxSpindleRecoveries: e.cfg.Spindle.MaxRecoveries,
		TTL:    time.Duration(e.cfg.Budget.RunTTLHours) * time.Hour,
		Logger: e.logger,
	})
	if err != nil {
		return run.RunState{}, err
	}
	defer func() {
		if endErr := mgr.End(); endErr != nil {
			e.logger.Warn("run end failed", "error", endErr)
		}
		if saveErr := sector.SaveState(e.root, e.sectors); saveErr != nil {
			e.logger.Warn("sector state save failed", "error", saveErr)
		}
	}()

	if err := mgr.SetCoverage(run.Coverage(e.sectors.ComputeCoverage())); err != nil {
		return mgr.State(), err
	}

	for {
		if ctx.Err() != nil {
			e.logger.Info("run cancelled", "phase", mgr.State().Phase)
			return mgr.State(), nil
		}
		if stopped, err := e.killSwitchSet(); err != nil {
			return mgr.State(), err
		} else if stopped {
			e.logger.Info("kill switch set, stopping", "path", e.cfg.Pacing.KillSwitchFile)
			return mgr.State(), nil
		}

		state := mgr.State()
		if exhausted, reason := e.budgetExhausted(state); exhausted {
			e.logger.Info("budget exhausted", "reason", reason)
			if err := mgr.Finish(); err != nil {
				return mgr.State(), err
			}
			return mgr.State(), nil
		}

		switch state.Phase {
		case run.PhaseScout:
			err = e.stepScout(ctx, mgr)
		case run.PhasePlan:
			err = e.stepPlan(ctx, mgr)
		case run.PhaseExecute:
			err = e.stepExecute(ctx, mgr)
		case run.PhaseQA, run.PhaseCrossQA:
			err = e.stepQA(ctx, mgr)
		case run.PhasePR:
			err = e.stepPR(ctx, mgr)
		case run.PhaseNextTicket:
			err = e.stepNextTicket(ctx, mgr)
		case run.PhaseBlocked:
			e.logger.Warn("run blocked, needs human review", "run_id", state.RunID)
			return mgr.State(), nil
		default:
			if state.Phase.Terminal() {
				e.logger.Info("run reached terminal phase", "phase", state.Phase)
				return mgr.State(), nil
			}
			return mgr.State(), fmt.Errorf("engine cannot drive phase %s", state.Phase)
		}
		if err != nil {
			return mgr.State(), err
		}

		if !e.pause(ctx) {
			return mgr.State(), nil
		}
	}
}

// stepScout picks the next sector, runs one scouting pass, stores the
// proposals as tickets, and feeds the scan outcome back into the scheduler.
func (e *Engine) stepScout(ctx context.Context, mgr *run.Manager) error {
	now := time.Now().UTC()
	e.cycle++
	sec := sector.PickNext(&e.sectors, e.cycle, now)

	req := ScoutRequest{ScopeHint: e.sectors.SuggestScopeAdjustment()}
	if sec != nil {
		req.SectorPath = sec.Path
		req.Affinity = e.sectors.SectorCategoryAffinity(sec.Path)
	}

	res, err := e.worker.Scout(ctx, req)
	if err != nil {
		return fmt.Errorf("scout: %w", err)
	}
	if err := mgr.RecordToolCalls(1); err != nil {
		return err
	}

	if _, err := mgr.Handle(run.ScoutOutput{
		ProposalCount: len(res.Proposals),
		ExploredDirs:  res.ExploredDirs,
	}); err != nil {
		return err
	}

	if sec != nil {
		e.sectors.RecordScanResult(sec.Path, e.cycle, len(res.Proposals), res.Reclassification, now)
		if err := mgr.SetCoverage(run.Coverage(e.sectors.ComputeCoverage())); err != nil {
			return err
		}
		if err := sector.SaveState(e.root, e.sectors); err != nil {
			e.logger.Warn("sector state save failed", "error", err)
		}
	}

	for _, proposal := range res.Proposals {
		t := proposal
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Project == "" {
			t.Project = e.cfg.Project
		}
		if t.SectorPath == "" && sec != nil {
			t.SectorPath = sec.Path
		}
		if err := e.store.Create(ctx, &t); err != nil {
			return fmt.Errorf("store proposal %s: %w", t.ID, err)
		}
		e.queue = append(e.queue, t.ID)
	}

	if len(e.queue) > 0 {
		return e.dispatch(ctx, mgr)
	}
	if mgr.State().ScoutRetries >= maxScoutRetries {
		e.logger.Info("repository exhausted", "empty_scans", mgr.State().ScoutRetries)
		return mgr.Finish()
	}
	return nil
}

// dispatch hands queued tickets to the phase machine: a parallel batch when
// enabled and more than one ticket waits, the single next ticket otherwise.
func (e *Engine) dispatch(ctx context.Context, mgr *run.Manager) error {
	if e.cfg.Parallel.Enabled && len(e.queue) > 1 {
		return e.runParallelBatch(ctx, mgr)
	}
	return e.assignNext(ctx, mgr)
}

func (e *Engine) assignNext(ctx context.Context, mgr *run.Manager) error {
	id := e.queue[0]
	e.queue = e.queue[1:]

	t, err := e.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load ticket %s: %w", id, err)
	}
	if err := mgr.AssignTicket(t.ID, e.policyFor(t)); err != nil {
		return err
	}
	if err := e.store.UpdateStatus(ctx, t.ID, ticket.StatusInProgress); err != nil {
		e.logger.Warn("ticket status update failed", "ticket", t.ID, "error", err)
	}
	e.logger.Info("ticket assigned", "ticket", t.ID, "title", t.Title)
	return nil
}

func (e *Engine) stepPlan(ctx context.Context, mgr *run.Manager) error {
	t, err := e.currentTicket(ctx, mgr)
	if err != nil {
		return err
	}
	plan, err := e.worker.Plan(ctx, t)
	if err != nil {
		return fmt.Errorf("plan %s: %w", t.ID, err)
	}
	if err := mgr.RecordToolCalls(1); err != nil {
		return err
	}
	res, err := mgr.Handle(run.PlanSubmitted{Plan: plan})
	if err != nil {
		return err
	}
	if res.NewPhase == run.PhaseBlocked {
		return e.settleTicket(ctx, t, ticket.StatusBlocked, false)
	}
	return nil
}

func (e *Engine) stepExecute(ctx context.Context, mgr *run.Manager) error {
	t, err := e.currentTicket(ctx, mgr)
	if err != nil {
		return err
	}
	plan := run.Plan{}
	if p := mgr.State().CurrentPlan; p != nil {
		plan = *p
	}

	out, err := e.worker.Execute(ctx, t, plan)
	if err != nil {
		return fmt.Errorf("execute %s: %w", t.ID, err)
	}
	if err := mgr.RecordToolCalls(1); err != nil {
		return err
	}
	if err := mgr.ObserveIteration(out.Output, ""); err != nil {
		return err
	}

	res, err := mgr.Handle(out.Result)
	if err != nil {
		return err
	}
	if res.NewPhase == run.PhaseNextTicket {
		return e.settleTicket(ctx, t, ticket.StatusFailed, false)
	}
	return e.checkSpindle(ctx, mgr, t)
}

func (e *Engine) stepQA(ctx context.Context, mgr *run.Manager) error {
	t, err := e.currentTicket(ctx, mgr)
	if err != nil {
		return err
	}
	qa, err := e.worker.Verify(ctx, t)
	if err != nil {
		return fmt.Errorf("verify %s: %w", t.ID, err)
	}
	if err := mgr.RecordToolCalls(1); err != nil {
		return err
	}

	for _, cmd := range qa.Commands {
		if _, err := mgr.Handle(cmd); err != nil {
			return err
		}
	}

	if qa.Passed {
		res, err := mgr.Handle(run.QAPassed{})
		if err != nil {
			return err
		}
		if res.NewPhase == run.PhaseNextTicket {
			return e.settleTicket(ctx, t, ticket.StatusCompleted, true)
		}
		return nil
	}

	res, err := mgr.Handle(run.QAFailed{Output: qa.Output})
	if err != nil {
		return err
	}
	if res.NewPhase == run.PhaseNextTicket {
		return e.settleTicket(ctx, t, ticket.StatusBlocked, false)
	}
	return e.checkSpindle(ctx, mgr, t)
}

func (e *Engine) stepPR(ctx context.Context, mgr *run.Manager) error {
	t, err := e.currentTicket(ctx, mgr)
	if err != nil {
		return err
	}
	url, err := e.worker.Publish(ctx, t)
	if err != nil {
		return fmt.Errorf("publish %s: %w", t.ID, err)
	}
	if _, err := mgr.Handle(run.PRCreated{URL: url}); err != nil {
		return err
	}
	if t.SectorPath != "" {
		e.sectors.RecordMerged(t.SectorPath)
	}
	return e.settleTicket(ctx, t, ticket.StatusCompleted, true)
}

func (e *Engine) stepNextTicket(ctx context.Context, mgr *run.Manager) error {
	if len(e.queue) > 0 {
		return e.dispatch(ctx, mgr)
	}
	return mgr.ReturnToScout()
}

// checkSpindle evaluates the detector after execution activity; when it
// fires, the current ticket is written off before the manager moves on.
func (e *Engine) checkSpindle(ctx context.Context, mgr *run.Manager, t ticket.Ticket) error {
	res, err := mgr.EvaluateSpindle()
	if err != nil {
		return err
	}
	if !res.PhaseChanged {
		return nil
	}
	e.logger.Warn("spindle fired", "ticket", t.ID, "verdict", res.Message)
	return e.settleTicket(ctx, t, ticket.StatusFailed, false)
}

// settleTicket records a finished item in the ticket store and the sector
// scheduler.
func (e *Engine) settleTicket(ctx context.Context, t ticket.Ticket, status string, success bool) error {
	if err := e.store.UpdateStatus(ctx, t.ID, status); err != nil {
		e.logger.Warn("ticket status update failed", "ticket", t.ID, "error", err)
	}
	if t.SectorPath != "" {
		e.sectors.RecordTicketOutcome(t.SectorPath, success, t.Category)
		if err := sector.SaveState(e.root, e.sectors); err != nil {
			e.logger.Warn("sector state save failed", "error", err)
		}
	}
	e.logger.Info("ticket settled", "ticket", t.ID, "status", status)
	return nil
}

func (e *Engine) currentTicket(ctx context.Context, mgr *run.Manager) (ticket.Ticket, error) {
	id := mgr.State().CurrentTicketID
	if id == "" {
		return ticket.Ticket{}, run.ErrNoActiveTicket
	}
	t, err := e.store.GetByID(ctx, id)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return t, nil
}

// policyFor derives the scope policy for one ticket from its declared paths
// and category.
func (e *Engine) policyFor(t ticket.Ticket) scope.Policy {
	return scope.Derive(t.Paths, t.Category, e.cfg.Budget.MaxChangedLines, nil, "")
}

// budgetExhausted layers the tool-call ceiling on the manager's own checks.
func (e *Engine) budgetExhausted(state run.RunState) (bool, string) {
	if exhausted, reason := state.BudgetExhausted(time.Now().UTC()); exhausted {
		return true, reason
	}
	if e.cfg.Budget.MaxToolCalls > 0 && state.ToolCalls >= e.cfg.Budget.MaxToolCalls {
		return true, "tool call budget exhausted"
	}
	return false, ""
}

// loadSectors rebuilds the sector list from a fresh structural scan merged
// with the previous session's history.
func (e *Engine) loadSectors() error {
	modules, err := sector.Scan(e.root)
	if err != nil {
		return fmt.Errorf("scan repository: %w", err)
	}
	fresh := sector.BuildSectors(modules, time.Now().UTC())

	previous, err := sector.LoadState(e.root)
	if err != nil {
		e.logger.Warn("previous sector state unreadable, starting fresh", "error", err)
		previous = sector.State{}
	}
	e.sectors = sector.Merge(fresh, previous)
	return nil
}

// killSwitchSet reports whether the configured kill-switch file exists.
func (e *Engine) killSwitchSet() (bool, error) {
	path := e.cfg.Pacing.KillSwitchFile
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("check kill switch %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("kill switch path is a directory: %s", path)
	}
	return true, nil
}

// pause waits out the configured cycle delay, returning false when the
// context is cancelled during the wait.
func (e *Engine) pause(ctx context.Context) bool {
	delay := e.cfg.CycleDelay()
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
