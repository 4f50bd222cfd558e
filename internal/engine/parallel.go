package engine

import (
	"context"
	"fmt"

	"github.com/seedrift/tiller/internal/run"
	"github.com/seedrift/tiller/internal/ticket"
	"github.com/seedrift/tiller/internal/wave"
)

// runParallelBatch drains the queue through conflict-free waves. Items
// inside a wave run concurrently on their own sub-machines; their settled
// outcomes are folded into the session strictly after the wave finishes, on
// the engine goroutine, so the run manager stays single-writer.
func (e *Engine) runParallelBatch(ctx context.Context, mgr *run.Manager) error {
	batch := make([]ticket.Ticket, 0, len(e.queue))
	for _, id := range e.queue {
		t, err := e.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load ticket %s: %w", id, err)
		}
		batch = append(batch, t)
	}
	e.queue = nil

	items := make([]wave.Item, len(batch))
	byID := make(map[string]ticket.Ticket, len(batch))
	for i, t := range batch {
		items[i] = wave.Item{ID: t.ID, Files: t.Paths, Complexity: t.Complexity}
		byID[t.ID] = t
	}
	waves := wave.Partition(items)

	if err := mgr.EnterParallel(); err != nil {
		return err
	}
	e.logger.Info("parallel batch started", "tickets", len(batch), "waves", len(waves))

	for _, w := range waves {
		slots := e.waveSlots(w, mgr.State().PRsCreated)

		// Pre-sized so concurrent items write disjoint entries.
		outcomes := make(map[string]*run.ItemOutcome, len(w))
		for _, item := range w {
			outcomes[item.ID] = &run.ItemOutcome{}
		}

		for _, item := range w {
			if err := e.store.UpdateStatus(ctx, item.ID, ticket.StatusInProgress); err != nil {
				e.logger.Warn("ticket status update failed", "ticket", item.ID, "error", err)
			}
		}

		results := wave.Run(ctx, w, slots, func(ctx context.Context, item wave.Item) error {
			outcome := e.runItem(ctx, byID[item.ID])
			*outcomes[item.ID] = outcome
			return nil
		})

		for _, res := range results {
			outcome := *outcomes[res.Item.ID]
			if res.Err != nil {
				outcome = run.ItemOutcome{
					TicketID: res.Item.ID,
					Status:   run.OutcomeFailed,
					Message:  res.Err.Error(),
				}
			}
			if err := mgr.ApplyItemOutcome(outcome); err != nil {
				return err
			}
			t := byID[res.Item.ID]
			if err := e.settleTicket(ctx, t, outcomeTicketStatus(outcome.Status), outcome.Status == run.OutcomeCompleted); err != nil {
				return err
			}
		}
	}

	return mgr.LeaveParallel()
}

// waveSlots sizes one wave: the adaptive light/heavy count, clamped down
// when PR publishing is close to its cap, then bounded by the configured
// slot ceiling.
func (e *Engine) waveSlots(w []wave.Item, prsCreated int) int {
	slots := wave.AdaptiveParallelCount(w)
	if e.publishPRs && e.maxPRs > 0 {
		slots = wave.ClampNearBatch(slots, e.maxPRs-prsCreated)
	}
	if e.cfg.Parallel.MaxSlots > 0 && slots > e.cfg.Parallel.MaxSlots {
		slots = e.cfg.Parallel.MaxSlots
	}
	return slots
}

// runItem drives one ticket's sub-machine to a settled outcome. It never
// touches the run manager or any other shared state.
func (e *Engine) runItem(ctx context.Context, t ticket.Ticket) run.ItemOutcome {
	im := run.NewItemMachine(t.ID, e.policyFor(t), e.cfg.Budget.MaxChangedLines, e.crossVerify)

	for i := 0; i < maxItemIterations; i++ {
		if outcome := im.Outcome(); outcome != nil {
			return *outcome
		}
		if ctx.Err() != nil {
			return run.ItemOutcome{TicketID: t.ID, Status: run.OutcomeFailed, Message: ctx.Err().Error()}
		}

		switch im.Phase {
		case run.PhasePlan:
			plan, err := e.worker.Plan(ctx, t)
			if err != nil {
				return run.ItemOutcome{TicketID: t.ID, Status: run.OutcomeFailed, Message: err.Error()}
			}
			im.SubmitPlan(plan)
		case run.PhaseExecute:
			var plan run.Plan
			if im.Plan != nil {
				plan = *im.Plan
			}
			out, err := e.worker.Execute(ctx, t, plan)
			if err != nil {
				return run.ItemOutcome{TicketID: t.ID, Status: run.OutcomeFailed, Message: err.Error()}
			}
			im.ReportExecution(out.Result)
		case run.PhaseQA, run.PhaseCrossQA:
			qa, err := e.worker.Verify(ctx, t)
			if err != nil {
				return run.ItemOutcome{TicketID: t.ID, Status: run.OutcomeFailed, Message: err.Error()}
			}
			if qa.Passed {
				im.ReportQAPassed()
			} else {
				im.ReportQAFailed(qa.Output)
			}
		default:
			return run.ItemOutcome{
				TicketID: t.ID,
				Status:   run.OutcomeFailed,
				Message:  fmt.Sprintf("item machine stuck in phase %s", im.Phase),
			}
		}
	}

	return run.ItemOutcome{
		TicketID: t.ID,
		Status:   run.OutcomeFailed,
		Message:  "item iteration cap reached without settling",
	}
}

// outcomeTicketStatus maps an item outcome onto a ticket status.
func outcomeTicketStatus(outcome string) string {
	switch outcome {
	case run.OutcomeCompleted:
		return ticket.StatusCompleted
	case run.OutcomeBlocked:
		return ticket.StatusBlocked
	default:
		return ticket.StatusFailed
	}
}
