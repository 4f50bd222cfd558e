package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seedrift/tiller/internal/agent"
	"github.com/seedrift/tiller/internal/run"
	"github.com/seedrift/tiller/internal/sector"
	"github.com/seedrift/tiller/internal/ticket"
)

// ScoutRequest tells the worker where to look for improvement candidates.
type ScoutRequest struct {
	// SectorPath focuses the scout on one repository region; empty means
	// the whole repository.
	SectorPath string `json:"sector_path,omitempty"`

	// Affinity carries which work categories historically succeed or fail
	// in the target sector.
	Affinity sector.CategoryAffinity `json:"affinity"`

	// ScopeHint is the current widen/narrow/stable recommendation.
	ScopeHint string `json:"scope_hint,omitempty"`
}

// ScoutResult is what one scouting pass produced.
type ScoutResult struct {
	Proposals        []ticket.Ticket          `json:"proposals,omitempty"`
	ExploredDirs     []string                 `json:"explored_dirs,omitempty"`
	Reclassification *sector.Reclassification `json:"reclassification,omitempty"`
}

// ExecuteResult pairs the structured outcome with the raw agent output the
// spindle detector hashes.
type ExecuteResult struct {
	Result run.TicketResult `json:"result"`
	Output string           `json:"output,omitempty"`
}

// QAResult is the verification verdict plus the per-command trail.
type QAResult struct {
	Passed   bool                  `json:"passed"`
	Output   string                `json:"output,omitempty"`
	Commands []run.QACommandResult `json:"commands,omitempty"`
}

// Worker performs the phase work the engine orchestrates: scouting
// proposals, planning a work item, executing it, verifying the result, and
// publishing it. Implementations drive a coding agent and translate its
// output into these shapes; tests script the shapes directly. A Worker must
// be safe for concurrent use when parallel execution is enabled.
type Worker interface {
	Scout(ctx context.Context, req ScoutRequest) (ScoutResult, error)
	Plan(ctx context.Context, t ticket.Ticket) (run.Plan, error)
	Execute(ctx context.Context, t ticket.Ticket, plan run.Plan) (ExecuteResult, error)
	Verify(ctx context.Context, t ticket.Ticket) (QAResult, error)
	Publish(ctx context.Context, t ticket.Ticket) (string, error)
}

// AgentWorker drives an external coding agent over a line-oriented JSON
// protocol: the request envelope goes to the agent's stdin, and the last
// non-empty line of its stdout must be the JSON response for the phase.
type AgentWorker struct {
	Invoker agent.Invoker
	WorkDir string
	Timeout time.Duration
}

// envelope is the request document sent for every phase.
type envelope struct {
	Phase  string `json:"phase"`
	Ticket any    `json:"ticket,omitempty"`
	Plan   any    `json:"plan,omitempty"`
	Scout  any    `json:"scout,omitempty"`
}

func (w *AgentWorker) Scout(ctx context.Context, req ScoutRequest) (ScoutResult, error) {
	var res ScoutResult
	_, err := w.roundTrip(ctx, envelope{Phase: "scout", Scout: req}, &res)
	return res, err
}

func (w *AgentWorker) Plan(ctx context.Context, t ticket.Ticket) (run.Plan, error) {
	var plan run.Plan
	_, err := w.roundTrip(ctx, envelope{Phase: "plan", Ticket: t}, &plan)
	return plan, err
}

func (w *AgentWorker) Execute(ctx context.Context, t ticket.Ticket, plan run.Plan) (ExecuteResult, error) {
	var result run.TicketResult
	raw, err := w.roundTrip(ctx, envelope{Phase: "execute", Ticket: t, Plan: plan}, &result)
	if err != nil {
		return ExecuteResult{}, err
	}
	return ExecuteResult{Result: result, Output: raw}, nil
}

func (w *AgentWorker) Verify(ctx context.Context, t ticket.Ticket) (QAResult, error) {
	var res QAResult
	_, err := w.roundTrip(ctx, envelope{Phase: "verify", Ticket: t}, &res)
	return res, err
}

func (w *AgentWorker) Publish(ctx context.Context, t ticket.Ticket) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	if _, err := w.roundTrip(ctx, envelope{Phase: "publish", Ticket: t}, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", fmt.Errorf("publish response carried no url")
	}
	return res.URL, nil
}

// roundTrip invokes the agent once and decodes the trailing JSON line of its
// stdout into out. The full stdout is returned for output hashing.
func (w *AgentWorker) roundTrip(ctx context.Context, req envelope, out any) (string, error) {
	prompt, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", req.Phase, err)
	}

	result, err := w.Invoker.Invoke(ctx, agent.Request{
		Prompt:  string(prompt),
		WorkDir: w.WorkDir,
		Timeout: w.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("%s invocation: %w", req.Phase, err)
	}
	if result.TimedOut {
		return result.Stdout, fmt.Errorf("%s invocation timed out", req.Phase)
	}
	if !result.Success {
		return result.Stdout, fmt.Errorf("%s invocation exited %d: %s",
			req.Phase, result.ExitCode, firstLine(result.Stderr))
	}

	line := lastJSONLine(result.Stdout)
	if line == "" {
		return result.Stdout, fmt.Errorf("%s response carried no JSON line", req.Phase)
	}
	if err := json.Unmarshal([]byte(line), out); err != nil {
		return result.Stdout, fmt.Errorf("decode %s response: %w", req.Phase, err)
	}
	return result.Stdout, nil
}

// lastJSONLine returns the last non-empty line that looks like a JSON
// document. Agents routinely narrate before their final answer.
func lastJSONLine(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			return line
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
