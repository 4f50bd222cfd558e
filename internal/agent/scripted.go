package agent

import (
	"context"
	"sync"
)

// ScriptedInvoker replays a fixed sequence of results, recording the
// requests it saw. Used by engine and lifecycle tests; once the script is
// exhausted it keeps returning the final result.
type ScriptedInvoker struct {
	mu       sync.Mutex
	script   []Result
	position int

	// Requests holds every request received, in order.
	Requests []Request
}

// NewScriptedInvoker builds an invoker that replays results in order.
func NewScriptedInvoker(script ...Result) *ScriptedInvoker {
	return &ScriptedInvoker{script: script}
}

// Invoke returns the next scripted result.
func (s *ScriptedInvoker) Invoke(_ context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if len(s.script) == 0 {
		return Result{Success: true}, nil
	}
	result := s.script[s.position]
	if s.position < len(s.script)-1 {
		s.position++
	}
	return result, nil
}
