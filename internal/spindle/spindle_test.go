package spindle

import (
	"fmt"
	"testing"
)

func TestRecordDiffStallCounter(t *testing.T) {
	s := NewState()

	s.RecordDiff("")
	s.RecordDiff("")
	if s.IterationsSinceChange != 2 {
		t.Errorf("expected iterations_since_change 2, got %d", s.IterationsSinceChange)
	}

	s.RecordDiff("--- a/pkg/x.go\n+++ b/pkg/x.go\n@@ -1 +1 @@\n-old\n+new\n")
	if s.IterationsSinceChange != 0 {
		t.Errorf("expected reset to 0 after non-empty diff, got %d", s.IterationsSinceChange)
	}
	if got := s.FileEditCounts["pkg/x.go"]; got != 1 {
		t.Errorf("expected edit count 1 for pkg/x.go, got %d", got)
	}
	if len(s.DiffHashes) != 1 {
		t.Errorf("expected 1 diff hash, got %d", len(s.DiffHashes))
	}
}

func TestRecordDiffWhitespaceOnlyCountsAsStall(t *testing.T) {
	s := NewState()
	s.RecordDiff("   \n\t")
	if s.IterationsSinceChange != 1 {
		t.Errorf("expected whitespace diff to count as stall, got %d", s.IterationsSinceChange)
	}
}

func TestRecordOutputCapsWindow(t *testing.T) {
	s := NewState()
	for i := 0; i < 15; i++ {
		s.RecordOutput(fmt.Sprintf("output-%d", i))
	}
	if len(s.OutputHashes) != 10 {
		t.Errorf("expected output window capped at 10, got %d", len(s.OutputHashes))
	}
	// Oldest entries dropped: the first remaining hash is output-5's.
	if s.OutputHashes[0] != HashOutput("output-5") {
		t.Errorf("expected oldest surviving hash to be output-5's")
	}
}

func TestCheckStalling(t *testing.T) {
	s := NewState()
	s.IterationsSinceChange = DefaultMaxStallIterations

	v := Check(s, DefaultConfig())
	if !v.ShouldAbort {
		t.Fatalf("expected abort for stalled state, got %+v", v)
	}
	if v.Reason != ReasonStalling {
		t.Errorf("expected reason %q, got %q", ReasonStalling, v.Reason)
	}
	if v.Confidence <= 0.8 {
		t.Errorf("expected confidence > 0.8, got %v", v.Confidence)
	}
}

func TestCheckOscillation(t *testing.T) {
	a, b, c := HashDiff("a"), HashDiff("b"), HashDiff("c")

	tests := []struct {
		name   string
		hashes []string
		abort  bool
	}{
		{"aba", []string{a, b, a}, true},
		{"alternating history", []string{b, a, b, a, b, a}, true},
		{"broken alternation in window", []string{c, c, a, b, a}, false},
		{"third value in window", []string{c, a, b, a}, false},
		{"distinct", []string{a, b, c}, false},
		{"identical", []string{a, a, a}, false},
		{"too short", []string{a, b}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			s.DiffHashes = tt.hashes
			v := Check(s, DefaultConfig())
			if v.ShouldAbort != tt.abort {
				t.Errorf("expected abort=%v, got %+v", tt.abort, v)
			}
			if tt.abort && v.Reason != ReasonOscillation {
				t.Errorf("expected reason %q, got %q", ReasonOscillation, v.Reason)
			}
		})
	}
}

func TestCheckRepetition(t *testing.T) {
	s := NewState()
	for i := 0; i < 3; i++ {
		s.RecordOutput("same output")
	}
	v := Check(s, DefaultConfig())
	if !v.ShouldAbort || v.Reason != ReasonRepetition {
		t.Errorf("expected repetition abort, got %+v", v)
	}
}

func TestCheckQAPingPong(t *testing.T) {
	s := NewState()
	for i := 0; i < DefaultPingPongCycles; i++ {
		s.RecordCommandFailure("test FAIL: TestA")
		s.RecordCommandFailure("test FAIL: TestB")
	}
	v := Check(s, DefaultConfig())
	if !v.ShouldAbort || v.Reason != ReasonQAPingPong {
		t.Errorf("expected qa_ping_pong abort, got %+v", v)
	}
}

func TestCheckPingPongRequiresAlternation(t *testing.T) {
	s := NewState()
	// Same signature repeated is command_failure (block), never ping-pong.
	for i := 0; i < 6; i++ {
		s.RecordCommandFailure("test FAIL: TestA")
	}
	v := Check(s, DefaultConfig())
	if v.ShouldAbort {
		t.Errorf("expected no abort for a single repeated signature, got %+v", v)
	}
	if !v.ShouldBlock || v.Reason != ReasonCommandFailure {
		t.Errorf("expected command_failure block, got %+v", v)
	}
}

func TestCheckCommandFailureBlocks(t *testing.T) {
	s := NewState()
	s.RecordCommandFailure("build error: cycle")
	s.RecordCommandFailure("unrelated")
	s.RecordCommandFailure("build error: cycle")
	s.RecordCommandFailure("build error: cycle")
	v := Check(s, DefaultConfig())
	if !v.ShouldBlock {
		t.Fatalf("expected block after 3 identical failures, got %+v", v)
	}
	if v.ShouldAbort {
		t.Errorf("command failure must block, not abort: %+v", v)
	}
}

func TestRiskGrading(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		iterations int
		outputs    []string
		want       Risk
	}{
		{"clean", 0, nil, RiskNone},
		{"stall at 40%", 2, nil, RiskLow},
		{"stall at 40% with repeated output", 2, []string{"x", "x"}, RiskMedium},
		{"stall at 80% with repeated output", 4, []string{"x", "x"}, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			s.IterationsSinceChange = tt.iterations
			for _, out := range tt.outputs {
				s.RecordOutput(out)
			}
			v := Check(s, cfg)
			if v.ShouldAbort || v.ShouldBlock {
				t.Fatalf("expected no verdict, got %+v", v)
			}
			if v.Risk != tt.want {
				t.Errorf("expected risk %q, got %q", tt.want, v.Risk)
			}
		})
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewState()
	s.RecordOutput("out")
	s.RecordDiff("+++ b/a.go\n+x\n")
	s.RecordCommandFailure("boom")
	s.RecordDiff("")

	s.Reset()
	if len(s.OutputHashes) != 0 || len(s.DiffHashes) != 0 || len(s.CommandSignatures) != 0 {
		t.Errorf("expected empty windows after reset: %+v", s)
	}
	if s.IterationsSinceChange != 0 {
		t.Errorf("expected zero stall counter after reset, got %d", s.IterationsSinceChange)
	}
}

func TestHashDomainsDiffer(t *testing.T) {
	if HashOutput("same") == HashDiff("same") {
		t.Error("expected output and diff hashes of identical content to differ")
	}
	if HashPlan("same") == HashCommandFailure("same") {
		t.Error("expected plan and command hashes of identical content to differ")
	}
}
