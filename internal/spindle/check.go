package spindle

// Risk grades how close the tracked windows are to a threshold.
type Risk string

const (
	RiskNone   Risk = "none"
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// riskRank orders risks for severity comparison.
var riskRank = map[Risk]int{RiskNone: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3}

func maxRisk(a, b Risk) Risk {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// Reasons reported by Check.
const (
	ReasonStalling       = "stalling"
	ReasonOscillation    = "oscillation"
	ReasonRepetition     = "repetition"
	ReasonQAPingPong     = "qa_ping_pong"
	ReasonCommandFailure = "command_failure"
)

// Verdict is the detector's decision for the current work item. ShouldAbort
// means the item is unrecoverable by more iterations; ShouldBlock means the
// current approach is failing but a different one might work.
type Verdict struct {
	ShouldAbort bool    `json:"should_abort"`
	ShouldBlock bool    `json:"should_block"`
	Reason      string  `json:"reason,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Risk        Risk    `json:"risk"`
}

// Check evaluates every rule independently against the state and combines
// them into the most severe result. It has no side effects.
func Check(s State, cfg Config) Verdict {
	if cfg.MaxStallIterations <= 0 {
		cfg.MaxStallIterations = DefaultMaxStallIterations
	}
	if cfg.PingPongCycles <= 0 {
		cfg.PingPongCycles = DefaultPingPongCycles
	}
	if cfg.CommandFailureLimit <= 0 {
		cfg.CommandFailureLimit = DefaultCommandFailureLimit
	}

	verdict := Verdict{Risk: RiskNone}

	if s.IterationsSinceChange >= cfg.MaxStallIterations {
		verdict = worse(verdict, Verdict{
			ShouldAbort: true,
			Reason:      ReasonStalling,
			Confidence:  0.9,
			Risk:        RiskHigh,
		})
	}
	if isOscillating(s.DiffHashes) {
		verdict = worse(verdict, Verdict{
			ShouldAbort: true,
			Reason:      ReasonOscillation,
			Confidence:  0.85,
			Risk:        RiskHigh,
		})
	}
	if isRepeating(s.OutputHashes) {
		verdict = worse(verdict, Verdict{
			ShouldAbort: true,
			Reason:      ReasonRepetition,
			Confidence:  0.85,
			Risk:        RiskHigh,
		})
	}
	if isPingPong(s.CommandSignatures, cfg.PingPongCycles) {
		verdict = worse(verdict, Verdict{
			ShouldAbort: true,
			Reason:      ReasonQAPingPong,
			Confidence:  0.8,
			Risk:        RiskHigh,
		})
	}
	if repeatedSignatureCount(s.CommandSignatures) >= cfg.CommandFailureLimit {
		verdict = worse(verdict, Verdict{
			ShouldBlock: true,
			Reason:      ReasonCommandFailure,
			Confidence:  0.75,
			Risk:        RiskHigh,
		})
	}

	if !verdict.ShouldAbort && !verdict.ShouldBlock {
		verdict.Risk = gradeRisk(s, cfg)
	}
	return verdict
}

// worse keeps the more severe of two verdicts: abort beats block beats
// neither; ties keep the earlier (higher-confidence rules run first).
func worse(current, candidate Verdict) Verdict {
	currentSeverity := severity(current)
	candidateSeverity := severity(candidate)
	if candidateSeverity > currentSeverity {
		candidate.Risk = maxRisk(current.Risk, candidate.Risk)
		return candidate
	}
	current.Risk = maxRisk(current.Risk, candidate.Risk)
	return current
}

func severity(v Verdict) int {
	switch {
	case v.ShouldAbort:
		return 2
	case v.ShouldBlock:
		return 1
	default:
		return 0
	}
}

// gradeRisk estimates risk when no rule has fired yet. A stall counter at
// 40-99% of the threshold alone is low; combined with repeated output it is
// medium, or high above 80% of the threshold. A failing-command signature one
// repeat short of the block limit raises the floor to medium.
func gradeRisk(s State, cfg Config) Risk {
	ratio := float64(s.IterationsSinceChange) / float64(cfg.MaxStallIterations)
	repeated := hasRepeatedOutput(s.OutputHashes)

	risk := RiskNone
	switch {
	case ratio >= 0.8 && repeated:
		risk = RiskHigh
	case ratio >= 0.4 && repeated:
		risk = RiskMedium
	case ratio >= 0.4:
		risk = RiskLow
	}
	if repeatedSignatureCount(s.CommandSignatures) == cfg.CommandFailureLimit-1 {
		risk = maxRisk(risk, RiskMedium)
	}
	return risk
}

// isOscillating reports an A,B,A pattern in the trailing diff hashes: the
// last three entries alternate between two distinct values, and the strict
// alternation holds across the full inspected window (up to ten). A history
// that broke the alternation at any point inside the window is not an
// oscillation, just churn.
func isOscillating(diffHashes []string) bool {
	if len(diffHashes) < 3 {
		return false
	}
	window := diffHashes
	if len(window) > oscillationWindow {
		window = window[len(window)-oscillationWindow:]
	}
	n := len(window)
	if window[n-1] == window[n-2] || window[n-3] != window[n-1] {
		return false
	}
	for i := n - 3; i >= 0; i-- {
		if window[i] != window[i+2] {
			return false
		}
	}
	return true
}

// hasRepeatedOutput reports two identical trailing output hashes, the
// earliest signal that the agent may be re-emitting the same response.
func hasRepeatedOutput(outputHashes []string) bool {
	n := len(outputHashes)
	return n >= 2 && outputHashes[n-1] == outputHashes[n-2]
}

// isRepeating reports three identical trailing output hashes.
func isRepeating(outputHashes []string) bool {
	n := len(outputHashes)
	if n < 3 {
		return false
	}
	return outputHashes[n-1] == outputHashes[n-2] && outputHashes[n-2] == outputHashes[n-3]
}

// isPingPong reports that the last 2*cycles signatures strictly alternate
// between exactly two distinct values.
func isPingPong(signatures []string, cycles int) bool {
	need := 2 * cycles
	if len(signatures) < need {
		return false
	}
	window := signatures[len(signatures)-need:]
	a, b := window[0], window[1]
	if a == b {
		return false
	}
	for i, sig := range window {
		want := a
		if i%2 == 1 {
			want = b
		}
		if sig != want {
			return false
		}
	}
	return true
}

// repeatedSignatureCount returns the highest occurrence count of any single
// signature in the tracked window.
func repeatedSignatureCount(signatures []string) int {
	counts := map[string]int{}
	most := 0
	for _, sig := range signatures {
		counts[sig]++
		if counts[sig] > most {
			most = counts[sig]
		}
	}
	return most
}
