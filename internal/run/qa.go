package run

import "regexp"

// QA failure classes. Each class carries its own retry ceiling; exhausting
// it blocks the work item rather than the whole session.
const (
	FailureEnvironment = "environment"
	FailureTimeout     = "timeout"
	FailureCode        = "code"
	FailureUnknown     = "unknown"
)

// RetryCeilings caps retries per failure class. Environment failures are
// almost never fixed by retrying in the same session; code failures get the
// most attempts because the agent can actually address them.
var RetryCeilings = map[string]int{
	FailureEnvironment: 1,
	FailureTimeout:     2,
	FailureCode:        3,
	FailureUnknown:     3,
}

type qaSignature struct {
	class   string
	pattern *regexp.Regexp
}

// qaSignatures is the ordered classification table for QA failure output.
// First match wins, so timeout patterns come before the broader environment
// and code patterns. The set is a heuristic covering the ecosystems we run
// QA commands in; unknown output falls through to FailureUnknown.
var qaSignatures = []qaSignature{
	{FailureTimeout, regexp.MustCompile(`(?i)\btimed?[ -]?out\b`)},
	{FailureTimeout, regexp.MustCompile(`(?i)deadline exceeded`)},
	{FailureTimeout, regexp.MustCompile(`ETIMEDOUT`)},

	{FailureEnvironment, regexp.MustCompile(`(?i)command not found`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)no such file or directory`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)permission denied`)},
	{FailureEnvironment, regexp.MustCompile(`\b(ENOENT|EACCES|EADDRINUSE)\b`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)cannot find module`)},
	{FailureEnvironment, regexp.MustCompile(`ModuleNotFoundError`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)connection refused`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)could not resolve host`)},
	{FailureEnvironment, regexp.MustCompile(`(?i)out of (disk )?space`)},

	{FailureCode, regexp.MustCompile(`error\[E\d+\]`)},                 // rustc
	{FailureCode, regexp.MustCompile(`panic: `)},                      // go runtime
	{FailureCode, regexp.MustCompile(`(?m)^--- FAIL\b`)},              // go test
	{FailureCode, regexp.MustCompile(`(?m)^FAIL\b`)},                  // go test / jest
	{FailureCode, regexp.MustCompile(`\b(Syntax|Type|Reference)Error\b`)},
	{FailureCode, regexp.MustCompile(`AssertionError`)},
	{FailureCode, regexp.MustCompile(`(?i)assertion failed`)},
	{FailureCode, regexp.MustCompile(`(?i)test(s)? failed`)},
	{FailureCode, regexp.MustCompile(`(?m)^Traceback \(most recent call last\)`)},
	{FailureCode, regexp.MustCompile(`undefined: `)},                  // go compiler
	{FailureCode, regexp.MustCompile(`(?i)compil(e|ation) (error|failed)`)},
	{FailureCode, regexp.MustCompile(`(?i)cannot use .* as .* value`)}, // go type error
	{FailureCode, regexp.MustCompile(`(?i)expected .*, (got|found)`)},
}

// ClassifyQAFailure maps QA failure output to a failure class via the
// ordered signature table.
func ClassifyQAFailure(output string) string {
	for _, sig := range qaSignatures {
		if sig.pattern.MatchString(output) {
			return sig.class
		}
	}
	return FailureUnknown
}
