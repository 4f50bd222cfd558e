package scope

import (
	"errors"
	"testing"
)

func TestGlobSemantics(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/**", "src/a/b/c.go", true},
		{"src/**", "srcx/a.go", false},
		{"**/node_modules/**", "web/node_modules/left-pad/index.js", true},
		{"**/*.go", "a/b/c.go", true},
		{"**/*.go", "c.go", true},
		{"*.go", "c.go", true},
		{"*.go", "a/c.go", false},
		{"src/*/handler.go", "src/api/handler.go", true},
		{"src/*/handler.go", "src/api/v2/handler.go", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
		{"file?.txt", "file/.txt", false},
		{"a.b", "axb", false}, // dot is literal
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, expected %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestDeriveCategoryPresets(t *testing.T) {
	docs := Derive([]string{"docs"}, CategoryDocs, 400, nil, "")
	if docs.PlanRequired {
		t.Error("expected docs category to skip the plan gate")
	}
	if docs.MaxLines != docsMaxLines {
		t.Errorf("expected docs line cap %d, got %d", docsMaxLines, docs.MaxLines)
	}

	test := Derive([]string{"pkg"}, CategoryTest, 400, nil, "")
	if !test.PlanRequired {
		t.Error("expected test category to require a plan")
	}
	if test.MaxLines != testMaxLines {
		t.Errorf("expected test line cap %d, got %d", testMaxLines, test.MaxLines)
	}

	def := Derive([]string{"pkg"}, "refactor", 300, nil, "")
	if !def.PlanRequired || def.MaxLines != 300 || def.MaxFiles != DefaultMaxFiles {
		t.Errorf("unexpected default policy: %+v", def)
	}
}

func TestDeriveAdaptiveRiskOverridesPresets(t *testing.T) {
	learnings := []Learning{
		{Paths: []string{"docs/api.md"}, Severity: "high"},
		{Paths: []string{"docs/intro.md"}, Severity: "high"},
		{Paths: []string{"docs"}, Severity: "medium"},
	}
	p := Derive([]string{"docs"}, CategoryDocs, 400, learnings, "")
	if !p.PlanRequired {
		t.Error("expected high-risk history to demand a plan even for docs")
	}
	if p.RiskTier != RiskTierHigh && p.RiskTier != RiskTierElevated {
		t.Errorf("expected elevated or high tier, got %q", p.RiskTier)
	}
	if p.MaxFiles >= DefaultMaxFiles {
		t.Errorf("expected tightened file cap, got %d", p.MaxFiles)
	}
}

func TestValidatePlanOrderedChecks(t *testing.T) {
	p := Derive([]string{"src"}, "fix", 400, nil, "")

	tests := []struct {
		name  string
		files []string
		lines int
		risk  string
		want  error
	}{
		{"no files", nil, 10, "low", ErrNoFiles},
		{"too many files", manyFiles(11), 10, "low", ErrTooManyFiles},
		{"too many lines", []string{"src/a.go"}, 401, "low", ErrTooManyLines},
		{"bad risk", []string{"src/a.go"}, 10, "extreme", ErrInvalidRiskLevel},
		{"denied", []string{"src/node_modules/x.js"}, 10, "low", ErrDeniedPath},
		{"sensitive env", []string{"src/.env"}, 10, "low", ErrSensitivePath},
		{"sensitive pem", []string{"src/server.pem"}, 10, "low", ErrSensitivePath},
		{"sensitive creds", []string{"src/aws-credentials.json"}, 10, "low", ErrSensitivePath},
		{"outside scope", []string{"lib/a.go"}, 10, "low", ErrOutsideScope},
		{"ok", []string{"src/a.go"}, 10, "low", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.files, tt.lines, tt.risk, p)
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected valid plan, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidatePlanEmptyAllowListAllowsAnythingNotDenied(t *testing.T) {
	p := Derive(nil, "fix", 400, nil, "")
	if err := ValidatePlan([]string{"anything/goes.go"}, 5, "low", p); err != nil {
		t.Errorf("expected empty allow-list to permit undenied path, got %v", err)
	}
	if err := ValidatePlan([]string{"node_modules/x.js"}, 5, "low", p); !errors.Is(err, ErrDeniedPath) {
		t.Errorf("expected denial to still apply, got %v", err)
	}
}

func TestValidatePlanWorktreeRoot(t *testing.T) {
	p := Derive(nil, "fix", 400, nil, "/work/tree")
	if err := ValidatePlan([]string{"../outside.go"}, 5, "low", p); !errors.Is(err, ErrOutsideWorktree) {
		t.Errorf("expected worktree escape rejection, got %v", err)
	}
	if err := ValidatePlan([]string{"inside/ok.go"}, 5, "low", p); err != nil {
		t.Errorf("expected relative path inside root to pass, got %v", err)
	}
}

func TestIsFileAllowed(t *testing.T) {
	p := Derive([]string{"src"}, "fix", 400, nil, "")

	tests := []struct {
		path string
		want bool
	}{
		{"src/a.go", true},
		{"src/deep/nested/b.go", true},
		{"lib/a.go", false},
		{"src/.env", false},
		{"src/id_rsa.key", false},
		{"node_modules/p/index.js", false},
	}
	for _, tt := range tests {
		if got := IsFileAllowed(tt.path, p); got != tt.want {
			t.Errorf("IsFileAllowed(%q) = %v, expected %v", tt.path, got, tt.want)
		}
	}
}

func manyFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = "src/file" + string(rune('a'+i)) + ".go"
	}
	return files
}
