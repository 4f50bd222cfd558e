// Package config provides configuration management for Tiller.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (TILLER_*)
// 3. Project config (.tiller/config.yaml in cwd)
// 4. Home config (~/.tiller/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Tiller configuration.
type Config struct {
	// Project is the project name used to key tickets and sectors.
	Project string `yaml:"project" json:"project"`

	// WorktreeRoot is the repository root the engine operates on
	// (default: current directory).
	WorktreeRoot string `yaml:"worktree_root" json:"worktree_root"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Agent settings
	Agent AgentConfig `yaml:"agent" json:"agent"`

	// Budget settings
	Budget BudgetConfig `yaml:"budget" json:"budget"`

	// Spindle settings
	Spindle SpindleConfig `yaml:"spindle" json:"spindle"`

	// Parallel settings
	Parallel ParallelConfig `yaml:"parallel" json:"parallel"`

	// Store settings
	Store StoreConfig `yaml:"store" json:"store"`

	// Pacing settings
	Pacing PacingConfig `yaml:"pacing" json:"pacing"`
}

// AgentConfig holds coding-agent invocation settings.
type AgentConfig struct {
	// Command is the agent executable spawned for each phase.
	// Default: "claude".
	Command string `yaml:"command" json:"command"`
	// Args are fixed arguments prepended to every invocation.
	Args []string `yaml:"args" json:"args"`
	// TimeoutMinutes bounds one invocation. Default: 20.
	TimeoutMinutes int `yaml:"timeout_minutes" json:"timeout_minutes"`
}

// BudgetConfig holds per-run resource ceilings. Budgets are advisory:
// exhaustion finishes the current ticket cleanly rather than aborting it.
type BudgetConfig struct {
	// MaxSteps caps lifecycle steps per run. Default: 200.
	MaxSteps int `yaml:"max_steps" json:"max_steps"`
	// MaxItemSteps caps lifecycle steps spent on one ticket. Default: 25.
	MaxItemSteps int `yaml:"max_item_steps" json:"max_item_steps"`
	// MaxToolCalls caps agent invocations per run. Default: 500.
	MaxToolCalls int `yaml:"max_tool_calls" json:"max_tool_calls"`
	// MaxChangedLines caps accepted changed lines per ticket. Default: 5000.
	MaxChangedLines int `yaml:"max_changed_lines" json:"max_changed_lines"`
	// RunTTLHours expires a run after this many hours. Default: 24.
	RunTTLHours int `yaml:"run_ttl_hours" json:"run_ttl_hours"`
}

// SpindleConfig holds non-progress detection thresholds.
type SpindleConfig struct {
	// MaxStallIterations is consecutive empty-diff iterations before the
	// stall rule fires. Default: 5.
	MaxStallIterations int `yaml:"max_stall_iterations" json:"max_stall_iterations"`
	// PingPongCycles is QA pass/fail alternations before abort. Default: 3.
	PingPongCycles int `yaml:"ping_pong_cycles" json:"ping_pong_cycles"`
	// CommandFailureLimit is identical command failures before blocking.
	// Default: 3.
	CommandFailureLimit int `yaml:"command_failure_limit" json:"command_failure_limit"`
	// MaxRecoveries is spindle recoveries per run before giving up.
	// Default: 3.
	MaxRecoveries int `yaml:"max_recoveries" json:"max_recoveries"`
}

// ParallelConfig holds wave execution settings.
type ParallelConfig struct {
	// Enabled turns on parallel ticket execution.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxSlots caps concurrent tickets regardless of the adaptive count.
	// Default: 5.
	MaxSlots int `yaml:"max_slots" json:"max_slots"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// TicketDB is the SQLite database path for tickets.
	// Default: .state/tickets.db. Empty string plus Memory=true keeps
	// tickets in memory only.
	TicketDB string `yaml:"ticket_db" json:"ticket_db"`
	// Memory keeps tickets in memory, discarding them on exit.
	Memory bool `yaml:"memory" json:"memory"`
}

// PacingConfig holds cycle pacing and shutdown settings.
type PacingConfig struct {
	// CycleDelaySeconds is the pause between improvement cycles. Default: 5.
	CycleDelaySeconds int `yaml:"cycle_delay_seconds" json:"cycle_delay_seconds"`
	// KillSwitchFile stops the engine at the next checkpoint when it
	// appears. Default: .state/STOP.
	KillSwitchFile string `yaml:"kill_switch_file" json:"kill_switch_file"`
}

// Default config values (used in resolution and validation).
const (
	defaultAgentCommand = "claude"
	defaultTicketDB     = ".state/tickets.db"
	defaultKillSwitch   = ".state/STOP"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Command:        defaultAgentCommand,
			TimeoutMinutes: 20,
		},
		Budget: BudgetConfig{
			MaxSteps:        200,
			MaxItemSteps:    25,
			MaxToolCalls:    500,
			MaxChangedLines: 5000,
			RunTTLHours:     24,
		},
		Spindle: SpindleConfig{
			MaxStallIterations:  5,
			PingPongCycles:      3,
			CommandFailureLimit: 3,
			MaxRecoveries:       3,
		},
		Parallel: ParallelConfig{
			Enabled:  false,
			MaxSlots: 5,
		},
		Store: StoreConfig{
			TicketDB: defaultTicketDB,
		},
		Pacing: PacingConfig{
			CycleDelaySeconds: 5,
			KillSwitchFile:    defaultKillSwitch,
		},
	}
}

// AgentTimeout returns the configured agent timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	if c.Agent.TimeoutMinutes <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(c.Agent.TimeoutMinutes) * time.Minute
}

// CycleDelay returns the configured inter-cycle pause as a duration.
func (c *Config) CycleDelay() time.Duration {
	if c.Pacing.CycleDelaySeconds < 0 {
		return 0
	}
	return time.Duration(c.Pacing.CycleDelaySeconds) * time.Second
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load project config
	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tiller", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("TILLER_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".tiller", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("TILLER_PROJECT"); v != "" {
		cfg.Project = v
	}
	if v := os.Getenv("TILLER_WORKTREE_ROOT"); v != "" {
		cfg.WorktreeRoot = v
	}
	if os.Getenv("TILLER_VERBOSE") == "true" || os.Getenv("TILLER_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("TILLER_AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
	if v := envInt("TILLER_AGENT_TIMEOUT_MINUTES"); v > 0 {
		cfg.Agent.TimeoutMinutes = v
	}
	if v := envInt("TILLER_MAX_STEPS"); v > 0 {
		cfg.Budget.MaxSteps = v
	}
	if v := envInt("TILLER_MAX_ITEM_STEPS"); v > 0 {
		cfg.Budget.MaxItemSteps = v
	}
	if v := envInt("TILLER_MAX_TOOL_CALLS"); v > 0 {
		cfg.Budget.MaxToolCalls = v
	}
	if v := envInt("TILLER_MAX_CHANGED_LINES"); v > 0 {
		cfg.Budget.MaxChangedLines = v
	}
	if os.Getenv("TILLER_PARALLEL") == "true" || os.Getenv("TILLER_PARALLEL") == "1" {
		cfg.Parallel.Enabled = true
	}
	if v := os.Getenv("TILLER_TICKET_DB"); v != "" {
		cfg.Store.TicketDB = v
	}
	if v := os.Getenv("TILLER_KILL_SWITCH"); v != "" {
		cfg.Pacing.KillSwitchFile = v
	}
	return cfg
}

// envInt parses an integer environment variable; unset or malformed is 0.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
// Booleans merge with OR semantics: once enabled, stays enabled.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Project, src.Project)
	mergeStr(&dst.WorktreeRoot, src.WorktreeRoot)
	if src.Verbose {
		dst.Verbose = true
	}

	mergeAgent(&dst.Agent, &src.Agent)
	mergeBudget(&dst.Budget, &src.Budget)
	mergeSpindle(&dst.Spindle, &src.Spindle)
	mergeParallel(&dst.Parallel, &src.Parallel)
	mergeStore(&dst.Store, &src.Store)
	mergePacing(&dst.Pacing, &src.Pacing)

	return dst
}

// mergeAgent merges agent-specific config fields.
func mergeAgent(dst, src *AgentConfig) {
	mergeStr(&dst.Command, src.Command)
	if len(src.Args) > 0 {
		dst.Args = src.Args
	}
	mergeInt(&dst.TimeoutMinutes, src.TimeoutMinutes)
}

// mergeBudget merges budget-specific config fields.
func mergeBudget(dst, src *BudgetConfig) {
	mergeInt(&dst.MaxSteps, src.MaxSteps)
	mergeInt(&dst.MaxItemSteps, src.MaxItemSteps)
	mergeInt(&dst.MaxToolCalls, src.MaxToolCalls)
	mergeInt(&dst.MaxChangedLines, src.MaxChangedLines)
	mergeInt(&dst.RunTTLHours, src.RunTTLHours)
}

// mergeSpindle merges spindle-specific config fields.
func mergeSpindle(dst, src *SpindleConfig) {
	mergeInt(&dst.MaxStallIterations, src.MaxStallIterations)
	mergeInt(&dst.PingPongCycles, src.PingPongCycles)
	mergeInt(&dst.CommandFailureLimit, src.CommandFailureLimit)
	mergeInt(&dst.MaxRecoveries, src.MaxRecoveries)
}

// mergeParallel merges parallel-specific config fields.
func mergeParallel(dst, src *ParallelConfig) {
	if src.Enabled {
		dst.Enabled = true
	}
	mergeInt(&dst.MaxSlots, src.MaxSlots)
}

// mergeStore merges store-specific config fields.
func mergeStore(dst, src *StoreConfig) {
	mergeStr(&dst.TicketDB, src.TicketDB)
	if src.Memory {
		dst.Memory = true
	}
}

// mergePacing merges pacing-specific config fields.
func mergePacing(dst, src *PacingConfig) {
	mergeInt(&dst.CycleDelaySeconds, src.CycleDelaySeconds)
	mergeStr(&dst.KillSwitchFile, src.KillSwitchFile)
}
