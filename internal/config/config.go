// Package config handles loading and validation of orchestrator configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/corvidwave/foreman/internal/errs"
)

// Config is the closed configuration set for the orchestrator. Every
// subsystem reads its own nested block; there is no process-wide mutable
// configuration object.
type Config struct {
	Planner   PlannerConfig   `json:"planner"`
	Manager   ManagerConfig   `json:"manager"`
	Developer DeveloperConfig `json:"developer"`
	Logger    LoggerConfig    `json:"logger"`
	Control   ControlConfig   `json:"control"`

	// Instructions carries role-scoped prompt rules, appended to prompts
	// for board items carrying a role:<name> label.
	Instructions InstructionConfig `json:"instructions"`

	Forge ForgeConfig `json:"forge"`
}

// ForgeConfig points the board/pull-request services at a hosted Git forge.
// The auth token is never read from this struct directly -- it comes from
// the GITHUB_TOKEN environment variable, the same convention the rest of
// the pack uses.
type ForgeConfig struct {
	Enabled bool   `json:"enabled"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
}

// PlannerConfig governs the reconciliation loop.
type PlannerConfig struct {
	BoardID              string            `json:"board_id"`
	MonitoringIntervalMs int               `json:"monitoring_interval_ms"`
	MaxRetryAttempts     int               `json:"max_retry_attempts"`
	TimeoutMs            int               `json:"timeout_ms"`
	RepositoryFilter     RepositoryFilter  `json:"repository_filter"`
	PullRequestFilter    PullRequestFilter `json:"pull_request_filter"`
	StateFile            string            `json:"state_file"`
}

// RepositoryFilter implements the board allow/deny list.
type RepositoryFilter struct {
	Mode                string   `json:"mode"` // "whitelist" or "blacklist"
	AllowedRepositories []string `json:"allowed_repositories"`
}

// PullRequestFilter implements the comment-author filter.
type PullRequestFilter struct {
	ExcludeAuthor bool     `json:"exclude_author"`
	AllowedBots   []string `json:"allowed_bots"`
}

// ManagerConfig governs the worker pool and Git caching.
type ManagerConfig struct {
	WorkspaceRoot            string     `json:"workspace_root"`
	WorkerPool               WorkerPool `json:"worker_pool"`
	GitOperationTimeoutMs    int        `json:"git_operation_timeout_ms"`
	RepositoryCacheTimeoutMs int        `json:"repository_cache_timeout_ms"`
	GitConfig                GitConfig  `json:"git_config"`
	CacheDir                 string     `json:"cache_dir"`
}

// WorkerPool sizes and times out the worker pool.
type WorkerPool struct {
	Min         int `json:"min"`
	Max         int `json:"max"`
	TimeoutMs   int `json:"timeout_ms"`
	ResultTTLMs int `json:"result_ttl_ms"`
}

// GitConfig tunes the clone/worktree/branch behavior.
type GitConfig struct {
	CloneDepth            int    `json:"clone_depth"`
	EnableConcurrencyLock bool   `json:"enable_concurrency_lock"`
	Remote                string `json:"remote"`
	BranchPrefix          string `json:"branch_prefix"`
	CommitMessageFormat   string `json:"commit_message_format"`
	PRTitleFormat         string `json:"pr_title_format"`
}

// DeveloperConfig governs the assistant child-process driver.
type DeveloperConfig struct {
	Paths                  []string `json:"paths"`
	ClaudeCodeTimeoutMs    int      `json:"claude_code_timeout_ms"`
	GeminiCliTimeoutMs     int      `json:"gemini_cli_timeout_ms"`
	MaxRestartAttempts     int      `json:"max_restart_attempts"`
	RestartCooldownSeconds []int    `json:"restart_cooldown_seconds"`
	CompletionMarker       string   `json:"completion_marker"`
	StopTokens             []string `json:"stop_tokens"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level         string `json:"level"`
	FilePath      string `json:"file_path"`
	EnableConsole bool   `json:"enable_console"`
}

// ControlConfig governs the HTTP control surface.
type ControlConfig struct {
	Enabled            bool   `json:"enabled"`
	ListenAddr         string `json:"listen_addr"`
	OperatorUsername   string `json:"operator_username"`
	OperatorPassword   string `json:"operator_password"`
	JWTSecret          string `json:"jwt_secret"`
	AccessTokenMinutes int    `json:"access_token_minutes"`
	RefreshTokenHours  int    `json:"refresh_token_hours"`
}

// InstructionConfig holds global and role-based prompt instructions.
type InstructionConfig struct {
	GlobalRules      []string          `json:"global_rules"`
	RoleInstructions map[string]string `json:"role_instructions"`
}

// DefaultConfig returns a Config with sensible defaults; Load layers the
// file's values on top, so every zero-valued field still ends up usable
// before validation runs.
func DefaultConfig() *Config {
	return &Config{
		Planner: PlannerConfig{
			MonitoringIntervalMs: 20_000,
			MaxRetryAttempts:     3,
			TimeoutMs:            30_000,
			RepositoryFilter:     RepositoryFilter{Mode: "blacklist"},
			PullRequestFilter: PullRequestFilter{
				ExcludeAuthor: true,
				AllowedBots:   []string{"dependabot[bot]", "renovate[bot]"},
			},
			StateFile: "planner-state.json",
		},
		Manager: ManagerConfig{
			WorkspaceRoot: "./workspaces",
			WorkerPool: WorkerPool{
				Min:         1,
				Max:         4,
				TimeoutMs:   10 * 60 * 1000,
				ResultTTLMs: 30 * 60 * 1000,
			},
			GitOperationTimeoutMs:    5 * 60 * 1000,
			RepositoryCacheTimeoutMs: 60 * 60 * 1000,
			GitConfig: GitConfig{
				CloneDepth:            1,
				EnableConcurrencyLock: true,
				Remote:                "origin",
				BranchPrefix:          "agent/task-",
				CommitMessageFormat:   "feat: %s (Task %s)",
				PRTitleFormat:         "feat: %s",
			},
			CacheDir: "./repo-cache",
		},
		Developer: DeveloperConfig{
			Paths:                  []string{"claude"},
			ClaudeCodeTimeoutMs:    30 * 60 * 1000,
			GeminiCliTimeoutMs:     30 * 60 * 1000,
			MaxRestartAttempts:     3,
			RestartCooldownSeconds: []int{5, 15, 60},
			CompletionMarker:       "### TASK_DONE ###",
			StopTokens:             []string{"TASK_COMPLETED", "### TASK_DONE ###"},
		},
		Logger: LoggerConfig{
			Level:         "info",
			FilePath:      "./logs/orchestrator.log",
			EnableConsole: true,
		},
		Control: ControlConfig{
			Enabled:            false,
			ListenAddr:         ":8787",
			OperatorUsername:   "operator",
			AccessTokenMinutes: 15,
			RefreshTokenHours:  24,
		},
		Instructions: InstructionConfig{
			GlobalRules: []string{
				"You are part of an autonomous development swarm.",
				"Do not use markdown formatting for file content unless strictly necessary.",
				"Be concise and technical.",
			},
			RoleInstructions: map[string]string{
				"architect": "You are a Solutions Architect. Focus on high-level system design, patterns, scalability, and trade-offs.",
				"backend":   "You are a Senior Backend Engineer. Focus on robust server-side logic, APIs, database interactions, and performance.",
				"frontend":  "You are a Senior Frontend Engineer. Focus on responsive UI/UX, state management, and modern web frameworks.",
				"qa":        "You are a QA Engineer. Focus on comprehensive testing strategies, edge cases, and security vulnerabilities.",
			},
		},
	}
}

// Load reads configuration from a JSON file. If the file doesn't exist, it
// returns DefaultConfig. Unknown top-level keys are rejected as CONFIG_ERROR.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w: %w", errs.ErrConfig, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w: %w", errs.ErrConfig, err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields with defaults.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Planner.MonitoringIntervalMs <= 0 {
		c.Planner.MonitoringIntervalMs = d.Planner.MonitoringIntervalMs
	}
	if c.Planner.MaxRetryAttempts <= 0 {
		c.Planner.MaxRetryAttempts = d.Planner.MaxRetryAttempts
	}
	if c.Planner.TimeoutMs <= 0 {
		c.Planner.TimeoutMs = d.Planner.TimeoutMs
	}
	if c.Planner.RepositoryFilter.Mode == "" {
		c.Planner.RepositoryFilter.Mode = d.Planner.RepositoryFilter.Mode
	}
	if c.Planner.StateFile == "" {
		c.Planner.StateFile = d.Planner.StateFile
	}
	if len(c.Planner.PullRequestFilter.AllowedBots) == 0 {
		c.Planner.PullRequestFilter.AllowedBots = d.Planner.PullRequestFilter.AllowedBots
	}

	if c.Manager.WorkspaceRoot == "" {
		c.Manager.WorkspaceRoot = d.Manager.WorkspaceRoot
	}
	if c.Manager.WorkerPool.Min <= 0 {
		c.Manager.WorkerPool.Min = d.Manager.WorkerPool.Min
	}
	if c.Manager.WorkerPool.Max <= 0 {
		c.Manager.WorkerPool.Max = d.Manager.WorkerPool.Max
	}
	if c.Manager.WorkerPool.TimeoutMs <= 0 {
		c.Manager.WorkerPool.TimeoutMs = d.Manager.WorkerPool.TimeoutMs
	}
	if c.Manager.WorkerPool.ResultTTLMs <= 0 {
		c.Manager.WorkerPool.ResultTTLMs = d.Manager.WorkerPool.ResultTTLMs
	}
	if c.Manager.GitOperationTimeoutMs <= 0 {
		c.Manager.GitOperationTimeoutMs = d.Manager.GitOperationTimeoutMs
	}
	if c.Manager.RepositoryCacheTimeoutMs <= 0 {
		c.Manager.RepositoryCacheTimeoutMs = d.Manager.RepositoryCacheTimeoutMs
	}
	if c.Manager.GitConfig.CloneDepth <= 0 {
		c.Manager.GitConfig.CloneDepth = d.Manager.GitConfig.CloneDepth
	}
	if c.Manager.GitConfig.Remote == "" {
		c.Manager.GitConfig.Remote = d.Manager.GitConfig.Remote
	}
	if c.Manager.GitConfig.BranchPrefix == "" {
		c.Manager.GitConfig.BranchPrefix = d.Manager.GitConfig.BranchPrefix
	}
	if c.Manager.GitConfig.CommitMessageFormat == "" {
		c.Manager.GitConfig.CommitMessageFormat = d.Manager.GitConfig.CommitMessageFormat
	}
	if c.Manager.GitConfig.PRTitleFormat == "" {
		c.Manager.GitConfig.PRTitleFormat = d.Manager.GitConfig.PRTitleFormat
	}
	if c.Manager.CacheDir == "" {
		c.Manager.CacheDir = d.Manager.CacheDir
	}

	if len(c.Developer.Paths) == 0 {
		c.Developer.Paths = d.Developer.Paths
	}
	if c.Developer.ClaudeCodeTimeoutMs <= 0 {
		c.Developer.ClaudeCodeTimeoutMs = d.Developer.ClaudeCodeTimeoutMs
	}
	if c.Developer.GeminiCliTimeoutMs <= 0 {
		c.Developer.GeminiCliTimeoutMs = d.Developer.GeminiCliTimeoutMs
	}
	if c.Developer.MaxRestartAttempts <= 0 {
		c.Developer.MaxRestartAttempts = d.Developer.MaxRestartAttempts
	}
	if len(c.Developer.RestartCooldownSeconds) == 0 {
		c.Developer.RestartCooldownSeconds = d.Developer.RestartCooldownSeconds
	}
	if c.Developer.CompletionMarker == "" {
		c.Developer.CompletionMarker = d.Developer.CompletionMarker
	}
	if len(c.Developer.StopTokens) == 0 {
		c.Developer.StopTokens = d.Developer.StopTokens
	}

	if c.Logger.Level == "" {
		c.Logger.Level = d.Logger.Level
	}
	if c.Logger.FilePath == "" {
		c.Logger.FilePath = d.Logger.FilePath
	}

	if c.Control.ListenAddr == "" {
		c.Control.ListenAddr = d.Control.ListenAddr
	}
	if c.Control.OperatorUsername == "" {
		c.Control.OperatorUsername = d.Control.OperatorUsername
	}
	if c.Control.AccessTokenMinutes <= 0 {
		c.Control.AccessTokenMinutes = d.Control.AccessTokenMinutes
	}
	if c.Control.RefreshTokenHours <= 0 {
		c.Control.RefreshTokenHours = d.Control.RefreshTokenHours
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Manager.WorkerPool.Min < 1 {
		return fmt.Errorf("manager.worker_pool.min must be at least 1, got %d", c.Manager.WorkerPool.Min)
	}
	if c.Manager.WorkerPool.Max < c.Manager.WorkerPool.Min {
		return fmt.Errorf("manager.worker_pool.max (%d) must be >= min (%d)", c.Manager.WorkerPool.Max, c.Manager.WorkerPool.Min)
	}
	if c.Planner.MonitoringIntervalMs < 1000 {
		return fmt.Errorf("planner.monitoring_interval_ms must be at least 1000, got %d", c.Planner.MonitoringIntervalMs)
	}
	if c.Planner.MaxRetryAttempts < 1 {
		return fmt.Errorf("planner.max_retry_attempts must be at least 1, got %d", c.Planner.MaxRetryAttempts)
	}
	switch c.Planner.RepositoryFilter.Mode {
	case "whitelist", "blacklist":
	default:
		return fmt.Errorf("planner.repository_filter.mode must be whitelist or blacklist, got %q", c.Planner.RepositoryFilter.Mode)
	}
	if len(c.Developer.Paths) == 0 {
		return fmt.Errorf("developer.paths cannot be empty")
	}
	if c.Developer.MaxRestartAttempts < 1 {
		return fmt.Errorf("developer.max_restart_attempts must be at least 1, got %d", c.Developer.MaxRestartAttempts)
	}
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logger.level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}
	if c.Control.Enabled && c.Control.JWTSecret == "" {
		return fmt.Errorf("control.jwt_secret is required when control.enabled is true")
	}
	if c.Forge.Enabled && (c.Forge.Owner == "" || c.Forge.Repo == "") {
		return fmt.Errorf("forge.owner and forge.repo are required when forge.enabled is true")
	}
	return nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GitOperationTimeout returns the Git op timeout as a duration.
func (c *Config) GitOperationTimeout() time.Duration {
	return time.Duration(c.Manager.GitOperationTimeoutMs) * time.Millisecond
}

// RepositoryCacheTimeout returns the repo-cache staleness timeout as a duration.
func (c *Config) RepositoryCacheTimeout() time.Duration {
	return time.Duration(c.Manager.RepositoryCacheTimeoutMs) * time.Millisecond
}

// MonitoringInterval returns the Planner tick interval as a duration.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Planner.MonitoringIntervalMs) * time.Millisecond
}

// WorkerTimeout returns the idle-worker retirement timeout as a duration.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Manager.WorkerPool.TimeoutMs) * time.Millisecond
}
