package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the dispatcher core.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	Channels      map[string]ChannelConfig `yaml:"channels"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Skills        SkillsConfig        `yaml:"skills"`
	Memory        MemoryClientConfig  `yaml:"memory"`
	Knowledge     KnowledgeClientConfig `yaml:"knowledge"`
	Logging       LoggingConfig       `yaml:"logging"`
	Capture       CaptureConfig       `yaml:"capture"`
	MetricsPort   int                 `yaml:"metrics_port"`

	// IdentityFile points at the operator's free-form system identity/tone
	// reference text, dropped verbatim into envelope section 1. An empty
	// path means that section is omitted.
	IdentityFile string `yaml:"identity_file"`
}

// AgentConfig describes how to invoke the external LLM agent subprocess (C1).
type AgentConfig struct {
	// Binary is the path to the agent executable.
	Binary string `yaml:"binary"`

	// Args are extra arguments passed on every invocation (print mode,
	// streaming JSON output, verbosity, permission bypass, no session
	// persistence), before the per-request arguments the invoker appends.
	Args []string `yaml:"args"`

	// Model is the default model selector appended as "--model" when a
	// request doesn't choose one itself. Empty omits the flag.
	Model string `yaml:"model"`

	// WorkDir is the working directory the subprocess is started in.
	WorkDir string `yaml:"work_dir"`

	// Timeout bounds a single invocation's wall time.
	Timeout time.Duration `yaml:"timeout"`

	// GraceShutdown is how long the invoker waits after sending an
	// interrupt signal before escalating to a forced kill.
	GraceShutdown time.Duration `yaml:"grace_shutdown"`

	// MaxOutputBytes bounds the total NDJSON stdout the invoker will
	// buffer before classifying the invocation as oversize.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// InterimNoticeWindow is the throttle window for "still working" notices:
	// within one invocation at most one notice is emitted per window, across
	// all tool names (a repeated tool name never gets a second notice).
	InterimNoticeWindow time.Duration `yaml:"interim_notice_window"`
}

// ChannelConfig configures one chat-platform channel binding.
type ChannelConfig struct {
	// Adapter names the concrete binding, e.g. "discord".
	Adapter string `yaml:"adapter"`

	// Token is the adapter's credential. Expanded from the environment at
	// load time so secrets never live in the config file itself.
	Token string `yaml:"token"`

	// DefaultChannelID is used by scheduled jobs that don't name one.
	DefaultChannelID string `yaml:"default_channel_id"`
}

// SchedulerConfig configures the cron/interval job runner (C5).
type SchedulerConfig struct {
	// ScheduleDocument is the path to the text-table schedule document.
	ScheduleDocument string `yaml:"schedule_document"`

	// Timezone names the IANA zone schedule expressions and quiet hours
	// are evaluated in. Empty means local time.
	Timezone string `yaml:"timezone"`

	// OverlapPolicy is "skip" (default) or "queue".
	OverlapPolicy string `yaml:"overlap_policy"`

	// ExecutionStorePath is the sqlite database backing JobExecution
	// records, used to detect overlap across process restarts.
	ExecutionStorePath string `yaml:"execution_store_path"`

	// QuietHoursStart/End bound the process-wide "HH:MM" window (in
	// Timezone) during which job deliveries are suppressed unless their
	// channel carries "!quiet". Default 23:00-06:00.
	QuietHoursStart string `yaml:"quiet_hours_start"`
	QuietHoursEnd   string `yaml:"quiet_hours_end"`

	// TickInterval is how often the scheduler checks for due jobs.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Retention bounds how long JobExecution rows are kept before pruning.
	Retention time.Duration `yaml:"retention"`
}

// RemindersConfig configures the durable reminder store (C6).
type RemindersConfig struct {
	// DBPath is the sqlite database file (or ":memory:" for tests).
	DBPath string `yaml:"db_path"`

	// PollInterval is how often the delivery loop checks for due reminders.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ClaimTimeout bounds how long a claimed-but-undelivered reminder is
	// held before it's eligible to be reclaimed by a later poll.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

// SkillsConfig configures the skill registry (C7).
type SkillsConfig struct {
	// Dir is the directory of skill documents (YAML front matter + body).
	Dir string `yaml:"dir"`

	// WatchDebounce is how long the file watcher waits after the last
	// write burst before reloading.
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// FetcherTimeout bounds a registered DataFetcher call.
	FetcherTimeout time.Duration `yaml:"fetcher_timeout"`
}

// MemoryClientConfig configures the best-effort long-term memory service
// client (treated as an opaque HTTP collaborator).
type MemoryClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// KnowledgeClientConfig configures the best-effort knowledge-base lookup
// client. An empty BaseURL means no knowledge source is wired; the Context
// Assembler simply omits that section.
type KnowledgeClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures the observability.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CaptureConfig gates the optional parser-capture store: a bounded ring
// buffer of recently-assembled envelopes, kept for diagnostic inspection.
// Off by default.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the sqlite database file the envelope_captures table lives
	// in. Empty defaults to the same file the scheduler/reminders share.
	Path string `yaml:"path"`

	// MaxEnvelopes bounds how many captured envelopes are retained.
	MaxEnvelopes int `yaml:"max_envelopes"`
}

// ConfigValidationError collects every validation issue found in one pass,
// so an operator sees the whole list instead of fixing one field at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads, expands, defaults, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = 10 * time.Minute
	}
	if cfg.Agent.GraceShutdown == 0 {
		cfg.Agent.GraceShutdown = 10 * time.Second
	}
	if cfg.Agent.MaxOutputBytes == 0 {
		cfg.Agent.MaxOutputBytes = 1024 * 1024
	}
	if cfg.Agent.InterimNoticeWindow == 0 {
		cfg.Agent.InterimNoticeWindow = 3 * time.Second
	}

	if cfg.Scheduler.OverlapPolicy == "" {
		cfg.Scheduler.OverlapPolicy = "skip"
	}
	if cfg.Scheduler.ExecutionStorePath == "" {
		cfg.Scheduler.ExecutionStorePath = "corebot.db"
	}
	if cfg.Scheduler.QuietHoursStart == "" {
		cfg.Scheduler.QuietHoursStart = "23:00"
	}
	if cfg.Scheduler.QuietHoursEnd == "" {
		cfg.Scheduler.QuietHoursEnd = "06:00"
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 30 * time.Second
	}
	if cfg.Scheduler.Retention == 0 {
		cfg.Scheduler.Retention = 30 * 24 * time.Hour
	}

	if cfg.Reminders.DBPath == "" {
		cfg.Reminders.DBPath = "corebot.db"
	}
	if cfg.Reminders.PollInterval == 0 {
		cfg.Reminders.PollInterval = 15 * time.Second
	}
	if cfg.Reminders.ClaimTimeout == 0 {
		cfg.Reminders.ClaimTimeout = 2 * time.Minute
	}

	if cfg.Skills.WatchDebounce == 0 {
		cfg.Skills.WatchDebounce = 2 * time.Second
	}
	if cfg.Skills.FetcherTimeout == 0 {
		cfg.Skills.FetcherTimeout = 10 * time.Second
	}

	if cfg.Memory.Timeout == 0 {
		cfg.Memory.Timeout = 5 * time.Second
	}

	if cfg.Knowledge.Timeout == 0 {
		cfg.Knowledge.Timeout = 3 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
	if cfg.Capture.Path == "" {
		cfg.Capture.Path = cfg.Scheduler.ExecutionStorePath
	}
	if cfg.Capture.MaxEnvelopes == 0 {
		cfg.Capture.MaxEnvelopes = 200
	}
}

func validateConfig(cfg *Config) error {
	var issues []string

	if strings.TrimSpace(cfg.Agent.Binary) == "" {
		issues = append(issues, "agent.binary is required")
	}
	if cfg.Agent.Timeout <= 0 {
		issues = append(issues, "agent.timeout must be > 0")
	}

	if cfg.Scheduler.OverlapPolicy != "skip" && cfg.Scheduler.OverlapPolicy != "queue" {
		issues = append(issues, `scheduler.overlap_policy must be "skip" or "queue"`)
	}
	if _, _, err := ParseClockHHMM(cfg.Scheduler.QuietHoursStart); err != nil {
		issues = append(issues, fmt.Sprintf("scheduler.quiet_hours_start: %v", err))
	}
	if _, _, err := ParseClockHHMM(cfg.Scheduler.QuietHoursEnd); err != nil {
		issues = append(issues, fmt.Sprintf("scheduler.quiet_hours_end: %v", err))
	}

	for name, ch := range cfg.Channels {
		if strings.TrimSpace(ch.Adapter) == "" {
			issues = append(issues, fmt.Sprintf("channels.%s.adapter is required", name))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// ParseClockHHMM parses a "HH:MM" clock string into its hour and minute
// components, as used by scheduler.quiet_hours_start/end.
func ParseClockHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("out of range HH:MM: %q", s)
	}
	return hour, minute, nil
}
