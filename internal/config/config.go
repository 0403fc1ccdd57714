// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMConfig configures the language-model and embedding collaborators.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	FastModel      string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel  string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	EmbeddingModel string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// RequestsPerMinute caps the outbound request rate across all sessions.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// AgentConfig tunes the dual-loop orchestrator and its stages.
type AgentConfig struct {
	// MaxSteps is the fast-cycle budget; exceeding it terminates the
	// session as Exhausted.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// MaxSimulatedTicks bounds the logical clock; 0 disables the cap.
	MaxSimulatedTicks int64 `mapstructure:"max_simulated_ticks" yaml:"max_simulated_ticks"`
	// SlowLoopEvery triggers a reflection/wonder cycle every K fast cycles.
	SlowLoopEvery int `mapstructure:"slow_loop_every" yaml:"slow_loop_every"`
	// FailureStreakLimit aborts the session after this many consecutive
	// failed cycles.
	FailureStreakLimit int `mapstructure:"failure_streak_limit" yaml:"failure_streak_limit"`
	// RecencyDecay is the k in exp(-k * age) for retrieval recency scoring.
	RecencyDecay float64 `mapstructure:"recency_decay" yaml:"recency_decay"`
	// ReflectionWindow is the number of most recent memories the slow loop reads.
	ReflectionWindow int `mapstructure:"reflection_window" yaml:"reflection_window"`
	// WonderWindow is the shorter window the wonder stage reads.
	WonderWindow int `mapstructure:"wonder_window" yaml:"wonder_window"`
	// PerceptionRetrievalLimit / PlanningRetrievalLimit / ActionRetrievalLimit
	// bound scored retrieval per stage.
	PerceptionRetrievalLimit int `mapstructure:"perception_retrieval_limit" yaml:"perception_retrieval_limit"`
	PlanningRetrievalLimit   int `mapstructure:"planning_retrieval_limit" yaml:"planning_retrieval_limit"`
	ActionRetrievalLimit     int `mapstructure:"action_retrieval_limit" yaml:"action_retrieval_limit"`
	// StageRetries is the bounded retry count for unusable LLM output.
	StageRetries int `mapstructure:"stage_retries" yaml:"stage_retries"`
}

// BrowserConfig holds settings for the headless browser sessions.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// StoreConfig selects the trace sink backend.
type StoreConfig struct {
	// Type is "file" or "postgres".
	Type string `mapstructure:"type" yaml:"type"`
	// TraceDir is where the file sink writes session traces.
	TraceDir string `mapstructure:"trace_dir" yaml:"trace_dir"`
	// PostgresURL is the pgx connection string for the postgres sink.
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
}

// SimulationConfig describes one simulation run (usually set via CLI flags).
type SimulationConfig struct {
	TargetURL   string                     `mapstructure:"target_url" yaml:"target_url"`
	Intent      string                     `mapstructure:"intent" yaml:"intent"`
	Sessions    int                        `mapstructure:"sessions" yaml:"sessions"`
	Concurrency int                        `mapstructure:"concurrency" yaml:"concurrency"`
	Constraints schemas.PersonaConstraints `mapstructure:"constraints" yaml:"constraints"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "usersim-cli")
	v.SetDefault("logger.log_file", "usersim.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.embedding_model", "gemini-embedding-001")
	v.SetDefault("llm.api_timeout", "45s")
	v.SetDefault("llm.requests_per_minute", 60.0)
	v.SetDefault("llm.max_retries", 2)

	// -- Agent --
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.max_simulated_ticks", 0)
	v.SetDefault("agent.slow_loop_every", 3)
	v.SetDefault("agent.failure_streak_limit", 3)
	v.SetDefault("agent.recency_decay", 1.0)
	v.SetDefault("agent.reflection_window", 15)
	v.SetDefault("agent.wonder_window", 10)
	v.SetDefault("agent.perception_retrieval_limit", 5)
	v.SetDefault("agent.planning_retrieval_limit", 10)
	v.SetDefault("agent.action_retrieval_limit", 7)
	v.SetDefault("agent.stage_retries", 1)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Store --
	v.SetDefault("store.type", "file")
	v.SetDefault("store.trace_dir", "traces")

	// -- Simulation --
	v.SetDefault("simulation.sessions", 1)
	v.SetDefault("simulation.concurrency", 2)
}

// NewDefaultConfig returns a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.api_key", "USERSIM_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("store.postgres_url", "USERSIM_POSTGRES_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.SlowLoopEvery <= 0 {
		return fmt.Errorf("agent.slow_loop_every must be a positive integer")
	}
	if c.Agent.FailureStreakLimit <= 0 {
		return fmt.Errorf("agent.failure_streak_limit must be a positive integer")
	}
	if c.Agent.RecencyDecay < 0 {
		return fmt.Errorf("agent.recency_decay must not be negative")
	}
	if c.Agent.StageRetries < 0 {
		return fmt.Errorf("agent.stage_retries must not be negative")
	}
	if c.Simulation.Sessions < 0 {
		return fmt.Errorf("simulation.sessions must not be negative")
	}
	if c.Simulation.Concurrency <= 0 {
		return fmt.Errorf("simulation.concurrency must be a positive integer")
	}
	switch c.Store.Type {
	case "file", "postgres":
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q", "file", "postgres", c.Store.Type)
	}
	if c.Store.Type == "postgres" && c.Store.PostgresURL == "" {
		return fmt.Errorf("store.postgres_url is required when store.type is postgres")
	}
	return nil
}
