package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultRetries is applied to models that do not declare a retry budget.
const DefaultRetries = 3

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Roles     RolesConfig               `mapstructure:"roles"`
	Retry     RetryConfig               `mapstructure:"retry"`
	Tokenizer TokenizerConfig           `mapstructure:"tokenizer"`
	Browser   BrowserConfig             `mapstructure:"browser"`
	Navigator NavigatorConfig           `mapstructure:"navigator"`
	Generator GeneratorConfig           `mapstructure:"generator"`
	Debugger  DebuggerConfig            `mapstructure:"debugger"`
	Workspace WorkspaceConfig           `mapstructure:"workspace"`
	Runner    RunnerConfig              `mapstructure:"runner"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents an LLM backend such as OpenRouter, Gemini or a local Ollama.
type ProviderConfig struct {
	Type      string            `mapstructure:"type"`        // openai, openrouter, gemini, ollama, vllm, lmstudio, custom
	BaseURL   string            `mapstructure:"base_url"`    // API base URL
	APIKey    string            `mapstructure:"api_key"`     // inline API key (prefer api_key_env)
	APIKeyEnv string            `mapstructure:"api_key_env"` // environment variable holding the API key
	Timeout   time.Duration     `mapstructure:"timeout"`     // per-request timeout
	Headers   map[string]string `mapstructure:"headers"`     // extra headers sent with every request
}

// Kind returns the provider type folded to lower case.
func (p ProviderConfig) Kind() string {
	return strings.ToLower(strings.TrimSpace(p.Type))
}

// ModelConfig binds a logical model id to a provider entry and its capabilities.
type ModelConfig struct {
	Provider         string   `mapstructure:"provider"`
	Model            string   `mapstructure:"model"`
	Description      string   `mapstructure:"description"`
	ContextLength    int      `mapstructure:"context_length"`
	StructuredOutput bool     `mapstructure:"structured_output"`
	SchemaOutput     bool     `mapstructure:"schema_output"`
	Retries          int      `mapstructure:"retries"`
	Upstreams        []string `mapstructure:"upstreams"` // preferred upstream providers, in order
	Temperature      float64  `mapstructure:"temperature"`
	MaxTokens        int      `mapstructure:"max_tokens"`
}

// RetryConfig controls backoff between attempts on the same model.
type RetryConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// TokenizerConfig selects the tokenizer used for budget fitting.
type TokenizerConfig struct {
	Encoding    string  `mapstructure:"encoding"`
	CacheSize   int     `mapstructure:"cache_size"`
	BudgetRatio float64 `mapstructure:"budget_ratio"`
}

// BrowserConfig configures the page loader used during analysis.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver"` // chrome or http
	Headless          bool          `mapstructure:"headless"`
	PageLoadWait      time.Duration `mapstructure:"page_load_wait"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// NavigatorConfig bounds the website traversal.
type NavigatorConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	MaxLinks int `mapstructure:"max_links"`
}

// GeneratorConfig bounds the generate/test loop.
type GeneratorConfig struct {
	MaxActions  int `mapstructure:"max_actions"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DebuggerConfig bounds spider test runs and the information-gathering detour.
type DebuggerConfig struct {
	SpiderTimeout time.Duration `mapstructure:"spider_timeout"`
	MaxDebugLoops int           `mapstructure:"max_debug_loops"`
}

// WorkspaceConfig locates generated projects and run logs.
type WorkspaceConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	LogsDir   string `mapstructure:"logs_dir"`
}

// RunnerConfig describes how generated spiders are executed.
type RunnerConfig struct {
	Command   []string `mapstructure:"command"`
	ItemsFile string   `mapstructure:"items_file"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`   // optional extra log file
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: AUTOHUBBLE_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOHUBBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("retry.base_delay", time.Second)

	v.SetDefault("tokenizer.encoding", "cl100k_base")
	v.SetDefault("tokenizer.cache_size", 4096)
	v.SetDefault("tokenizer.budget_ratio", 0.8)

	v.SetDefault("browser.driver", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_load_wait", 3*time.Second)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	v.SetDefault("navigator.max_depth", 3)
	v.SetDefault("navigator.max_links", 5)

	v.SetDefault("generator.max_actions", 20)
	v.SetDefault("generator.max_attempts", 20)

	v.SetDefault("debugger.spider_timeout", 120*time.Second)
	v.SetDefault("debugger.max_debug_loops", 1)

	v.SetDefault("workspace.output_dir", "output")
	v.SetDefault("workspace.logs_dir", "output/logs")

	v.SetDefault("runner.command", []string{"scrapy", "crawl"})
	v.SetDefault("runner.items_file", "items.jsonl")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// normalize fills per-entry defaults that viper cannot express for map values.
func (c *Config) normalize() {
	for name, p := range c.Providers {
		p.Type = p.Kind()
		c.Providers[name] = p
	}
	for name, m := range c.Models {
		if m.Retries == 0 {
			m.Retries = DefaultRetries
		}
		if m.Model == "" {
			m.Model = name
		}
		c.Models[name] = m
	}
	c.Roles.trim()
}

// Validate performs sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	for name, p := range c.Providers {
		switch p.Kind() {
		case "":
			return fmt.Errorf("provider %q must define type", name)
		case "openai", "openrouter", "vllm", "lmstudio", "custom", "ollama", "gemini":
		default:
			return fmt.Errorf("provider %q has unknown type %q", name, p.Type)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %q timeout cannot be negative", name)
		}
	}

	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.ContextLength <= 0 {
			return fmt.Errorf("model %q context_length must be > 0", name)
		}

		if m.Retries <= 0 {
			return fmt.Errorf("model %q retries must be > 0", name)
		}

		if m.SchemaOutput && !m.StructuredOutput {
			return fmt.Errorf("model %q declares schema_output without structured_output", name)
		}

		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}
	}

	if err := c.Roles.validate(c.Models); err != nil {
		return err
	}

	if c.Retry.BaseDelay < 0 {
		return errors.New("retry.base_delay cannot be negative")
	}

	if c.Tokenizer.BudgetRatio <= 0 || c.Tokenizer.BudgetRatio > 1 {
		return errors.New("tokenizer.budget_ratio must be within (0,1]")
	}
	if c.Tokenizer.CacheSize < 0 {
		return errors.New("tokenizer.cache_size must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Browser.Driver)) {
	case "", "chrome", "http":
	default:
		return fmt.Errorf("browser.driver must be one of chrome or http, got %q", c.Browser.Driver)
	}

	if c.Navigator.MaxDepth <= 0 {
		return errors.New("navigator.max_depth must be > 0")
	}
	if c.Navigator.MaxLinks <= 0 {
		return errors.New("navigator.max_links must be > 0")
	}
	if c.Generator.MaxActions <= 0 {
		return errors.New("generator.max_actions must be > 0")
	}
	if c.Generator.MaxAttempts <= 0 {
		return errors.New("generator.max_attempts must be > 0")
	}
	if c.Debugger.SpiderTimeout <= 0 {
		return errors.New("debugger.spider_timeout must be > 0")
	}
	if c.Debugger.MaxDebugLoops < 0 {
		return errors.New("debugger.max_debug_loops must be >= 0")
	}

	if strings.TrimSpace(c.Workspace.OutputDir) == "" {
		return errors.New("workspace.output_dir must be set")
	}
	if len(c.Runner.Command) == 0 {
		return errors.New("runner.command must not be empty")
	}
	if strings.TrimSpace(c.Runner.ItemsFile) == "" {
		return errors.New("runner.items_file must be set")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
