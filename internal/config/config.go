package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/resilience"
	"github.com/sells-group/distill-cli/internal/store"
	"github.com/sells-group/distill-cli/pkg/tavily"
)

// Extraction backends.
const (
	ExtractorTavily    = "tavily"
	ExtractorJina      = "jina"
	ExtractorFirecrawl = "firecrawl"
	ExtractorLocal     = "local"
)

// Rewrite providers.
const (
	RewriterGemini    = "gemini"
	RewriterAnthropic = "anthropic"
)

// Limit bounds enforced by Validate.
const (
	MinCalls  = 1
	MaxCalls  = 500
	MinErrors = 1
	MaxErrors = 150
)

// Config holds the full application configuration.
type Config struct {
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Tavily     TavilyConfig     `yaml:"tavily" mapstructure:"tavily"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Rewrite    RewriteConfig    `yaml:"rewrite" mapstructure:"rewrite"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Limits     LimitsConfig     `yaml:"limits" mapstructure:"limits"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ExtractionConfig selects the extraction backend and its retry policy.
type ExtractionConfig struct {
	Provider                string  `yaml:"provider" mapstructure:"provider"`
	Allow                   bool    `yaml:"allow" mapstructure:"allow"`
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TimeoutRetryCount       int     `yaml:"timeout_retry_count" mapstructure:"timeout_retry_count"`
	TimeoutRetryDelaySecs   int     `yaml:"timeout_retry_delay_secs" mapstructure:"timeout_retry_delay_secs"`
	RateLimitRetryCount     int     `yaml:"rate_limit_retry_count" mapstructure:"rate_limit_retry_count"`
	RateLimitRetryDelaySecs int     `yaml:"rate_limit_retry_delay_secs" mapstructure:"rate_limit_retry_delay_secs"`
	Backoff                 string  `yaml:"backoff" mapstructure:"backoff"`
	FatalStatusCodes        []int   `yaml:"fatal_status_codes" mapstructure:"fatal_status_codes"`
	RateLimit               float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst                   int     `yaml:"burst" mapstructure:"burst"`
}

// TavilyConfig holds Tavily Extract settings.
type TavilyConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Depth   string `yaml:"depth" mapstructure:"depth"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollTimeoutSecs  int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// RewriteConfig selects the rewrite provider and its request parameters.
type RewriteConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Allow             bool    `yaml:"allow" mapstructure:"allow"`
	Model             string  `yaml:"model" mapstructure:"model"` // empty = provider default
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	SystemInstruction string  `yaml:"system_instruction" mapstructure:"system_instruction"`
	ThinkingBudget    int     `yaml:"thinking_budget" mapstructure:"thinking_budget"`
	MaxOutputTokens   int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries           int     `yaml:"retries" mapstructure:"retries"`
	RetryBaseSecs     int     `yaml:"retry_base_secs" mapstructure:"retry_base_secs"`
	RateLimit         float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// LimitsConfig holds the kill-switch thresholds.
type LimitsConfig struct {
	ExtractionCalls  int    `yaml:"extraction_calls" mapstructure:"extraction_calls"`
	ExtractionErrors int    `yaml:"extraction_errors" mapstructure:"extraction_errors"`
	RewriteCalls     int    `yaml:"rewrite_calls" mapstructure:"rewrite_calls"`
	RewriteErrors    int    `yaml:"rewrite_errors" mapstructure:"rewrite_errors"`
	TripScope        string `yaml:"trip_scope" mapstructure:"trip_scope"`
}

// PipelineConfig configures run concurrency.
type PipelineConfig struct {
	BatchSize          int  `yaml:"batch_size" mapstructure:"batch_size"`
	ExtractionParallel int  `yaml:"extraction_parallel" mapstructure:"extraction_parallel"`
	RewriteParallel    int  `yaml:"rewrite_parallel" mapstructure:"rewrite_parallel"`
	Debug              bool `yaml:"debug" mapstructure:"debug"`
}

// OutputConfig configures the joined output document.
type OutputConfig struct {
	Separator string `yaml:"separator" mapstructure:"separator"`
	Filename  string `yaml:"filename" mapstructure:"filename"`
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISTILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini.key", "DISTILL_GEMINI_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Model names contain dots, which viper treats as key separators, so
	// per-model rates default here instead of through SetDefault.
	rates := cost.DefaultRates()
	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing.Anthropic = rates.Anthropic
	}
	if len(cfg.Pricing.Gemini) == 0 {
		cfg.Pricing.Gemini = rates.Gemini
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extraction.provider", ExtractorTavily)
	v.SetDefault("extraction.allow", true)
	v.SetDefault("extraction.timeout_secs", 60)
	v.SetDefault("extraction.timeout_retry_count", 2)
	v.SetDefault("extraction.timeout_retry_delay_secs", 5)
	v.SetDefault("extraction.rate_limit_retry_count", 3)
	v.SetDefault("extraction.rate_limit_retry_delay_secs", 60)
	v.SetDefault("extraction.backoff", string(resilience.BackoffFixed))
	v.SetDefault("extraction.fatal_status_codes", []int{400, 401, 403, 432, 433, 500})
	v.SetDefault("extraction.rate_limit", 0.0)
	v.SetDefault("extraction.burst", 1)
	v.SetDefault("tavily.key", "")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.depth", "basic")
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.poll_interval_secs", 2)
	v.SetDefault("firecrawl.poll_timeout_secs", 300)
	v.SetDefault("rewrite.provider", RewriterGemini)
	v.SetDefault("rewrite.allow", true)
	v.SetDefault("rewrite.model", "")
	v.SetDefault("rewrite.temperature", 0.2)
	v.SetDefault("rewrite.system_instruction", "")
	v.SetDefault("rewrite.thinking_budget", -1)
	v.SetDefault("rewrite.max_output_tokens", 0)
	v.SetDefault("rewrite.timeout_secs", 120)
	v.SetDefault("rewrite.retries", 2)
	v.SetDefault("rewrite.retry_base_secs", 2)
	v.SetDefault("rewrite.rate_limit", 0.0)
	v.SetDefault("rewrite.burst", 1)
	v.SetDefault("gemini.key", "")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("limits.extraction_calls", 100)
	v.SetDefault("limits.extraction_errors", 10)
	v.SetDefault("limits.rewrite_calls", 100)
	v.SetDefault("limits.rewrite_errors", 10)
	v.SetDefault("limits.trip_scope", string(governor.TripScopeAll))
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.extraction_parallel", 3)
	v.SetDefault("pipeline.rewrite_parallel", 5)
	v.SetDefault("pipeline.debug", false)
	v.SetDefault("output.separator", `\n\n---\n\n`)
	v.SetDefault("output.filename", "processed_content.md")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "distill.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	rates := cost.DefaultRates()
	v.SetDefault("pricing.tavily.per_credit", rates.Tavily.PerCredit)
	v.SetDefault("pricing.jina.per_mtok", rates.Jina.PerMTok)
	v.SetDefault("pricing.firecrawl.plan_monthly", rates.Firecrawl.PlanMonthly)
	v.SetDefault("pricing.firecrawl.credits_included", rates.Firecrawl.CreditsIncluded)
}

// RewriteModel returns the configured model, falling back to the
// provider's default.
func (c *Config) RewriteModel() string {
	if c.Rewrite.Model != "" {
		return c.Rewrite.Model
	}
	if c.Rewrite.Provider == RewriterAnthropic {
		return c.Anthropic.Model
	}
	return c.Gemini.Model
}

// RewriteParams returns the request parameters for the rewrite provider.
func (c *Config) RewriteParams() model.RewriteParams {
	return model.RewriteParams{
		Provider:          c.Rewrite.Provider,
		Model:             c.RewriteModel(),
		Temperature:       c.Rewrite.Temperature,
		SystemInstruction: c.Rewrite.SystemInstruction,
		ThinkingBudget:    c.Rewrite.ThinkingBudget,
		MaxOutputTokens:   c.Rewrite.MaxOutputTokens,
		TimeoutSecs:       c.Rewrite.TimeoutSecs,
		Retries:           c.Rewrite.Retries,
	}
}

// RunConfig snapshots the settings a run executes with.
func (c *Config) RunConfig() model.RunConfig {
	return model.RunConfig{
		BatchSize:          c.Pipeline.BatchSize,
		ExtractionParallel: c.Pipeline.ExtractionParallel,
		RewriteParallel:    c.Pipeline.RewriteParallel,
		Separator:          c.Output.Separator,
		Filename:           c.Output.Filename,
		Debug:              c.Pipeline.Debug,
	}
}

// TavilyRetryPolicy builds the Tavily client's retry budgets.
func (c *Config) TavilyRetryPolicy() tavily.RetryPolicy {
	e := c.Extraction
	p := tavily.RetryPolicy{
		Timeout:          resilience.FromDelayConfig(e.TimeoutRetryCount, e.TimeoutRetryDelaySecs, e.Backoff),
		RateLimit:        resilience.FromDelayConfig(e.RateLimitRetryCount, e.RateLimitRetryDelaySecs, e.Backoff),
		FatalStatusCodes: e.FatalStatusCodes,
	}
	if p.FatalStatusCodes == nil {
		p.FatalStatusCodes = tavily.DefaultFatalStatusCodes
	}
	return p
}

// ExtractionTimeout bounds each extraction HTTP attempt.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSecs) * time.Second
}

// GovernorLimits returns the kill-switch thresholds per provider.
func (c *Config) GovernorLimits() map[governor.Provider]governor.Limits {
	return map[governor.Provider]governor.Limits{
		governor.ProviderExtraction: {MaxCalls: c.Limits.ExtractionCalls, MaxErrors: c.Limits.ExtractionErrors},
		governor.ProviderRewrite:    {MaxCalls: c.Limits.RewriteCalls, MaxErrors: c.Limits.RewriteErrors},
	}
}

// GovernorAllow returns the configured on/off switch per provider.
func (c *Config) GovernorAllow() map[governor.Provider]bool {
	return map[governor.Provider]bool{
		governor.ProviderExtraction: c.Extraction.Allow,
		governor.ProviderRewrite:    c.Rewrite.Allow,
	}
}

// Validate reports every problem that locks the application. Problems that
// only disable one provider are included.
func (c *Config) Validate() []string {
	var issues []string
	if !inRange(c.Limits.ExtractionCalls, MinCalls, MaxCalls) || !inRange(c.Limits.RewriteCalls, MinCalls, MaxCalls) {
		issues = append(issues, fmt.Sprintf("Max API calls must be between %d and %d.", MinCalls, MaxCalls))
	}
	if !inRange(c.Limits.ExtractionErrors, MinErrors, MaxErrors) || !inRange(c.Limits.RewriteErrors, MinErrors, MaxErrors) {
		issues = append(issues, fmt.Sprintf("Max Errors must be between %d and %d.", MinErrors, MaxErrors))
	}
	if c.Pipeline.BatchSize < 1 {
		issues = append(issues, "Batch size must be at least 1.")
	}
	if c.Pipeline.ExtractionParallel < 1 || c.Pipeline.RewriteParallel < 1 {
		issues = append(issues, "Parallelism must be at least 1.")
	}
	switch governor.TripScope(c.Limits.TripScope) {
	case governor.TripScopeAll, governor.TripScopeSingle:
	default:
		issues = append(issues, fmt.Sprintf("Unknown trip scope %q.", c.Limits.TripScope))
	}
	for _, p := range governor.Providers() {
		for _, issue := range c.ProviderIssues(p) {
			if !slices.Contains(issues, issue) {
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

// ProviderIssues reports the problems that disable one provider: limits out
// of range, an unknown backend, or a missing credential for an allowed
// provider.
func (c *Config) ProviderIssues(p governor.Provider) []string {
	var issues []string
	switch p {
	case governor.ProviderExtraction:
		if !inRange(c.Limits.ExtractionCalls, MinCalls, MaxCalls) {
			issues = append(issues, fmt.Sprintf("Max API calls must be between %d and %d.", MinCalls, MaxCalls))
		}
		if !inRange(c.Limits.ExtractionErrors, MinErrors, MaxErrors) {
			issues = append(issues, fmt.Sprintf("Max Errors must be between %d and %d.", MinErrors, MaxErrors))
		}
		if !c.Extraction.Allow {
			return issues
		}
		switch c.Extraction.Provider {
		case ExtractorTavily:
			if c.Tavily.Key == "" {
				issues = append(issues, "Tavily API Key is missing.")
			}
		case ExtractorJina:
			if c.Jina.Key == "" {
				issues = append(issues, "Jina API Key is missing.")
			}
		case ExtractorFirecrawl:
			if c.Firecrawl.Key == "" {
				issues = append(issues, "Firecrawl API Key is missing.")
			}
		case ExtractorLocal:
		default:
			issues = append(issues, fmt.Sprintf("Unknown extraction provider %q.", c.Extraction.Provider))
		}
	case governor.ProviderRewrite:
		if !inRange(c.Limits.RewriteCalls, MinCalls, MaxCalls) {
			issues = append(issues, fmt.Sprintf("Max API calls must be between %d and %d.", MinCalls, MaxCalls))
		}
		if !inRange(c.Limits.RewriteErrors, MinErrors, MaxErrors) {
			issues = append(issues, fmt.Sprintf("Max Errors must be between %d and %d.", MinErrors, MaxErrors))
		}
		if !c.Rewrite.Allow {
			return issues
		}
		switch c.Rewrite.Provider {
		case RewriterGemini:
			if c.Gemini.Key == "" {
				issues = append(issues, "Gemini API Key is missing.")
			}
		case RewriterAnthropic:
			if c.Anthropic.Key == "" {
				issues = append(issues, "Anthropic API Key is missing.")
			}
		default:
			issues = append(issues, fmt.Sprintf("Unknown rewrite provider %q.", c.Rewrite.Provider))
		}
	}
	return issues
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

// Redacted returns a copy with every credential masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Tavily.Key = mask(out.Tavily.Key)
	out.Jina.Key = mask(out.Jina.Key)
	out.Firecrawl.Key = mask(out.Firecrawl.Key)
	out.Gemini.Key = mask(out.Gemini.Key)
	out.Anthropic.Key = mask(out.Anthropic.Key)
	if out.Store.DatabaseURL != "" {
		out.Store.DatabaseURL = "<redacted>"
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
