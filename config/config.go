package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the newsletter agent service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Content   ContentConfig   `mapstructure:"content"`
	Article   ArticleConfig   `mapstructure:"article"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains process level settings
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
	// RequestTimeout bounds a single /agent run; zero disables the deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig selects the model backend and its sampling knobs
type LLMConfig struct {
	Backend               string         `mapstructure:"backend"` // gemini, openai
	Gemini                ProviderConfig `mapstructure:"gemini"`
	OpenAI                ProviderConfig `mapstructure:"openai"`
	MaxSteps              int            `mapstructure:"max_steps"`
	PlannerTemperature    float64        `mapstructure:"planner_temperature"`
	WriterTemperature     float64        `mapstructure:"writer_temperature"`
	StructuredTemperature float64        `mapstructure:"structured_temperature"`
}

// ProviderConfig represents a single model provider
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

func (l LLMConfig) Validate() error {
	switch l.Backend {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.backend must be gemini or openai, got %q", l.Backend)
	}
	if l.MaxSteps <= 0 {
		return errors.New("llm.max_steps must be > 0")
	}
	return nil
}

// LoggingConfig controls the per-request log cache and its console mirror
type LoggingConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Console       bool          `mapstructure:"console"`
	ConsoleLevel  string        `mapstructure:"console_level"`
	TruncateAt    int           `mapstructure:"truncate_at"`
}

func (l LoggingConfig) Validate() error {
	if l.MaxEntries <= 0 {
		return errors.New("logging.max_entries must be > 0")
	}
	if l.TTL <= 0 {
		return errors.New("logging.ttl must be > 0")
	}
	return nil
}

// ContentConfig selects where fetch_sources and summarize get their data
type ContentConfig struct {
	Backend   string        `mapstructure:"backend"` // mock, remote
	RemoteURL string        `mapstructure:"remote_url"`
	FillTo    int           `mapstructure:"fill_to"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
}

func (c ContentConfig) Validate() error {
	switch c.Backend {
	case "mock":
	case "remote":
		if _, err := url.ParseRequestURI(c.RemoteURL); err != nil {
			return fmt.Errorf("content.remote_url is required for the remote backend: %w", err)
		}
	default:
		return fmt.Errorf("content.backend must be mock or remote, got %q", c.Backend)
	}
	return nil
}

// ArticleConfig controls how article_url seeds are fetched
type ArticleConfig struct {
	Fetcher  string            `mapstructure:"fetcher"` // http, browser, none
	MaxChars int               `mapstructure:"max_chars"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Policy   CrawlPolicyConfig `mapstructure:"policy"`
	// AllowPrivate lets article_url reach loopback and private networks.
	AllowPrivate bool `mapstructure:"allow_private"`
}

func (a ArticleConfig) Validate() error {
	switch a.Fetcher {
	case "http", "browser", "none", "":
	default:
		return fmt.Errorf("article.fetcher must be http, browser or none, got %q", a.Fetcher)
	}
	return a.Policy.Validate()
}

// GuardrailConfig tunes the fallback chain
type GuardrailConfig struct {
	// EmptyRender is "allow" to render a content-empty newsletter when both
	// fetches return nothing, or "reject" to fail the run instead.
	EmptyRender     string `mapstructure:"empty_render"`
	SummaryMaxChars int    `mapstructure:"summary_max_chars"`
}

func (g GuardrailConfig) Validate() error {
	if g.EmptyRender != "allow" && g.EmptyRender != "reject" {
		return fmt.Errorf("guardrail.empty_render must be allow or reject, got %q", g.EmptyRender)
	}
	return nil
}

// DeliveryConfig selects the mail transport explicitly
type DeliveryConfig struct {
	Transport string     `mapstructure:"transport"` // smtp, mock
	SMTP      SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (d DeliveryConfig) Validate() error {
	switch d.Transport {
	case "mock":
	case "smtp":
		if strings.TrimSpace(d.SMTP.Host) == "" {
			return errors.New("delivery.smtp.host is required when delivery.transport is smtp")
		}
	default:
		return fmt.Errorf("delivery.transport must be smtp or mock, got %q", d.Transport)
	}
	return nil
}

// StorageConfig contains optional persistence backends
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether enough settings exist to open a connection.
func (p PostgresConfig) Enabled() bool {
	return p.URL != "" || (p.Host != "" && p.DBName != "")
}

// DSN builds a lib/pq connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Prefix     string        `mapstructure:"prefix"`
	ArchiveTTL time.Duration `mapstructure:"archive_ttl"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []func() error{
		c.LLM.Validate,
		c.Logging.Validate,
		c.Content.Validate,
		c.Article.Validate,
		c.Guardrail.Validate,
		c.Delivery.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.listen", ":10001")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.request_timeout", 0)

	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("llm.backend", "gemini")
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.max_steps", 10)
	v.SetDefault("llm.planner_temperature", 0.2)
	v.SetDefault("llm.writer_temperature", 0.4)
	v.SetDefault("llm.structured_temperature", 0.2)

	v.SetDefault("logging.max_entries", 200)
	v.SetDefault("logging.ttl", 10*time.Minute)
	v.SetDefault("logging.sweep_interval", 30*time.Second)
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.console_level", "debug")
	v.SetDefault("logging.truncate_at", 1500)

	v.SetDefault("content.backend", "mock")
	v.SetDefault("content.remote_url", "")
	v.SetDefault("content.fill_to", 5)
	v.SetDefault("content.timeout", 15*time.Second)
	v.SetDefault("content.retries", 2)

	v.SetDefault("article.fetcher", "http")
	v.SetDefault("article.max_chars", 6000)
	v.SetDefault("article.timeout", 20*time.Second)
	v.SetDefault("article.allow_private", false)

	v.SetDefault("guardrail.empty_render", "allow")
	v.SetDefault("guardrail.summary_max_chars", 400)

	v.SetDefault("delivery.transport", "mock")
	v.SetDefault("delivery.smtp.host", "")
	v.SetDefault("delivery.smtp.port", 25)
	v.SetDefault("delivery.smtp.user", "")
	v.SetDefault("delivery.smtp.password", "")
	v.SetDefault("delivery.smtp.from", "no-reply")

	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "newsletter")
	v.SetDefault("storage.redis.archive_ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "newsletter-agent")
}

// Load reads configuration from path (or the default search paths when empty),
// overlays NEWSLETTER_* environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// well-known provider variables
	_ = v.BindEnv("llm.gemini.api_key", "NEWSLETTER_LLM_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY")
	_ = v.BindEnv("llm.openai.api_key", "NEWSLETTER_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Article.Policy = cfg.Article.Policy.Normalize()
	return &cfg, nil
}

// LoadConfig is Load for command entrypoints; it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
