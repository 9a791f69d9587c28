package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ulule/limiter/v3"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	Log        LogConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	AssemblyAI AssemblyAIConfig
	Deepgram   DeepgramConfig
	OpenAI     OpenAIConfig
	SMTP       SMTPConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Agents     AgentsConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is how Twilio reaches this service; webhook and stream
	// URLs handed to Twilio are built from it.
	PublicBaseURL string
	DashboardURL  string
	Company       string
}

type LogConfig struct {
	File      string
	MaxSizeMB int
}

// DBConfig is optional. An empty Host disables the primary store and every
// write goes to the fallback file.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. When set it backs the job registry and relays
// broadcast events between instances.
type RedisConfig struct {
	Host             string
	Port             int
	Password         string
	BroadcastChannel string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// BootstrapKey authorizes token issuance for dashboard users.
	BootstrapKey string
	// RateLimit bounds token requests per client IP, e.g. "20-M".
	RateLimit string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the caller id for outbound calls.
	FromNumber string
}

type AssemblyAIConfig struct {
	APIKey  string
	BaseURL string
}

// DeepgramConfig is optional; an empty key disables live transcription.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type PipelineConfig struct {
	PollInterval   time.Duration
	MaxAttempts    int
	AlertRecipient string
	// JobTTL bounds how long a recording claim is remembered.
	JobTTL time.Duration
}

type StorageConfig struct {
	FallbackPath string
	// ReconcileSchedule is a cron spec; empty disables scheduled reconciliation.
	ReconcileSchedule string
}

type AgentsConfig struct {
	File string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	intVar := func(dst *int, key string, required bool) {
		n, err := envInt(key, required)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}
	durVar := func(dst *time.Duration, key string) {
		d, err := envDuration(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = d
	}

	c.App.Env = env("APP_ENV")
	intVar(&c.App.Port, "APP_PORT", true)
	c.App.PublicBaseURL = env("PUBLIC_BASE_URL")
	c.App.DashboardURL = env("DASHBOARD_URL")
	c.App.Company = env("COMPANY_NAME")

	c.Log.File = env("LOG_FILE")
	intVar(&c.Log.MaxSizeMB, "LOG_MAX_SIZE_MB", false)

	c.DB.Host = env("DB_HOST")
	intVar(&c.DB.Port, "DB_PORT", false)
	c.DB.User = env("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = env("DB_NAME")
	c.DB.SSLMode = env("DB_SSLMODE")

	c.Redis.Host = env("REDIS_HOST")
	intVar(&c.Redis.Port, "REDIS_PORT", false)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.BroadcastChannel = env("REDIS_BROADCAST_CHANNEL")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = env("JWT_ISSUER")
	c.Auth.JWTAudience = env("JWT_AUDIENCE")
	// Duration env vars are optional; defaults applied in Validate() based on env.
	durVar(&c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")
	durVar(&c.Auth.RefreshTokenTTL, "JWT_REFRESH_TTL")
	c.Auth.BootstrapKey = os.Getenv("AUTH_BOOTSTRAP_KEY")
	c.Auth.RateLimit = env("AUTH_RATE_LIMIT")

	c.Twilio.AccountSID = env("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = env("TWILIO_FROM_NUMBER")

	c.AssemblyAI.APIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	c.AssemblyAI.BaseURL = env("ASSEMBLYAI_BASE_URL")

	c.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	c.Deepgram.Model = env("DEEPGRAM_MODEL")
	c.Deepgram.Language = env("DEEPGRAM_LANGUAGE")

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.Model = env("OPENAI_MODEL")
	c.OpenAI.BaseURL = env("OPENAI_BASE_URL")

	c.SMTP.Host = env("SMTP_HOST")
	intVar(&c.SMTP.Port, "SMTP_PORT", false)
	c.SMTP.Username = env("SMTP_USER")
	c.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	c.SMTP.From = env("SMTP_FROM")
	c.SMTP.FromName = env("SMTP_FROM_NAME")

	durVar(&c.Pipeline.PollInterval, "PIPELINE_POLL_INTERVAL")
	intVar(&c.Pipeline.MaxAttempts, "PIPELINE_MAX_ATTEMPTS", false)
	c.Pipeline.AlertRecipient = env("LEAD_ALERT_RECIPIENT")
	durVar(&c.Pipeline.JobTTL, "PIPELINE_JOB_TTL")

	c.Storage.FallbackPath = env("FALLBACK_STORE_PATH")
	c.Storage.ReconcileSchedule = env("RECONCILE_SCHEDULE")

	c.Agents.File = env("AGENTS_FILE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every violation at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		} else {
			c.App.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	} else if u, err := url.Parse(c.App.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.App.PublicBaseURL))
	}
	if c.App.Company == "" {
		c.App.Company = "Our Mortgage Team"
	}

	if c.DB.Enabled() {
		if c.DB.Port == 0 {
			c.DB.Port = 5432
		}
		if !validPort(c.DB.Port) {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Enabled() {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if !validPort(c.Redis.Port) {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}
	if c.Redis.BroadcastChannel == "" {
		c.Redis.BroadcastChannel = "call-events"
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Auth.RateLimit == "" {
		c.Auth.RateLimit = "20-M"
	}
	if _, err := limiter.NewRateFromFormatted(c.Auth.RateLimit); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_RATE_LIMIT invalid: %w", err))
	}

	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
	}
	if c.AssemblyAI.APIKey == "" {
		errs = append(errs, errors.New("ASSEMBLYAI_API_KEY is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}

	if c.SMTP.Host == "" {
		errs = append(errs, errors.New("SMTP_HOST is required"))
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if !validPort(c.SMTP.Port) {
		errs = append(errs, fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTP.Port))
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	if !strings.Contains(c.SMTP.From, "@") {
		errs = append(errs, fmt.Errorf("SMTP_FROM must be an email address, got %q", c.SMTP.From))
	}
	if c.SMTP.FromName == "" {
		c.SMTP.FromName = c.App.Company
	}

	if c.Pipeline.PollInterval <= 0 {
		c.Pipeline.PollInterval = 5 * time.Second
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 60
	}
	if c.Pipeline.JobTTL <= 0 {
		c.Pipeline.JobTTL = 24 * time.Hour
	}
	if maxWait := c.Pipeline.PollInterval * time.Duration(c.Pipeline.MaxAttempts); c.Pipeline.JobTTL < maxWait {
		errs = append(errs, fmt.Errorf("PIPELINE_JOB_TTL must cover the polling window of %s", maxWait))
	}

	if c.Storage.FallbackPath == "" {
		c.Storage.FallbackPath = "data/call-records.json"
	}
	if c.Storage.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Storage.ReconcileSchedule); err != nil {
			errs = append(errs, fmt.Errorf("RECONCILE_SCHEDULE is not a valid cron spec: %v", err))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (d DBConfig) Enabled() bool    { return d.Host != "" }
func (r RedisConfig) Enabled() bool { return r.Host != "" }

// LiveTranscription reports whether a live provider is configured.
func (c Config) LiveTranscription() bool { return c.Deepgram.APIKey != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func envInt(key string, required bool) (int, error) {
	v := env(key)
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", key)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
