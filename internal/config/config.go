package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var (
	ErrInvalidEnvironment = errors.New("invalid_environment")
	// ErrDevModeInLive is returned when the credit-waiver profile is
	// requested for a deployment that bills real users. Startup must
	// fail rather than silently ignore the flag.
	ErrDevModeInLive = errors.New("dev_mode_forbidden_in_live_environment")
)

// Config carries all deployment settings, loaded once at startup.
type Config struct {
	Environment string `env:"SEO_PRO_ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"SEO_PRO_HTTP_ADDR" envDefault:":8080"`

	// DevMode waives credit charging. Validated against Environment:
	// enabling it outside development is a startup error.
	DevMode bool `env:"SEO_PRO_DEV_MODE" envDefault:"false"`

	DatabaseDSN string `env:"SEO_PRO_DATABASE_DSN"`

	RedisAddr     string `env:"SEO_PRO_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"SEO_PRO_REDIS_PASSWORD"`
	TaskQueueName string `env:"SEO_PRO_TASK_QUEUE" envDefault:"seo-audit-queue"`

	HTTPWorkerURL    string `env:"SEO_PRO_HTTP_WORKER_URL"`
	BrowserWorkerURL string `env:"SEO_PRO_BROWSER_WORKER_URL"`

	JWKSURL       string        `env:"SEO_PRO_JWKS_URL"`
	TokenIssuer   string        `env:"SEO_PRO_TOKEN_ISSUER"`
	TokenAudience string        `env:"SEO_PRO_TOKEN_AUDIENCE"`
	JWKSCacheTTL  time.Duration `env:"SEO_PRO_JWKS_CACHE_TTL" envDefault:"15m"`

	QuoteTTL time.Duration `env:"SEO_PRO_QUOTE_TTL" envDefault:"30m"`

	MailAPIURL  string `env:"SEO_PRO_MAIL_API_URL"`
	MailAPIKey  string `env:"SEO_PRO_MAIL_API_KEY"`
	MailSender  string `env:"SEO_PRO_MAIL_SENDER" envDefault:"noreply@seopro.example.com"`
	AdminEmails string `env:"SEO_PRO_ADMIN_EMAILS"`

	TracingEnabled   bool    `env:"SEO_PRO_TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint  string  `env:"SEO_PRO_TRACING_ENDPOINT"`
	TracingProtocol  string  `env:"SEO_PRO_TRACING_PROTOCOL" envDefault:"grpc"`
	TracingSampling  float64 `env:"SEO_PRO_TRACING_SAMPLING" envDefault:"1.0"`
	ServiceName      string  `env:"SEO_PRO_SERVICE_NAME" envDefault:"seo-pro"`
	ServiceVersion   string  `env:"SEO_PRO_SERVICE_VERSION" envDefault:"dev"`
	RateLimitPerMin  int     `env:"SEO_PRO_RATE_LIMIT_PER_MIN" envDefault:"60"`
	SeedDevAccount   bool    `env:"SEO_PRO_SEED_DEV_ACCOUNT" envDefault:"false"`
	SeedDevSubject   string  `env:"SEO_PRO_SEED_DEV_SUBJECT" envDefault:"dev-user"`
	SeedDevBalance   int64   `env:"SEO_PRO_SEED_DEV_BALANCE" envDefault:"100"`
	ScannerUserAgent string  `env:"SEO_PRO_SCANNER_USER_AGENT" envDefault:"SEO Pro/1.0 (+https://seopro.example.com/bot)"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces cross-field constraints. The DevMode check is
// fail-closed: a live profile with the waiver set refuses to boot.
func (c Config) Validate() error {
	env := strings.TrimSpace(c.Environment)
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEnvironment, c.Environment)
	}
	if c.DevMode && env != EnvDevelopment {
		return fmt.Errorf("%w: environment=%s", ErrDevModeInLive, env)
	}
	return nil
}

// IsProduction reports whether the deployment bills real users.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// AdminEmailList splits the configured admin recipients.
func (c Config) AdminEmailList() []string {
	if strings.TrimSpace(c.AdminEmails) == "" {
		return nil
	}
	parts := strings.Split(c.AdminEmails, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
