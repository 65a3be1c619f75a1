// Package config loads the portal configuration from the environment.
//
// Values come from environment variables parsed with
// github.com/caarlos0/env. A .env file in the working directory is loaded
// first when present.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/joho/godotenv"
)

const (
	ProviderLocal  = "local"
	ProviderGoTrue = "gotrue"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the portal configuration.
type Config struct {
	// Dev enables template reloading and debug payload dumps.
	Dev  bool   `env:"DEV" envDefault:"false"`
	Addr string `env:"PORTAL_ADDR" envDefault:":8572"`
	// Views overrides the embedded templates with a directory on disk.
	Views string `env:"PORTAL_VIEWS"`

	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Provider ProviderConfig `envPrefix:"IDP_"`
	DB       DBConfig       `envPrefix:"DB_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Sendgrid SendgridConfig `envPrefix:"SENDGRID_"`
	Sessions SessionsConfig `envPrefix:"SESSIONS_"`
	Activity ActivityConfig `envPrefix:"ACTIVITY_"`
}

// AuthConfig holds token and cookie settings.
type AuthConfig struct {
	SigningKey string `env:"SIGNING_KEY"`
	// TokenExpiration is the access token lifetime in hours.
	TokenExpiration int `env:"TOKEN_EXPIRATION" envDefault:"24"`
	// ExtendedTokenDuration is the "remember me" cookie lifetime in hours.
	ExtendedTokenDuration int      `env:"EXTENDED_TOKEN_DURATION" envDefault:"720"`
	Issuer                string   `env:"ISSUER" envDefault:"portal"`
	Audience              []string `env:"AUDIENCE" envSeparator:","`
	CookieName            string   `env:"COOKIE_NAME" envDefault:"portal_session"`
	SecureCookies         bool     `env:"SECURE_COOKIES" envDefault:"true"`
	RejectedRouteKey      string   `env:"REJECTED_ROUTE_KEY" envDefault:"redirect_to"`
	RejectedRouteDefault  string   `env:"REJECTED_ROUTE_DEFAULT" envDefault:"/login"`
	// CSRFKey signs stateless CSRF tokens, at least 32 bytes.
	CSRFKey          string        `env:"CSRF_KEY"`
	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	CoolDown         time.Duration `env:"COOL_DOWN" envDefault:"24h"`
	HashidIDs        bool          `env:"HASHID_IDS" envDefault:"false"`
	PhoneRegion      string        `env:"PHONE_REGION" envDefault:"US"`
}

// ProviderConfig selects the identity provider.
type ProviderConfig struct {
	Mode      string        `env:"MODE" envDefault:"local"`
	URL       string        `env:"URL"`
	APIKey    string        `env:"API_KEY"`
	JWTSecret string        `env:"JWT_SECRET"`
	JWKSURL   string        `env:"JWKS_URL"`
	Issuer    string        `env:"ISSUER"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
	// SweepInterval is how often the local provider expires sessions.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// DBConfig selects the database.
type DBConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"file:portal.db?cache=shared"`
	Debug  bool   `env:"DEBUG" envDefault:"false"`
}

// RedisConfig enables cross instance session notifications when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Channel  string `env:"CHANNEL" envDefault:"portal:session_changes"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// SendgridConfig enables invitation emails when APIKey is set.
type SendgridConfig struct {
	APIKey    string `env:"API_KEY"`
	FromName  string `env:"FROM_NAME" envDefault:"Portal"`
	FromEmail string `env:"FROM_EMAIL"`
	AcceptURL string `env:"ACCEPT_URL"`
}

// Enabled reports whether invitations are delivered.
func (s SendgridConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// SessionsConfig tunes the session registry janitor.
type SessionsConfig struct {
	IdleTTL       time.Duration `env:"IDLE_TTL" envDefault:"12h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
}

// ActivityConfig sizes the in-memory system log.
type ActivityConfig struct {
	Capacity int `env:"CAPACITY" envDefault:"500"`
}

var _ auth.Config = Config{}

// Load reads files (default .env) into the environment, ignoring missing
// files, and parses the configuration.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "load .env file")
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse config")
	}

	cfg.Sanitize()
	return cfg, cfg.Validate()
}

// FromMap parses the configuration from environment, without touching the
// process environment.
func FromMap(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse config")
	}

	cfg.Sanitize()
	return cfg, cfg.Validate()
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	c.Provider.Mode = strings.ToLower(strings.TrimSpace(c.Provider.Mode))
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if c.DB.Driver == "postgresql" || c.DB.Driver == "pgx" {
		c.DB.Driver = DriverPostgres
	}
	if c.Auth.TokenExpiration <= 0 {
		c.Auth.TokenExpiration = 24
	}
	if c.Auth.ExtendedTokenDuration < c.Auth.TokenExpiration {
		c.Auth.ExtendedTokenDuration = c.Auth.TokenExpiration
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = 5 * time.Minute
	}
	if c.Activity.Capacity <= 0 {
		c.Activity.Capacity = 500
	}
}

// Validate will run validation rules
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.Auth.CSRFKey, validation.Length(32, 0)),
		validation.Field(&c.Auth.CookieName, validation.Required),
	); err != nil {
		return invalid(err, "auth")
	}

	if err := validation.ValidateStruct(&c.Provider,
		validation.Field(&c.Provider.Mode, validation.Required, validation.In(ProviderLocal, ProviderGoTrue)),
		validation.Field(&c.Provider.URL, validation.When(c.Provider.Mode == ProviderGoTrue, validation.Required, is.URL)),
	); err != nil {
		return invalid(err, "identity provider")
	}

	if err := validation.ValidateStruct(&c.DB,
		validation.Field(&c.DB.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DB.DSN, validation.Required),
	); err != nil {
		return invalid(err, "database")
	}

	if c.Sendgrid.Enabled() {
		if err := validation.ValidateStruct(&c.Sendgrid,
			validation.Field(&c.Sendgrid.FromEmail, validation.Required, is.Email),
		); err != nil {
			return invalid(err, "sendgrid")
		}
	}

	return nil
}

func invalid(err error, section string) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, section+": invalid configuration").
		WithMetadata(map[string]any{"section": section, "fields": err.Error()})
}

func (c Config) GetSigningKey() string           { return c.Auth.SigningKey }
func (c Config) GetSigningMethod() string        { return "HS256" }
func (c Config) GetContextKey() string           { return c.Auth.CookieName }
func (c Config) GetTokenExpiration() int         { return c.Auth.TokenExpiration }
func (c Config) GetExtendedTokenDuration() int   { return c.Auth.ExtendedTokenDuration }
func (c Config) GetIssuer() string               { return c.Auth.Issuer }
func (c Config) GetAudience() []string           { return c.Auth.Audience }
func (c Config) GetRejectedRouteKey() string     { return c.Auth.RejectedRouteKey }
func (c Config) GetRejectedRouteDefault() string { return c.Auth.RejectedRouteDefault }
