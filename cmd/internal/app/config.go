package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	authapi "github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/api"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/discord"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/auth/session"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/dbschema"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/forum"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/modfeed"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/posttoken"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/storage"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/mfa"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/password"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/token"
)

// EnvPrefix namespaces environment overrides: http.addr is BYTEHACK_HTTP_ADDR.
const EnvPrefix = "BYTEHACK"

// Config is the full runtime configuration.
type Config struct {
	// Env is "development" or "production". Production refuses ephemeral secrets
	// and in-memory stores.
	Env string `mapstructure:"env"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`

	Session    session.Config   `mapstructure:"session"`
	API        authapi.Config   `mapstructure:"api"`
	Password   password.Config  `mapstructure:"password"`
	MFA        mfa.Config       `mapstructure:"mfa"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	PostToken  PostTokenConfig  `mapstructure:"post_token"`
	Forum      forum.Limits     `mapstructure:"forum"`
	Storage    storage.Config   `mapstructure:"storage"`
	Discord    discord.Config   `mapstructure:"discord"`
	Feed       modfeed.Config   `mapstructure:"feed"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// HTTPConfig controls the listener and the outer middleware.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`

	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `mapstructure:"cors_max_age_seconds"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or pretty
	Color  bool   `mapstructure:"color"`
	Source bool   `mapstructure:"source"`
}

// DatabaseConfig points at Postgres. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	Schema         string `mapstructure:"schema"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
	RequireReady   bool   `mapstructure:"require_ready"`
}

// RedisConfig points at Redis. When set, rate-limit buckets and job locks live there.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// ModerationConfig controls the ban gate.
type ModerationConfig struct {
	FailMode string `mapstructure:"fail_mode"`
}

// PostTokenConfig controls one-time post tokens.
type PostTokenConfig struct {
	// SecretHex is the hex-encoded HMAC key, at least 32 bytes.
	SecretHex string           `mapstructure:"secret_hex"`
	TTL       time.Duration    `mapstructure:"ttl"`
	Limits    posttoken.Limits `mapstructure:"limits"`
}

// JobsConfig schedules maintenance. Empty schedules disable a task.
type JobsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PurgeTokens  string        `mapstructure:"purge_tokens"`
	PurgeBuckets string        `mapstructure:"purge_buckets"`
	BucketGrace  time.Duration `mapstructure:"bucket_grace"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              "0.0.0.0:8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxHeaderBytes:    1 << 20,

			CORSAllowedOrigins:   []string{"http://localhost:3000"},
			CORSAllowCredentials: true,
			CORSMaxAgeSeconds:    600,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Schema:   dbschema.DefaultSchema,
			MaxConns: 10,
		},
		Session:    session.DefaultConfig(),
		API:        authapi.DefaultConfig(),
		Password:   password.DefaultConfig(),
		MFA:        mfa.DefaultConfig(),
		Moderation: ModerationConfig{FailMode: string(moderation.FailOpen)},
		PostToken: PostTokenConfig{
			TTL:    10 * time.Minute,
			Limits: posttoken.DefaultLimits(),
		},
		Forum:   forum.DefaultLimits(),
		Storage: storage.DefaultConfig(),
		Feed:    modfeed.DefaultConfig(),
		Jobs: JobsConfig{
			Enabled:      true,
			PurgeTokens:  "*/15 * * * *",
			PurgeBuckets: "7 * * * *",
			BucketGrace:  time.Hour,
			Timeout:      time.Minute,
		},
	}
}

// envKeys are the settings that may come from BYTEHACK_* variables.
var envKeys = []string{
	"env",
	"http.addr", "http.read_header_timeout", "http.read_timeout", "http.write_timeout",
	"http.idle_timeout", "http.shutdown_timeout", "http.max_header_bytes",
	"http.cors_allowed_origins", "http.cors_allow_credentials", "http.cors_max_age_seconds",
	"log.level", "log.format", "log.color", "log.source",
	"database.url", "database.schema", "database.max_conns", "database.min_conns",
	"database.migrate_on_start", "database.require_ready",
	"redis.url",
	"session.issuer", "session.access_ttl", "session.clock_skew", "session.secret_key_hex", "session.cookie_secure",
	"api.trust_proxy", "api.max_body_bytes", "api.allowed_origins", "api.cookie_domain", "api.cookie_secure",
	"api.post_login_redirect", "api.invite_ttl", "api.invite_max_ttl", "api.fingerprint_header",
	"moderation.fail_mode",
	"mfa.issuer", "mfa.skew",
	"post_token.secret_hex", "post_token.ttl",
	"storage.bucket", "storage.region", "storage.endpoint", "storage.access_key_id",
	"storage.secret_access_key", "storage.use_path_style", "storage.max_upload_bytes",
	"discord.client_id", "discord.client_secret", "discord.redirect_url",
	"feed.allowed_origins", "feed.origin_required",
	"jobs.enabled", "jobs.purge_tokens", "jobs.purge_buckets", "jobs.bucket_grace", "jobs.timeout",
}

// NewViper returns a viper instance wired for BYTEHACK_* overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// LoadConfig reads file (optional) into v and decodes it over DefaultConfig.
func LoadConfig(v *viper.Viper, file string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Production reports whether the strict production policy applies.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// Validate rejects unusable configs. Package-level settings are checked again by
// their constructors.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or pretty", c.Log.Format))
	}
	if _, err := moderation.ParseFailMode(c.Moderation.FailMode); err != nil {
		errs = append(errs, fmt.Errorf("moderation.fail_mode: %w", err))
	}
	if err := c.API.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.MFA.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mfa: %w", err))
	}
	if c.PostToken.SecretHex != "" {
		if _, err := c.postTokenSecret(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Production() {
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, errors.New("database.url is required in production"))
		}
		if strings.TrimSpace(c.Session.SecretKeyHex) == "" {
			errs = append(errs, errors.New("session.secret_key_hex is required in production"))
		}
		if strings.TrimSpace(c.PostToken.SecretHex) == "" {
			errs = append(errs, errors.New("post_token.secret_hex is required in production"))
		}
	}
	return errors.Join(errs...)
}

func (c Config) postTokenSecret() ([]byte, error) {
	b, err := token.SecretFromHex(c.PostToken.SecretHex, token.MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("post_token.secret_hex: %w", err)
	}
	return b, nil
}
