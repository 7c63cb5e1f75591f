package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the callctl process.
// Values come from the environment, optionally seeded from an env file (ENV_FILE, default .env).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Signaling   SignalingConfig
	Media       MediaConfig
	Suggestions SuggestionsConfig
	Session     SessionConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int

	// SnapshotKey holds the latest session snapshot; SnapshotChannel receives every update.
	SnapshotKey     string
	SnapshotChannel string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type SignalingConfig struct {
	BaseURL string
	// APIKey is used as the bearer token when the caller did not supply one.
	APIKey     string
	Timeout    time.Duration
	EndTimeout time.Duration
}

type MediaConfig struct {
	SampleRate     int
	Channels       int
	ChunkInterval  time.Duration
	FlushTimeout   time.Duration
	RecordingDelay time.Duration

	// MicDevice is a path to a raw PCM16LE source (device node or FIFO). Empty means no microphone.
	MicDevice string
}

type SuggestionsConfig struct {
	PollInterval    time.Duration
	MaxAttempts     int
	MinCallDuration time.Duration
}

type SessionConfig struct {
	TickInterval time.Duration
	// GuardTTL bounds the cross-device single-session lock. Zero disables the guard.
	GuardTTL time.Duration
}

// Load reads the env file (if present) and then the process environment.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.SnapshotKey = strings.TrimSpace(os.Getenv("REDIS_SNAPSHOT_KEY"))
	c.Redis.SnapshotChannel = strings.TrimSpace(os.Getenv("REDIS_SNAPSHOT_CHANNEL"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Signaling.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SIGNALING_BASE_URL")), "/")
	c.Signaling.APIKey = os.Getenv("SIGNALING_API_KEY")
	c.Signaling.Timeout = mustDuration("SIGNALING_TIMEOUT")
	c.Signaling.EndTimeout = mustDuration("SIGNALING_END_TIMEOUT")

	// Media and suggestion knobs are optional; defaults are applied in Validate().
	c.Media.SampleRate, parseErrs = optionalInt(parseErrs, "MEDIA_SAMPLE_RATE")
	c.Media.Channels, parseErrs = optionalInt(parseErrs, "MEDIA_CHANNELS")
	c.Media.ChunkInterval = mustDuration("MEDIA_CHUNK_INTERVAL")
	c.Media.FlushTimeout = mustDuration("MEDIA_FLUSH_TIMEOUT")
	c.Media.RecordingDelay = mustDuration("MEDIA_RECORDING_DELAY")
	c.Media.MicDevice = strings.TrimSpace(os.Getenv("MEDIA_MIC_DEVICE"))

	c.Suggestions.PollInterval = mustDuration("SUGGEST_POLL_INTERVAL")
	c.Suggestions.MaxAttempts, parseErrs = optionalInt(parseErrs, "SUGGEST_MAX_ATTEMPTS")
	c.Suggestions.MinCallDuration = mustDuration("SUGGEST_MIN_CALL_DURATION")

	c.Session.TickInterval = mustDuration("SESSION_TICK_INTERVAL")
	if v := strings.TrimSpace(os.Getenv("SESSION_GUARD_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("SESSION_GUARD_TTL must be a duration, got %q", v))
		}
		c.Session.GuardTTL = d
	} else {
		c.Session.GuardTTL = 4 * time.Hour
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.SnapshotKey == "" {
		c.Redis.SnapshotKey = "callplane:session"
	}
	if c.Redis.SnapshotChannel == "" {
		c.Redis.SnapshotChannel = "callplane:session:updates"
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Signaling.BaseURL == "" {
		errs = append(errs, errors.New("SIGNALING_BASE_URL is required"))
	} else if u, err := url.Parse(c.Signaling.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SIGNALING_BASE_URL must be an absolute URL, got %q", c.Signaling.BaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("SIGNALING_BASE_URL must use https in production"))
	}
	if c.Signaling.Timeout <= 0 {
		c.Signaling.Timeout = 10 * time.Second
	}
	if c.Signaling.EndTimeout <= 0 {
		c.Signaling.EndTimeout = 5 * time.Second
	}

	if c.Media.SampleRate == 0 {
		c.Media.SampleRate = 48000
	}
	if c.Media.SampleRate < 8000 || c.Media.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("MEDIA_SAMPLE_RATE must be between 8000 and 192000, got %d", c.Media.SampleRate))
	}
	if c.Media.Channels == 0 {
		c.Media.Channels = 1
	}
	if c.Media.Channels != 1 && c.Media.Channels != 2 {
		errs = append(errs, fmt.Errorf("MEDIA_CHANNELS must be 1 or 2, got %d", c.Media.Channels))
	}
	if c.Media.ChunkInterval <= 0 {
		c.Media.ChunkInterval = time.Second
	}
	if c.Media.FlushTimeout <= 0 {
		c.Media.FlushTimeout = 2 * time.Second
	}
	if c.Media.RecordingDelay <= 0 {
		c.Media.RecordingDelay = 2 * time.Second
	}

	if c.Suggestions.PollInterval <= 0 {
		c.Suggestions.PollInterval = 3 * time.Second
	}
	if c.Suggestions.MaxAttempts == 0 {
		c.Suggestions.MaxAttempts = 20
	}
	if c.Suggestions.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("SUGGEST_MAX_ATTEMPTS must be positive, got %d", c.Suggestions.MaxAttempts))
	}
	if c.Suggestions.MinCallDuration <= 0 {
		c.Suggestions.MinCallDuration = 10 * time.Second
	}

	if c.Session.TickInterval <= 0 {
		c.Session.TickInterval = time.Second
	}
	if c.Session.GuardTTL < 0 {
		errs = append(errs, errors.New("SESSION_GUARD_TTL must not be negative"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

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

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

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
