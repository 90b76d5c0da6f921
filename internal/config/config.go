package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env-file loaded in main).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Elks  ElksConfig
	Geo   GeoConfig
}

type AppConfig struct {
	Env  string
	Port int

	// BaseURL is the public callback base the telephony provider posts to.
	BaseURL string

	// MediaURL is where the hosted voice prompts live.
	MediaURL string
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
}

// ElksConfig carries the 46elks API credentials and the service's own number.
type ElksConfig struct {
	APIUsername string
	APIPassword string

	// Number is the E.164 number callers dial and outbound calls originate from.
	Number string

	// BaseURL of the provider REST API.
	BaseURL string

	// UserAgent and Host identify genuine provider webhooks.
	// The provider publishes both; they rarely need overriding.
	UserAgent string
	Host      string
}

type GeoConfig struct {
	// ZipDataPath points at the GeoNames-format postal code table.
	ZipDataPath string

	// VerifyCodeTTL bounds how long an SMS verification code stays valid.
	VerifyCodeTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	c.App.MediaURL = strings.TrimRight(strings.TrimSpace(os.Getenv("MEDIA_URL")), "/")

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

	c.Elks.APIUsername = strings.TrimSpace(os.Getenv("ELKS_API_USERNAME"))
	c.Elks.APIPassword = os.Getenv("ELKS_API_PASSWORD")
	c.Elks.Number = strings.TrimSpace(os.Getenv("ELKS_NUMBER"))
	c.Elks.BaseURL = strings.TrimSpace(os.Getenv("ELKS_BASE_URL"))
	c.Elks.UserAgent = strings.TrimSpace(os.Getenv("ELKS_USER_AGENT"))
	c.Elks.Host = strings.TrimSpace(os.Getenv("ELKS_HOST"))

	c.Geo.ZipDataPath = strings.TrimSpace(os.Getenv("ZIPDATA_PATH"))
	c.Geo.VerifyCodeTTL = mustDuration("VERIFY_CODE_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("BASE_URL is required"))
	}
	if c.App.MediaURL == "" {
		errs = append(errs, errors.New("MEDIA_URL is required"))
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
			// Local-friendly default; production must be explicit.
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

	if c.Elks.APIUsername == "" {
		errs = append(errs, errors.New("ELKS_API_USERNAME is required"))
	}
	if c.Elks.APIPassword == "" {
		errs = append(errs, errors.New("ELKS_API_PASSWORD is required"))
	}
	if c.Elks.Number == "" {
		errs = append(errs, errors.New("ELKS_NUMBER is required"))
	} else if !strings.HasPrefix(c.Elks.Number, "+") {
		errs = append(errs, fmt.Errorf("ELKS_NUMBER must be E.164, got %q", c.Elks.Number))
	}
	if c.Elks.BaseURL == "" {
		c.Elks.BaseURL = "https://api.46elks.com"
	}
	if c.Elks.UserAgent == "" {
		c.Elks.UserAgent = "46elks/0.2"
	}
	if c.Elks.Host == "" {
		c.Elks.Host = "api.46elks.com"
	}

	if c.Geo.ZipDataPath == "" {
		errs = append(errs, errors.New("ZIPDATA_PATH is required"))
	}
	if c.Geo.VerifyCodeTTL <= 0 {
		// Codes are short-lived; five minutes matches the SMS delivery window.
		c.Geo.VerifyCodeTTL = 5 * time.Minute
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
