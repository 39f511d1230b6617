package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded by a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Payment      PaymentConfig
	Kafka        KafkaConfig
	Mongo        MongoConfig
	Provisioning ProvisioningConfig
	WorkerPool   WorkerPoolConfig
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

	MigrationsPath string
}

// RedisConfig is optional; an empty host disables the Initiate concurrency cap.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type PaymentConfig struct {
	PaystackBaseURL   string
	PaystackSecretKey string
	CallbackURL       string

	MinAmount      decimal.Decimal
	GatewayTimeout time.Duration
	PendingTTL     time.Duration
	SweepInterval  time.Duration

	// InitiateCap bounds concurrent Initiate calls per account.
	InitiateCap int
}

// KafkaConfig is optional; no brokers means ledger events are not published.
type KafkaConfig struct {
	Brokers     []string
	LedgerTopic string
}

// MongoConfig is optional; no URI keeps audit events in memory.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// ProvisioningConfig is optional; no base URL selects the logging provider.
type ProvisioningConfig struct {
	ERSBaseURL string
	ERSAPIKey  string
	ERSTimeout time.Duration
}

type WorkerPoolConfig struct {
	Size int
}

// Load reads configuration from the environment (and ./.env when present).
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read .env: %w", err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	var parseErrs []error

	c := Config{}
	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port = v.GetInt("APP_PORT")

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))
	c.DB.MigrationsPath = strings.TrimSpace(v.GetString("DB_MIGRATIONS_PATH"))

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port = v.GetInt("REDIS_PORT")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TTL")

	c.Payment.PaystackBaseURL = strings.TrimSpace(v.GetString("PAYSTACK_BASE_URL"))
	c.Payment.PaystackSecretKey = v.GetString("PAYSTACK_SECRET_KEY")
	c.Payment.CallbackURL = strings.TrimSpace(v.GetString("PAYMENT_CALLBACK_URL"))
	if raw := strings.TrimSpace(v.GetString("PAYMENT_MIN_AMOUNT")); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("PAYMENT_MIN_AMOUNT must be a decimal, got %q", raw))
		}
		c.Payment.MinAmount = d
	}
	c.Payment.GatewayTimeout = v.GetDuration("PAYMENT_GATEWAY_TIMEOUT")
	c.Payment.PendingTTL = v.GetDuration("PAYMENT_PENDING_TTL")
	c.Payment.SweepInterval = v.GetDuration("PAYMENT_SWEEP_INTERVAL")
	c.Payment.InitiateCap = v.GetInt("PAYMENT_INITIATE_CAP")

	c.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	c.Kafka.LedgerTopic = strings.TrimSpace(v.GetString("KAFKA_LEDGER_TOPIC"))

	c.Mongo.URI = strings.TrimSpace(v.GetString("MONGO_URI"))
	c.Mongo.Database = strings.TrimSpace(v.GetString("MONGO_DATABASE"))
	c.Mongo.Timeout = v.GetDuration("MONGO_TIMEOUT")

	c.Provisioning.ERSBaseURL = strings.TrimSpace(v.GetString("ERS_BASE_URL"))
	c.Provisioning.ERSAPIKey = v.GetString("ERS_API_KEY")
	c.Provisioning.ERSTimeout = v.GetDuration("ERS_TIMEOUT")

	c.WorkerPool.Size = v.GetInt("WORKER_POOL_SIZE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_MIGRATIONS_PATH", "migrations/postgres")
	v.SetDefault("REDIS_PORT", 6379)

	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYMENT_MIN_AMOUNT", "100.00")
	v.SetDefault("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second)
	// Paystack checkout links stay valid for a day; keep stubs at least that long.
	v.SetDefault("PAYMENT_PENDING_TTL", 24*time.Hour)
	v.SetDefault("PAYMENT_SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("PAYMENT_INITIATE_CAP", 3)

	v.SetDefault("KAFKA_LEDGER_TOPIC", "ledger_events")
	v.SetDefault("MONGO_DATABASE", "glovendor")
	v.SetDefault("MONGO_TIMEOUT", 10*time.Second)
	v.SetDefault("ERS_TIMEOUT", 30*time.Second)
	v.SetDefault("WORKER_POOL_SIZE", 10)
}

// Validate checks required values and fills environment-dependent defaults.
// Every problem is reported at once.
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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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

	if c.Payment.PaystackSecretKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("PAYSTACK_SECRET_KEY is required in production"))
	}
	if c.Payment.MinAmount.IsZero() {
		c.Payment.MinAmount = decimal.NewFromInt(100)
	}
	if c.Payment.MinAmount.IsNegative() {
		errs = append(errs, errors.New("PAYMENT_MIN_AMOUNT must be positive"))
	}
	if c.Payment.GatewayTimeout <= 0 {
		c.Payment.GatewayTimeout = 10 * time.Second
	}
	if c.Payment.PendingTTL <= 0 {
		c.Payment.PendingTTL = 24 * time.Hour
	}
	if c.Payment.SweepInterval <= 0 {
		c.Payment.SweepInterval = 5 * time.Minute
	}
	if c.Payment.InitiateCap < 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_INITIATE_CAP must be >= 0, got %d", c.Payment.InitiateCap))
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.LedgerTopic == "" {
		errs = append(errs, errors.New("KAFKA_LEDGER_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		errs = append(errs, errors.New("MONGO_DATABASE is required when MONGO_URI is set"))
	}
	if c.Provisioning.ERSBaseURL != "" {
		if _, err := url.ParseRequestURI(c.Provisioning.ERSBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("ERS_BASE_URL must be a URL, got %q", c.Provisioning.ERSBaseURL))
		}
	}
	if c.WorkerPool.Size <= 0 {
		c.WorkerPool.Size = 10
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

// PostgresURL is the URL form required by golang-migrate.
func (c Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return u.String()
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
