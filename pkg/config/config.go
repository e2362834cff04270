package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	GCP     GCPConfig
	PubSub  PubSubConfig
	Stripe  StripeConfig
	Finance FinanceConfig
	Cron    CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Finance.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CLINIC_APP_ENV" required:"true"`
	Port         string   `envconfig:"CLINIC_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"CLINIC_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CLINIC_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool     `envconfig:"CLINIC_AUTO_MIGRATE" default:"false"`
	CORSOrigins  []string `envconfig:"CLINIC_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CLINIC_DB_DSN"`
	Driver string `envconfig:"CLINIC_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CLINIC_DB_HOST"`
	Port     int    `envconfig:"CLINIC_DB_PORT" default:"5432"`
	User     string `envconfig:"CLINIC_DB_USER"`
	Password string `envconfig:"CLINIC_DB_PASSWORD"`
	Name     string `envconfig:"CLINIC_DB_NAME"`
	SSLMode  string `envconfig:"CLINIC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLINIC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLINIC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLINIC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLINIC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the local embedded driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CLINIC_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"CLINIC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLINIC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLINIC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLINIC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLINIC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CLINIC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CLINIC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CLINIC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CLINIC_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CLINIC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CLINIC_GCP_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string        `envconfig:"CLINIC_PUBSUB_NOTIFICATION_TOPIC" default:"clinic-finance-notifications"`
	PublishTimeout    time.Duration `envconfig:"CLINIC_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
}

// Enabled reports whether notifications should go through Pub/Sub.
func (p PubSubConfig) Enabled(gcp GCPConfig) bool {
	return strings.TrimSpace(gcp.ProjectID) != "" && strings.TrimSpace(p.NotificationTopic) != ""
}

type StripeConfig struct {
	APIKey           string        `envconfig:"CLINIC_STRIPE_API_KEY"`
	WebhookSecret    string        `envconfig:"CLINIC_STRIPE_WEBHOOK_SECRET"`
	Env              string        `envconfig:"CLINIC_STRIPE_ENV" default:"test"`
	MaxRetries       int           `envconfig:"CLINIC_GATEWAY_MAX_RETRIES" default:"3"`
	WebhookDedupeTTL time.Duration `envconfig:"CLINIC_STRIPE_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

type FinanceConfig struct {
	TaxRate               string `envconfig:"CLINIC_TAX_RATE" default:"0.08"`
	InvoiceDueDays        int    `envconfig:"CLINIC_INVOICE_DUE_DAYS" default:"15"`
	RefundWindowDays      int    `envconfig:"CLINIC_REFUND_WINDOW_DAYS" default:"7"`
	Currency              string `envconfig:"CLINIC_CURRENCY" default:"usd"`
	BonusCouponExpiryDays int    `envconfig:"CLINIC_BONUS_COUPON_EXPIRY_DAYS" default:"60"`
}

// Tax returns the configured flat tax rate as a decimal fraction.
func (f FinanceConfig) Tax() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(f.TaxRate))
	if err != nil {
		return decimal.RequireFromString(DefaultTaxRate)
	}
	return rate
}

func (f FinanceConfig) InvoiceDueWindow() time.Duration {
	return time.Duration(f.InvoiceDueDays) * 24 * time.Hour
}

func (f FinanceConfig) RefundWindow() time.Duration {
	return time.Duration(f.RefundWindowDays) * 24 * time.Hour
}

func (f FinanceConfig) BonusCouponExpiry() time.Duration {
	return time.Duration(f.BonusCouponExpiryDays) * 24 * time.Hour
}

func (f FinanceConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(f.TaxRate))
	if err != nil {
		return fmt.Errorf("%s must be a decimal fraction: %w", EnvTaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1), got %s", EnvTaxRate, rate)
	}
	if f.InvoiceDueDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvInvoiceDueDays)
	}
	if f.RefundWindowDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvRefundWindowDays)
	}
	return nil
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CLINIC_CRON_INTERVAL" default:"5m"`
	LockTTL         time.Duration `envconfig:"CLINIC_CRON_LOCK_TTL" default:"4m"`
	RetryBatchLimit int           `envconfig:"CLINIC_CRON_RETRY_BATCH_LIMIT" default:"100"`
	RetryLookback   time.Duration `envconfig:"CLINIC_CRON_RETRY_LOOKBACK" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
