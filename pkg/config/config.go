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
	App           AppConfig
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Checkout      CheckoutConfig
	Commission    CommissionConfig
	Gateway       GatewayConfig
	Paystack      PaystackConfig
	Flutterwave   FlutterwaveConfig
	Notifications NotificationsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Eventing      EventingConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Commission.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BAZAAR_APP_ENV" required:"true"`
	Port         string `envconfig:"BAZAAR_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BAZAAR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BAZAAR_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"BAZAAR_SERVICE_KIND" default:"api"`
}

type HTTPConfig struct {
	CORSAllowedOrigins []string      `envconfig:"BAZAAR_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	PaymentRateWindow  time.Duration `envconfig:"BAZAAR_PAYMENT_RATE_WINDOW" default:"1m"`
	PaymentRateLimit   int           `envconfig:"BAZAAR_PAYMENT_RATE_LIMIT" default:"20"`
	ReadTimeout        time.Duration `envconfig:"BAZAAR_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"BAZAAR_HTTP_WRITE_TIMEOUT" default:"60s"`
}

type DBConfig struct {
	DSN    string `envconfig:"BAZAAR_DB_DSN"`
	Driver string `envconfig:"BAZAAR_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BAZAAR_DB_HOST"`
	LegacyPort     int    `envconfig:"BAZAAR_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BAZAAR_DB_USER"`
	LegacyPassword string `envconfig:"BAZAAR_DB_PASSWORD"`
	LegacyName     string `envconfig:"BAZAAR_DB_NAME"`
	LegacySSLMode  string `envconfig:"BAZAAR_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BAZAAR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BAZAAR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BAZAAR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BAZAAR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BAZAAR_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BAZAAR_REDIS_ADDR"`
	Password     string        `envconfig:"BAZAAR_REDIS_PASSWORD"`
	DB           int           `envconfig:"BAZAAR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BAZAAR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BAZAAR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BAZAAR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BAZAAR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BAZAAR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify access tokens minted by the
// account service.
type JWTConfig struct {
	Secret string `envconfig:"BAZAAR_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BAZAAR_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BAZAAR_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BAZAAR_AUTO_MIGRATE" default:"false"`
}

type CheckoutConfig struct {
	ShippingFee           decimal.Decimal `envconfig:"BAZAAR_CHECKOUT_SHIPPING_FEE" default:"1500"`
	FreeShippingThreshold decimal.Decimal `envconfig:"BAZAAR_CHECKOUT_FREE_SHIPPING_THRESHOLD" default:"0"`
	TaxRate               decimal.Decimal `envconfig:"BAZAAR_CHECKOUT_TAX_RATE" default:"0.075"`
	Currency              string          `envconfig:"BAZAAR_CHECKOUT_CURRENCY" default:"NGN"`
	CallbackURL           string          `envconfig:"BAZAAR_CHECKOUT_CALLBACK_URL" default:"http://localhost:3000/checkout/complete"`
}

type CommissionConfig struct {
	Rate decimal.Decimal `envconfig:"BAZAAR_COMMISSION_RATE" default:"0.10"`
}

func (c CommissionConfig) validate() error {
	if c.Rate.IsNegative() || c.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0, 1)", EnvCommissionRate)
	}
	return nil
}

type GatewayConfig struct {
	DefaultProvider string        `envconfig:"BAZAAR_GATEWAY_DEFAULT_PROVIDER" default:"paystack"`
	HTTPTimeout     time.Duration `envconfig:"BAZAAR_GATEWAY_HTTP_TIMEOUT" default:"15s"`
	VerifyTimeout   time.Duration `envconfig:"BAZAAR_GATEWAY_VERIFY_TIMEOUT" default:"20s"`
	VerifyAttempts  uint64        `envconfig:"BAZAAR_GATEWAY_VERIFY_ATTEMPTS" default:"3"`
	RefundTimeout   time.Duration `envconfig:"BAZAAR_GATEWAY_REFUND_TIMEOUT" default:"30s"`
}

type PaystackConfig struct {
	SecretKey string `envconfig:"BAZAAR_PAYSTACK_SECRET_KEY"`
	BaseURL   string `envconfig:"BAZAAR_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
}

func (p PaystackConfig) Enabled() bool {
	return strings.TrimSpace(p.SecretKey) != ""
}

type FlutterwaveConfig struct {
	SecretKey   string `envconfig:"BAZAAR_FLUTTERWAVE_SECRET_KEY"`
	WebhookHash string `envconfig:"BAZAAR_FLUTTERWAVE_WEBHOOK_HASH"`
	BaseURL     string `envconfig:"BAZAAR_FLUTTERWAVE_BASE_URL" default:"https://api.flutterwave.com/v3"`
}

func (f FlutterwaveConfig) Enabled() bool {
	return strings.TrimSpace(f.SecretKey) != ""
}

type NotificationsConfig struct {
	Driver string `envconfig:"BAZAAR_NOTIFICATIONS_DRIVER" default:"outbox"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BAZAAR_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	EventsTopic string `envconfig:"BAZAAR_PUBSUB_EVENTS_TOPIC" default:"bazaar-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BAZAAR_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BAZAAR_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BAZAAR_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	WebhookReplayTTL time.Duration `envconfig:"BAZAAR_WEBHOOK_REPLAY_TTL" default:"720h"`
	OrderLockTTL     time.Duration `envconfig:"BAZAAR_ORDER_LOCK_TTL" default:"60s"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"BAZAAR_CRON_INTERVAL" default:"5m"`
	LockTTL               time.Duration `envconfig:"BAZAAR_CRON_LOCK_TTL" default:"4m"`
	PendingReconcileAfter time.Duration `envconfig:"BAZAAR_CRON_PENDING_RECONCILE_AFTER" default:"15m"`
	PendingOrderTTL       time.Duration `envconfig:"BAZAAR_CRON_PENDING_ORDER_TTL" default:"48h"`
	OutboxRetention       time.Duration `envconfig:"BAZAAR_CRON_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
