package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Geofence     GeofenceConfig
	Stock        StockConfig
	Routing      RoutingConfig
	MercadoPago  MercadoPagoConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Tracking     TrackingConfig
	RateLimit    RateLimitConfig
}

// Load reads the environment, fills derived values and reports every invalid
// setting at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.DB.fillDSN()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) check() error {
	var errs error
	if c.DB.DSN == "" {
		errs = multierr.Append(errs, fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join([]string{EnvDBHost, EnvDBUser, EnvDBName}, ", ")))
	}
	if c.Redis.URL == "" && c.Redis.Address == "" {
		errs = multierr.Append(errs, fmt.Errorf("either %s or %s is required", EnvRedisURL, EnvRedisAddr))
	}
	if err := settings.Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if !errors.As(err, &invalid) {
			return multierr.Append(errs, err)
		}
		for _, fe := range invalid {
			errs = multierr.Append(errs, fmt.Errorf("%s: must satisfy %s %s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return errs
}

// settings reports failures under the variable name rather than the Go field.
var settings = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("envconfig"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}()

type AppConfig struct {
	Env          string   `envconfig:"REPARTOS_APP_ENV" required:"true"`
	Port         string   `envconfig:"REPARTOS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"REPARTOS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"REPARTOS_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"REPARTOS_LOG_FORMAT" default:"json"`
	PublicURL    string   `envconfig:"REPARTOS_PUBLIC_URL" default:"http://localhost:8080"`
	CORSOrigins  []string `envconfig:"REPARTOS_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REPARTOS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REPARTOS_DB_DSN"`
	Driver string `envconfig:"REPARTOS_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	// Used to build DSN when it is unset.
	Host     string `envconfig:"REPARTOS_DB_HOST"`
	Port     int    `envconfig:"REPARTOS_DB_PORT" default:"5432"`
	User     string `envconfig:"REPARTOS_DB_USER"`
	Password string `envconfig:"REPARTOS_DB_PASSWORD"`
	Name     string `envconfig:"REPARTOS_DB_NAME"`
	SSLMode  string `envconfig:"REPARTOS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REPARTOS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REPARTOS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REPARTOS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REPARTOS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"REPARTOS_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REPARTOS_REDIS_URL"`
	Address      string        `envconfig:"REPARTOS_REDIS_ADDR"`
	Password     string        `envconfig:"REPARTOS_REDIS_PASSWORD"`
	DB           int           `envconfig:"REPARTOS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REPARTOS_REDIS_POOL_SIZE" default:"10" validate:"gt=0"`
	MinIdleConns int           `envconfig:"REPARTOS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REPARTOS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REPARTOS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REPARTOS_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"REPARTOS_REDIS_KEY_PREFIX" default:"rp"`
}

type JWTConfig struct {
	Secret            string `envconfig:"REPARTOS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"REPARTOS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"REPARTOS_JWT_EXPIRATION_MINUTES" default:"60"`
	RequireVerified   bool   `envconfig:"REPARTOS_JWT_REQUIRE_VERIFIED" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate         bool `envconfig:"REPARTOS_AUTO_MIGRATE" default:"false"`
	StandaloneShipments bool `envconfig:"REPARTOS_FEATURE_STANDALONE_SHIPMENTS" default:"true"`
}

// PricingConfig seeds GlobalConfig when the singleton row has not been written yet.
type PricingConfig struct {
	CommissionRate        float64       `envconfig:"REPARTOS_COMMISSION_RATE" default:"0.05" validate:"gte=0,lte=1"`
	CommissionBase        string        `envconfig:"REPARTOS_COMMISSION_BASE" default:"subtotal_products" validate:"oneof=subtotal_products total"`
	DeliveryBaseFee       int64         `envconfig:"REPARTOS_DELIVERY_BASE_FEE" default:"1500" validate:"gte=0"`
	DeliveryPerKm         int64         `envconfig:"REPARTOS_DELIVERY_PER_KM" default:"500" validate:"gte=0"`
	CourierCommissionRate float64       `envconfig:"REPARTOS_COURIER_COMMISSION_RATE" default:"0.10" validate:"gte=0,lte=1"`
	Currency              string        `envconfig:"REPARTOS_CURRENCY" default:"ARS" validate:"len=3"`
	CacheTTL              time.Duration `envconfig:"REPARTOS_GLOBAL_CONFIG_CACHE_TTL" default:"60s"`
}

type GeofenceConfig struct {
	RadiusMeters      float64 `envconfig:"REPARTOS_GEOFENCE_RADIUS_M" default:"50" validate:"gt=0"`
	MaxAccuracyMeters float64 `envconfig:"REPARTOS_GEOFENCE_MAX_ACCURACY_M" default:"50" validate:"gt=0"`
}

type StockConfig struct {
	MaxAttempts int `envconfig:"REPARTOS_STOCK_MAX_ATTEMPTS" default:"5" validate:"gte=1"`
}

type RoutingConfig struct {
	BaseURL string        `envconfig:"REPARTOS_ROUTING_BASE_URL" default:"https://api.mapbox.com"`
	Token   string        `envconfig:"REPARTOS_ROUTING_TOKEN"`
	Timeout time.Duration `envconfig:"REPARTOS_ROUTING_TIMEOUT" default:"3s"`
}

type MercadoPagoConfig struct {
	AccessToken   string        `envconfig:"REPARTOS_MP_ACCESS_TOKEN"`
	BaseURL       string        `envconfig:"REPARTOS_MP_BASE_URL" default:"https://api.mercadopago.com"`
	Timeout       time.Duration `envconfig:"REPARTOS_MP_TIMEOUT" default:"5s"`
	WebhookSecret string        `envconfig:"REPARTOS_MP_WEBHOOK_SECRET"`
	DedupTTL      time.Duration `envconfig:"REPARTOS_MP_WEBHOOK_DEDUP_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"REPARTOS_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"REPARTOS_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"REPARTOS_PUBSUB_DOMAIN_TOPIC" default:"repartos-domain-events"`
	WalletTopic string `envconfig:"REPARTOS_PUBSUB_WALLET_TOPIC" default:"repartos-wallet-events"`
	// EmulatorHost points the client at a local emulator without credentials.
	EmulatorHost string `envconfig:"REPARTOS_PUBSUB_EMULATOR_HOST"`
	// CreateTopics creates missing topics at startup instead of failing.
	CreateTopics bool `envconfig:"REPARTOS_PUBSUB_CREATE_TOPICS" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"REPARTOS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"REPARTOS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"REPARTOS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int    `envconfig:"REPARTOS_OUTBOX_RETENTION_DAYS" default:"30"`
	MetricsAddr    string `envconfig:"REPARTOS_OUTBOX_METRICS_ADDR" default:":9092"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"REPARTOS_CRON_INTERVAL" default:"5m"`
	LockTTL        time.Duration `envconfig:"REPARTOS_CRON_LOCK_TTL" default:"10m"`
	ReconcileBatch int           `envconfig:"REPARTOS_CRON_RECONCILE_BATCH" default:"200"`
	MetricsAddr    string        `envconfig:"REPARTOS_CRON_METRICS_ADDR" default:":9091"`
}

type TrackingConfig struct {
	PositionLimit  int64         `envconfig:"REPARTOS_TRACKING_POSITION_LIMIT" default:"30"`
	PositionWindow time.Duration `envconfig:"REPARTOS_TRACKING_POSITION_WINDOW" default:"1m"`
	CacheTTL       time.Duration `envconfig:"REPARTOS_TRACKING_CACHE_TTL" default:"15s"`
}

// RateLimitConfig throttles unauthenticated surfaces per client IP.
type RateLimitConfig struct {
	PublicWindow  time.Duration `envconfig:"REPARTOS_RATE_LIMIT_PUBLIC_WINDOW" default:"1m"`
	PublicIPLimit int           `envconfig:"REPARTOS_RATE_LIMIT_PUBLIC_IP_LIMIT" default:"120"`
}

func (db *DBConfig) fillDSN() {
	if db.DSN != "" || db.Host == "" || db.User == "" || db.Name == "" {
		return
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   db.Host + ":" + strconv.Itoa(db.Port),
		Path:   db.Name,
	}
	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = u.String()
}
