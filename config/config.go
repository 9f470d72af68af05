package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	Webhooks          WebhooksConfig
	Reconcile         ReconcileConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type TenantConfig struct {
	StoreCode      string
	SecretKey      string
	PublishableKey string
	Active         bool
}

type StripeConfig struct {
	Tenants     []TenantConfig
	APIBaseURL  string
	HTTPTimeout time.Duration
}

type WebhooksConfig struct {
	StaleAfter    time.Duration
	ConfigVersion int32
	URLs          []string
	EnabledEvents []string
}

type ReconcileConfig struct {
	MinAge                      time.Duration
	MaxAge                      time.Duration
	TenantConcurrency           int
	PendingOrderLifetime        time.Duration
	PendingOrderLifetimeByStore map[string]time.Duration
	JobBatchSize                int32
}

type JobsConfig struct {
	ReconcileInterval    time.Duration
	ExpireOrdersInterval time.Duration
}

var defaultEnabledEvents = []string{
	"charge.captured",
	"charge.refunded",
	"checkout.session.expired",
	"payment_intent.canceled",
	"payment_intent.partially_funded",
	"payment_intent.payment_failed",
	"payment_intent.processing",
	"payment_intent.succeeded",
	"setup_intent.canceled",
	"setup_intent.succeeded",
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	tenants, err := loadTenants()
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payments-reconciler"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			Tenants:     tenants,
			APIBaseURL:  getEnv("STRIPE_API_BASE_URL", ""),
			HTTPTimeout: getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Webhooks: WebhooksConfig{
			StaleAfter:    getMinutesEnv("WEBHOOKS_STALE_AFTER_MINUTES", 6*time.Hour),
			ConfigVersion: int32(getIntEnv("WEBHOOKS_CONFIG_VERSION", 1)),
			URLs:          getListEnv("WEBHOOKS_URLS", nil),
			EnabledEvents: getListEnv("WEBHOOKS_ENABLED_EVENTS", defaultEnabledEvents),
		},
		Reconcile: ReconcileConfig{
			MinAge:                      getMinutesEnv("RECONCILE_MIN_AGE_MINUTES", 2*time.Hour),
			MaxAge:                      getMinutesEnv("RECONCILE_MAX_AGE_MINUTES", 6*time.Hour),
			TenantConcurrency:           getIntEnv("RECONCILE_TENANT_CONCURRENCY", 1),
			PendingOrderLifetime:        getMinutesEnv("ORDERS_PENDING_LIFETIME_MINUTES", 8*time.Hour),
			PendingOrderLifetimeByStore: getMinutesMapEnv("ORDERS_PENDING_LIFETIME_BY_STORE"),
			JobBatchSize:                int32(getIntEnv("RECONCILE_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval:    getMinutesEnv("RECONCILE_INTERVAL_MINUTES", 5*time.Minute),
			ExpireOrdersInterval: getMinutesEnv("EXPIRE_ORDERS_INTERVAL_MINUTES", 15*time.Minute),
		},
	}, nil
}

// loadTenants reads STRIPE_TENANTS ("store:sk:pk[:inactive]", comma separated)
// and falls back to a single "default" tenant from STRIPE_SECRET_KEY.
func loadTenants() ([]TenantConfig, error) {
	raw := strings.TrimSpace(os.Getenv("STRIPE_TENANTS"))
	if raw == "" {
		secretKey := strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
		if secretKey == "" {
			return nil, nil
		}
		return []TenantConfig{{
			StoreCode:      "default",
			SecretKey:      secretKey,
			PublishableKey: strings.TrimSpace(os.Getenv("STRIPE_PUBLISHABLE_KEY")),
			Active:         true,
		}}, nil
	}

	tenants := make([]TenantConfig, 0)
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid STRIPE_TENANTS entry %q", entry)
		}
		tenant := TenantConfig{
			StoreCode:      strings.TrimSpace(parts[0]),
			SecretKey:      strings.TrimSpace(parts[1]),
			PublishableKey: strings.TrimSpace(parts[2]),
			Active:         true,
		}
		if len(parts) == 4 {
			switch strings.ToLower(strings.TrimSpace(parts[3])) {
			case "inactive":
				tenant.Active = false
			case "active":
			default:
				return nil, fmt.Errorf("invalid STRIPE_TENANTS flag in entry %q", entry)
			}
		}
		if tenant.StoreCode == "" || tenant.SecretKey == "" {
			return nil, fmt.Errorf("invalid STRIPE_TENANTS entry %q", entry)
		}
		if _, ok := seen[tenant.SecretKey]; ok {
			continue
		}
		seen[tenant.SecretKey] = struct{}{}
		tenants = append(tenants, tenant)
	}

	return tenants, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getMinutesMapEnv parses "store:minutes" pairs, comma separated. Malformed or
// non-positive entries are skipped.
func getMinutesMapEnv(key string) map[string]time.Duration {
	values := make(map[string]time.Duration)
	for _, item := range getListEnv(key, nil) {
		name, raw, ok := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || minutes <= 0 {
			continue
		}
		values[name] = time.Duration(minutes) * time.Minute
	}
	return values
}

func getListEnv(key string, defaultValue []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
