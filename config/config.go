package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	ServiceName string
	LoggerLevel string

	HTTPPort      int
	StorageDriver string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisGeoEnabled bool

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	JWTSecret string

	AdminBotToken string
	AdminChatID   int64

	OTLPEndpoint string
	OTLPInsecure bool

	DispatchRadiusMeters float64
	DispatchLimit        int
	BookingQuota         int
	NotificationTTL      time.Duration
	PurgeInterval        time.Duration
	OutboxSize           int
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "roadassist"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "debug"))
	cfg.HTTPPort = cast.ToInt(getOrReturnDefault("HTTP_PORT", 8080))
	cfg.StorageDriver = cast.ToString(getOrReturnDefault("STORAGE_DRIVER", StorageDriverPostgres))

	cfg.PostgresHost = cast.ToString(getOrReturnDefault("POSTGRES_HOST", "localhost"))
	cfg.PostgresPort = cast.ToString(getOrReturnDefault("POSTGRES_PORT", "5432"))
	cfg.PostgresUser = cast.ToString(getOrReturnDefault("POSTGRES_USER", "postgres"))
	cfg.PostgresPassword = cast.ToString(getOrReturnDefault("POSTGRES_PASSWORD", "1234"))
	cfg.PostgresDB = cast.ToString(getOrReturnDefault("POSTGRES_DB", "roadassist"))

	cfg.RedisHost = cast.ToString(getOrReturnDefault("REDIS_HOST", "localhost"))
	cfg.RedisPort = cast.ToString(getOrReturnDefault("REDIS_PORT", "6379"))
	cfg.RedisPassword = cast.ToString(getOrReturnDefault("REDIS_PASSWORD", ""))
	cfg.RedisGeoEnabled = cast.ToBool(getOrReturnDefault("REDIS_GEO_ENABLED", false))

	cfg.AMQPURL = cast.ToString(getOrReturnDefault("AMQP_URL", ""))
	cfg.AMQPExchange = cast.ToString(getOrReturnDefault("AMQP_EXCHANGE", "roadassist.events"))
	cfg.AMQPQueue = cast.ToString(getOrReturnDefault("AMQP_QUEUE", "roadassist.principals"))

	cfg.JWTSecret = cast.ToString(getOrReturnDefault("JWT_SECRET", ""))

	cfg.AdminBotToken = cast.ToString(getOrReturnDefault("ADMIN_BOT_TOKEN", ""))
	cfg.AdminChatID = cast.ToInt64(getOrReturnDefault("ADMIN_CHAT_ID", 0))

	cfg.OTLPEndpoint = cast.ToString(getOrReturnDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	cfg.OTLPInsecure = cast.ToBool(getOrReturnDefault("OTEL_EXPORTER_OTLP_INSECURE", false))

	cfg.DispatchRadiusMeters = cast.ToFloat64(getOrReturnDefault("DISPATCH_RADIUS_METERS", 10000))
	cfg.DispatchLimit = cast.ToInt(getOrReturnDefault("DISPATCH_LIMIT", 20))
	cfg.BookingQuota = cast.ToInt(getOrReturnDefault("BOOKING_QUOTA", 2))
	cfg.NotificationTTL = time.Duration(cast.ToInt(getOrReturnDefault("NOTIFICATION_TTL_HOURS", 720))) * time.Hour
	cfg.PurgeInterval = time.Duration(cast.ToInt(getOrReturnDefault("PURGE_INTERVAL_MINUTES", 60))) * time.Minute
	cfg.OutboxSize = cast.ToInt(getOrReturnDefault("OUTBOX_SIZE", 1024))

	return cfg
}

// PostgresURL is the DSN shared by pgxpool and golang-migrate.
func (c Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
	)
}

func (c Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
