package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	HTTP   ServerConfig
	MySQL  MySQLConfig
	Log    LogConfig
	Khipu  KhipuConfig
	Orders OrdersConfig
	Mail   MailConfig
	Jobs   JobsConfig
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

type LogConfig struct {
	Level string
}

type KhipuConfig struct {
	ReceiverID         string
	Secret             string
	APIBaseURL         string
	HTTPTimeout        time.Duration
	SkipSignatureCheck bool
}

type OrdersConfig struct {
	TicketUnitPriceCLP int64
	Currency           string

	NotifyURL string
	ReturnURL string
	CancelURL string

	PaymentTimeout  time.Duration
	ClaimStaleAfter time.Duration
	SweepBatchSize  int32
}

type MailConfig struct {
	APIBaseURL  string
	APIKey      string
	FromEmail   string
	FromName    string
	HTTPTimeout time.Duration
}

type JobsConfig struct {
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "realcars-payments"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Khipu: KhipuConfig{
			ReceiverID:         getEnv("KHIPU_RECEIVER_ID", ""),
			Secret:             getEnv("KHIPU_SECRET", ""),
			APIBaseURL:         getEnv("KHIPU_API_BASE_URL", ""),
			HTTPTimeout:        getSecondsEnv("KHIPU_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			SkipSignatureCheck: getBoolEnv("KHIPU_SKIP_SIGNATURE_CHECK", false),
		},
		Orders: OrdersConfig{
			TicketUnitPriceCLP: int64(getIntEnv("ORDERS_TICKET_UNIT_PRICE_CLP", 2500)),
			Currency:           getEnv("ORDERS_CURRENCY", "CLP"),
			NotifyURL:          getEnv("ORDERS_NOTIFY_URL", ""),
			ReturnURL:          getEnv("ORDERS_RETURN_URL", ""),
			CancelURL:          getEnv("ORDERS_CANCEL_URL", ""),
			PaymentTimeout:     getMinutesEnv("ORDERS_PAYMENT_TIMEOUT_MINUTES", 60*time.Minute),
			ClaimStaleAfter:    getMinutesEnv("ORDERS_CLAIM_STALE_AFTER_MINUTES", 5*time.Minute),
			SweepBatchSize:     int32(getIntEnv("ORDERS_SWEEP_BATCH_SIZE", 100)),
		},
		Mail: MailConfig{
			APIBaseURL:  getEnv("MAIL_API_BASE_URL", ""),
			APIKey:      getEnv("MAIL_API_KEY", ""),
			FromEmail:   getEnv("MAIL_FROM_EMAIL", "ventas@realcars.cl"),
			FromName:    getEnv("MAIL_FROM_NAME", "Real Cars Company"),
			HTTPTimeout: getSecondsEnv("MAIL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Jobs: JobsConfig{
			SweepInterval: getMinutesEnv("ORDERS_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
