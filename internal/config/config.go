package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string // kosong -> in-memory store
	RedisAddr    string // kosong -> action link dimatikan
	KafkaBrokers []string
	ServiceName  string

	DealTTL             time.Duration
	PricePerPoint       decimal.Decimal
	LowBalanceThreshold int
	PublicBaseURL       string

	LogLevel  string
	LogFormat string

	NotifierGroup   string
	NotifierWorkers int
}

func defaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SERVICE_NAME", "market-api")
	v.SetDefault("DEAL_TTL", "120h")
	v.SetDefault("PRICE_PER_POINT", "10")
	v.SetDefault("LOW_BALANCE_THRESHOLD", 2)
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8081")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("NOTIFIER_GROUP", "market-notifier")
	v.SetDefault("NOTIFIER_WORKERS", 8)
}

// Load reads .env (if any), then config.yaml (if any), then the process
// environment, later sources winning.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	ttl := v.GetDuration("DEAL_TTL")
	if ttl <= 0 {
		return Config{}, fmt.Errorf("DEAL_TTL must be a positive duration, got %q", v.GetString("DEAL_TTL"))
	}
	ppp, err := decimal.NewFromString(strings.TrimSpace(v.GetString("PRICE_PER_POINT")))
	if err != nil || ppp.IsNegative() {
		return Config{}, fmt.Errorf("PRICE_PER_POINT must be a non-negative number, got %q", v.GetString("PRICE_PER_POINT"))
	}
	return Config{
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		PostgresDSN:         v.GetString("POSTGRES_DSN"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		KafkaBrokers:        splitCSV(v.GetString("KAFKA_BROKERS")),
		ServiceName:         v.GetString("SERVICE_NAME"),
		DealTTL:             ttl,
		PricePerPoint:       ppp,
		LowBalanceThreshold: v.GetInt("LOW_BALANCE_THRESHOLD"),
		PublicBaseURL:       v.GetString("PUBLIC_BASE_URL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		NotifierGroup:       v.GetString("NOTIFIER_GROUP"),
		NotifierWorkers:     v.GetInt("NOTIFIER_WORKERS"),
	}, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
