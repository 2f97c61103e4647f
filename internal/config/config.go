package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN          string
	Environment    string
	RedisAddr      string // пусто = кэш доступности выключен
	MetricsAddr    string
	MigrationsPath string

	// Таймаут ожидания блокировки номера: по истечении попытка
	// бронирования завершается ошибкой, а не висит
	LockTimeout time.Duration

	// Подтверждать группу частично при устаревших заявках
	// вместо отката всей группы
	GroupPartialConfirm bool

	// TTL записей кэша доступности
	AvailabilityCacheTTL time.Duration

	// Период фоновой отмены просроченных групп
	GroupExpiryInterval time.Duration
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		DBDSN:                os.Getenv("DB_DSN"),
		Environment:          getEnv("ENV", "development"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		MetricsAddr:          getEnv("METRICS_ADDR", ":9090"),
		MigrationsPath:       getEnv("MIGRATIONS_PATH", "migrations"),
		LockTimeout:          getEnvDuration("LOCK_TIMEOUT_MS", 3000) * time.Millisecond,
		GroupPartialConfirm:  getEnvBool("GROUP_PARTIAL_CONFIRM", false),
		AvailabilityCacheTTL: getEnvDuration("AVAILABILITY_CACHE_TTL_S", 30) * time.Second,
		GroupExpiryInterval:  getEnvDuration("GROUP_EXPIRY_INTERVAL_S", 600) * time.Second,
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default", key, v)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback)
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed <= 0 {
		log.Printf("Invalid value for %s: %q, using default", key, v)
		return time.Duration(fallback)
	}
	return time.Duration(parsed)
}
