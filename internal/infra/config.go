package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации Control Plane.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Provider ProviderConfig `mapstructure:"provider"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера операторского API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, кэш паузы, токены).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig — доступ к провайдеру сообщений (heartbeat-проба).
type ProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// Настройки Circuit Breaker вокруг провайдера
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	// Rate limit на исходящие пробы (запросов в секунду)
	ProbeRPS   float64 `mapstructure:"probe_rps"`
	ProbeBurst int     `mapstructure:"probe_burst"`
}

// MonitorConfig — периодический обход парка.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// LockTTL — срок распределенной блокировки обхода (SetNX)
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// BatchSize — сколько чипов берем за один обход
	BatchSize int `mapstructure:"batch_size"`
}

// EngineConfig содержит специфичные настройки ядра Control Plane.
type EngineConfig struct {
	// BulkConcurrency — ширина fan-out при массовых действиях
	BulkConcurrency int `mapstructure:"bulk_concurrency"`
	// BulkTokenTTL — срок жизни токена подтверждения
	BulkTokenTTL time.Duration `mapstructure:"bulk_token_ttl"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: DATABASE_URL перекроет database.url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("provider.probe_timeout", 5*time.Second)
	v.SetDefault("provider.cb_max_requests", 3)
	v.SetDefault("provider.cb_interval", 5*time.Second)
	v.SetDefault("provider.cb_timeout", 30*time.Second)
	v.SetDefault("provider.probe_rps", 20)
	v.SetDefault("provider.probe_burst", 5)
	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("monitor.lock_ttl", 4*time.Minute)
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("engine.bulk_concurrency", 8)
	v.SetDefault("engine.bulk_token_ttl", 5*time.Minute)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
