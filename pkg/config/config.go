// Package config собирает настройки сервиса из окружения и .env
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// выносим константы конфигурации по умолчанию, чтобы были на виду
const (
	portConst            = 8081            // порт HTTP сервера
	bodyLimitConst       = 1 << 20         // максимальный размер тела вебхука
	shutdownTimeoutConst = 5 * time.Second // время на корректное завершение

	dbDriverConst   = "postgres"       // postgres или sqlite
	hostDBConst     = "postgres"       // имя службы (контейнера) в сети докера
	portDBConst     = 5432             // порт базы данных
	nameDBConst     = "order-webhooks" // имя базы данных
	userDBConst     = "postgres"       // имя пользователя базы данных
	passwordDBConst = "postgres"       // пароль базы данных
	sslModeConst    = "disable"        // режим SSL
	timeZoneConst   = "UTC"            // зона сессии БД
	sqlitePathConst = "order-webhooks.db"

	redisAddrConst   = "redis:6379"     // адрес redis, пустая строка отключает кэш
	redisTTLConst    = 10 * time.Minute // время жизни записи в кэше
	redisWarmupConst = 100              // сколько последних заказов грузить в кэш при старте
	redisRedropConst = time.Second      // пауза перед повторным сбросом записи после смены статуса

	ifoodAuthURLConst    = "https://merchant-api.ifood.com.br/authentication/v1.0/oauth/token"
	ifoodOrderURLConst   = "https://merchant-api.ifood.com.br/order/v1.0/orders/%s"
	ifoodConfirmURLConst = "https://merchant-api.ifood.com.br/order/v1.0/orders/%s/confirm"
	ifoodTimeoutConst    = 10 * time.Second
	ifoodRetriesConst    = 3

	printURLConst     = "https://api.printnode.com/printjobs"
	printTitleConst   = "Etiqueta iFood"
	printTimeoutConst = 10 * time.Second

	labelaryURLConst  = "https://api.labelary.com/v1/printers"
	labelaryDPMMConst = 8
	labelarySizeConst = "4x6" // ширина x высота в дюймах

	archivePrefixConst = "labels"
	archiveRegionConst = "us-east-1"

	kafkaStatusTopicConst = "order-status"
	kafkaDLQTopicConst    = "order-webhooks-dlq"
	kafkaReplayIdleConst  = 10 * time.Second // пауза без сообщений, после которой DLQ считается вычитанным

	tracingServiceConst = "order-webhooks"

	sideEffectTimeoutConst = 30 * time.Second // предел для подтверждения, печати и публикации
	logLevelConst          = "info"
)

type Server struct {
	Port            int           `validate:"min=1,max=65535"`
	BodyLimit       int64         `validate:"min=1"`
	ShutdownTimeout time.Duration `validate:"min=0"`
}

type DB struct {
	Driver     string `validate:"oneof=postgres sqlite"`
	Host       string `validate:"required_if=Driver postgres"`
	Port       int    `validate:"min=1,max=65535"`
	Name       string `validate:"required_if=Driver postgres"`
	User       string
	Password   string
	SSLMode    string
	TimeZone   string
	SQLitePath string `validate:"required_if=Driver sqlite"`
}

type Redis struct {
	Addr        string
	Password    string
	DB          int `validate:"min=0"`
	TTL         time.Duration
	WarmupLimit int `validate:"min=0"`
	RedropDelay time.Duration
}

type Marketplace struct {
	AuthURL      string `validate:"required,url"`
	OrderURL     string `validate:"required,contains=%s"`
	ConfirmURL   string `validate:"required,contains=%s"`
	ClientID     string
	ClientSecret string
	Timeout      time.Duration `validate:"min=0"`
	MaxRetries   int           `validate:"min=0,max=10"`
}

type Print struct {
	Enabled   bool
	APIURL    string `validate:"required_if=Enabled true"`
	APIKey    string `validate:"required_if=Enabled true"`
	PrinterID int64
	Title     string
	Timeout   time.Duration
}

type Labelary struct {
	URL  string
	DPMM int
	Size string
}

type Archive struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

type Kafka struct {
	Brokers     []string
	StatusTopic string `validate:"required"`
	DLQTopic    string `validate:"required"`
	ReplayGroup string        // группа перечитывания DLQ при старте, пустая строка выключает
	ReplayIdle  time.Duration `validate:"min=0"`
}

type Tracing struct {
	Endpoint    string
	ServiceName string
}

type Auth struct {
	JWTSecret string
}

// Config - все настройки сервиса, собирается один раз в main
type Config struct {
	Server            Server
	DB                DB
	Redis             Redis
	Marketplace       Marketplace
	Print             Print
	Labelary          Labelary
	Archive           Archive
	Kafka             Kafka
	Tracing           Tracing
	Auth              Auth
	SideEffectTimeout time.Duration `validate:"min=0"`
	LogLevel          string        `validate:"oneof=debug info warn error"`
}

// Load читает .env (если есть), переменные окружения и проверяет результат
func Load() (*Config, error) {

	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: Server{
			Port:            v.GetInt("SERVER_PORT"),
			BodyLimit:       v.GetInt64("WEBHOOK_BODY_LIMIT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		DB: DB{
			Driver:     strings.ToLower(v.GetString("DB_DRIVER")),
			Host:       v.GetString("DB_HOST_NAME"),
			Port:       v.GetInt("DB_PORT"),
			Name:       v.GetString("DB_NAME"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			SSLMode:    v.GetString("DB_SSLMODE"),
			TimeZone:   v.GetString("DB_TIMEZONE"),
			SQLitePath: v.GetString("DB_SQLITE_PATH"),
		},
		Redis: Redis{
			Addr:        v.GetString("REDIS_ADDR"),
			Password:    v.GetString("REDIS_PASSWORD"),
			DB:          v.GetInt("REDIS_DB"),
			TTL:         v.GetDuration("REDIS_TTL"),
			WarmupLimit: v.GetInt("REDIS_WARMUP_LIMIT"),
			RedropDelay: v.GetDuration("REDIS_REDROP_DELAY"),
		},
		Marketplace: Marketplace{
			AuthURL:      v.GetString("IFOOD_AUTH_URL"),
			OrderURL:     v.GetString("IFOOD_ORDER_URL"),
			ConfirmURL:   v.GetString("IFOOD_CONFIRM_URL"),
			ClientID:     v.GetString("IFOOD_CLIENT_ID"),
			ClientSecret: v.GetString("IFOOD_CLIENT_SECRET"),
			Timeout:      time.Duration(v.GetInt("MARKETPLACE_TIMEOUT_S")) * time.Second,
			MaxRetries:   v.GetInt("MARKETPLACE_MAX_RETRIES"),
		},
		Print: Print{
			Enabled:   v.GetBool("PRINT_ENABLED"),
			APIURL:    v.GetString("PRINTNODE_API_URL"),
			APIKey:    v.GetString("PRINTNODE_API_KEY"),
			PrinterID: v.GetInt64("PRINTNODE_PRINTER_ID"),
			Title:     v.GetString("PRINTNODE_TITLE"),
			Timeout:   time.Duration(v.GetInt("PRINT_TIMEOUT_S")) * time.Second,
		},
		Labelary: Labelary{
			URL:  v.GetString("LABELARY_URL"),
			DPMM: v.GetInt("LABELARY_DPMM"),
			Size: v.GetString("LABELARY_SIZE"),
		},
		Archive: Archive{
			Bucket:    v.GetString("ARCHIVE_S3_BUCKET"),
			Region:    v.GetString("ARCHIVE_S3_REGION"),
			Endpoint:  v.GetString("ARCHIVE_S3_ENDPOINT"),
			Prefix:    v.GetString("ARCHIVE_S3_PREFIX"),
			AccessKey: v.GetString("ARCHIVE_S3_ACCESS_KEY"),
			SecretKey: v.GetString("ARCHIVE_S3_SECRET_KEY"),
		},
		Kafka: Kafka{
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			StatusTopic: v.GetString("KAFKA_STATUS_TOPIC"),
			DLQTopic:    v.GetString("KAFKA_DLQ_TOPIC"),
			ReplayGroup: v.GetString("KAFKA_DLQ_REPLAY_GROUP"),
			ReplayIdle:  v.GetDuration("KAFKA_DLQ_REPLAY_IDLE"),
		},
		Tracing: Tracing{
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: v.GetString("OTEL_SERVICE_NAME"),
		},
		Auth: Auth{
			JWTSecret: v.GetString("AUTH_JWT_SECRET"),
		},
		SideEffectTimeout: v.GetDuration("SIDE_EFFECT_TIMEOUT"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {

	v.SetDefault("SERVER_PORT", portConst)
	v.SetDefault("WEBHOOK_BODY_LIMIT", bodyLimitConst)
	v.SetDefault("SHUTDOWN_TIMEOUT", shutdownTimeoutConst)

	v.SetDefault("DB_DRIVER", dbDriverConst)
	v.SetDefault("DB_HOST_NAME", hostDBConst)
	v.SetDefault("DB_PORT", portDBConst)
	v.SetDefault("DB_NAME", nameDBConst)
	v.SetDefault("DB_USER", userDBConst)
	v.SetDefault("DB_PASSWORD", passwordDBConst)
	v.SetDefault("DB_SSLMODE", sslModeConst)
	v.SetDefault("DB_TIMEZONE", timeZoneConst)
	v.SetDefault("DB_SQLITE_PATH", sqlitePathConst)

	v.SetDefault("REDIS_ADDR", redisAddrConst)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TTL", redisTTLConst)
	v.SetDefault("REDIS_WARMUP_LIMIT", redisWarmupConst)
	v.SetDefault("REDIS_REDROP_DELAY", redisRedropConst)

	v.SetDefault("IFOOD_AUTH_URL", ifoodAuthURLConst)
	v.SetDefault("IFOOD_ORDER_URL", ifoodOrderURLConst)
	v.SetDefault("IFOOD_CONFIRM_URL", ifoodConfirmURLConst)
	v.SetDefault("MARKETPLACE_TIMEOUT_S", int(ifoodTimeoutConst/time.Second))
	v.SetDefault("MARKETPLACE_MAX_RETRIES", ifoodRetriesConst)

	v.SetDefault("PRINT_ENABLED", false)
	v.SetDefault("PRINTNODE_API_URL", printURLConst)
	v.SetDefault("PRINTNODE_TITLE", printTitleConst)
	v.SetDefault("PRINT_TIMEOUT_S", int(printTimeoutConst/time.Second))

	v.SetDefault("LABELARY_URL", labelaryURLConst)
	v.SetDefault("LABELARY_DPMM", labelaryDPMMConst)
	v.SetDefault("LABELARY_SIZE", labelarySizeConst)

	v.SetDefault("ARCHIVE_S3_REGION", archiveRegionConst)
	v.SetDefault("ARCHIVE_S3_PREFIX", archivePrefixConst)

	v.SetDefault("KAFKA_STATUS_TOPIC", kafkaStatusTopicConst)
	v.SetDefault("KAFKA_DLQ_TOPIC", kafkaDLQTopicConst)
	v.SetDefault("KAFKA_DLQ_REPLAY_IDLE", kafkaReplayIdleConst)

	v.SetDefault("OTEL_SERVICE_NAME", tracingServiceConst)

	v.SetDefault("SIDE_EFFECT_TIMEOUT", sideEffectTimeoutConst)
	v.SetDefault("LOG_LEVEL", logLevelConst)
}

// DSN собирает строку подключения к postgres
func (c *Config) DSN() string {

	d := c.DB

	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

func splitList(s string) []string {

	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
