package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cryptotrader/pkg/crypto"
)

// Package config - конфигурация приложения.
//
// Источники в порядке приоритета: переменные окружения CRYPTOTRADER_*,
// YAML-файл, блок default_exchange. Блок default_exchange накладывается
// на блок каждой биржи явным слиянием полей: биржа переопределяет
// только то, что задала сама.
//
// Секреты бирж могут храниться зашифрованными (префикс "enc:"),
// мастер-фраза приходит через CRYPTOTRADER_SECRET_KEY.

const (
	// EnvPrefix - префикс переменных окружения
	EnvPrefix = "CRYPTOTRADER"

	// SecretKeyEnv - переменная с мастер-фразой расшифровки секретов
	SecretKeyEnv = "CRYPTOTRADER_SECRET_KEY"

	// ConfigPathEnv - переменная с путём до конфигурационного файла
	ConfigPathEnv = "CRYPTOTRADER_CONFIG"

	// DefaultConfigPath - путь по умолчанию
	DefaultConfigPath = "config.yaml"

	// encryptedPrefix отмечает зашифрованное значение в конфигурации
	encryptedPrefix = "enc:"

	// deriveSalt - соль PBKDF2 для вывода ключа из мастер-фразы
	deriveSalt = "cryptotrader.secrets.v1"
)

// ConfigError - отсутствующее или невалидное поле конфигурации.
// Фатальна на старте: приложение завершается с кодом 2.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config - вся конфигурация приложения
type Config struct {
	// DSN - строка подключения к Postgres
	DSN string `mapstructure:"dsn"`

	App     AppConfig     `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"logging"`
	Queue   QueueConfig   `mapstructure:"queue"`

	// DefaultExchange - значения по умолчанию для всех бирж
	DefaultExchange ExchangeConfig `mapstructure:"default_exchange"`

	// Exchanges - блоки бирж по именам ("bitfinex", "hitbtc")
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`

	// Strategies - блоки стратегий по именам
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
}

// AppConfig - настройки главного цикла
type AppConfig struct {
	// Interval - период тика приложения
	Interval time.Duration `mapstructure:"interval"`

	// MetricsAddr - адрес ops-сервера (/metrics, /healthz).
	// Пустой - сервер не поднимается.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// Бэкенды очереди реверса
const (
	QueueBackendPostgres = "postgres"
	QueueBackendRedis    = "redis"
)

// QueueConfig - выбор бэкенда очереди реверса
type QueueConfig struct {
	// Backend - postgres (по умолчанию) или redis
	Backend string `mapstructure:"backend"`

	// RedisAddr, RedisName - адрес Redis и имя списка очереди
	RedisAddr string `mapstructure:"redis_addr"`
	RedisName string `mapstructure:"redis_name"`
}

// TransportConfig - ключи и адреса транспортов биржи
type TransportConfig struct {
	Key              string          `mapstructure:"key"`
	Secret           string          `mapstructure:"secret"`
	HTTPBaseURL      string          `mapstructure:"http_base_url"`
	WebsocketBaseURL string          `mapstructure:"websocket_base_url"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig - лимит запросов HTTP-транспорта
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Period time.Duration `mapstructure:"period"`
}

// ExchangeConfig - блок одной биржи.
//
// Нулевые значения полей означают "не задано": при наложении
// default_exchange такие поля берутся из блока по умолчанию.
type ExchangeConfig struct {
	Fee                   float64            `mapstructure:"fee"`
	Limit                 float64            `mapstructure:"limit"`
	Pairs                 []string           `mapstructure:"pairs"`
	PairLimits            map[string]float64 `mapstructure:"pair_limits"`
	PairNameTemplate      string             `mapstructure:"pair_name_template"`
	FetchBalancesInterval time.Duration      `mapstructure:"fetch_balances_interval"`
	UpdateTickersInterval time.Duration      `mapstructure:"update_tickers_interval"`
	UpdateTickersTimeout  time.Duration      `mapstructure:"update_tickers_timeout"`
	SubscribeOnPairsDelay time.Duration      `mapstructure:"subscribe_on_pairs_delay"`
	Interval              time.Duration      `mapstructure:"interval"`
	Transport             TransportConfig    `mapstructure:"transport"`
}

// StrategyConfig - блок одной стратегии
type StrategyConfig struct {
	Pairs     []string `mapstructure:"pairs"`
	OrderType string   `mapstructure:"order_type"`

	// Interval - порог свежести офферов при поиске окна
	Interval time.Duration `mapstructure:"interval"`

	WindowDirectWidth      float64       `mapstructure:"window_direct_width"`
	WindowReversedWidth    float64       `mapstructure:"window_reversed_width"`
	MaxSpendPart           float64       `mapstructure:"max_spend_part"`
	FetchOrderInterval     time.Duration `mapstructure:"fetch_order_interval"`
	SleepAfterPlaced       time.Duration `mapstructure:"sleep_after_placed"`
	OrderTimeout           time.Duration `mapstructure:"order_timeout"`
	OrderPlacementInterval time.Duration `mapstructure:"order_placement_interval"`
	AutoreverseOrderDelta  time.Duration `mapstructure:"autoreverse_order_delta"`
}

// Load читает конфигурацию из файла и окружения.
//
// Пустой path берётся из CRYPTOTRADER_CONFIG, затем config.yaml.
// Локальный .env подхватывается до чтения окружения, чтобы секреты
// можно было держать рядом с конфигурацией.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path == "" {
		path = DefaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.interval", 5*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("queue.backend", QueueBackendPostgres)

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}

	for name, block := range cfg.Exchanges {
		cfg.Exchanges[name] = overlayExchange(cfg.DefaultExchange, block)
	}

	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlayExchange накладывает блок биржи на блок по умолчанию.
// Слияние явное, поле за полем: биржа побеждает там, где задала
// собственное значение.
func overlayExchange(base, venue ExchangeConfig) ExchangeConfig {
	merged := base

	if venue.Fee != 0 {
		merged.Fee = venue.Fee
	}
	if venue.Limit != 0 {
		merged.Limit = venue.Limit
	}
	if len(venue.Pairs) != 0 {
		merged.Pairs = venue.Pairs
	}
	if len(venue.PairLimits) != 0 {
		merged.PairLimits = venue.PairLimits
	}
	if venue.PairNameTemplate != "" {
		merged.PairNameTemplate = venue.PairNameTemplate
	}
	if venue.FetchBalancesInterval != 0 {
		merged.FetchBalancesInterval = venue.FetchBalancesInterval
	}
	if venue.UpdateTickersInterval != 0 {
		merged.UpdateTickersInterval = venue.UpdateTickersInterval
	}
	if venue.UpdateTickersTimeout != 0 {
		merged.UpdateTickersTimeout = venue.UpdateTickersTimeout
	}
	if venue.SubscribeOnPairsDelay != 0 {
		merged.SubscribeOnPairsDelay = venue.SubscribeOnPairsDelay
	}
	if venue.Interval != 0 {
		merged.Interval = venue.Interval
	}

	if venue.Transport.Key != "" {
		merged.Transport.Key = venue.Transport.Key
	}
	if venue.Transport.Secret != "" {
		merged.Transport.Secret = venue.Transport.Secret
	}
	if venue.Transport.HTTPBaseURL != "" {
		merged.Transport.HTTPBaseURL = venue.Transport.HTTPBaseURL
	}
	if venue.Transport.WebsocketBaseURL != "" {
		merged.Transport.WebsocketBaseURL = venue.Transport.WebsocketBaseURL
	}
	if venue.Transport.RateLimit.Limit != 0 {
		merged.Transport.RateLimit.Limit = venue.Transport.RateLimit.Limit
	}
	if venue.Transport.RateLimit.Period != 0 {
		merged.Transport.RateLimit.Period = venue.Transport.RateLimit.Period
	}
	return merged
}

// decryptSecrets расшифровывает значения с префиксом "enc:".
// Мастер-фраза обязательна, только если такие значения есть.
func (c *Config) decryptSecrets() error {
	var key []byte

	decrypt := func(field, value string) (string, error) {
		if !strings.HasPrefix(value, encryptedPrefix) {
			return value, nil
		}
		if key == nil {
			passphrase := os.Getenv(SecretKeyEnv)
			if passphrase == "" {
				return "", &ConfigError{Field: field, Reason: SecretKeyEnv + " is required to decrypt encrypted values"}
			}
			key = crypto.DeriveKey(passphrase, deriveSalt)
		}

		plain, err := crypto.Decrypt(strings.TrimPrefix(value, encryptedPrefix), key)
		if err != nil {
			return "", &ConfigError{Field: field, Reason: err.Error()}
		}
		return plain, nil
	}

	for name, block := range c.Exchanges {
		var err error
		if block.Transport.Key, err = decrypt("exchanges."+name+".transport.key", block.Transport.Key); err != nil {
			return err
		}
		if block.Transport.Secret, err = decrypt("exchanges."+name+".transport.secret", block.Transport.Secret); err != nil {
			return err
		}
		c.Exchanges[name] = block
	}
	return nil
}

// Validate проверяет конфигурацию после слияния блоков
func (c *Config) Validate() error {
	if c.DSN == "" {
		return &ConfigError{Field: "dsn", Reason: "is required"}
	}
	if c.App.Interval <= 0 {
		return &ConfigError{Field: "app.interval", Reason: "must be positive"}
	}

	switch c.Queue.Backend {
	case QueueBackendPostgres:
	case QueueBackendRedis:
		if c.Queue.RedisAddr == "" {
			return &ConfigError{Field: "queue.redis_addr", Reason: "is required for redis backend"}
		}
		if c.Queue.RedisName == "" {
			return &ConfigError{Field: "queue.redis_name", Reason: "is required for redis backend"}
		}
	default:
		return &ConfigError{Field: "queue.backend", Reason: fmt.Sprintf("unknown backend %q", c.Queue.Backend)}
	}

	for name, block := range c.Exchanges {
		field := "exchanges." + name
		if len(block.Pairs) == 0 {
			return &ConfigError{Field: field + ".pairs", Reason: "is required"}
		}
		if block.Transport.Key == "" || block.Transport.Secret == "" {
			return &ConfigError{Field: field + ".transport", Reason: "key and secret are required"}
		}
		if block.Transport.HTTPBaseURL == "" {
			return &ConfigError{Field: field + ".transport.http_base_url", Reason: "is required"}
		}
		if block.Interval <= 0 {
			return &ConfigError{Field: field + ".interval", Reason: "must be positive"}
		}
		if block.UpdateTickersInterval <= 0 {
			return &ConfigError{Field: field + ".update_tickers_interval", Reason: "must be positive"}
		}
	}

	for name, block := range c.Strategies {
		field := "strategies." + name
		if len(block.Pairs) == 0 {
			return &ConfigError{Field: field + ".pairs", Reason: "is required"}
		}
		if block.OrderType != "limit" && block.OrderType != "market" {
			return &ConfigError{Field: field + ".order_type", Reason: fmt.Sprintf("unknown order type %q", block.OrderType)}
		}
		if block.MaxSpendPart <= 0 || block.MaxSpendPart > 1 {
			return &ConfigError{Field: field + ".max_spend_part", Reason: "must be in (0, 1]"}
		}
		if block.WindowDirectWidth <= 0 || block.WindowReversedWidth <= 0 {
			return &ConfigError{Field: field + ".window_direct_width", Reason: "widths must be positive"}
		}
		if block.Interval <= 0 {
			return &ConfigError{Field: field + ".interval", Reason: "must be positive"}
		}

		// каждая пара стратегии обязана торговаться хотя бы на одной бирже
		for _, pair := range block.Pairs {
			if !c.pairHandled(pair) {
				return &ConfigError{
					Field:  field + ".pairs",
					Reason: fmt.Sprintf("pair %q is not traded on any configured exchange", pair),
				}
			}
		}
	}
	return nil
}

func (c *Config) pairHandled(pair string) bool {
	for _, block := range c.Exchanges {
		for _, p := range block.Pairs {
			if strings.EqualFold(p, pair) {
				return true
			}
		}
	}
	return false
}
