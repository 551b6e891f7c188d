package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xela07ax/podtato-smoke/internal/domain"
)

// Config - корневая структура конфигурации прогона.
type Config struct {
	Target     domain.Target       `mapstructure:"target"`
	Permissive bool                `mapstructure:"permissive"`
	Run        RunConfig           `mapstructure:"run"`
	HTTP       HTTPConfig          `mapstructure:"http"`
	Thresholds map[string][]string `mapstructure:"thresholds"`
	Database   DatabaseConfig      `mapstructure:"database"`
	Redis      RedisConfig         `mapstructure:"redis"`
	Engine     EngineConfig        `mapstructure:"engine"`
	Server     ServerConfig        `mapstructure:"server"`
	Logger     LoggerConfig        `mapstructure:"logger"`
}

// RunConfig описывает нагрузку: сколько VU, сколько итераций или как долго.
type RunConfig struct {
	ID          string        `mapstructure:"id"` // общий для нескольких инстансов; пустой - сгенерируется
	VUs         int           `mapstructure:"vus"`
	Iterations  int64         `mapstructure:"iterations"`
	Duration    time.Duration `mapstructure:"duration"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	RPS         float64       `mapstructure:"rps"` // 0 - без ограничения
}

// HTTPConfig - настройки клиента. Остальное берется из дефолтов net/http.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (хранилище результатов).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig описывает подключение к Redis (распределенный счетчик и abort-сигнал).
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// EngineConfig содержит настройки записи результатов.
type EngineConfig struct {
	ResultBufferSize    int           `mapstructure:"result_buffer_size"`
	ResultBatchSize     int           `mapstructure:"result_batch_size"`
	ResultFlushInterval time.Duration `mapstructure:"result_flush_interval"`

	// Настройки Circuit Breaker для хранилищ результатов
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// ServerConfig описывает статус-сервер (/metrics, /health, /v1/summary).
type ServerConfig struct {
	Addr string `mapstructure:"addr"` // пустой - сервер не поднимается
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MaxResultBatchSize - предел пачки: Postgres принимает не больше 65535
// параметров в запросе, на строку smoke_results уходит 12.
const MaxResultBatchSize = 65535 / 12

// ConfigurationError - обязательные параметры не заданы. Прогон не стартует.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: required parameters not set: %s", strings.Join(e.Missing, ", "))
}

// Validate проверяет конфигурацию один раз до первого запроса.
func (c *Config) Validate() error {
	if !c.Permissive {
		if missing := c.Target.Missing(); len(missing) > 0 {
			return &ConfigurationError{Missing: missing}
		}
	}
	if c.Run.VUs < 1 {
		return fmt.Errorf("configuration: run.vus must be >= 1, got %d", c.Run.VUs)
	}
	if c.Run.Iterations < 0 || c.Run.Duration < 0 || c.Run.RPS < 0 {
		return errors.New("configuration: run.iterations, run.duration and run.rps must not be negative")
	}
	if c.Engine.ResultBatchSize > MaxResultBatchSize {
		return fmt.Errorf("configuration: engine.result_batch_size must be <= %d, got %d", MaxResultBatchSize, c.Engine.ResultBatchSize)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("configuration: redis.addr is required when redis.enabled")
	}
	return nil
}

// Option донастраивает загрузку конфигурации.
type Option func(v *viper.Viper) error

// WithConfigFile указывает явный путь к файлу вместо поиска.
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) error {
		if path != "" {
			v.SetConfigFile(path)
		}
		return nil
	}
}

// WithFlags привязывает флаги CLI к ключам конфигурации (флаг -> ключ).
// Флаг имеет приоритет, только если он явно передан.
func WithFlags(fs *pflag.FlagSet, bindings map[string]string) Option {
	return func(v *viper.Viper) error {
		for flagName, key := range bindings {
			f := fs.Lookup(flagName)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flagName, err)
			}
		}
		return nil
	}
}

// LoadConfig инициализирует конфигурацию, объединяя дефолты, файл, ENV и флаги.
func LoadConfig(opts ...Option) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. Переменные окружения: RUN_VUS=10 перекроет run.vus
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Параметры цели приходят как SERVICE / STAGE / SUBPATH
	_ = v.BindEnv("target.service", domain.ParamService)
	_ = v.BindEnv("target.stage", domain.ParamStage)
	_ = v.BindEnv("target.subpath", domain.ParamSubpath)

	// 3. Установка дефолтных значений
	setDefaults(v)

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Режим итераций по умолчанию: 1 VU, 1 итерация
	if cfg.Run.Iterations == 0 && cfg.Run.Duration == 0 {
		cfg.Run.Iterations = 1
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.service", "")
	v.SetDefault("target.stage", "")
	v.SetDefault("target.subpath", "")
	v.SetDefault("permissive", false)
	v.SetDefault("run.id", "")
	v.SetDefault("run.vus", 1)
	v.SetDefault("run.iterations", 0)
	v.SetDefault("run.duration", time.Duration(0))
	v.SetDefault("run.max_duration", 10*time.Minute)
	v.SetDefault("run.rps", 0)
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("thresholds", map[string][]string{
		"errors":            {"rate<0.1"},
		"http_req_duration": {"p(95)<500"},
	})
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("engine.result_buffer_size", 10000)
	v.SetDefault("engine.result_batch_size", 100)
	v.SetDefault("engine.result_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("server.addr", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}
