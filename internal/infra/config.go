package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации control plane.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCConfig: адрес, на котором публикуется grpc.health.v1 со статусом агентов.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL (справочник агентов, аудит, пользователи).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub команд и кэш статусов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// AgentsConfig — политика клиентов агентов: общие значения и точечные переопределения по ID агента.
type AgentsConfig struct {
	Defaults  AgentClientConfig            `mapstructure:"defaults"`
	Overrides map[string]AgentClientConfig `mapstructure:"overrides"`
	// FallbackHost/FallbackPort: куда смотрит клиент по умолчанию, если агент не найден в справочнике.
	FallbackHost string `mapstructure:"fallback_host"`
	FallbackPort int    `mapstructure:"fallback_port"`
}

// AgentClientConfig: типизированная политика одного клиента агента.
// Нулевые поля заполняются через WithDefaults, проверка: один раз через Validate.
type AgentClientConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	FastTimeout         time.Duration `mapstructure:"fast_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	MaxSockets          int           `mapstructure:"max_sockets"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout"`
	MetricsLogSize      int           `mapstructure:"metrics_log_size"`
	RateLimit           float64       `mapstructure:"rate_limit"`
	RateBurst           int           `mapstructure:"rate_burst"`
	// HostOverride заменяет внутренний hostname без точки. Пусто: используем loopback.
	HostOverride string `mapstructure:"host_override"`
	// ProbeIsolation: health-check идет через собственный breaker и не открывает цепь для операторов.
	ProbeIsolation *bool `mapstructure:"probe_isolation"`
}

// DefaultAgentClientConfig: значения по умолчанию для клиента агента.
func DefaultAgentClientConfig() AgentClientConfig {
	isolate := true
	return AgentClientConfig{
		Timeout:             4 * time.Second,
		FastTimeout:         1500 * time.Millisecond,
		RetryAttempts:       3,
		RetryBaseDelay:      1 * time.Second,
		RetryMaxDelay:       5 * time.Second,
		MaxSockets:          20,
		KeepAlive:           1 * time.Second,
		IdleTimeout:         30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		MetricsLogSize:      100,
		RateLimit:           50,
		RateBurst:           20,
		ProbeIsolation:      &isolate,
	}
}

// WithDefaults возвращает копию, где все нулевые поля взяты из base.
func (c AgentClientConfig) WithDefaults(base AgentClientConfig) AgentClientConfig {
	if c.Timeout == 0 {
		c.Timeout = base.Timeout
	}
	if c.FastTimeout == 0 {
		c.FastTimeout = base.FastTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = base.RetryAttempts
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = base.RetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = base.RetryMaxDelay
	}
	if c.MaxSockets == 0 {
		c.MaxSockets = base.MaxSockets
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = base.KeepAlive
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = base.IdleTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = base.HealthCheckInterval
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = base.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = base.RecoveryTimeout
	}
	if c.MetricsLogSize == 0 {
		c.MetricsLogSize = base.MetricsLogSize
	}
	if c.RateLimit == 0 {
		c.RateLimit = base.RateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = base.RateBurst
	}
	if c.HostOverride == "" {
		c.HostOverride = base.HostOverride
	}
	if c.ProbeIsolation == nil {
		c.ProbeIsolation = base.ProbeIsolation
	}
	return c
}

// IsolatedProbe: health-check через отдельный breaker (по умолчанию да).
func (c AgentClientConfig) IsolatedProbe() bool {
	return c.ProbeIsolation == nil || *c.ProbeIsolation
}

// Validate проверяет политику один раз при создании клиента.
func (c AgentClientConfig) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.FastTimeout <= 0 {
		errs = append(errs, errors.New("fast_timeout must be positive"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry_attempts must be >= 1"))
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 < base <= max"))
	}
	if c.MaxSockets < 1 {
		errs = append(errs, errors.New("max_sockets must be >= 1"))
	}
	if c.HealthCheckInterval < 0 {
		errs = append(errs, errors.New("health_check_interval must not be negative"))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure_threshold must be >= 1"))
	}
	if c.RecoveryTimeout <= 0 {
		errs = append(errs, errors.New("recovery_timeout must be positive"))
	}
	if c.MetricsLogSize < 1 {
		errs = append(errs, errors.New("metrics_log_size must be >= 1"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("rate_limit must be positive"))
	}
	if c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_burst must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid agent client config: %w", errors.Join(errs...))
	}
	return nil
}

// ForAgent собирает итоговую политику для конкретного агента: override поверх defaults поверх встроенных значений.
func (a AgentsConfig) ForAgent(agentID string) AgentClientConfig {
	base := a.Defaults.WithDefaults(DefaultAgentClientConfig())
	if o, ok := a.Overrides[agentID]; ok {
		return o.WithDefaults(base)
	}
	return base
}

// AuditConfig: буфер и период сброса асинхронного аудита команд.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// AGENTS_DEFAULTS_TIMEOUT=2s перекроет agents.defaults.timeout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет: работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Agents.ForAgent("").Validate(); err != nil {
		return nil, err
	}
	for id := range cfg.Agents.Overrides {
		if err := cfg.Agents.ForAgent(id).Validate(); err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultAgentClientConfig()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("grpc.addr", ":50052")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	v.SetDefault("agents.fallback_host", "127.0.0.1")
	v.SetDefault("agents.fallback_port", 8080)
	v.SetDefault("agents.defaults.timeout", d.Timeout)
	v.SetDefault("agents.defaults.fast_timeout", d.FastTimeout)
	v.SetDefault("agents.defaults.retry_attempts", d.RetryAttempts)
	v.SetDefault("agents.defaults.retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("agents.defaults.retry_max_delay", d.RetryMaxDelay)
	v.SetDefault("agents.defaults.max_sockets", d.MaxSockets)
	v.SetDefault("agents.defaults.health_check_interval", d.HealthCheckInterval)
	v.SetDefault("agents.defaults.failure_threshold", d.FailureThreshold)
	v.SetDefault("agents.defaults.recovery_timeout", d.RecoveryTimeout)
}

// loadKeyResource: ключ либо прямо из ENV, либо из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
