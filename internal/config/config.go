package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	Env         string   `mapstructure:"env"` // local / staging / production
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	// TopicPrefix 事件 topic 前缀，完整 topic 为 <prefix>.<kind>
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// BackendConfig 托管后端（REST/RPC/认证/存储）
type BackendConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	ServiceKey     string `mapstructure:"service_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ReceiptsBucket string `mapstructure:"receipts_bucket"`
}

type BusinessConfig struct {
	RequestTimeoutMinutes   int     `mapstructure:"request_timeout_minutes"`
	ApprovingTimeoutMinutes int     `mapstructure:"approving_timeout_minutes"`
	MaxRetryCount           int     `mapstructure:"max_retry_count"`
	UniqueAmountMaxOffset   int     `mapstructure:"unique_amount_max_offset"`
	UniqueAmountTTLMinutes  int     `mapstructure:"unique_amount_ttl_minutes"`
	WizardTTLMinutes        int     `mapstructure:"wizard_ttl_minutes"`
	BalanceCacheSeconds     int     `mapstructure:"balance_cache_seconds"`
	PolicyCacheSeconds      int     `mapstructure:"policy_cache_seconds"`
	RoleCacheSeconds        int     `mapstructure:"role_cache_seconds"`
	RecalcIntervalMinutes   int     `mapstructure:"recalc_interval_minutes"`
	RateLimitPerSecond      float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst          int     `mapstructure:"rate_limit_burst"`
	AliExpressRate          string  `mapstructure:"aliexpress_rate"` // 1 USD 兑多少 DZD
	// DiasporaRates 侨汇汇率，币种 -> 1 单位兑多少 DZD
	DiasporaRates map[string]string `mapstructure:"diaspora_rates"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LoadConfig 加载配置文件，OPAY_ 前缀的环境变量覆盖同名配置（如 OPAY_BACKEND_API_KEY）
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("OPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults 同时让 AutomaticEnv 认识这些 key，未写进 yaml 的项也能被环境变量覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "local")
	v.SetDefault("kafka.topic_prefix", "opay.request")
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "opay")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.service_key", "")
	v.SetDefault("backend.timeout_seconds", 15)
	v.SetDefault("backend.receipts_bucket", "receipts")
	v.SetDefault("business.request_timeout_minutes", 60)
	v.SetDefault("business.approving_timeout_minutes", 5)
	v.SetDefault("business.max_retry_count", 3)
	v.SetDefault("business.unique_amount_max_offset", 5)
	v.SetDefault("business.unique_amount_ttl_minutes", 60)
	v.SetDefault("business.wizard_ttl_minutes", 30)
	v.SetDefault("business.balance_cache_seconds", 10)
	v.SetDefault("business.policy_cache_seconds", 300)
	v.SetDefault("business.role_cache_seconds", 60)
	v.SetDefault("business.recalc_interval_minutes", 60)
	v.SetDefault("business.rate_limit_per_second", 2)
	v.SetDefault("business.rate_limit_burst", 5)
	v.SetDefault("business.aliexpress_rate", "250")
	v.SetDefault("business.diaspora_rates", map[string]string{"EUR": "250", "USD": "230", "GBP": "290", "CAD": "165"})
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.port", 9090)
}

// Validate 启动前检查必填项
func (c *Config) Validate() error {
	if c.Backend.URL == "" || c.Backend.APIKey == "" {
		return errors.New("backend.url 和 backend.api_key 必须配置")
	}
	if c.Server.Port <= 0 || c.Metrics.Port <= 0 {
		return errors.New("端口必须为正数")
	}
	if c.Business.UniqueAmountMaxOffset <= 0 {
		return errors.New("business.unique_amount_max_offset 必须为正数")
	}
	if _, err := c.Business.USDRate(); err != nil {
		return err
	}
	if _, err := c.Business.Rates(); err != nil {
		return err
	}
	return nil
}

// USDRate 速卖通标价换算汇率
func (b BusinessConfig) USDRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(b.AliExpressRate)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("business.aliexpress_rate 不合法: %q", b.AliExpressRate)
	}
	return rate, nil
}

// Rates 解析侨汇汇率，币种统一大写
func (b BusinessConfig) Rates() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(b.DiasporaRates))
	for currency, raw := range b.DiasporaRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("business.diaspora_rates.%s 不合法: %q", currency, raw)
		}
		out[strings.ToUpper(currency)] = rate
	}
	return out, nil
}

func (b BusinessConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutMinutes) * time.Minute
}

func (b BusinessConfig) ApprovingTimeout() time.Duration {
	return time.Duration(b.ApprovingTimeoutMinutes) * time.Minute
}

func (b BusinessConfig) UniqueAmountTTL() time.Duration {
	return time.Duration(b.UniqueAmountTTLMinutes) * time.Minute
}

func (b BusinessConfig) WizardTTL() time.Duration {
	return time.Duration(b.WizardTTLMinutes) * time.Minute
}

func (b BusinessConfig) BalanceCacheTTL() time.Duration {
	return time.Duration(b.BalanceCacheSeconds) * time.Second
}

func (b BusinessConfig) PolicyCacheTTL() time.Duration {
	return time.Duration(b.PolicyCacheSeconds) * time.Second
}

func (b BusinessConfig) RoleCacheTTL() time.Duration {
	return time.Duration(b.RoleCacheSeconds) * time.Second
}

func (b BusinessConfig) RecalcInterval() time.Duration {
	return time.Duration(b.RecalcIntervalMinutes) * time.Minute
}
