package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	OTP      OTPConfig      `mapstructure:"otp"`
	Session  SessionConfig  `mapstructure:"session"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
	Authz    AuthzConfig    `mapstructure:"authz"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderEvents   string `mapstructure:"order_events"`
	PartnerEvents string `mapstructure:"partner_events"`
	WalletEvents  string `mapstructure:"wallet_events"`
}

type BusinessConfig struct {
	MaxRetryCount int           `mapstructure:"max_retry_count"`
	PayLockTTL    time.Duration `mapstructure:"pay_lock_ttl"`
}

type OTPConfig struct {
	Digits       int           `mapstructure:"digits"`
	ResetTTL     time.Duration `mapstructure:"reset_ttl"`
	PartnerTTL   time.Duration `mapstructure:"partner_ttl"`
	RateLimit    bool          `mapstructure:"rate_limit_enabled"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	RateMax      int           `mapstructure:"rate_max"`
	RateCooldown time.Duration `mapstructure:"rate_cooldown"`
	RateBlockFor time.Duration `mapstructure:"rate_block_for"`
}

type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	Secure     bool          `mapstructure:"secure"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type PaymentConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	TopUpPath  string `mapstructure:"top_up_path"`
}

type JobsConfig struct {
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	InvoiceRetryAfter   time.Duration `mapstructure:"invoice_retry_after"`
	InvoiceInterval     time.Duration `mapstructure:"invoice_interval"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthzConfig struct {
	ModelPath  string `mapstructure:"model_path"`
	PolicyPath string `mapstructure:"policy_path"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，环境变量（SERVICEMART_ 前缀）覆盖文件中的值
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SERVICEMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}

// Default 返回只包含默认值的配置，测试和命令行工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	config := &Config{}
	_ = v.Unmarshal(config)
	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")
	v.SetDefault("kafka.topic.order_events", "servicemart.order")
	v.SetDefault("kafka.topic.partner_events", "servicemart.partner")
	v.SetDefault("kafka.topic.wallet_events", "servicemart.wallet")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.pay_lock_ttl", "30s")
	v.SetDefault("otp.digits", 6)
	v.SetDefault("otp.reset_ttl", "10m")
	v.SetDefault("otp.partner_ttl", "5m")
	v.SetDefault("otp.rate_window", "10m")
	v.SetDefault("otp.rate_max", 5)
	v.SetDefault("otp.rate_cooldown", "30s")
	v.SetDefault("otp.rate_block_for", "30m")
	v.SetDefault("otp.rate_limit_enabled", true)
	v.SetDefault("session.ttl", "336h")
	v.SetDefault("session.cookie_name", "sm_session")
	v.SetDefault("smtp.port", 465)
	v.SetDefault("smtp.from_name", "ServiceMart")
	v.SetDefault("storage.root", "media")
	v.SetDefault("payment.gateway_url", "/api/v1/payments/page")
	v.SetDefault("payment.top_up_path", "/api/v1/partners/me/wallet/top-up")
	v.SetDefault("jobs.expiry_sweep_interval", "1h")
	v.SetDefault("jobs.invoice_retry_after", "2m")
	v.SetDefault("jobs.invoice_interval", "1m")
	v.SetDefault("jobs.outbox_interval", "500ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("authz.model_path", "config/rbac_model.conf")
	v.SetDefault("authz.policy_path", "config/rbac_policy.csv")
}
