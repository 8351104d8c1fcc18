package config

import (
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
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
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransferCompleted string `mapstructure:"transfer_completed"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	ExpireMinutes int    `mapstructure:"expire_minutes"`
}

// BusinessConfig 业务参数
// 金额类参数用字符串承载，解析为 decimal 后使用，避免经过二进制浮点数
type BusinessConfig struct {
	MinTransferAmount string `mapstructure:"min_transfer_amount"` // 单笔最小转账金额，默认 0.01
	MaxTransferAmount string `mapstructure:"max_transfer_amount"` // 单笔最大转账金额，默认 10000.00
	SignupBonus       string `mapstructure:"signup_bonus"`        // 注册赠送金额，默认 1000.00
	DefaultPageSize   int    `mapstructure:"default_page_size"`   // 交易列表默认每页条数
	MaxPageSize       int    `mapstructure:"max_page_size"`       // 交易列表每页条数上限
	MaxRetryCount     int    `mapstructure:"max_retry_count"`     // 乐观锁冲突 / 消息投递最大重试次数
	LockTTLSeconds    int    `mapstructure:"lock_ttl_seconds"`    // 转账分布式锁过期时间
}

// MinAmount 解析后的最小转账金额
func (b *BusinessConfig) MinAmount() decimal.Decimal {
	return decimal.RequireFromString(b.MinTransferAmount)
}

// MaxAmount 解析后的最大转账金额
func (b *BusinessConfig) MaxAmount() decimal.Decimal {
	return decimal.RequireFromString(b.MaxTransferAmount)
}

// Bonus 解析后的注册赠送金额
func (b *BusinessConfig) Bonus() decimal.Decimal {
	return decimal.RequireFromString(b.SignupBonus)
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("business.min_transfer_amount", "0.01")
	viper.SetDefault("business.max_transfer_amount", "10000.00")
	viper.SetDefault("business.signup_bonus", "1000.00")
	viper.SetDefault("business.default_page_size", 10)
	viper.SetDefault("business.max_page_size", 100)
	viper.SetDefault("business.max_retry_count", 3)
	viper.SetDefault("business.lock_ttl_seconds", 30)
	viper.SetDefault("jwt.expire_minutes", 30)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	// 启动时校验金额配置，出错直接终止
	for _, s := range []string{
		config.Business.MinTransferAmount,
		config.Business.MaxTransferAmount,
		config.Business.SignupBonus,
	} {
		if _, err := decimal.NewFromString(s); err != nil {
			log.Fatalf("金额配置不合法: %q: %v", s, err)
		}
	}

	GlobalConfig = config
	return config
}
