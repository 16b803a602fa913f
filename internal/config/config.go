package config

import (
	"log"

	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Stripe struct {
	SecretKey     string `mapstructure:"secret-key"`
	WebhookSecret string `mapstructure:"webhook-secret"`
}

type Resend struct {
	APIKey    string `mapstructure:"api-key"`
	FromEmail string `mapstructure:"from-email"`
}

type Download struct {
	BaseURL      string `mapstructure:"base-url"`
	MaxDownloads int    `mapstructure:"max-downloads"`
	UploadDir    string `mapstructure:"upload-dir"`
}

type Verification struct {
	CodeTTLMinutes     int `mapstructure:"code-ttl-minutes"`
	ResendCooldownSec  int `mapstructure:"resend-cooldown-seconds"`
	MaxConfirmAttempts int `mapstructure:"max-confirm-attempts"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents string `mapstructure:"payment-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database     Database     `mapstructure:"database"`
	Redis        Redis        `mapstructure:"redis"`
	Stripe       Stripe       `mapstructure:"stripe"`
	Resend       Resend       `mapstructure:"resend"`
	Download     Download     `mapstructure:"download"`
	Verification Verification `mapstructure:"verification"`
	Kafka        Kafka        `mapstructure:"kafka"`
	Server       Server       `mapstructure:"server"`
	Metrics      Metrics      `mapstructure:"metrics"`
	Logs         Logs         `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// secrets come from the environment, never from the yaml file
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("stripe.secret-key", "STRIPE_SECRET_KEY")
	viper.BindEnv("stripe.webhook-secret", "STRIPE_WEBHOOK_SECRET")
	viper.BindEnv("resend.api-key", "RESEND_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
