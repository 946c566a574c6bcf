package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/plant-hire/service-booking/pkg/database"
)

// StripeConfig holds Stripe-specific configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// KafkaConfig holds the broker list and the notification topic.
type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port       string
	AppEnv     string
	DBConfig   database.PostgresConfig
	Kafka      KafkaConfig
	Stripe     StripeConfig
	CronSecret string
	HoldTTL    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVICE_PORT", ":8085")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "booking")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "notification.events")
	v.SetDefault("HOLD_TTL_MINUTES", 15)

	holdTTL := time.Duration(v.GetInt("HOLD_TTL_MINUTES")) * time.Minute

	return &ServiceConfig{
		Port:   normalizePort(v.GetString("SERVICE_PORT")),
		AppEnv: v.GetString("APP_ENV"),
		DBConfig: database.PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(v.GetString("KAFKA_BROKERS"), ","),
			NotificationTopic: v.GetString("KAFKA_NOTIFICATION_TOPIC"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		CronSecret: v.GetString("CRON_SECRET"),
		HoldTTL:    holdTTL,
	}, nil
}

func normalizePort(port string) string {
	if port == "" {
		return ":8085"
	}
	if !strings.HasPrefix(port, ":") {
		return ":" + port
	}
	return port
}
