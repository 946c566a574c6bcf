package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Port)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "localhost", cfg.DBConfig.Host)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "notification.events", cfg.Kafka.NotificationTopic)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HOLD_TTL_MINUTES", "30")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port, "port is normalized with a leading colon")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.HoldTTL)
	assert.Equal(t, "s3cret", cfg.CronSecret)
}
