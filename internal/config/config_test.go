package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, BackendKafka, cfg.NotifyBackend)
	assert.Equal(t, int32(8), cfg.PostgresMaxConns)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamodb")
	t.Setenv("MIRROR_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("REQUEST_TIMEOUT", "750ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendDynamo, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.MirrorBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers())
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "spanner")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownNotifier(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "sms")
	_, err := Load()
	assert.ErrorContains(t, err, "NOTIFY_BACKEND")
}
