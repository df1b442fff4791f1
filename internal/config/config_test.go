package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "STORE_DRIVER", "RESERVATION_TTL", "CHECKOUT_ISOLATION", "SWEEP_BATCH_SIZE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, store.RepeatableRead, cfg.CheckoutIsolation)
	assert.Equal(t, 100, cfg.SweepBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("RESERVATION_TTL", "5m")
	t.Setenv("CHECKOUT_ISOLATION", "serializable")
	t.Setenv("PG_MAX_CONNS", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, store.Serializable, cfg.CheckoutIsolation)
	assert.EqualValues(t, 16, cfg.PGMaxConns)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"CHECKOUT_ISOLATION": "read_committed",
		"RESERVATION_TTL":    "-1m",
		"SWEEP_BATCH_SIZE":   "zero",
		"STORE_DRIVER":       "mongo",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
