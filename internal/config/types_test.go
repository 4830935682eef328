package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	invalidPort := cfg
	invalidPort.Server.Listen.Port = -1
	require.Error(t, invalidPort.Validate())

	tooLargePort := cfg
	tooLargePort.Server.Listen.Port = 70000
	require.Error(t, tooLargePort.Validate())

	negativeRetain := cfg
	negativeRetain.Server.Cache.RetainSeconds = -1
	require.Error(t, negativeRetain.Validate())

	negativeSweep := cfg
	negativeSweep.Server.Cache.SweepSeconds = -5
	require.Error(t, negativeSweep.Validate())

	unknownBackend := cfg
	unknownBackend.Server.Storage.Backend = "postgres"
	require.Error(t, unknownBackend.Validate())

	redisWithoutAddress := cfg
	redisWithoutAddress.Server.Storage.Backend = "redis"
	require.Error(t, redisWithoutAddress.Validate())

	redis := cfg
	redis.Server.Storage.Backend = " Redis "
	redis.Server.Storage.Redis.Address = "localhost:6379"
	require.NoError(t, redis.Validate())

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestCacheConfigDurations(t *testing.T) {
	cfg := CacheConfig{RetainSeconds: 30, SweepSeconds: 10}
	require.Equal(t, 30*time.Second, cfg.Retention())
	require.Equal(t, 10*time.Second, cfg.SweepInterval())
	require.Zero(t, CacheConfig{}.Retention())
}
