package main

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/config"
)

func TestRun_ClosesNotifierWhenStartFails(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Env:              "test",
		LogLevel:         "info",
		Storage:          config.StorageMemory,
		NotifyBackend:    config.NotifyRedis,
		RedisURL:         mr.Addr(),
		MaturitySchedule: "not a cron",
		DefaultSchedule:  "30 0 * * *",
	}

	err := run(cfg, zap.NewNop())
	require.ErrorContains(t, err, "failed to start scheduler")
	require.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond, "redis connection left open")
}
