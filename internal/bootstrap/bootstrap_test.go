package bootstrap

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/config"
	"github.com/simonkvalheim/fjord-microfinance/internal/model"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Env:              "test",
		LogLevel:         "debug",
		Storage:          config.StorageMemory,
		NotifyBackend:    config.NotifyLog,
		DefaultGraceDays: 30,
	}
}

func TestInitialize_MemoryStorage(t *testing.T) {
	app, err := Initialize(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Ledger)
	require.NotNil(t, app.Lending)
	require.NotNil(t, app.Deposits)
	require.NotNil(t, app.Goals)
	require.NotNil(t, app.Investments)
	assert.Equal(t, "KES", app.Catalog.Currency)
	require.NoError(t, app.Store.Ping(context.Background()))

	acct, err := app.Ledger.OpenAccount(context.Background(), model.OpenAccountRequest{
		OwnerID:  uuid.New(),
		Product:  "personal",
		Currency: "KES",
	})
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, acct.Status)
}

func TestInitialize_BadPolicyFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.PolicyFile = "/nonexistent/policy.yaml"

	_, err := Initialize(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := memoryConfig()
	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	cfg.Env = "production"
	cfg.LogLevel = "warn"
	log, err = NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	cfg.LogLevel = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}
