package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BASE_CURRENCY", " usd ")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.BaseCurrency)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.AppRequestTimeout)
	require.Equal(t, 10*time.Minute, cfg.FXCacheTTL)
	require.Equal(t, 60, cfg.RateLimit)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, "30 1 * * *", cfg.IntegrityCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("RATE_LIMIT", "0")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "rate limit")

	t.Setenv("RATE_LIMIT", "10")
	t.Setenv("ROUND_OFF_ACCOUNT_ID", "-1")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "round-off")
}

func TestInTestModeRefresh(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	for value, want := range map[string]bool{"1": true, "true": true, " TRUE ": true, "": false, "0": false, "yes": false} {
		t.Setenv(TestModeEnv, value)
		RefreshTestMode()
		require.Equal(t, want, InTestMode(), "value %q", value)
	}
}
