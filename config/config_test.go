package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.TotalCapacityUnits)
	assert.Equal(t, []string{"high", "normal", "low", "background"}, cfg.PriorityLevels)
}

func TestApplyEnvOverridesAndLeavesBaseUntouched(t *testing.T) {
	base := Defaults()
	t.Setenv("PULLSCHED_TOTAL_CAPACITY_UNITS", "250")
	t.Setenv("PULLSCHED_METRICS_BACKEND", "otel")
	t.Setenv("PULLSCHED_PRIORITY_LEVELS", "high, low")

	cfg := ApplyEnv(base)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 250, cfg.TotalCapacityUnits)
	assert.Equal(t, "otel", cfg.MetricsBackend)
	assert.Equal(t, []string{"high", "low"}, cfg.PriorityLevels)

	assert.Equal(t, 100, base.TotalCapacityUnits, "ApplyEnv must not mutate base")
}

func TestValidateRejectsBadMetricsBackend(t *testing.T) {
	cfg := Defaults()
	cfg.MetricsBackend = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveLeaseTTL(t *testing.T) {
	cfg := Defaults()
	cfg.LeaseTTLSeconds = 0
	assert.Error(t, cfg.Validate())
}
