package infra

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForAgent_OverrideMergesOverDefaults(t *testing.T) {
	cfg := AgentsConfig{
		Defaults: AgentClientConfig{Timeout: 3 * time.Second},
		Overrides: map[string]AgentClientConfig{
			"7": {FailureThreshold: 2, HostOverride: "edge-7.plant.local"},
		},
	}

	base := cfg.ForAgent("1")
	assert.Equal(t, 3*time.Second, base.Timeout)
	assert.Equal(t, 5, base.FailureThreshold)
	assert.Equal(t, 20, base.MaxSockets)
	assert.True(t, base.IsolatedProbe())
	require.NoError(t, base.Validate())

	o := cfg.ForAgent("7")
	assert.Equal(t, 3*time.Second, o.Timeout)
	assert.Equal(t, 2, o.FailureThreshold)
	assert.Equal(t, "edge-7.plant.local", o.HostOverride)
}

func TestValidate_RejectsBrokenPolicy(t *testing.T) {
	c := DefaultAgentClientConfig()
	c.RetryMaxDelay = c.RetryBaseDelay / 2
	c.FailureThreshold = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry delays")
	assert.Contains(t, err.Error(), "failure_threshold")
}

func TestValidate_RejectsBrokenRateLimit(t *testing.T) {
	c := DefaultAgentClientConfig()
	c.RateLimit = -5
	c.RateBurst = -1

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit")
	assert.Contains(t, err.Error(), "rate_burst")

	// после merge отрицательное значение не подменяется значением по умолчанию
	cfg := AgentsConfig{Defaults: AgentClientConfig{RateLimit: -1}}
	assert.Error(t, cfg.ForAgent("col-1").Validate())
	assert.NoError(t, AgentsConfig{}.ForAgent("col-1").Validate())
}

func TestDecode_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("agents.overrides", map[string]any{
		"12": map[string]any{"timeout": "2s", "probe_isolation": false},
	})

	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Agents.FallbackHost)

	a := cfg.Agents.ForAgent("12")
	assert.Equal(t, 2*time.Second, a.Timeout)
	assert.False(t, a.IsolatedProbe())
	assert.Equal(t, 30*time.Second, a.RecoveryTimeout)
}
