package gateway_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/thermstream/errors"
	"github.com/c360/thermstream/gateway"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*gateway.Config)
		expectError bool
	}{
		{"defaults", func(*gateway.Config) {}, false},
		{"negative max request size", func(c *gateway.Config) { c.MaxRequestSize = -1 }, true},
		{"oversized max request size", func(c *gateway.Config) { c.MaxRequestSize = 200 * 1024 * 1024 }, true},
		{"negative timeout", func(c *gateway.Config) { c.WriteTimeout = -time.Second }, true},
		{"cors without origins", func(c *gateway.Config) { c.EnableCORS = true }, true},
		{"negative submit rate", func(c *gateway.Config) { c.SubmitRate = -1 }, true},
		{"submit rate", func(c *gateway.Config) { c.SubmitRate = 5 }, false},
		{"cors with origins", func(c *gateway.Config) {
			c.EnableCORS = true
			c.CORSOrigins = []string{"https://ops.example.com"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := gateway.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	cfg := gateway.Config{Addr: ":0"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(gateway.DefaultMaxRequestSize), cfg.MaxRequestSize)
	assert.Equal(t, gateway.DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, gateway.DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, gateway.DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, gateway.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.SubmitBurst)

	limited := gateway.Config{SubmitRate: 2}
	require.NoError(t, limited.Validate())
	assert.Equal(t, 1, limited.SubmitBurst)
}

func TestConfig_Enabled(t *testing.T) {
	assert.True(t, gateway.DefaultConfig().Enabled())
	assert.False(t, gateway.Config{}.Enabled())
}
