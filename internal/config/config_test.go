package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "logfmt" },
			wantErr: "invalid log format",
		},
		{
			name: "telemetry without service name",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.ServiceName = ""
			},
			wantErr: "service name required",
		},
		{
			name: "telemetry with bad protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "udp"
			},
			wantErr: "invalid telemetry protocol",
		},
		{
			name: "tracker without url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: "nats url required",
		},
		{
			name:    "unknown store provider",
			mutate:  func(c *Config) { c.Store.Provider = "s3" },
			wantErr: "invalid store provider",
		},
		{
			name:    "http provider without base url",
			mutate:  func(c *Config) { c.Store.Provider = "http" },
			wantErr: "base_url required",
		},
		{
			name:    "non-positive rate limit",
			mutate:  func(c *Config) { c.Store.RequestsPerSecond = -1 },
			wantErr: "requests_per_second",
		},
		{
			name:    "non-positive stability window",
			mutate:  func(c *Config) { c.Apply.StabilityWindow = -1 },
			wantErr: "stability window",
		},
		{
			name:    "zero save attempts",
			mutate:  func(c *Config) { c.Apply.SaveMaxAttempts = 0 },
			wantErr: "save_max_attempts",
		},
		{
			name:    "zero state attempts",
			mutate:  func(c *Config) { c.Apply.StateMaxAttempts = 0 },
			wantErr: "state_max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())

	text, err := empty.MarshalText()
	require.NoError(t, err)
	assert.Empty(t, string(text))

	require.NoError(t, empty.UnmarshalText([]byte("sk-new")))
	assert.Equal(t, "sk-new", empty.Value())
}
