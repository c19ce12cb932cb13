package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.ModelBackend = "torch" }},
		{"onnx without path", func(c *Config) { c.ModelBackend = BackendONNX }},
		{"remote without addr", func(c *Config) { c.ModelBackend = BackendRemote; c.InferenceAddr = "" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"too many players", func(c *Config) { c.NumPlayers = 5 }},
		{"no steps", func(c *Config) { c.MaxSteps = 0 }},
		{"no timeout", func(c *Config) { c.EpisodeTimeout = 0 }},
		{"no batch", func(c *Config) { c.BatchSize = 0 }},
		{"no flush interval", func(c *Config) { c.FlushInterval = 0 }},
		{"gamma too large", func(c *Config) { c.Gamma = 1.5 }},
		{"negative lambda", func(c *Config) { c.GAELambda = -0.1 }},
		{"nats without subject", func(c *Config) { c.NATSURL = "nats://localhost:4222"; c.NATSSubject = "" }},
		{"empty actor id", func(c *Config) { c.ActorID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geese.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_backend: remote
inference_addr: inference:50061
workers: 2
episode_timeout: 1m
masked: false
`), 0o600))

	t.Setenv("GEESE_WORKERS", "6")
	t.Setenv("GEESE_FLUSH_INTERVAL", "250ms")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("actor-id", "actor-1", "")
	flags.Int("batch-size", 256, "")
	require.NoError(t, flags.Set("actor-id", "actor-9"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, BackendRemote, cfg.ModelBackend)
	assert.Equal(t, "inference:50061", cfg.InferenceAddr)
	assert.Equal(t, time.Minute, cfg.EpisodeTimeout)
	assert.False(t, cfg.Masked)
	assert.Equal(t, 6, cfg.Workers, "environment overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, "actor-9", cfg.ActorID, "changed flag overrides everything")
	assert.Equal(t, 256, cfg.BatchSize, "unchanged flag keeps default")
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
