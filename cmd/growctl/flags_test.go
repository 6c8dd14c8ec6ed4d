package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, "configs/grow_a_plant.json", cfg.ConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, metricsPortFromConfig, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.WatchConfig)
	assert.False(t, cfg.Validate)
}

func TestParseFlags_EnvironmentFallbacks(t *testing.T) {
	cfg, err := parseFlags(nil, envFrom(map[string]string{
		"GROWCTL_CONFIG":           "/etc/growctl.yaml",
		"GROWCTL_LOG_FORMAT":       "text",
		"GROWCTL_METRICS_PORT":     "0",
		"GROWCTL_SHUTDOWN_TIMEOUT": "3s",
		"GROWCTL_WATCH_CONFIG":     "false",
		"GROWCTL_DEBUG":            "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/etc/growctl.yaml", cfg.ConfigPath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 0, cfg.MetricsPort)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.WatchConfig)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseFlags_FlagsBeatEnvironment(t *testing.T) {
	cfg, err := parseFlags(
		[]string{"-c", "flag.json", "--log-level=warn", "--metrics-port=9100", "--validate"},
		envFrom(map[string]string{"GROWCTL_CONFIG": "env.json", "GROWCTL_LOG_LEVEL": "error"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "flag.json", cfg.ConfigPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.True(t, cfg.Validate)
}

func TestParseFlags_MalformedEnvironmentIgnored(t *testing.T) {
	cfg, err := parseFlags(nil, envFrom(map[string]string{
		"GROWCTL_METRICS_PORT":     "lots",
		"GROWCTL_SHUTDOWN_TIMEOUT": "soon",
	}))
	require.NoError(t, err)
	assert.Equal(t, metricsPortFromConfig, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_HelpAndUnknown(t *testing.T) {
	cfg, err := parseFlags([]string{"-h"}, envFrom(nil))
	require.NoError(t, err)
	assert.True(t, cfg.ShowHelp)

	_, err = parseFlags([]string{"--no-such-flag"}, envFrom(nil))
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growctl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	valid := func() *CLIConfig {
		return &CLIConfig{
			ConfigPath:      path,
			LogLevel:        "info",
			LogFormat:       "json",
			MetricsPort:     metricsPortFromConfig,
			ShutdownTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*CLIConfig) {}},
		{name: "missing config", mutate: func(c *CLIConfig) { c.ConfigPath = path + ".missing" }, wantErr: "config file not found"},
		{name: "bad level", mutate: func(c *CLIConfig) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *CLIConfig) { c.LogFormat = "xml" }, wantErr: "invalid log format"},
		{name: "bad port", mutate: func(c *CLIConfig) { c.MetricsPort = 70000 }, wantErr: "invalid metrics port"},
		{name: "zero timeout", mutate: func(c *CLIConfig) { c.ShutdownTimeout = 0 }, wantErr: "shutdown timeout"},
		{name: "version skips checks", mutate: func(c *CLIConfig) { c.ShowVersion = true; c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
