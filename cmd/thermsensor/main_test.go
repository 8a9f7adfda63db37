package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/config"
	"github.com/c360/thermstream/processor/parser"
	"github.com/c360/thermstream/sensor"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	cli, err := parseFlags([]string{"--once", "--log-level=debug", "-c", "sensor.yaml"}, &stderr)
	require.NoError(t, err)
	assert.True(t, cli.Once)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "sensor.yaml", cli.ConfigPath)
	assert.Empty(t, stderr.String())
}

func TestParseFlags_Help(t *testing.T) {
	var stderr bytes.Buffer
	cli, err := parseFlags([]string{"--help"}, &stderr)
	require.NoError(t, err)
	assert.True(t, cli.ShowHelp)
	assert.Contains(t, stderr.String(), "--once")
	assert.Contains(t, stderr.String(), appName)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		cli     CLIConfig
		wantErr string
	}{
		{name: "empty", cli: CLIConfig{}},
		{name: "bad level", cli: CLIConfig{LogLevel: "trace"}, wantErr: "invalid log level"},
		{name: "bad format", cli: CLIConfig{LogFormat: "xml"}, wantErr: "invalid log format"},
		{name: "missing config", cli: CLIConfig{ConfigPath: "/nonexistent/sensor.yaml"}, wantErr: "config file not found"},
		{name: "negative timeout", cli: CLIConfig{ShutdownTimeout: -time.Second}, wantErr: "invalid shutdown timeout"},
		{name: "version skips checks", cli: CLIConfig{ShowVersion: true, LogLevel: "trace"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cli)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(cfg, &CLIConfig{LogLevel: "warn", LogFile: "thermsensor", ShutdownTimeout: 3 * time.Second})
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "thermsensor", cfg.Log.File)
	assert.Equal(t, config.LogFormatJSON, cfg.Log.Format)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout.Std())
}

func TestReadOnce_PrintsLine(t *testing.T) {
	cfg := config.Default()
	cfg.Sensor.WarmUp = 0
	cfg.Sensor.Simulator.Seed = 7

	bus, err := openBus(cfg.Sensor)
	require.NoError(t, err)
	defer bus.Close()

	var out bytes.Buffer
	require.NoError(t, readOnce(context.Background(), cfg, bus, &out, nil))

	line := strings.TrimSpace(out.String())
	reading, err := parser.Decode(line)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sensor.ID, reading.SensorID)
}

func TestReadOnce_Cancelled(t *testing.T) {
	cfg := config.Default()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	assert.NoError(t, readOnce(ctx, cfg, sensor.NewSimulatedBus(), &out, nil))
	assert.Empty(t, out.String())
}
