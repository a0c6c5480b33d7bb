package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udprelay/config"
	"github.com/c360/udprelay/relay"
	"github.com/c360/udprelay/store"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestParseFlags(t *testing.T) {
	t.Setenv("UDPRELAY_LOG_FORMAT", "text")

	cfg, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"--config", "/etc/udprelay.yaml", "--debug", "--shutdown-timeout", "3s"})
	require.NoError(t, err)

	assert.Equal(t, "/etc/udprelay.yaml", cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel, "--debug forces debug level")
	assert.Equal(t, "text", cfg.LogFormat, "environment fallback")
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, validateFlags(cfg))
}

func TestValidateFlags(t *testing.T) {
	valid := CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}

	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{name: "log level", mutate: func(c *CLIConfig) { c.LogLevel = "verbose" }},
		{name: "log format", mutate: func(c *CLIConfig) { c.LogFormat = "xml" }},
		{name: "shutdown timeout", mutate: func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, validateFlags(&cfg))
		})
	}

	bad := CLIConfig{LogLevel: "nope", ShowVersion: true}
	assert.NoError(t, validateFlags(&bad), "version skips validation")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "input", "input_1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "input_1", entry["input"])
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out))
	assert.Contains(t, out.String(), "udprelay version "+Version)
}

func TestRun_Validate(t *testing.T) {
	var out bytes.Buffer
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	require.NoError(t, run([]string{"--validate", "--config", missing}, &out))
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.Contains(t, out.String(), "using defaults")
}

func TestRun_InvalidFlags(t *testing.T) {
	err := run([]string{"--log-level", "loud"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestActivateInitialTable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	newEngine := func(t *testing.T) *relay.Engine {
		engine, err := relay.NewEngine(relay.EngineDeps{Logger: logger, Bind: "127.0.0.1"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
		return engine
	}

	t.Run("bootstrap when nothing persisted", func(t *testing.T) {
		fileStore, err := store.NewFileStore(filepath.Join(t.TempDir(), "routes.json"), logger)
		require.NoError(t, err)

		cfg := config.Default()
		cfg.Bootstrap = []relay.RawInput{{Name: "boot", Port: freeUDPPort(t)}}

		engine := newEngine(t)
		require.NoError(t, activateInitialTable(ctx, engine, fileStore, cfg, logger))
		assert.Equal(t, []string{"boot"}, engine.CurrentTable().Inputs())
		assert.NotEmpty(t, engine.Generation().ID)
	})

	t.Run("persisted table wins", func(t *testing.T) {
		fileStore, err := store.NewFileStore(filepath.Join(t.TempDir(), "routes.json"), logger)
		require.NoError(t, err)

		persisted, err := relay.BuildRouteTable([]relay.RawInput{
			{Name: "saved", Port: freeUDPPort(t), Outputs: []string{"127.0.0.1:9"}},
		})
		require.NoError(t, err)
		require.NoError(t, fileStore.Save(ctx, persisted))

		cfg := config.Default()
		cfg.Bootstrap = []relay.RawInput{{Name: "boot", Port: freeUDPPort(t)}}

		engine := newEngine(t)
		require.NoError(t, activateInitialTable(ctx, engine, fileStore, cfg, logger))
		assert.True(t, persisted.Equal(engine.CurrentTable()))
	})

	t.Run("bind failure leaves relay idle", func(t *testing.T) {
		held, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)
		defer held.Close()

		fileStore, err := store.NewFileStore(filepath.Join(t.TempDir(), "routes.json"), logger)
		require.NoError(t, err)

		cfg := config.Default()
		cfg.Bootstrap = []relay.RawInput{{Name: "busy", Port: held.LocalAddr().(*net.UDPAddr).Port}}

		engine := newEngine(t)
		require.NoError(t, activateInitialTable(ctx, engine, fileStore, cfg, logger))
		assert.Empty(t, engine.Generation().ID)
		assert.True(t, engine.Health().IsDegraded())
		assert.Equal(t, []string{"busy"}, engine.View().Table.Inputs(), "loaded table stays the edit base")
	})
}
