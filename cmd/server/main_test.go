package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"toolmesh/internal/config"
	"toolmesh/internal/descriptor"
	"toolmesh/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.HealthPort = "0"
	cfg.Pool.HealthCheckInterval = 50 * time.Millisecond
	return cfg
}

func TestBootstrapWiresEchoTool(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := bootstrap(ctx, cfg, "../../tools.yaml", logging.NewNoOpLogger())
	require.NoError(t, err)
	defer app.shutdown()

	tools := app.reg.List(descriptor.KindTool)
	require.Contains(t, tools, "echo")
	require.Contains(t, tools, "sleep")
}

func TestBootstrapMissingManifestIsNotFatal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	app, err := bootstrap(ctx, cfg, "does-not-exist.yaml", logging.NewNoOpLogger())
	require.NoError(t, err)
	defer app.shutdown()

	require.Empty(t, app.reg.List(descriptor.KindTool))
}

func TestApplicationRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(t)

	app, err := bootstrap(ctx, cfg, "../../tools.yaml", logging.NewNoOpLogger())
	require.NoError(t, err)
	defer app.shutdown()

	errc := make(chan error, 1)
	go func() { errc <- app.run(ctx) }()

	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after context cancellation")
	}
}

func TestExitIsStubbable(t *testing.T) {
	orig := exit
	defer func() { exit = orig }()

	var got int
	exit = func(code int) { got = code }

	exit(2)
	require.Equal(t, 2, got)
}
