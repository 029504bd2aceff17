package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/henno/go-topology/internal/api"
	"github.com/henno/go-topology/internal/config"
	"github.com/henno/go-topology/internal/scanner"
	"github.com/henno/go-topology/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBackend(t *testing.T, d session.Discoverer) (*httptest.Server, *session.Coordinator) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	coord := session.NewCoordinator(d, logger)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })

	srv := httptest.NewServer(api.New(config.ServerConfig{}, coord, api.Info{Discoverer: "mock", MockMode: true}, nil, logger).Router())
	t.Cleanup(srv.Close)
	return srv, coord
}

func TestRun_ScanFollowsToCompletion(t *testing.T) {
	srv, _ := newTestBackend(t, scanner.NewMock(time.Millisecond))

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"--server", srv.URL,
		"--interval", "5ms",
		"scan", "--network", "192.168.1.0/24", "--core-switch", "192.168.1.1",
	}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "scanning")
	assert.Contains(t, text, "complete")
	assert.Contains(t, text, "5 devices")
	for _, d := range scanner.MockDevices {
		assert.Contains(t, text, d.IPAddress)
	}
	assert.Contains(t, text, "gateway.local")
}

func TestRun_StatusAndCancel(t *testing.T) {
	srv, coord := newTestBackend(t, scanner.NewMock(time.Hour))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--server", srv.URL, "status"}, &out))
	assert.Contains(t, out.String(), "no scan has been started")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{
		"--server", srv.URL, "--no-watch",
		"scan", "--network", "10.0.0.0/24", "--core-switch", "10.0.0.1",
	}, &out))
	assert.Contains(t, out.String(), "scanning")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"--server", srv.URL, "cancel"}, &out))
	assert.Contains(t, out.String(), "cancelled")

	cur, err := coord.GetCurrentStatus()
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, cur.Status)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"--server", srv.URL, "cancel", cur.ID}, &out))
	assert.Contains(t, out.String(), "nothing to cancel")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"--server", srv.URL, "status"}, &out))
	assert.Contains(t, out.String(), "cancelled")
	assert.LessOrEqual(t, len(cur.Devices), 1)
}

func TestRun_InterruptCancelsWatchedScan(t *testing.T) {
	srv, coord := newTestBackend(t, scanner.NewMock(time.Hour))
	_, err := coord.StartScan("10.0.0.0/24", "10.0.0.1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	var out bytes.Buffer
	err = run(ctx, []string{"--server", srv.URL, "--interval", "5ms", "watch"}, &out)
	require.NoError(t, err)

	cur, err := coord.GetCurrentStatus()
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, cur.Status)
	assert.Contains(t, out.String(), "cancelled")
}

func TestRun_Errors(t *testing.T) {
	srv, _ := newTestBackend(t, scanner.NewMock(time.Hour))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"--server", srv.URL, "frobnicate"}, want: "unknown command"},
		{name: "scan without flags", args: []string{"--server", srv.URL, "scan"}, want: "requires --network"},
		{name: "invalid network", args: []string{"--server", srv.URL, "scan", "--network", "nope", "--core-switch", "10.0.0.1"}, want: "400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRun_EnvironmentServer(t *testing.T) {
	srv, _ := newTestBackend(t, scanner.NewMock(time.Hour))
	t.Setenv("NETMAP_SERVER", srv.URL)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"status"}, &out))
	assert.Contains(t, out.String(), "no scan has been started")
}
