package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/henno/go-topology/internal/config"
	"github.com/henno/go-topology/internal/metrics"
	"github.com/henno/go-topology/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingDiscoverer reports one device and then waits for cancellation.
type blockingDiscoverer struct{}

func (blockingDiscoverer) Discover(ctx context.Context, _ session.Target, found chan<- session.Device) error {
	select {
	case found <- session.Device{IPAddress: "192.168.1.1", Type: "switch"}:
	case <-ctx.Done():
	}
	<-ctx.Done()
	return ctx.Err()
}

const testSecret = "test-secret"

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	coord := session.NewCoordinator(blockingDiscoverer{}, logger)
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })

	return New(
		config.ServerConfig{Port: 9090, AuthSecret: secret},
		coord,
		Info{Discoverer: "mock", MockMode: true},
		metrics.New(),
		logger,
	)
}

func doRequest(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

const validBody = `{"network":"192.168.1.0/24","core_switch":"192.168.1.1"}`

func TestStartScan(t *testing.T) {
	s := newTestServer(t, "")

	w := doRequest(s, http.MethodPost, "/api/scans", validBody, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	snap := decodeSnapshot(t, w)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, session.StatusScanning, snap.Status)
	assert.Equal(t, "192.168.1.0/24", snap.Network)
	assert.Equal(t, "192.168.1.1", snap.CoreSwitch)
	assert.NotNil(t, snap.Devices)
}

func TestStartScan_BadRequests(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"network":`},
		{name: "missing core switch", body: `{"network":"192.168.1.0/24"}`},
		{name: "missing network", body: `{"core_switch":"192.168.1.1"}`},
		{name: "invalid cidr", body: `{"network":"192.168.1.0","core_switch":"192.168.1.1"}`},
		{name: "invalid core switch", body: `{"network":"192.168.1.0/24","core_switch":"switch-1"}`},
		{name: "network too large", body: `{"network":"10.0.0.0/8","core_switch":"10.0.0.1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/api/scans", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
		})
	}

	w := doRequest(s, http.MethodGet, "/api/scans/current", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "rejected starts must not create a session")
}

func TestStartScan_ConflictWhileScanning(t *testing.T) {
	s := newTestServer(t, "")

	first := doRequest(s, http.MethodPost, "/api/scans", validBody, "")
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(s, http.MethodPost, "/api/scans", `{"network":"10.0.0.0/24","core_switch":"10.0.0.1"}`, "")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, session.ErrScanInProgress.Error(), decodeError(t, second))

	current := decodeSnapshot(t, doRequest(s, http.MethodGet, "/api/scans/current", "", ""))
	assert.Equal(t, decodeSnapshot(t, first).ID, current.ID)
}

func TestStartScan_RefusedDuringShutdown(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	coord := session.NewCoordinator(blockingDiscoverer{}, logger)
	s := New(config.ServerConfig{Port: 9090}, coord, Info{Discoverer: "mock"}, metrics.New(), logger)
	require.NoError(t, coord.Shutdown(context.Background()))

	w := doRequest(s, http.MethodPost, "/api/scans", validBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, session.ErrShuttingDown.Error(), decodeError(t, w))
}

func TestGetScans(t *testing.T) {
	s := newTestServer(t, "")

	w := doRequest(s, http.MethodGet, "/api/scans/current", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, session.ErrNotFound.Error(), decodeError(t, w))

	started := decodeSnapshot(t, doRequest(s, http.MethodPost, "/api/scans", validBody, ""))

	require.Eventually(t, func() bool {
		w := doRequest(s, http.MethodGet, "/api/scans/current", "", "")
		var snap session.Snapshot
		return w.Code == http.StatusOK &&
			json.Unmarshal(w.Body.Bytes(), &snap) == nil &&
			snap.DiscoveredCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	w = doRequest(s, http.MethodGet, "/api/scans/"+started.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, started.ID, snap.ID)
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "192.168.1.1", snap.Devices[0].IPAddress)

	w = doRequest(s, http.MethodGet, "/api/scans/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelScan(t *testing.T) {
	s := newTestServer(t, "")

	w := doRequest(s, http.MethodDelete, "/api/scans/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	started := decodeSnapshot(t, doRequest(s, http.MethodPost, "/api/scans", validBody, ""))

	w = doRequest(s, http.MethodDelete, "/api/scans/"+started.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, session.StatusCancelled, snap.Status)
	assert.NotNil(t, snap.FinishedAt)

	w = doRequest(s, http.MethodDelete, "/api/scans/"+started.ID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "terminal sessions cannot be cancelled again")

	w = doRequest(s, http.MethodPost, "/api/scans", validBody, "")
	assert.Equal(t, http.StatusCreated, w.Code, "a new scan may start after cancel")
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestServer(t, "")

	var status StatusResponse
	w := doRequest(s, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StatusResponse{MockMode: true, Discoverer: "mock", Scanning: false}, status)

	doRequest(s, http.MethodPost, "/api/scans", validBody, "")
	w = doRequest(s, http.MethodGet, "/api/status", "", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Scanning)

	for _, path := range []string{"/health", "/ready"} {
		w := doRequest(s, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w = doRequest(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func signToken(t *testing.T, method jwt.SigningMethod, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "wrong secret", token: signToken(t, jwt.SigningMethodHS256, "other")},
		{name: "wrong algorithm", token: signToken(t, jwt.SigningMethodHS512, testSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/api/scans", validBody, tt.token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(validBody))
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := signToken(t, jwt.SigningMethodHS256, testSecret)
	w = doRequest(s, http.MethodPost, "/api/scans", validBody, token)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeSnapshot(t, w).ID

	// Reads stay open.
	w = doRequest(s, http.MethodGet, "/api/scans/current", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodDelete, "/api/scans/"+id, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doRequest(s, http.MethodDelete, "/api/scans/"+id, "", token)
	assert.Equal(t, http.StatusOK, w.Code)
}
