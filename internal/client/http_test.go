package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/henno/go-topology/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Requests(t *testing.T) {
	type seen struct {
		method, path, auth string
		body               map[string]string
	}
	var (
		mu  sync.Mutex
		got []seen
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if r.Method == http.MethodPost {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&s.body))
		}
		mu.Lock()
		got = append(got, s)
		mu.Unlock()

		switch {
		case r.URL.Path == "/api/status":
			_ = json.NewEncoder(w).Encode(Status{MockMode: true, Discoverer: "mock"})
		case r.Method == http.MethodDelete:
			_ = json.NewEncoder(w).Encode(session.Snapshot{ID: "abc", Status: session.StatusCancelled})
		default:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(session.Snapshot{ID: "abc", Status: session.StatusScanning, Devices: []session.Device{}})
		}
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(srv.URL+"/", "tok")
	ctx := context.Background()

	snap, err := c.StartScan(ctx, "10.0.0.0/24", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.ID)
	assert.Equal(t, session.StatusScanning, snap.Status)

	_, err = c.CurrentScan(ctx)
	require.NoError(t, err)
	_, err = c.GetScan(ctx, "abc")
	require.NoError(t, err)

	snap, err = c.CancelScan(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, snap.Status)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.MockMode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	assert.Equal(t, map[string]string{"network": "10.0.0.0/24", "core_switch": "10.0.0.1"}, got[0].body)
	wantRoutes := []string{
		"POST /api/scans",
		"GET /api/scans/current",
		"GET /api/scans/abc",
		"DELETE /api/scans/abc",
		"GET /api/status",
	}
	for i, s := range got {
		assert.Equal(t, wantRoutes[i], fmt.Sprintf("%s %s", s.method, s.path))
		assert.Equal(t, "Bearer tok", s.auth)
	}
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"scan already in progress"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"scan not found"}`))
		}
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(srv.URL, "")
	ctx := context.Background()

	_, err := c.StartScan(ctx, "10.0.0.0/24", "10.0.0.1")
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
	assert.EqualError(t, err, "POST /api/scans: 409 scan already in progress")

	_, err = c.CurrentScan(ctx)
	assert.True(t, IsNotFound(err))

	_, err = c.CancelScan(ctx, "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream down", se.Message)
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPClient(srv.URL, "").CurrentScan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
