// Package client is a REST client for the netmap scan API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/henno/go-topology/internal/session"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Status mirrors GET /api/status.
type Status struct {
	MockMode   bool   `json:"mock_mode"`
	Discoverer string `json:"discoverer"`
	Scanning   bool   `json:"scanning"`
}

// HTTPClient makes REST calls to the netmap server.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:9090").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StartScan sends POST /api/scans.
func (c *HTTPClient) StartScan(ctx context.Context, network, coreSwitch string) (session.Snapshot, error) {
	body := map[string]string{"network": network, "core_switch": coreSwitch}
	var out session.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/scans", body, &out)
	return out, err
}

// CurrentScan fetches /api/scans/current.
func (c *HTTPClient) CurrentScan(ctx context.Context) (session.Snapshot, error) {
	var out session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/scans/current", nil, &out)
	return out, err
}

// GetScan fetches /api/scans/{id}.
func (c *HTTPClient) GetScan(ctx context.Context, id string) (session.Snapshot, error) {
	var out session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/scans/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CancelScan sends DELETE /api/scans/{id}.
func (c *HTTPClient) CancelScan(ctx context.Context, id string) (session.Snapshot, error) {
	var out session.Snapshot
	err := c.do(ctx, http.MethodDelete, "/api/scans/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Status fetches /api/status.
func (c *HTTPClient) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
