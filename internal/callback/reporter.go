// Package callback reports scan progress and completion to external webhooks.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/henno/go-topology/internal/session"
	"go.uber.org/zap"
)

const (
	collectorName   = "netmap-scanner"
	callbackTimeout = 10 * time.Second
)

// Reporter sends progress and completion callbacks. It implements
// session.Observer; deliveries run in the background and Close waits for them.
// An empty URL disables that kind of callback.
type Reporter struct {
	progressURL string
	completeURL string
	apiKey      string
	logger      *zap.SugaredLogger
	client      *http.Client
	wg          sync.WaitGroup

	mu             sync.Mutex
	scanID         string
	sequence       int // Monotonic counter for idempotency
	discoveryCount int
}

// Progress represents a progress update.
type Progress struct {
	ScanID         string `json:"scan_id"`
	Collector      string `json:"collector"`
	Sequence       int    `json:"sequence"`
	Phase          string `json:"phase,omitempty"`
	DiscoveryCount int    `json:"discovery_count"`
	Message        string `json:"message,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Completion represents a scan completion.
type Completion struct {
	ScanID         string `json:"scan_id"`
	Collector      string `json:"collector"`
	Status         string `json:"status"` // complete, cancelled, error
	DiscoveryCount int    `json:"discovery_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// NewReporter creates a new callback reporter.
func NewReporter(progressURL, completeURL, apiKey string, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{
		progressURL: progressURL,
		completeURL: completeURL,
		apiKey:      apiKey,
		logger:      logger,
		client: &http.Client{
			Timeout: callbackTimeout,
		},
	}
}

// ScanStarted resets the discovery count for the new session.
func (r *Reporter) ScanStarted(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanID = snap.ID
	r.discoveryCount = 0
}

// DeviceDiscovered sends a progress callback in the background.
func (r *Reporter) DeviceDiscovered(id string, device session.Device) {
	if r.progressURL == "" {
		return
	}

	r.mu.Lock()
	if id != r.scanID {
		r.mu.Unlock()
		return
	}
	r.sequence++
	r.discoveryCount++
	payload := Progress{
		ScanID:         id,
		Collector:      collectorName,
		Sequence:       r.sequence,
		Phase:          "discovery",
		DiscoveryCount: r.discoveryCount,
		Message:        "Discovered " + device.IPAddress,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.ReportProgress(context.Background(), payload); err != nil {
			r.logger.Warnw("Progress callback failed", "scan_id", id, "sequence", payload.Sequence, "error", err)
		}
	}()
}

// ScanFinished sends the completion callback in the background.
func (r *Reporter) ScanFinished(snap session.Snapshot) {
	if r.completeURL == "" {
		return
	}

	payload := Completion{
		ScanID:         snap.ID,
		Collector:      collectorName,
		Status:         string(snap.Status),
		DiscoveryCount: snap.DiscoveredCount,
		ErrorMessage:   snap.Error,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.ReportComplete(context.Background(), payload); err != nil {
			r.logger.Warnw("Completion callback failed", "scan_id", snap.ID, "error", err)
		}
	}()
}

// Close waits for in-flight callbacks.
func (r *Reporter) Close() {
	r.wg.Wait()
}

// ReportProgress sends a progress update.
func (r *Reporter) ReportProgress(ctx context.Context, payload Progress) error {
	return r.sendCallback(ctx, r.progressURL, payload)
}

// ReportComplete sends a completion callback.
func (r *Reporter) ReportComplete(ctx context.Context, payload Completion) error {
	return r.sendCallback(ctx, r.completeURL, payload)
}

func (r *Reporter) sendCallback(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	r.logger.Debugw("Callback sent", "url", url, "status", resp.StatusCode)
	return nil
}
