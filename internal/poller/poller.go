// Package poller follows a scan session by polling its status at a fixed
// interval until the session reaches a terminal state.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/henno/go-topology/internal/session"
	"go.uber.org/zap"
)

// DefaultInterval is the delay between status fetches.
const DefaultInterval = 200 * time.Millisecond

// API is the subset of the scan API the controller needs.
type API interface {
	CurrentScan(ctx context.Context) (session.Snapshot, error)
	CancelScan(ctx context.Context, id string) (session.Snapshot, error)
}

// Renderer displays a snapshot. It is called with the controller lock held
// and must not call back into the Controller.
type Renderer func(session.Snapshot)

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRenderer sets the function that displays each fetched snapshot.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) { c.render = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller runs at most one poll sequence at a time. Starting a new
// sequence abandons the previous one; an abandoned sequence never renders.
type Controller struct {
	api      API
	interval time.Duration
	render   Renderer
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	snapshot session.Snapshot
	shown    bool
}

// New creates a controller polling api.
func New(api API, opts ...Option) *Controller {
	c := &Controller{
		api:      api,
		interval: DefaultInterval,
		render:   func(session.Snapshot) {},
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStartAccepted begins polling for the session id, superseding any
// sequence already running.
func (c *Controller) OnStartAccepted(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	seq := c.seq
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Debugw("Polling started", "scan_id", id, "sequence", seq)
	go c.loop(ctx, seq, id, done)
}

// OnCancelRequested asks the server to cancel id. Polling continues and
// observes the cancelled status like any other terminal state.
func (c *Controller) OnCancelRequested(ctx context.Context, id string) error {
	if _, err := c.api.CancelScan(ctx, id); err != nil {
		c.logger.Infow("Cancel not applied", "scan_id", id, "error", err)
		return err
	}
	return nil
}

// Snapshot returns the last rendered snapshot and whether there is one.
func (c *Controller) Snapshot() (session.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.shown
}

// Done returns a channel closed when the current sequence ends. With no
// sequence ever started the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Stop abandons the current sequence, keeping the last snapshot.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) loop(ctx context.Context, seq uint64, id string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := c.api.CurrentScan(ctx)
		if !c.apply(seq, id, snap, err) {
			return
		}
	}
}

// apply renders one fetch result and reports whether polling continues.
func (c *Controller) apply(seq uint64, id string, snap session.Snapshot, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq != seq {
		return false
	}
	if err != nil {
		c.logger.Infow("Polling stopped, status fetch failed", "scan_id", id, "error", err)
		return false
	}
	if snap.ID != id {
		c.logger.Infow("Polling stopped, session replaced", "scan_id", id, "current_id", snap.ID)
		return false
	}

	c.snapshot = snap
	c.shown = true
	c.render(snap)

	if snap.Status.Terminal() {
		c.logger.Debugw("Polling finished", "scan_id", id, "status", snap.Status)
		return false
	}
	return true
}
