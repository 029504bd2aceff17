package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxDuration = 10 * time.Minute
	defaultMaxHostBits = 16
	feedBuffer         = 64
)

// Discoverer finds devices in a target range. Implementations send each
// device on found as it is discovered and return when the range has been
// enumerated, ctx is done, or discovery fails. The coordinator closes found
// after Discover returns; implementations must not close it.
type Discoverer interface {
	Discover(ctx context.Context, target Target, found chan<- Device) error
}

// Observer receives lifecycle notifications for applied mutations, in the
// order the mutations were applied. Methods are called outside the state
// lock, must not block and must not call back into the Coordinator.
type Observer interface {
	ScanStarted(snap Snapshot)
	DeviceDiscovered(scanID string, device Device)
	ScanFinished(snap Snapshot)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxDuration bounds how long a session may stay scanning. Zero disables
// the bound.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Coordinator) { c.maxDuration = d }
}

// WithMaxHostBits limits the size of accepted networks to 2^bits addresses.
func WithMaxHostBits(bits int) Option {
	return func(c *Coordinator) {
		if bits > 0 {
			c.maxHostBits = bits
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// Coordinator owns the current scan session. At most one session is
// scanning at any time; a finished session stays current until the next
// successful StartScan replaces it.
type Coordinator struct {
	discoverer  Discoverer
	logger      *zap.SugaredLogger
	observers   []Observer
	maxDuration time.Duration
	maxHostBits int
	newID       func() string
	now         func() time.Time

	mu      sync.RWMutex
	current *scanSession
	closed  bool
	wg      sync.WaitGroup

	// notifyMu is taken before mu is released so observers see mutations
	// in the order they were applied.
	notifyMu sync.Mutex
}

// NewCoordinator creates a coordinator that hands sessions to d.
func NewCoordinator(d Discoverer, logger *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		discoverer:  d,
		logger:      logger,
		maxDuration: defaultMaxDuration,
		maxHostBits: defaultMaxHostBits,
		newID:       func() string { return uuid.New().String() },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartScan validates the request and installs a new scanning session.
// It returns as soon as the session is installed; discovery continues in
// the background.
func (c *Coordinator) StartScan(network, coreSwitch string) (Snapshot, error) {
	target, err := c.validate(network, coreSwitch)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrShuttingDown
	}
	if c.current != nil && c.current.accepting() {
		running := c.current.id
		c.mu.Unlock()
		c.logger.Infow("Scan rejected, another scan is running", "running_id", running)
		return Snapshot{}, ErrScanInProgress
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.maxDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.maxDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	s := &scanSession{
		id:         c.newID(),
		network:    network,
		coreSwitch: coreSwitch,
		target:     target,
		status:     StatusScanning,
		devices:    []Device{},
		createdAt:  c.now(),
		cancel:     cancel,
	}
	c.current = s
	snap := s.snapshot()
	c.wg.Add(1)
	c.notifyMu.Lock()
	c.mu.Unlock()

	c.logger.Infow("Scan started",
		"scan_id", s.id,
		"network", network,
		"core_switch", coreSwitch,
	)
	for _, o := range c.observers {
		o.ScanStarted(snap)
	}
	c.notifyMu.Unlock()

	go c.run(ctx, s)

	return snap, nil
}

// GetCurrentStatus returns the current session, or ErrNotFound if no scan
// has been started.
func (c *Coordinator) GetCurrentStatus() (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return Snapshot{}, ErrNotFound
	}
	return c.current.snapshot(), nil
}

// GetScan returns the current session if its id matches.
func (c *Coordinator) GetScan(id string) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil || c.current.id != id {
		return Snapshot{}, ErrNotFound
	}
	return c.current.snapshot(), nil
}

// Running reports whether a session is currently scanning.
func (c *Coordinator) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil && c.current.accepting()
}

// CancelScan cancels the current session if it matches id and is still
// scanning. Anything else yields ErrNotFound.
func (c *Coordinator) CancelScan(id string) (Snapshot, error) {
	snap, ok := c.transition(id, StatusCancelled, "")
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// ReportDevice appends device to the named session if that session is still
// current and scanning. It reports whether the device was accepted.
func (c *Coordinator) ReportDevice(id string, device Device) bool {
	if device.IPAddress == "" {
		c.logger.Debugw("Discarding device without IP address", "scan_id", id)
		return false
	}

	c.mu.Lock()
	s := c.current
	if s == nil || s.id != id || !s.accepting() {
		c.mu.Unlock()
		c.logger.Debugw("Discarding late device", "scan_id", id, "ip", device.IPAddress)
		return false
	}
	s.devices = append(s.devices, device)
	count := len(s.devices)
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.logger.Debugw("Device discovered",
		"scan_id", id,
		"ip", device.IPAddress,
		"discovered_count", count,
	)
	for _, o := range c.observers {
		o.DeviceDiscovered(id, device)
	}
	return true
}

// ReportComplete marks the named session complete if it is still scanning.
func (c *Coordinator) ReportComplete(id string) bool {
	_, ok := c.transition(id, StatusComplete, "")
	return ok
}

// ReportError marks the named session failed if it is still scanning.
func (c *Coordinator) ReportError(id string, cause error) bool {
	msg := "discovery failed"
	if cause != nil {
		msg = cause.Error()
	}
	_, ok := c.transition(id, StatusError, msg)
	return ok
}

// Shutdown refuses further scans, cancels the active session and waits for
// its ingestion to drain or for ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	var id string
	if c.current != nil && c.current.accepting() {
		id = c.current.id
	}
	c.mu.Unlock()

	if id != "" {
		c.transition(id, StatusCancelled, "")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition moves the named session out of scanning. It is the single
// critical section for every terminal change.
func (c *Coordinator) transition(id string, status Status, errMsg string) (Snapshot, bool) {
	c.mu.Lock()
	s := c.current
	if s == nil || s.id != id || !s.accepting() {
		c.mu.Unlock()
		return Snapshot{}, false
	}
	s.finish(status, errMsg, c.now())
	snap := s.snapshot()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.logger.Infow("Scan finished",
		"scan_id", id,
		"status", status,
		"discovered_count", snap.DiscoveredCount,
		"error", errMsg,
	)
	for _, o := range c.observers {
		o.ScanFinished(snap)
	}
	return snap, true
}

// run drives the discoverer for s and feeds its results back through the
// guarded ingestion callbacks.
func (c *Coordinator) run(ctx context.Context, s *scanSession) {
	defer c.wg.Done()

	found := make(chan Device, feedBuffer)
	done := make(chan error, 1)

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("discovery panicked: %v", r)
			}
			close(found)
			done <- err
		}()
		err = c.discoverer.Discover(ctx, s.target, found)
	}()

	feed := (<-chan Device)(found)
	expired := ctx.Done()
	for feed != nil {
		select {
		case device, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			c.ReportDevice(s.id, device)
		case <-expired:
			expired = nil
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.logger.Warnw("Scan exceeded max duration", "scan_id", s.id, "max_duration", c.maxDuration)
				c.ReportError(s.id, ErrScanTimeout)
			}
		}
	}

	if err := <-done; err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warnw("Discovery failed", "scan_id", s.id, "error", err)
		}
		c.ReportError(s.id, err)
		return
	}
	c.ReportComplete(s.id)
}

func (c *Coordinator) validate(network, coreSwitch string) (Target, error) {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits > c.maxHostBits {
		return Target{}, fmt.Errorf("%w: %s has %d host bits, maximum is %d",
			ErrNetworkTooLarge, network, hostBits, c.maxHostBits)
	}

	addr, err := netip.ParseAddr(coreSwitch)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidCoreSwitch, coreSwitch)
	}
	addr = addr.Unmap()
	if addr.Is4() != prefix.Addr().Is4() {
		return Target{}, fmt.Errorf("%w: %s in %s", ErrFamilyMismatch, coreSwitch, network)
	}

	return Target{Network: prefix.Masked(), CoreSwitch: addr}, nil
}
