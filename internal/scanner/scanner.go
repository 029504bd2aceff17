// Package scanner implements the discovery collaborators that feed scan
// sessions: a fixture-backed mock and a probing scanner.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/henno/go-topology/internal/config"
	"github.com/henno/go-topology/internal/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrCoreSwitchUnreachable is returned when the discovery starting point
// does not answer probes.
var ErrCoreSwitchUnreachable = errors.New("core switch unreachable")

const dnsTimeout = 2 * time.Second

// ProbeResult is what a Prober learned about one address.
type ProbeResult struct {
	Alive     bool
	RTT       time.Duration
	TTL       int
	OpenPorts []PortResult
}

// PortResult describes one open TCP port.
type PortResult struct {
	Port    int
	Banner  string
	Service ServiceFingerprint
}

// Prober checks whether a single address is alive.
type Prober interface {
	Name() string
	Probe(ctx context.Context, addr netip.Addr) (ProbeResult, error)
}

// Scanner discovers devices by probing every address of a target range with
// a bounded worker pool.
type Scanner struct {
	config        config.ScannerConfig
	prober        Prober
	logger        *zap.SugaredLogger
	limiter       *rate.Limiter
	fingerprinter *Fingerprinter
	excluded      []netip.Prefix
	lookupAddr    func(ctx context.Context, addr string) ([]string, error)
}

// New creates a Scanner that uses prober for liveness checks.
func New(cfg config.ScannerConfig, prober Prober, logger *zap.SugaredLogger) *Scanner {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	s := &Scanner{
		config:        cfg,
		prober:        prober,
		logger:        logger,
		limiter:       rate.NewLimiter(limit, max(cfg.RateLimit, 1)),
		fingerprinter: NewFingerprinter(),
		lookupAddr:    net.DefaultResolver.LookupAddr,
	}

	for _, subnet := range cfg.ExcludeSubnets {
		prefix, err := netip.ParsePrefix(subnet)
		if err != nil {
			logger.Warnw("Ignoring invalid exclude subnet", "subnet", subnet, "error", err)
			continue
		}
		s.excluded = append(s.excluded, prefix.Masked())
	}

	return s
}

// Name returns the probing method.
func (s *Scanner) Name() string {
	return s.prober.Name()
}

// Discover probes the core switch first and then every other host of the
// target network, sending each live host on found.
func (s *Scanner) Discover(ctx context.Context, target session.Target, found chan<- session.Device) error {
	s.logger.Infow("Scanning network",
		"network", target.Network.String(),
		"core_switch", target.CoreSwitch.String(),
		"method", s.prober.Name(),
	)

	core, alive, err := s.probe(ctx, target.CoreSwitch)
	if err != nil {
		return err
	}
	if !alive {
		return fmt.Errorf("%w: %s", ErrCoreSwitchUnreachable, target.CoreSwitch)
	}
	if core.Type == TypeUnknown {
		core.Type = TypeSwitch
	}
	select {
	case found <- core:
	case <-ctx.Done():
		return ctx.Err()
	}

	numWorkers := s.config.Workers
	if numWorkers <= 0 {
		numWorkers = 100
	}

	ipChan := make(chan netip.Addr, numWorkers*2)
	var wg sync.WaitGroup

	// Start worker pool
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range ipChan {
				device, alive, err := s.probe(ctx, addr)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Warnw("Probe error", "ip", addr.String(), "error", err)
					}
					continue
				}
				if !alive {
					continue
				}
				select {
				case found <- device:
				case <-ctx.Done():
				}
			}
		}()
	}

	// Feed addresses into the worker channel
feedLoop:
	for addr := range hosts(target.Network) {
		if addr == target.CoreSwitch || s.isExcluded(addr) {
			continue
		}
		select {
		case ipChan <- addr:
		case <-ctx.Done():
			break feedLoop
		}
	}

	close(ipChan)
	wg.Wait()

	return ctx.Err()
}

// probe rate-limits, probes and enriches a single address.
func (s *Scanner) probe(ctx context.Context, addr netip.Addr) (session.Device, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return session.Device{}, false, err
	}

	result, err := s.prober.Probe(ctx, addr)
	if err != nil {
		return session.Device{}, false, err
	}
	if !result.Alive {
		return session.Device{}, false, nil
	}

	deviceType, vendor := s.fingerprinter.Classify(result)
	return session.Device{
		IPAddress: addr.String(),
		Hostname:  s.lookupHostname(ctx, addr),
		Type:      deviceType,
		Vendor:    vendor,
	}, true, nil
}

// lookupHostname attempts a reverse DNS lookup.
func (s *Scanner) lookupHostname(ctx context.Context, addr netip.Addr) string {
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	names, err := s.lookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func (s *Scanner) isExcluded(addr netip.Addr) bool {
	for _, prefix := range s.excluded {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
