package scanner

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const bannerSize = 1024

// TCPProber checks liveness by connecting to a list of well-known ports and
// grabbing whatever banner the service volunteers.
type TCPProber struct {
	ports             []int
	timeout           time.Duration
	deadHostThreshold int
	fingerprinter     *Fingerprinter
	dialer            net.Dialer
	logger            *zap.SugaredLogger
}

// NewTCPProber creates a TCP connect prober for ports.
func NewTCPProber(ports []int, timeout time.Duration, deadHostThreshold int, logger *zap.SugaredLogger) *TCPProber {
	if deadHostThreshold <= 0 {
		deadHostThreshold = 5
	}
	return &TCPProber{
		ports:             ports,
		timeout:           timeout,
		deadHostThreshold: deadHostThreshold,
		fingerprinter:     NewFingerprinter(),
		logger:            logger,
	}
}

// Name returns "tcp".
func (p *TCPProber) Name() string { return "tcp" }

// Probe connects to each configured port of addr. A host counts as alive when
// any port accepts or actively refuses the connection. After
// deadHostThreshold consecutive timeouts the host is assumed unreachable and
// the remaining ports are skipped.
func (p *TCPProber) Probe(ctx context.Context, addr netip.Addr) (ProbeResult, error) {
	var result ProbeResult
	consecutiveTimeouts := 0

	for _, port := range p.ports {
		if err := ctx.Err(); err != nil {
			return ProbeResult{}, err
		}

		open, refused, timedOut, banner := p.scanPort(ctx, addr, port)
		switch {
		case open:
			consecutiveTimeouts = 0
			result.Alive = true
			result.OpenPorts = append(result.OpenPorts, PortResult{
				Port:    port,
				Banner:  banner,
				Service: p.fingerprinter.Identify(port, banner),
			})
		case refused:
			// RST: host is alive, port is closed
			consecutiveTimeouts = 0
			result.Alive = true
		case timedOut:
			consecutiveTimeouts++
			if consecutiveTimeouts >= p.deadHostThreshold {
				p.logger.Debugw("Host appears dead, skipping remaining ports",
					"ip", addr.String(),
					"consecutive_timeouts", consecutiveTimeouts,
					"last_port", port,
				)
				return result, nil
			}
		}
	}

	return result, nil
}

func (p *TCPProber) scanPort(ctx context.Context, addr netip.Addr, port int) (open, refused, timedOut bool, banner string) {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, syscall.ECONNREFUSED):
			refused = true
		case errors.As(err, &netErr) && netErr.Timeout():
			timedOut = true
		case errors.Is(err, context.DeadlineExceeded):
			timedOut = true
		}
		return false, refused, timedOut, ""
	}
	defer func() { _ = conn.Close() }()

	// Try to grab banner
	if err := conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return true, false, false, ""
	}
	buffer := make([]byte, bannerSize)
	n, _ := conn.Read(buffer)
	return true, false, false, string(buffer[:n])
}
