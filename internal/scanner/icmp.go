package scanner

import (
	"context"
	"fmt"
	"net/netip"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// ICMPProber checks liveness with ICMP echo requests.
type ICMPProber struct {
	timeout    time.Duration
	count      int
	privileged bool
	logger     *zap.SugaredLogger
}

// NewICMPProber creates an ICMP prober. Raw sockets are only requested on
// Windows; elsewhere unprivileged datagram ICMP is used.
func NewICMPProber(timeout time.Duration, count int, logger *zap.SugaredLogger) *ICMPProber {
	if count <= 0 {
		count = 1
	}
	return &ICMPProber{
		timeout:    timeout,
		count:      count,
		privileged: runtime.GOOS == "windows",
		logger:     logger,
	}
}

// Name returns "icmp".
func (p *ICMPProber) Name() string { return "icmp" }

// Probe pings addr and reports whether any reply arrived.
func (p *ICMPProber) Probe(ctx context.Context, addr netip.Addr) (ProbeResult, error) {
	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		return ProbeResult{}, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	// Capture TTL from first received packet.
	var ttl int
	pinger.OnRecv = func(pkt *probing.Packet) {
		if ttl == 0 {
			ttl = pkt.TTL
		}
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		p.logger.Debugw("Ping failed", "ip", addr.String(), "error", err)
		return ProbeResult{}, nil
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return ProbeResult{}, nil
	}
	return ProbeResult{Alive: true, RTT: stats.AvgRtt, TTL: ttl}, nil
}
