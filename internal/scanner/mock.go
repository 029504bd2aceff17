package scanner

import (
	"context"
	"time"

	"github.com/henno/go-topology/internal/session"
)

// MockDevices is the fixed inventory reported in mock mode.
var MockDevices = []session.Device{
	{IPAddress: "192.168.1.1", Hostname: "gateway.local", Vendor: "Routerboard.com", Type: TypeRouter},
	{IPAddress: "192.168.1.2", Hostname: "switch-01", Vendor: "Zyxel", Type: TypeSwitch},
	{IPAddress: "192.168.1.10", Hostname: "workstation-01", Vendor: "Dell", Type: TypeComputer},
	{IPAddress: "192.168.1.20", Hostname: "printer-01", Vendor: "HP", Type: TypePrinter},
	{IPAddress: "192.168.1.99", Hostname: "", Vendor: "Unknown", Type: TypeUnknown},
}

// Mock reports MockDevices one at a time, regardless of the target.
type Mock struct {
	delay time.Duration
}

// NewMock creates a mock discoverer that sends the first device at once and
// waits delay between the rest.
func NewMock(delay time.Duration) *Mock {
	return &Mock{delay: delay}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Discover sends the fixtures on found, stopping early if ctx ends.
func (m *Mock) Discover(ctx context.Context, _ session.Target, found chan<- session.Device) error {
	timer := time.NewTimer(m.delay)
	defer timer.Stop()

	for i, device := range MockDevices {
		select {
		case found <- device:
		case <-ctx.Done():
			return ctx.Err()
		}
		if i == len(MockDevices)-1 {
			break
		}

		timer.Reset(m.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
