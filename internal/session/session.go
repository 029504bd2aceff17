// Package session coordinates the lifecycle of network discovery scans.
package session

import (
	"context"
	"net/netip"
	"time"
)

// Status represents the current state of a scan session.
type Status string

const (
	StatusScanning  Status = "scanning"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusScanning
}

// Device is one record contributed by a discoverer.
type Device struct {
	IPAddress string `json:"ip_address"`
	Hostname  string `json:"hostname"`
	Type      string `json:"type"` // router, switch, computer, printer, unknown
	Vendor    string `json:"vendor"`
}

// Target is the validated address range and starting point of a scan.
type Target struct {
	Network    netip.Prefix
	CoreSwitch netip.Addr
}

// Snapshot is a point-in-time copy of a session, safe to hand to readers.
type Snapshot struct {
	ID              string     `json:"id"`
	Network         string     `json:"network"`
	CoreSwitch      string     `json:"core_switch"`
	Status          Status     `json:"status"`
	DiscoveredCount int        `json:"discovered_count"`
	Devices         []Device   `json:"devices"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// scanSession is the mutable state behind a Snapshot. All fields except id,
// network, coreSwitch, target and createdAt are guarded by the owning
// Coordinator's mutex.
type scanSession struct {
	id         string
	network    string
	coreSwitch string
	target     Target
	status     Status
	devices    []Device
	createdAt  time.Time
	finishedAt time.Time
	err        string
	cancel     context.CancelFunc
}

func (s *scanSession) snapshot() Snapshot {
	devices := make([]Device, len(s.devices))
	copy(devices, s.devices)

	snap := Snapshot{
		ID:              s.id,
		Network:         s.network,
		CoreSwitch:      s.coreSwitch,
		Status:          s.status,
		DiscoveredCount: len(devices),
		Devices:         devices,
		CreatedAt:       s.createdAt,
		Error:           s.err,
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		snap.FinishedAt = &finished
	}
	return snap
}

// accepting reports whether the session may still be mutated.
func (s *scanSession) accepting() bool {
	return s.status == StatusScanning
}

// finish moves the session into a terminal state and releases its context.
func (s *scanSession) finish(status Status, errMsg string, at time.Time) {
	s.status = status
	s.err = errMsg
	s.finishedAt = at
	if s.cancel != nil {
		s.cancel()
	}
}
