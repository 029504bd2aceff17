package session

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every input error returned from StartScan.
	ErrValidation = errors.New("validation failed")

	ErrInvalidNetwork    = fmt.Errorf("%w: network must be in CIDR notation", ErrValidation)
	ErrInvalidCoreSwitch = fmt.Errorf("%w: core switch must be an IP address", ErrValidation)
	ErrNetworkTooLarge   = fmt.Errorf("%w: network is too large", ErrValidation)
	ErrFamilyMismatch    = fmt.Errorf("%w: core switch and network address families differ", ErrValidation)

	// ErrScanInProgress is returned when a start is attempted while another
	// session is still scanning.
	ErrScanInProgress = errors.New("scan already in progress")

	// ErrShuttingDown is returned by StartScan once Shutdown has begun.
	ErrShuttingDown = errors.New("scan service is shutting down")

	// ErrNotFound means there is no session matching the request.
	ErrNotFound = errors.New("scan not found")

	// ErrScanTimeout is recorded on sessions that outlive the max duration.
	ErrScanTimeout = errors.New("scan timed out")
)
