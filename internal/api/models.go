package api

// StartScanRequest is the body of POST /api/scans.
type StartScanRequest struct {
	Network    string `json:"network" binding:"required"`
	CoreSwitch string `json:"core_switch" binding:"required"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	MockMode   bool   `json:"mock_mode"`
	Discoverer string `json:"discoverer"`
	Scanning   bool   `json:"scanning"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
