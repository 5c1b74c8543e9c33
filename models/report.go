package models

// PassReport accumulates counters for a single orchestrator pass. Per-row
// failures end up here, not in the pass error: the run exits zero as long as
// the pass itself completed.
type PassReport struct {
	Scanned        int `json:"scanned"`
	Candidates     int `json:"candidates"`
	NewRequests    int `json:"new_requests"`
	InFlight       int `json:"in_flight"`
	Created        int `json:"created"`
	ParseFailures  int `json:"parse_failures"`
	Deferred       int `json:"deferred"`
	Polled         int `json:"polled"`
	ProviderErrors int `json:"provider_errors"`
	PurgesRun      int `json:"purges_run"`
	Completed      int `json:"completed"`
	MarkerErrors   int `json:"marker_errors"`
}
