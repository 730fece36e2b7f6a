package api

import "time"

// Public JSON types returned by the API. These are intentionally decoupled
// from the internal core/monitor types to preserve API stability and allow
// internal refactors without breaking clients.

// StatusResponse is the top-level payload for GET /v1/status.
type StatusResponse struct {
	State       string         `json:"state"`
	StartedAt   string         `json:"started_at"`
	UptimeSec   int64          `json:"uptime_sec"`
	Warnings    []string       `json:"warnings"`
	Upstreams   []UpstreamView `json:"upstreams"`
	GeneratedAt string         `json:"generated_at"`
}

// UpstreamView summarizes one configured upstream: its static identity,
// last measured delay/score, traffic totals, connection counters, and
// derived throughput (§6: delay, score, traffic, connection counters per
// upstream; throughput from the Meter).
type UpstreamView struct {
	Tag         string  `json:"tag"`
	Addr        string  `json:"addr"`
	Protocol    string  `json:"protocol"`
	DelayMs     int64   `json:"delay_ms,omitempty"`
	DelayOK     bool    `json:"delay_ok"`
	Score       int32   `json:"score,omitempty"`
	ScoreOK     bool    `json:"score_ok"`
	TxBytes     uint64  `json:"tx_bytes"`
	RxBytes     uint64  `json:"rx_bytes"`
	TxBps       float64 `json:"tx_bps"`
	RxBps       float64 `json:"rx_bps"`
	ConnTotal   uint64  `json:"conn_total"`
	ConnAlive   uint64  `json:"conn_alive"`
	ConnError   uint64  `json:"conn_error"`
}

// APIError is a standard error payload.
type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// TimeNow abstracts time for tests; overridden in tests.
var TimeNow = func() time.Time { return time.Now() }
