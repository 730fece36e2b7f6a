// Package api exposes a small HTTP control-plane for the relay.
//
// Separation of Concerns
//
// The api package defines public JSON view types (decoupled from core and
// monitor), maps core/monitor snapshots to those views via a dedicated
// mapper, and hosts an HTTP server. Core and monitor remain unaware of
// HTTP or JSON.
//
// Versioning
//
// All routes are versioned under /v1. Non-breaking additions extend types,
// while breaking changes would require a new prefix (/v2).
//
// Server
//
// NewServer wires handlers onto a gin.Engine, wrapped in an *http.Server
// for the same conservative timeout defaults and graceful Start()/Stop()
// lifecycle used elsewhere in the daemon. Middleware logs method/path/
// duration through the structured logger.
//
// Error Model
//
// APIError uses a string message and an RFC3339 timestamp.
//
// Current Endpoints
//
//   - GET /v1/healthz: basic liveness/readiness
//   - GET /v1/status: overall uptime plus, per upstream, its address,
//     protocol, delay, score, traffic, throughput and connection counters
//     (§6: the core exposes only per-upstream delay/score/traffic/
//     throughput/conn counters and overall uptime, nothing finer-grained)
package api
