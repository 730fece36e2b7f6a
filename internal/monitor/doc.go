// Package monitor runs the background health-probing and traffic-sampling
// tasks described in §4.4: a periodic alive test against every upstream in
// the current ServerList, a resort after each round, an optional Graphite
// line-protocol sink, an optional Prometheus exporter, and a once-a-second
// throughput sampler feeding a per-upstream Meter.
//
// Monitor owns no connection-serving logic; it only measures and orders
// the upstreams that internal/dispatch later races.
package monitor
