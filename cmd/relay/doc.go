// Command relay runs the transparent TCP relay: it loads an upstream
// list and an optional policy file, starts the health monitor, accepts
// redirected client connections on one or more listen addresses, and
// dispatches each through the hedged upstream race. SIGHUP reloads the
// upstream list and policy file without dropping in-flight connections;
// SIGINT/SIGTERM trigger a graceful shutdown.
//
// Usage:
//
//	relay -listen-ports 1080,1081 -servers servers.ini -policy policy.txt
//
// Flags:
//
//	-listen-ports      comma-separated TCP listen ports (required)
//	-servers           upstream list file (INI-like, §6)
//	-policy            policy ruleset file (optional)
//	-allow-direct      permit a direct connection when no upstream
//	                   candidate survives filtering or the race
//	-remote-dns        peek TLS ClientHello SNI on port-443 connections
//	                   and allow early-data duplication across the race
//	-n-parallel        hedged race pool width (default 1: sequential)
//	-probe-secs        health probe interval in seconds (0 disables)
//	-api-listen        status HTTP API bind address
//	-prom-listen       Prometheus /metrics bind address (disabled if empty)
//	-graphite-addr     Graphite carbon-cache address (disabled if empty)
//	-graphite-prefix   dotted path prefix for Graphite metrics
//	-shutdown-secs     graceful shutdown timeout in seconds
package main
