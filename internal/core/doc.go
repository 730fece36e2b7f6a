// Package core owns the relay's shared domain types and daemon lifecycle.
//
// Overview
//
// The core package models three things: the coarse daemon lifecycle (the
// same inactive/starting/active/degraded/stopping/error state machine the
// control-plane exposes at /v1/status), the per-upstream descriptor and its
// atomically-updated Status (score, traffic, connection counters), and the
// ServerList that orders upstreams best-first for the dispatcher.
//
// Concurrency & Safety
//
// Lifecycle is safe for concurrent use behind a single RWMutex; callers read
// it via Snapshot(), which returns a value safe to use without further
// locking. Upstream.Status fields are individually atomic and may be read
// or updated from many goroutines (dispatcher connections, the health
// monitor, the byte-pipe) without additional synchronization. ServerList
// holds its own short-lived mutex used only to clone and swap the ordered
// slice.
package core
