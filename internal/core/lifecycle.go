package core

import (
	"errors"
	"sync"
	"time"
)

// AgentState represents the lifecycle state of the relay daemon.
// The state machine is intentionally small and coarse to keep control
// surface limited and reasoning straightforward. The intended transitions:
//
// inactive -> starting | active
// starting -> active | error | inactive
// active   -> degraded | stopping | error
// degraded -> active | stopping | error
// stopping -> inactive | error
// error    -> inactive | starting
//
// Transitions outside this set are rejected by SetAgentState.
type AgentState string

const (
	StateInactive AgentState = "inactive"
	StateStarting AgentState = "starting"
	StateActive   AgentState = "active"
	StateDegraded AgentState = "degraded"
	StateStopping AgentState = "stopping"
	StateError    AgentState = "error"
)

// LifecycleSnapshot is a threadsafe read model returned to the API layer.
type LifecycleSnapshot struct {
	AgentState AgentState
	StartedAt  time.Time
	Warnings   []string
}

// Lifecycle holds the daemon's mutable coarse state with synchronization.
// Use the provided methods to mutate; callers should never take the lock
// directly.
type Lifecycle struct {
	mu        sync.RWMutex
	agent     AgentState
	startedAt time.Time
	warnings  []string
}

// NewLifecycle constructs a default-inactive Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{agent: StateInactive}
}

// Snapshot returns a deep copy safe for concurrent reads.
func (l *Lifecycle) Snapshot() LifecycleSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LifecycleSnapshot{
		AgentState: l.agent,
		StartedAt:  l.startedAt,
		Warnings:   append([]string(nil), l.warnings...),
	}
}

// Uptime returns the wall-clock duration since the daemon entered Active
// state. Returns zero if never started.
func (l *Lifecycle) Uptime() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.startedAt.IsZero() {
		return 0
	}
	return time.Since(l.startedAt)
}

// AppendWarning adds a non-fatal warning to the lifecycle state, e.g. a
// reload that failed to apply (§4.7: reload errors never replace the
// running configuration, but are still worth surfacing).
func (l *Lifecycle) AppendWarning(msg string) {
	if msg == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}

// ClearWarnings removes all accumulated warnings.
func (l *Lifecycle) ClearWarnings() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = nil
}

// ErrInvalidTransition is returned when SetAgentState receives an illegal
// transition.
var ErrInvalidTransition = errors.New("invalid agent state transition")

// SetAgentState transitions the agent to the next state, enforcing a simple
// state machine. On the first transition to Active, startedAt is set. When
// transitioning to Inactive, startedAt is cleared.
func (l *Lifecycle) SetAgentState(next AgentState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.agent
	if cur == next {
		return nil
	}
	if !allowedTransition(cur, next) {
		return ErrInvalidTransition
	}

	switch next {
	case StateActive:
		if l.startedAt.IsZero() {
			l.startedAt = time.Now()
		}
	case StateInactive:
		l.startedAt = time.Time{}
	}

	l.agent = next
	return nil
}

func allowedTransition(cur, next AgentState) bool {
	switch cur {
	case StateInactive:
		return next == StateStarting || next == StateActive
	case StateStarting:
		return next == StateActive || next == StateError || next == StateInactive
	case StateActive:
		return next == StateDegraded || next == StateStopping || next == StateError
	case StateDegraded:
		return next == StateActive || next == StateStopping || next == StateError
	case StateStopping:
		return next == StateInactive || next == StateError
	case StateError:
		return next == StateInactive || next == StateStarting
	default:
		return false
	}
}
