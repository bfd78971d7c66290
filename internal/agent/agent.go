// Package agent describes the collaborators the stress loop drives around the
// agent under test: its Windows service, system power transitions and
// agent-side configuration toggles.
package agent

import (
	"context"
	"time"
)

// ServiceStatus is the state reported by the service manager
type ServiceStatus string

const (
	StatusRunning      ServiceStatus = "RUNNING"
	StatusStopped      ServiceStatus = "STOPPED"
	StatusStartPending ServiceStatus = "START_PENDING"
	StatusStopPending  ServiceStatus = "STOP_PENDING"
	StatusNotFound     ServiceStatus = "NOT_FOUND"
	StatusUnknown      ServiceStatus = "UNKNOWN"
)

// DefaultServiceName is the agent's Windows service
const DefaultServiceName = "stagentsvc"

// ServiceController queries and drives a service
type ServiceController interface {
	Status(ctx context.Context, name string) ServiceStatus
	Start(ctx context.Context, name string) error
	// Stop requests a stop and waits up to timeout for STOPPED
	Stop(ctx context.Context, name string, timeout time.Duration) error
}

// PowerManager puts the machine to sleep and wakes it after d
type PowerManager interface {
	EnterSleep(ctx context.Context, d time.Duration) (WakeHistoryEntry, error)
}

// ConfigToggler flips an agent-side setting and restores it
type ConfigToggler interface {
	Toggle(ctx context.Context) error
	Restore(ctx context.Context) error
}

// WakeHistoryEntry records one sleep/wake cycle. It is informational only.
type WakeHistoryEntry struct {
	SleptAt  time.Time
	WokeAt   time.Time
	Expected time.Duration
	Actual   time.Duration
	Drift    time.Duration
	Success  bool
}

// NewWakeHistoryEntry derives actual duration and drift from the timestamps
func NewWakeHistoryEntry(slept, woke time.Time, expected time.Duration) WakeHistoryEntry {
	actual := woke.Sub(slept)
	return WakeHistoryEntry{
		SleptAt:  slept,
		WokeAt:   woke,
		Expected: expected,
		Actual:   actual,
		Drift:    actual - expected,
		Success:  !woke.Before(slept),
	}
}
