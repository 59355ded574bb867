// Package orchestrator implements the sync cycle: pulling a candidate
// config from every enabled transport, merging them with the local config
// via the vector-clock algorithm, persisting the result, and pushing it
// back out.
package orchestrator

import (
	"context"
	"time"

	"github.com/flowdesk/syncd/internal/syncdoc"
	"github.com/flowdesk/syncd/internal/transport"
)

// TransportOutcome records what one transport did during a single sync
// cycle, for diagnostics and audit event emission.
type TransportOutcome struct {
	TransportID string `json:"transport_id"`
	Pulled      bool   `json:"pulled"`
	Pushed      bool   `json:"pushed"`
	Skipped     bool   `json:"skipped"`
	Error       string `json:"error,omitempty"`
}

// CycleResult summarizes one SyncCycle invocation.
type CycleResult struct {
	CycleID      string             `json:"cycle_id"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	MergedConfig bool               `json:"merged_config"`
	Tiebreaks    int                `json:"tiebreaks"`
	Rotated      bool               `json:"rotated"`
	Transports   []TransportOutcome `json:"transports"`
}

// SyncOrchestrator coordinates a local ConfigStorage and a set of
// SyncTransports through one push/pull/merge/rotate cycle at a time. At most
// one cycle (or local-change application) runs concurrently against a given
// instance; see lock.go.
type SyncOrchestrator interface {
	// SyncCycle runs one full pull/merge/push cycle across every registered
	// transport and returns a summary of what happened. Transport failures
	// are soft: they are recorded in the result and do not fail the cycle.
	// Storage and crypto errors abort the cycle and are returned.
	SyncCycle(ctx context.Context) (*CycleResult, error)

	// ApplyLocalChange applies newConfig as a local mutation (bumping this
	// device's vector clock counter), saves it, and triggers a SyncCycle.
	ApplyLocalChange(ctx context.Context, newConfig []byte) (*CycleResult, error)

	// RegisterTransport adds t to the set of transports used by future
	// cycles.
	RegisterTransport(t transport.SyncTransport)

	// CurrentConfig returns the local device's current VersionedConfig, or
	// nil if none has been saved yet.
	CurrentConfig(ctx context.Context) (*syncdoc.VersionedConfig, error)
}
