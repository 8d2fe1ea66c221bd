// Package probe adapts external probing tools to the scan orchestrator. The
// Engine interface is the only thing the orchestrator knows about; NmapEngine
// implements it over the nmap binary and optional Enrichers fill in facts
// nmap could not observe.
package probe

import (
	"context"

	"github.com/anstrom/netinventory/internal/inventory"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/anstrom/netinventory/internal/probe Engine

// Engine performs host discovery and per-host characterization.
type Engine interface {
	// Discover sweeps targets and returns the hosts observed up, in
	// discovery order. Errors are fatal for the scan.
	Discover(ctx context.Context, targets []string) ([]inventory.HostFacts, error)

	// Characterize probes a single discovered host at the depth selected by
	// profile. Failures are reported in HostFacts.ProbeError, never as an
	// error. A Missing result means the host dropped out of the probe.
	Characterize(ctx context.Context, host inventory.HostFacts, profile inventory.Profile) inventory.HostFacts
}

// Enricher adds best effort facts to a characterized host. Implementations
// return the host unchanged when they have nothing to add.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, host inventory.HostFacts) (inventory.HostFacts, error)
}
