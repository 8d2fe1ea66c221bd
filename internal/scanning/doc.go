// Package scanning orchestrates netinventory scans.
//
// An Orchestrator takes a validated ScanRequest through a fixed lifecycle:
// Pending, Running and then exactly one of Completed, Cancelled or Failed.
// Every transition and progress change is persisted through the status
// package; the result artifact is written once and only for Completed.
//
// # Profiles
//
//   - quick: one discovery sweep; each live host is reported with its
//     address, reachability and MAC, device type Unknown.
//   - full: discovery, then characterization and classification of every
//     host on a bounded worker pool. Results are written in discovery order.
//   - port: discovery, then sequential port probing; no classification.
//   - os, vulnerability: complete immediately with an explanatory message
//     and an empty result set.
//
// # Progress
//
// Discovery fills 0-30%. Per-host work fills 30-95% linearly with completed
// hosts and completion sets 100%. Progress never decreases while running.
//
// # Cancellation
//
// The cancel.Monitor is polled before discovery, after discovery, before
// each host is dispatched and after each pool completion. Cancelling the
// context passed to Run is treated the same way. A cancelled scan keeps its
// progress, discards collected hosts and writes no result file.
//
// # Errors
//
// Request validation errors are returned before anything is written. Engine
// failures during discovery fail the scan. Per-host probe failures are data:
// they appear in the result set with HostFacts.ProbeError set.
package scanning
