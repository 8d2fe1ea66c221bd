// Package cancel implements cooperative scan cancellation. An external party
// asks a running scan to stop by creating a sentinel file in the scan's
// output directory; the orchestrator polls for it at every checkpoint.
package cancel

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// DefaultMarkerName is the sentinel file name under the output directory.
const DefaultMarkerName = "cancel"

const markerFilePerm = 0644

// Monitor decides whether the running scan should stop. Implementations
// must be cheap: ShouldStop is called on every loop iteration.
type Monitor interface {
	ShouldStop() bool
}

// FileMonitor reports a stop once the sentinel file exists. The decision is
// sticky: after the marker has been seen once, ShouldStop keeps returning
// true even if the file is removed again.
type FileMonitor struct {
	path    string
	stopped atomic.Bool
}

// NewFileMonitor creates a monitor for the marker file at path.
func NewFileMonitor(path string) *FileMonitor {
	return &FileMonitor{path: path}
}

// ForDir creates a monitor for the marker named name inside dir. An empty
// name selects DefaultMarkerName.
func ForDir(dir, name string) *FileMonitor {
	return NewFileMonitor(MarkerPath(dir, name))
}

// Path returns the sentinel file location.
func (m *FileMonitor) Path() string {
	return m.path
}

// ShouldStop implements Monitor.
func (m *FileMonitor) ShouldStop() bool {
	if m.stopped.Load() {
		return true
	}
	if _, err := os.Stat(m.path); err == nil {
		m.stopped.Store(true)
		return true
	}
	return false
}

// MarkerPath joins dir and the marker name, defaulting the name.
func MarkerPath(dir, name string) string {
	if name == "" {
		name = DefaultMarkerName
	}
	return filepath.Join(dir, name)
}

// Request creates the sentinel marker for the scan writing to dir. The
// marker content is the request time, for operators reading it by hand.
func Request(dir, name string) (string, error) {
	path := MarkerPath(dir, name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("output directory %s does not exist", dir)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(path, stamp, markerFilePerm); err != nil {
		return "", fmt.Errorf("failed to create cancel marker: %w", err)
	}
	return path, nil
}

// ClearStale removes the marker at path if it was written before t.
// Markers written at or after t are kept. It reports whether a marker was
// removed.
func ClearStale(path string, t time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect cancel marker: %w", err)
	}
	if !info.ModTime().Before(t) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale cancel marker: %w", err)
	}
	return true, nil
}

// Never is a Monitor that never asks the scan to stop.
type Never struct{}

// ShouldStop implements Monitor.
func (Never) ShouldStop() bool { return false }

// Func adapts a plain function to the Monitor interface.
type Func func() bool

// ShouldStop implements Monitor.
func (f Func) ShouldStop() bool { return f() }

// Any stops when any of the given monitors asks to stop.
func Any(monitors ...Monitor) Monitor {
	return Func(func() bool {
		for _, m := range monitors {
			if m != nil && m.ShouldStop() {
				return true
			}
		}
		return false
	})
}
