// Package telemetry captures host CPU, memory and process samples.
//
// A Snapshot is produced whole by a single Capture call and is never mutated
// afterwards. Holders of a *Snapshot may share it freely across goroutines.
package telemetry

import "context"

// Provider captures a complete snapshot of the host.
// Capture may block for a noticeable amount of time and may fail.
type Provider interface {
	Capture(ctx context.Context) (*Snapshot, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*Snapshot, error)

// Capture calls f(ctx).
func (f ProviderFunc) Capture(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// Snapshot is the set of host metrics captured at one instant.
type Snapshot struct {
	CPU       CPUSample       `json:"cpu"`
	Memory    MemorySample    `json:"memory"`
	Processes []ProcessSample `json:"processes"`
}

// CPUSample holds the aggregate and per-core CPU readings.
type CPUSample struct {
	Global CoreSample   `json:"global"`
	Cores  []CoreSample `json:"cores"`
}

// CoreSample is the usage (percent) and frequency (MHz) of one logical CPU,
// or of all of them for the global sample.
type CoreSample struct {
	Name      string  `json:"name"`
	Usage     float32 `json:"usage"`
	Frequency uint64  `json:"frequency"`
}

// MemorySample holds memory figures in kilobytes.
type MemorySample struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"`
}

// ProcessSample describes one running process.
type ProcessSample struct {
	PID int32 `json:"pid"`
	// ParentPID is 0 when the process has no parent.
	ParentPID int32   `json:"parent_pid"`
	Name      string  `json:"name"`
	CPU       float32 `json:"cpu"`
	// Memory and VirtualMemory are in kilobytes.
	Memory        uint64 `json:"memory"`
	VirtualMemory uint64 `json:"virtual_memory"`
	// RunTime is the number of seconds the process has been running.
	RunTime uint64 `json:"run_time"`
	// Path is empty when the executable is unknown.
	Path string `json:"path"`
}
