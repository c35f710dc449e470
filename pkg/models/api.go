// Package models defines the JSON bodies exchanged between the whtop server
// and its clients.
package models

// GetCPUResponse is the body of GET /cpu.
type GetCPUResponse struct {
	Global GlobalCPUInfo `json:"global"`
	CPUs   []CPUInfo     `json:"cpus"`
}

// GlobalCPUInfo is the usage (percent) and frequency (MHz) of a CPU.
type GlobalCPUInfo struct {
	Usage     float32 `json:"usage"`
	Frequency uint64  `json:"frequency"`
}

// CPUInfo is a named logical CPU. The embedded fields are flattened in JSON.
type CPUInfo struct {
	Name string `json:"name"`
	GlobalCPUInfo
}

// GetMemoryResponse is the body of GET /memory.
type GetMemoryResponse struct {
	// Total memory in kilobytes.
	Total uint64 `json:"total"`
	// Used memory in kilobytes.
	Used uint64 `json:"used"`
	// Free (unallocated) memory in kilobytes.
	Free uint64 `json:"free"`
	// Available (reusable) memory in kilobytes.
	Available uint64 `json:"available"`
}

// GetProcessesResponse is the body of GET /processes.
// Processes are sorted by descending memory.
type GetProcessesResponse struct {
	Processes []ProcessInfo `json:"processes"`
}

// ProcessInfo describes a running process.
type ProcessInfo struct {
	PID       string  `json:"pid"`
	ParentPID *string `json:"parentPid"`
	Name      string  `json:"name"`
	CPU       float32 `json:"cpu"`
	// Memory in use, in kilobytes.
	Memory uint64 `json:"memory"`
	// VirtualMemory allocated, in kilobytes.
	VirtualMemory uint64 `json:"virtualMemory"`
	// RunTime in seconds.
	RunTime uint64 `json:"runTime"`
	// Path to the executable, if known.
	Path *string `json:"path"`
}

// ErrorResponse is the body returned with non-2xx statuses.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error types carried in ErrorResponse.Type.
const (
	ErrorTypeInternal    = "internalError"
	ErrorTypeUnavailable = "unavailable"
	ErrorTypeNotFound    = "notFound"
)
