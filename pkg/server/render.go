package server

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/Sternrassler/whtop/pkg/models"
	"github.com/Sternrassler/whtop/pkg/telemetry"
)

// renderCPU converts the CPU sample of a snapshot.
func renderCPU(s *telemetry.Snapshot) any {
	cpus := make([]models.CPUInfo, 0, len(s.CPU.Cores))
	for _, core := range s.CPU.Cores {
		cpus = append(cpus, models.CPUInfo{
			Name: core.Name,
			GlobalCPUInfo: models.GlobalCPUInfo{
				Usage:     core.Usage,
				Frequency: core.Frequency,
			},
		})
	}
	return models.GetCPUResponse{
		Global: models.GlobalCPUInfo{
			Usage:     s.CPU.Global.Usage,
			Frequency: s.CPU.Global.Frequency,
		},
		CPUs: cpus,
	}
}

// renderMemory converts the memory sample of a snapshot.
func renderMemory(s *telemetry.Snapshot) any {
	return models.GetMemoryResponse{
		Total:     s.Memory.Total,
		Used:      s.Memory.Used,
		Free:      s.Memory.Free,
		Available: s.Memory.Available,
	}
}

// renderProcesses converts the process list, sorted by descending memory.
// The snapshot is shared, so the sort works on a copy.
func renderProcesses(s *telemetry.Snapshot) any {
	procs := slices.Clone(s.Processes)
	slices.SortStableFunc(procs, func(a, b telemetry.ProcessSample) int {
		return cmp.Compare(b.Memory, a.Memory)
	})

	out := make([]models.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := models.ProcessInfo{
			PID:           strconv.FormatInt(int64(p.PID), 10),
			Name:          p.Name,
			CPU:           p.CPU,
			Memory:        p.Memory,
			VirtualMemory: p.VirtualMemory,
			RunTime:       p.RunTime,
		}
		if p.ParentPID != 0 {
			parent := strconv.FormatInt(int64(p.ParentPID), 10)
			info.ParentPID = &parent
		}
		if p.Path != "" {
			path := p.Path
			info.Path = &path
		}
		out = append(out, info)
	}
	return models.GetProcessesResponse{Processes: out}
}
