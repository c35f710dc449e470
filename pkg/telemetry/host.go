package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// HostProvider captures snapshots of the local host using gopsutil.
//
// CPU usage figures (host and per process) are measured between consecutive
// captures, so the first capture after construction reports zero usage.
type HostProvider struct {
	logger zerolog.Logger

	mu sync.Mutex
	// procs keeps process handles between captures so per-process CPU
	// usage is computed over the last capture interval.
	procs map[int32]*process.Process
	now   func() time.Time
}

// NewHostProvider creates a provider for the local host.
func NewHostProvider(logger zerolog.Logger) *HostProvider {
	return &HostProvider{
		logger: logger,
		procs:  make(map[int32]*process.Process),
		now:    time.Now,
	}
}

// Capture queries the operating system for CPU, memory and process data.
func (p *HostProvider) Capture(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cpuSample, err := captureCPU(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture cpu: %w", err)
	}

	memory, err := captureMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture memory: %w", err)
	}

	processes, err := p.captureProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture processes: %w", err)
	}

	return &Snapshot{
		CPU:       cpuSample,
		Memory:    memory,
		Processes: processes,
	}, nil
}

func captureCPU(ctx context.Context) (CPUSample, error) {
	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return CPUSample{}, fmt.Errorf("per-core usage: %w", err)
	}

	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return CPUSample{}, fmt.Errorf("total usage: %w", err)
	}

	// Frequency is best effort; some platforms do not expose it.
	infos, _ := cpu.InfoWithContext(ctx)

	cores := make([]CoreSample, len(perCore))
	var freqSum uint64
	for i, usage := range perCore {
		freq := coreFrequency(infos, i)
		freqSum += freq
		cores[i] = CoreSample{
			Name:      fmt.Sprintf("cpu%d", i),
			Usage:     float32(usage),
			Frequency: freq,
		}
	}

	global := CoreSample{Name: "global"}
	if len(total) > 0 {
		global.Usage = float32(total[0])
	}
	if len(cores) > 0 {
		global.Frequency = freqSum / uint64(len(cores))
	}

	return CPUSample{Global: global, Cores: cores}, nil
}

func coreFrequency(infos []cpu.InfoStat, index int) uint64 {
	switch {
	case index < len(infos):
		return uint64(infos[index].Mhz)
	case len(infos) > 0:
		return uint64(infos[0].Mhz)
	default:
		return 0
	}
}

func captureMemory(ctx context.Context) (MemorySample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemorySample{}, err
	}
	return MemorySample{
		Total:     vm.Total / 1024,
		Used:      vm.Used / 1024,
		Free:      vm.Free / 1024,
		Available: vm.Available / 1024,
	}, nil
}

func (p *HostProvider) captureProcesses(ctx context.Context) ([]ProcessSample, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}

	now := p.now()
	seen := make(map[int32]*process.Process, len(pids))
	samples := make([]ProcessSample, 0, len(pids))
	skipped := 0

	for _, pid := range pids {
		proc, ok := p.procs[pid]
		if ok && !samePID(ctx, proc) {
			// The PID now belongs to another process; its cached name and
			// create time are stale.
			ok = false
		}
		if !ok {
			proc, err = process.NewProcessWithContext(ctx, pid)
			if err != nil {
				// Exited between listing and opening.
				skipped++
				continue
			}
		}

		sample, err := sampleProcess(ctx, proc, now)
		if err != nil {
			if !errors.Is(err, process.ErrorProcessNotRunning) {
				p.logger.Debug().Err(err).Int32("pid", pid).Msg("Skipping process")
			}
			skipped++
			continue
		}

		seen[pid] = proc
		samples = append(samples, sample)
	}

	p.procs = seen

	if skipped > 0 {
		p.logger.Debug().
			Int("captured", len(samples)).
			Int("skipped", skipped).
			Msg("Process table captured")
	}

	return samples, nil
}

// samePID reports whether proc still refers to the process running under its
// PID. gopsutil caches the create time on the handle and compares it with the
// current one.
func samePID(ctx context.Context, proc *process.Process) bool {
	running, err := proc.IsRunningWithContext(ctx)
	return err == nil && running
}

func sampleProcess(ctx context.Context, proc *process.Process, now time.Time) (ProcessSample, error) {
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("name: %w", err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("memory info: %w", err)
	}

	// The remaining fields are optional for processes we cannot fully inspect.
	ppid, _ := proc.PpidWithContext(ctx)
	usage, _ := proc.PercentWithContext(ctx, 0)
	exe, _ := proc.ExeWithContext(ctx)

	var runTime uint64
	if created, err := proc.CreateTimeWithContext(ctx); err == nil && created > 0 {
		if elapsed := now.Sub(time.UnixMilli(created)); elapsed > 0 {
			runTime = uint64(elapsed / time.Second)
		}
	}

	return ProcessSample{
		PID:           proc.Pid,
		ParentPID:     ppid,
		Name:          name,
		CPU:           float32(usage),
		Memory:        memInfo.RSS / 1024,
		VirtualMemory: memInfo.VMS / 1024,
		RunTime:       runTime,
		Path:          exe,
	}, nil
}
