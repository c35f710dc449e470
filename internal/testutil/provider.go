// Package testutil provides testing utilities for whtop.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/whtop/pkg/telemetry"
)

// CountingProvider is a telemetry.Provider that counts captures and can be
// slowed down, blocked or made to fail.
type CountingProvider struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64

	mu    sync.Mutex
	delay time.Duration
	err   error
	gate  chan struct{}
}

// NewCountingProvider creates a provider returning a fresh snapshot per call.
func NewCountingProvider() *CountingProvider {
	return &CountingProvider{}
}

// Capture returns a new snapshot whose memory total equals the call number.
func (p *CountingProvider) Capture(ctx context.Context) (*telemetry.Snapshot, error) {
	n := p.calls.Add(1)

	inFlight := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if inFlight <= seen || p.maxSeen.CompareAndSwap(seen, inFlight) {
			break
		}
	}

	p.mu.Lock()
	delay, err, gate := p.delay, p.err, p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return NewSnapshot(uint64(n)), nil
}

// Calls returns the number of Capture calls so far.
func (p *CountingProvider) Calls() int {
	return int(p.calls.Load())
}

// MaxConcurrent returns the highest number of simultaneous Capture calls seen.
func (p *CountingProvider) MaxConcurrent() int {
	return int(p.maxSeen.Load())
}

// SetDelay makes every capture sleep for d.
func (p *CountingProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// SetError makes every capture fail with err (nil restores success).
func (p *CountingProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Block makes captures wait until the returned release function is called.
func (p *CountingProvider) Block() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

// NewSnapshot builds a small deterministic snapshot tagged with seq.
func NewSnapshot(seq uint64) *telemetry.Snapshot {
	return &telemetry.Snapshot{
		CPU: telemetry.CPUSample{
			Global: telemetry.CoreSample{Name: "global", Usage: 12.5, Frequency: 2400},
			Cores: []telemetry.CoreSample{
				{Name: "cpu0", Usage: 10, Frequency: 2400},
				{Name: "cpu1", Usage: 15, Frequency: 2400},
			},
		},
		Memory: telemetry.MemorySample{
			Total:     seq,
			Used:      seq / 2,
			Free:      seq / 4,
			Available: seq / 2,
		},
		Processes: []telemetry.ProcessSample{
			{PID: 1, Name: "init", Memory: 1024, VirtualMemory: 4096, RunTime: 100, Path: "/sbin/init"},
			{PID: 42, ParentPID: 1, Name: fmt.Sprintf("worker-%d", seq), CPU: 3.5, Memory: 8192, VirtualMemory: 16384, RunTime: 10},
			{PID: 7, ParentPID: 1, Name: "idle", Memory: 512, VirtualMemory: 1024, RunTime: 1},
		},
	}
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
