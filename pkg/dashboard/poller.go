package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/whtop/pkg/client"
	"github.com/Sternrassler/whtop/pkg/models"
)

// Panel names a dashboard panel.
type Panel string

// Known panels.
const (
	PanelCPU       Panel = "cpu"
	PanelMemory    Panel = "memory"
	PanelProcesses Panel = "processes"
)

// AllPanels lists every panel in display order.
var AllPanels = []Panel{PanelCPU, PanelMemory, PanelProcesses}

// ParsePanel converts a panel name.
func ParsePanel(name string) (Panel, error) {
	for _, p := range AllPanels {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown panel %q", name)
}

// Fetcher is the part of the whtop client the poller needs.
// *client.Client implements it.
type Fetcher interface {
	CPU(ctx context.Context) (*models.GetCPUResponse, client.Meta, error)
	Memory(ctx context.Context) (*models.GetMemoryResponse, client.Meta, error)
	Processes(ctx context.Context) (*models.GetProcessesResponse, client.Meta, error)
}

// Config holds poller configuration.
type Config struct {
	// Panels to fetch (default: AllPanels).
	Panels []Panel
	// Workers is the maximum number of panels fetched in parallel.
	Workers int
	// Timeout per panel fetch.
	Timeout time.Duration
	// Interval between frames.
	Interval time.Duration
	// FollowMaxAge waits for the server's max-age instead of Interval when
	// the server advertises one, never less than MinInterval.
	FollowMaxAge bool
	// MinInterval is the lower bound on the wait between frames.
	MinInterval time.Duration
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{
		Panels:      AllPanels,
		Workers:     3,
		Timeout:     3 * time.Second,
		Interval:    2 * time.Second,
		MinInterval: 500 * time.Millisecond,
	}
}

// Frame is the result of one poll.
type Frame struct {
	CPU       *models.GetCPUResponse
	Memory    *models.GetMemoryResponse
	Processes *models.GetProcessesResponse

	// Meta holds response metadata per successfully fetched panel.
	Meta map[Panel]client.Meta
	// Errors holds the error of every failed panel.
	Errors map[Panel]error

	FetchedAt time.Time
	Duration  time.Duration
}

// Complete reports whether every requested panel was fetched.
func (f *Frame) Complete() bool {
	return len(f.Errors) == 0
}

// MaxAge returns the smallest max-age advertised by the fetched panels.
func (f *Frame) MaxAge() (time.Duration, bool) {
	var (
		smallest time.Duration
		found    bool
	)
	for _, meta := range f.Meta {
		if age, ok := meta.MaxAge(); ok && (!found || age < smallest) {
			smallest = age
			found = true
		}
	}
	return smallest, found
}

type panelResult struct {
	panel Panel
	value any
	meta  client.Meta
	err   error
}

// Poller fetches dashboard frames.
type Poller struct {
	fetcher Fetcher
	config  Config
}

// NewPoller creates a poller. Zero config fields take their defaults.
func NewPoller(fetcher Fetcher, config Config) *Poller {
	defaults := DefaultConfig()
	if len(config.Panels) == 0 {
		config.Panels = defaults.Panels
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MinInterval <= 0 {
		config.MinInterval = defaults.MinInterval
	}

	return &Poller{
		fetcher: fetcher,
		config:  config,
	}
}

// Fetch polls every panel once. It returns an error only when no panel could
// be fetched; partial failures are reported in Frame.Errors.
func (p *Poller) Fetch(ctx context.Context) (*Frame, error) {
	start := time.Now()

	panelQueue := make(chan Panel, len(p.config.Panels))
	for _, panel := range p.config.Panels {
		panelQueue <- panel
	}
	close(panelQueue)

	results := make(chan panelResult, len(p.config.Panels))

	workers := p.config.Workers
	if workers > len(p.config.Panels) {
		workers = len(p.config.Panels)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, panelQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	frame := &Frame{
		Meta:   make(map[Panel]client.Meta),
		Errors: make(map[Panel]error),
	}
	for result := range results {
		if result.err != nil {
			frame.Errors[result.panel] = result.err
			continue
		}
		frame.Meta[result.panel] = result.meta
		switch v := result.value.(type) {
		case *models.GetCPUResponse:
			frame.CPU = v
		case *models.GetMemoryResponse:
			frame.Memory = v
		case *models.GetProcessesResponse:
			frame.Processes = v
		}
	}

	frame.FetchedAt = time.Now()
	frame.Duration = time.Since(start)

	if len(frame.Meta) == 0 {
		if err := ctx.Err(); err != nil {
			return frame, err
		}
		errs := make([]error, 0, len(frame.Errors))
		for _, panel := range p.config.Panels {
			if err, ok := frame.Errors[panel]; ok {
				errs = append(errs, fmt.Errorf("%s: %w", panel, err))
			}
		}
		return frame, fmt.Errorf("all panels failed: %w", errors.Join(errs...))
	}

	if !frame.Complete() {
		log.Warn().
			Int("failed", len(frame.Errors)).
			Int("total", len(p.config.Panels)).
			Msg("Partial dashboard frame")
	}

	return frame, nil
}

// worker fetches panels from the queue.
func (p *Poller) worker(ctx context.Context, panelQueue <-chan Panel, results chan<- panelResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for panel := range panelQueue {
		if err := ctx.Err(); err != nil {
			results <- panelResult{panel: panel, err: err}
			continue
		}

		panelCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		value, meta, err := p.fetchPanel(panelCtx, panel)
		cancel()

		if err != nil {
			log.Debug().
				Err(err).
				Int("worker_id", workerID).
				Str("panel", string(panel)).
				Msg("Panel fetch failed")
		}
		results <- panelResult{panel: panel, value: value, meta: meta, err: err}
	}
}

func (p *Poller) fetchPanel(ctx context.Context, panel Panel) (any, client.Meta, error) {
	switch panel {
	case PanelCPU:
		return p.fetcher.CPU(ctx)
	case PanelMemory:
		return p.fetcher.Memory(ctx)
	case PanelProcesses:
		return p.fetcher.Processes(ctx)
	default:
		return nil, client.Meta{}, fmt.Errorf("unknown panel %q", panel)
	}
}

// Run polls until ctx is done, calling render with every frame, including
// partial ones. Frames in which every panel failed are passed to render too,
// so callers can show the errors. Run returns nil when ctx is cancelled.
func (p *Poller) Run(ctx context.Context, render func(*Frame)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		frame, err := p.Fetch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("Dashboard poll failed")
		}
		render(frame)

		timer.Reset(p.nextDelay(frame))
	}
}

// nextDelay returns how long to wait before the next poll.
func (p *Poller) nextDelay(frame *Frame) time.Duration {
	delay := p.config.Interval
	if p.config.FollowMaxAge && frame != nil {
		if maxAge, ok := frame.MaxAge(); ok {
			delay = maxAge
		}
	}
	if delay < p.config.MinInterval {
		delay = p.config.MinInterval
	}
	return delay
}
