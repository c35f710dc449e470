package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Sternrassler/whtop/pkg/client"
	"github.com/Sternrassler/whtop/pkg/dashboard"
	"github.com/Sternrassler/whtop/pkg/logging"
	"github.com/Sternrassler/whtop/pkg/models"
)

var version = "dev"

const (
	flagURL          = "url"
	flagInterval     = "interval"
	flagTimeout      = "timeout"
	flagConcurrency  = "concurrency"
	flagRPS          = "rps"
	flagFollowMaxAge = "follow-max-age"
	flagOnce         = "once"
	flagPanels       = "panels"
	flagLimit        = "limit"
	flagLogLevel     = "log-level"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("whtop-watch failed")
	}
}

func newApp() *cli.App {
	defaults := dashboard.DefaultConfig()
	return &cli.App{
		Name:    "whtop-watch",
		Usage:   "poll a whtop server and print CPU, memory and processes",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagURL, Usage: "whtop server base URL", Value: "http://localhost:8080", EnvVars: []string{"WHTOP_URL"}},
			&cli.DurationFlag{Name: flagInterval, Usage: "wait between frames", Value: defaults.Interval},
			&cli.DurationFlag{Name: flagTimeout, Usage: "per-request timeout", Value: client.DefaultTimeout},
			&cli.Int64Flag{Name: flagConcurrency, Usage: "requests in flight at once", Value: client.DefaultMaxConcurrency},
			&cli.Float64Flag{Name: flagRPS, Usage: "requests per second (0 disables pacing)"},
			&cli.BoolFlag{Name: flagFollowMaxAge, Usage: "poll at the server's advertised max-age"},
			&cli.BoolFlag{Name: flagOnce, Usage: "print one frame and exit"},
			&cli.StringSliceFlag{Name: flagPanels, Usage: "panels to show (cpu, memory, processes)"},
			&cli.IntFlag{Name: flagLimit, Usage: "number of processes to show", Value: 15},
			&cli.StringFlag{Name: flagLogLevel, Usage: "log level", Value: string(logging.LevelWarn), EnvVars: []string{"WHTOP_LOG_LEVEL"}},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logging.Setup(logging.Config{
		Level:   logging.LogLevel(c.String(flagLogLevel)),
		Pretty:  true,
		Service: "whtop-watch",
		Output:  os.Stderr,
	})

	poller, err := newPoller(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	limit := c.Int(flagLimit)
	out := c.App.Writer

	if c.Bool(flagOnce) {
		frame, err := poller.Fetch(ctx)
		render(out, frame, limit)
		return err
	}

	return poller.Run(ctx, func(frame *dashboard.Frame) {
		// Clear screen and home the cursor.
		fmt.Fprint(out, "\033[H\033[2J")
		render(out, frame, limit)
	})
}

func newPoller(c *cli.Context) (*dashboard.Poller, error) {
	cfg := client.DefaultConfig(c.String(flagURL))
	cfg.UserAgent = "whtop-watch/" + version
	cfg.Timeout = c.Duration(flagTimeout)
	cfg.MaxConcurrency = c.Int64(flagConcurrency)
	cfg.RequestsPerSecond = c.Float64(flagRPS)

	api, err := client.New(cfg)
	if err != nil {
		return nil, err
	}

	pollerCfg := dashboard.DefaultConfig()
	pollerCfg.Interval = c.Duration(flagInterval)
	pollerCfg.Timeout = cfg.Timeout
	pollerCfg.FollowMaxAge = c.Bool(flagFollowMaxAge)
	if names := c.StringSlice(flagPanels); len(names) > 0 {
		pollerCfg.Panels = nil
		for _, raw := range names {
			for _, name := range strings.Split(raw, ",") {
				panel, err := dashboard.ParsePanel(name)
				if err != nil {
					return nil, err
				}
				pollerCfg.Panels = append(pollerCfg.Panels, panel)
			}
		}
	}

	return dashboard.NewPoller(api, pollerCfg), nil
}

// render writes frame as plain text. At most limit processes are listed.
func render(w io.Writer, frame *dashboard.Frame, limit int) {
	if frame == nil {
		return
	}

	fmt.Fprintf(w, "whtop  %s  (fetched in %s)\n\n",
		frame.FetchedAt.Format(time.TimeOnly), frame.Duration.Round(time.Millisecond))

	if frame.CPU != nil {
		renderCPU(w, frame.CPU, frame.Meta[dashboard.PanelCPU])
	}
	if frame.Memory != nil {
		renderMemory(w, frame.Memory, frame.Meta[dashboard.PanelMemory])
	}
	if frame.Processes != nil {
		renderProcesses(w, frame.Processes, limit, frame.Meta[dashboard.PanelProcesses])
	}

	for _, panel := range dashboard.AllPanels {
		if err, ok := frame.Errors[panel]; ok {
			fmt.Fprintf(w, "%s: %v\n", panel, err)
		}
	}
}

func renderCPU(w io.Writer, cpu *models.GetCPUResponse, meta client.Meta) {
	fmt.Fprintf(w, "CPU  %5.1f%%  %s MHz%s\n", cpu.Global.Usage, humanize.Comma(int64(cpu.Global.Frequency)), freshness(meta))
	for _, core := range cpu.CPUs {
		fmt.Fprintf(w, "  %-6s %5.1f%%  %s MHz\n", core.Name, core.Usage, humanize.Comma(int64(core.Frequency)))
	}
	fmt.Fprintln(w)
}

func renderMemory(w io.Writer, mem *models.GetMemoryResponse, meta client.Meta) {
	fmt.Fprintf(w, "Memory  %s used / %s total, %s available, %s free%s\n\n",
		kilobytes(mem.Used), kilobytes(mem.Total), kilobytes(mem.Available), kilobytes(mem.Free), freshness(meta))
}

func renderProcesses(w io.Writer, procs *models.GetProcessesResponse, limit int, meta client.Meta) {
	list := procs.Processes
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	fmt.Fprintf(w, "Processes  %s total%s\n", humanize.Comma(int64(len(procs.Processes))), freshness(meta))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tPPID\tNAME\tCPU\tMEM\tVIRT\tTIME")
	for _, p := range list {
		ppid := "-"
		if p.ParentPID != nil {
			ppid = *p.ParentPID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			p.PID, ppid, p.Name, p.CPU, kilobytes(p.Memory), kilobytes(p.VirtualMemory),
			time.Duration(p.RunTime)*time.Second)
	}
	tw.Flush()
	fmt.Fprintln(w)
}

// kilobytes formats a kilobyte count the way the server reports memory.
func kilobytes(kb uint64) string {
	return humanize.IBytes(kb * 1024)
}

func freshness(meta client.Meta) string {
	var parts []string
	if !meta.LastModified.IsZero() {
		parts = append(parts, "captured "+humanize.Time(meta.LastModified))
	}
	if maxAge, ok := meta.MaxAge(); ok {
		parts = append(parts, "max-age "+maxAge.String())
	}
	if len(parts) == 0 {
		return ""
	}
	return "  [" + strings.Join(parts, ", ") + "]"
}
