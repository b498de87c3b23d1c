package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobflow/internal/config"
	"github.com/amishk599/jobflow/internal/scheduler"
	"github.com/amishk599/jobflow/internal/tui"
	"github.com/amishk599/jobflow/internal/workflow"
)

var runFlags struct {
	inputs         string
	mode           string
	maxParallel    int
	failFast       bool
	persistPartial bool
	dryRun         bool
	interactive    bool
}

var runCmd = &cobra.Command{
	Use:   "run [sources...]",
	Short: "Run the workflows once and exit",
	Long: `Runs one execution per source (all enabled sources when none are named),
persists new listings and prints the outcome of every execution.

In --fail-fast mode the exit code is 1 when any execution did not succeed.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.inputs, "inputs", "", "JSON or YAML file with per-source inputs")
	f.StringVar(&runFlags.mode, "mode", "", "sequential or parallel (overrides config)")
	f.IntVar(&runFlags.maxParallel, "max-parallel", 0, "max simultaneous executions in parallel mode (overrides config)")
	f.BoolVar(&runFlags.failFast, "fail-fast", false, "stop launching executions after the first failure")
	f.BoolVar(&runFlags.persistPartial, "persist-partial", true, "persist listings gathered by failed executions")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "use an in-memory store and skip sinks and notifications")
	f.BoolVar(&runFlags.interactive, "tui", false, "show live progress and browse the results")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	names, err := selectSources(cfg, args)
	if err != nil {
		logger.Error("invalid sources", "error", err)
		os.Exit(1)
	}

	var fileInputs map[string]map[string]string
	if runFlags.inputs != "" {
		if fileInputs, err = config.LoadInputs(runFlags.inputs); err != nil {
			logger.Error("failed to load inputs", "error", err)
			os.Exit(1)
		}
	}

	opts := runnerOptions(cfg.Runner)
	if err := applyRunFlags(cmd, &opts); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reqs := buildRequests(cfg, names, fileInputs)

	var res scheduler.Result
	if runFlags.interactive {
		// Logs would tear the live view; keep only errors, on stderr.
		quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		relay := &observerRelay{}
		a, err := newApp(ctx, cfg, opts, runFlags.dryRun, quiet, scheduler.WithObserver(relay.observe))
		if err != nil {
			logger.Error("setup failed", "error", err)
			os.Exit(1)
		}
		res, err = tui.RunProgress(ctx, len(reqs), func(ctx context.Context, obs workflow.Observer) scheduler.Result {
			relay.target = obs
			return a.runner.RunAll(ctx, reqs)
		})
		a.close()
		if err != nil {
			return fmt.Errorf("progress view: %w", err)
		}
		if len(res.Outcomes) > 0 {
			if err := tui.RunResults(res); err != nil {
				return fmt.Errorf("results view: %w", err)
			}
		}
	} else {
		a, err := newApp(ctx, cfg, opts, runFlags.dryRun, logger)
		if err != nil {
			logger.Error("setup failed", "error", err)
			os.Exit(1)
		}
		res = a.runner.RunAll(ctx, reqs)
		a.close()
	}

	fmt.Println(tui.SummaryTable(res.Records()))

	if code := res.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

// observerRelay lets the app be built, and fail, before the progress view
// that receives its events exists. target is set before the run starts.
type observerRelay struct {
	target workflow.Observer
}

func (r *observerRelay) observe(ev workflow.Event) {
	if r.target != nil {
		r.target(ev)
	}
}

// applyRunFlags overrides runner options with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, opts *scheduler.Options) error {
	f := cmd.Flags()
	if f.Changed("mode") {
		switch m := scheduler.Mode(runFlags.mode); m {
		case scheduler.ModeSequential, scheduler.ModeParallel:
			opts.Mode = m
		default:
			return fmt.Errorf("--mode must be sequential or parallel, got %q", runFlags.mode)
		}
	}
	if f.Changed("max-parallel") {
		if runFlags.maxParallel < 1 {
			return fmt.Errorf("--max-parallel must be at least 1")
		}
		opts.MaxParallel = runFlags.maxParallel
	}
	if f.Changed("fail-fast") {
		opts.FailFast = runFlags.failFast
	}
	if f.Changed("persist-partial") {
		opts.PersistPartial = runFlags.persistPartial
	}
	return nil
}

// selectSources returns the named sources, or every enabled source when none
// are named. Named sources must be configured; disabled ones may be run
// explicitly.
func selectSources(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		return cfg.EnabledSources(), nil
	}
	for _, name := range args {
		if _, ok := cfg.Source(name); !ok {
			return nil, fmt.Errorf("source %q is not configured", name)
		}
	}
	return args, nil
}
