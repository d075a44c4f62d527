package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"firestige.xyz/impair/internal/config"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/log"
	"firestige.xyz/impair/internal/metrics"
	"firestige.xyz/impair/internal/pipeline"
	"firestige.xyz/impair/internal/pktbuf"
	"firestige.xyz/impair/internal/port"
	"firestige.xyz/impair/internal/random"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forward and impair traffic until interrupted",
	Long: `Bind two ports and forward traffic between them, impairing the
configured direction. Runs until SIGINT/SIGTERM, a stage failure or the
--duration elapses, then prints per-port statistics.

Examples:
  impair run -c impair.yml
  impair run -p 3 -d 20000 -j 2000 -r 1
  impair run -p 3 -r 5 -g 40 -s 100M
  impair run -p 3 --p13 1 --p31 50 --p32 10 --p23 5 --p14 0.5`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			_ = cmd.Usage()
			return err
		}
		return runEmulator(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

var runDuration time.Duration

func init() {
	config.AddFlags(runCmd.Flags())
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "stop after this long (0 = until signalled)")
}

// loadConfig layers defaults, the config file, IMPAIR_* environment
// variables and the command-line flags, in that order of precedence.
func loadConfig(cmd *cobra.Command) (*config.GlobalConfig, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func runEmulator(parent context.Context, cfg *config.GlobalConfig, out io.Writer) error {
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Close()

	em, err := buildEmulator(cfg)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var admin *metrics.Server
	if cfg.Metrics.Enabled {
		admin = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, em)
		if err := admin.Start(ctx); err != nil {
			_ = em.Close()
			return err
		}
		defer admin.Stop(context.Background())
	}

	return serve(ctx, em, serveOptions{
		out:      out,
		duration: runDuration,
		dumpDir:  cfg.Latency.DumpDir,
	})
}

// buildEmulator opens the two selected ports and assembles the pipeline.
func buildEmulator(cfg *config.GlobalConfig) (*pipeline.Emulator, error) {
	seed := cfg.Random.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rf, err := random.NewFactory(cfg.Random.Generator, seed)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	slog.Info("preparing run", "run_id", runID, "generator", rf.Generator(), "seed", seed)

	pool := pktbuf.NewPool(cfg.Pool.Count, cfg.Pool.BufSize)

	var ports [2]port.Port
	for i, idx := range cfg.PortIndexes() {
		p, err := port.Open(i, cfg.Ports[idx], pool)
		if err != nil {
			for _, opened := range ports[:i] {
				_ = opened.Close()
			}
			return nil, err
		}
		ports[i] = p
	}

	em, err := pipeline.NewBuilder().
		WithRunID(runID).
		WithPorts(ports[0], ports[1]).
		WithPool(pool).
		WithRandom(rf).
		WithImpairment(cfg.PipelineImpairment(), cfg.Impaired()...).
		WithRingSize(cfg.Pipeline.RingSize).
		WithBurst(cfg.Pipeline.Burst).
		WithHOL(cfg.HOL()).
		WithIdleYield(cfg.Pipeline.IdleYield).
		WithCores(cfg.RoleCores()).
		WithLatencySamples(cfg.Latency.Samples).
		Build()
	if err != nil {
		for _, p := range ports {
			_ = p.Close()
		}
		return nil, err
	}
	return em, nil
}

// emulator is the part of *pipeline.Emulator the run loop drives.
type emulator interface {
	Start() error
	Stopping() bool
	Stop() error
	Close() error
	Report() (pipeline.Report, error)
	DumpLatency(dir string) ([]string, error)
}

type serveOptions struct {
	out      io.Writer
	duration time.Duration
	dumpDir  string
	poll     time.Duration
}

// serve starts em and blocks until ctx is done, the duration elapses or a
// stage stops the emulator on its own. It then tears down, prints the
// report and returns the first failure.
func serve(ctx context.Context, em emulator, opts serveOptions) error {
	if opts.poll <= 0 {
		opts.poll = 100 * time.Millisecond
	}
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if err := em.Start(); err != nil {
		_ = em.Close()
		return err
	}

	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown requested", "reason", context.Cause(ctx))
			break wait
		case <-ticker.C:
			if em.Stopping() {
				break wait
			}
		}
	}

	stopErr := em.Stop()
	closeErr := em.Close()

	report, err := em.Report()
	if err != nil {
		slog.Warn("incomplete report", "error", err)
	}
	report.Print(opts.out)

	if opts.dumpDir != "" {
		files, err := em.DumpLatency(opts.dumpDir)
		if err != nil {
			slog.Error("failed to write latency samples", "dir", opts.dumpDir, "error", err)
		}
		for _, f := range files {
			fmt.Fprintf(opts.out, "latency samples: %s\n", f)
		}
	}

	if stopErr != nil {
		return stopErr
	}
	if closeErr != nil && !errors.Is(closeErr, core.ErrStageFailed) {
		slog.Warn("failed to close ports", "error", closeErr)
	}
	return nil
}
