// The hlsrescue command recovers partially downloaded HLS assets: it
// re-acquires playlist metadata, fetches only the segments that are missing
// or invalid on disk, and retries failures for a bounded number of rounds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"hlsrescue/internal/asset"
	"hlsrescue/internal/config"
	"hlsrescue/internal/daemon"
	"hlsrescue/internal/fetch"
	"hlsrescue/internal/recovery"
	"hlsrescue/internal/task"
	"hlsrescue/internal/validate"
)

const (
	version = "1.0.0"
)

func main() {
	var (
		rootDir       = flag.String("root", "downloads", "Root directory holding one subdirectory per asset")
		concurrency   = flag.Int("concurrency", 0, "Maximum in-flight segment requests (default 32)")
		delay         = flag.Duration("delay", 0, "Minimum spacing between requests (e.g. '250ms')")
		maxRounds     = flag.Int("max-retry-rounds", 0, "Maximum retry rounds per asset (default 3)")
		validateOnly  = flag.Bool("validate", false, "Only report completeness, never touch the network")
		enqueue       = flag.Bool("enqueue", false, "Add the asset to the task queue instead of recovering it now")
		daemonMode    = flag.Bool("daemon", false, "Poll the task queue and recover pending assets until stopped")
		dbPath        = flag.String("db", "tasks.db", "Task queue database path (daemon and enqueue modes)")
		statusAddr    = flag.String("status-addr", "", "Status server bind address for daemon mode (e.g. '127.0.0.1:8080')")
		checkInterval = flag.Duration("check-interval", 0, "Daemon idle poll interval (default 60s)")
		cooldown      = flag.Duration("cooldown", 0, "Daemon pause between tasks (default 30s)")
		batchSize     = flag.Int("batch-size", 0, "Tasks pulled per daemon poll (default 1)")
		verbose       = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion   = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsrescue - HLS asset recovery tool v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <playlist-url> <identifier>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -validate <identifier>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -enqueue <playlist-url> <identifier>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -daemon\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s https://example.com/v/playlist.m3u8 lecture-042\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -validate lecture-042\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -daemon -status-addr 127.0.0.1:8080\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsrescue v%s\n", version)
		os.Exit(0)
	}

	cfg := config.Config{
		RootDir:        *rootDir,
		Concurrency:    *concurrency,
		Delay:          *delay,
		MaxRetryRounds: *maxRounds,
		DBPath:         *dbPath,
		CheckInterval:  *checkInterval,
		Cooldown:       *cooldown,
		BatchSize:      *batchSize,
		StatusAddr:     *statusAddr,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := hclog.Info
	if *verbose {
		logLevel = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "hlsrescue",
		Level: logLevel,
	})

	var err error
	switch {
	case *daemonMode:
		err = runDaemon(cfg, logger)
	case *validateOnly:
		if flag.NArg() < 1 {
			fmt.Fprintf(os.Stderr, "Error: asset identifier is required\n\n")
			flag.Usage()
			os.Exit(1)
		}
		err = runValidate(cfg, flag.Arg(0), logger)
	case *enqueue:
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: playlist URL and identifier are required\n\n")
			flag.Usage()
			os.Exit(1)
		}
		err = runEnqueue(cfg, flag.Arg(0), flag.Arg(1))
	default:
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: playlist URL and identifier are required\n\n")
			flag.Usage()
			os.Exit(1)
		}
		err = runRecover(cfg, flag.Arg(0), flag.Arg(1), logger)
	}
	if err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

// newCoordinator wires the pipeline, validator, and coordinator from config.
func newCoordinator(cfg config.Config, logger hclog.Logger) *recovery.Coordinator {
	pipeline := fetch.New(nil, logger.Named("fetch"), cfg.Concurrency, cfg.Delay)
	validator := validate.New(logger.Named("validate"))
	return recovery.New(pipeline, validator, cfg.RootDir, cfg.MaxRetryRounds, logger.Named("recovery"))
}

// runRecover recovers a single asset and exits non-zero if it stays
// incomplete.
func runRecover(cfg config.Config, playlistURL, identifier string, logger hclog.Logger) error {
	ctx, cancel := signalContext(logger)
	defer cancel()

	result := newCoordinator(cfg, logger).Recover(ctx, identifier, playlistURL)
	if !result.Complete {
		return fmt.Errorf("asset %q incomplete: %s after %d rounds (%d/%d segments)",
			identifier, result.Reason, result.RoundsUsed,
			result.LastReport.PresentCount, result.LastReport.ExpectedCount)
	}
	logger.Info("asset recovered",
		"asset", identifier,
		"segments", result.LastReport.ExpectedCount,
		"rounds", result.RoundsUsed,
	)
	return nil
}

// runValidate reports completeness without touching the network.
func runValidate(cfg config.Config, identifier string, logger hclog.Logger) error {
	dir := asset.New(cfg.RootDir, identifier)
	report := validate.New(logger.Named("validate")).Validate(dir, "")

	fmt.Printf("asset:    %s\n", identifier)
	fmt.Printf("expected: %d\n", report.ExpectedCount)
	fmt.Printf("present:  %d\n", report.PresentCount)
	fmt.Printf("missing:  %d\n", len(report.Missing))
	fmt.Printf("empty:    %d\n", len(report.Empty))
	if !report.Complete() {
		return fmt.Errorf("asset %q is incomplete", identifier)
	}
	fmt.Println("complete")
	return nil
}

// runEnqueue adds a task to the queue without recovering it.
func runEnqueue(cfg config.Config, playlistURL, identifier string) error {
	source, err := task.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := source.Enqueue(context.Background(), identifier, playlistURL); err != nil {
		return err
	}
	fmt.Printf("enqueued %s\n", identifier)
	return nil
}

// runDaemon polls the task queue until interrupted.
func runDaemon(cfg config.Config, logger hclog.Logger) error {
	ctx, cancel := signalContext(logger)
	defer cancel()

	source, err := task.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer source.Close()

	d := daemon.New(source, newCoordinator(cfg, logger), logger.Named("daemon"),
		cfg.CheckInterval, cfg.Cooldown, cfg.BatchSize)

	if cfg.StatusAddr != "" {
		s := daemon.NewStatusServer(d, source, cfg.StatusAddr, logger.Named("status"))
		go func() {
			if err := s.Start(ctx); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	if err := d.Run(ctx); err != context.Canceled {
		return err
	}
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(logger hclog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig.String())
		cancel()
	}()

	return ctx, cancel
}
