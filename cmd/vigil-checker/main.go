package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/vigil-checker/internal/cache"
	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/config"
	"github.com/vigilstack/vigil-checker/internal/executor"
	"github.com/vigilstack/vigil-checker/internal/metrics"
	"github.com/vigilstack/vigil-checker/internal/proxy"
	"github.com/vigilstack/vigil-checker/internal/runner"
	"github.com/vigilstack/vigil-checker/internal/sink"
	"github.com/vigilstack/vigil-checker/internal/utils"
)

func main() {
	var (
		configPath string
		listOnly   bool
		jsonOutput bool
		runAll     bool
		dryRun     bool
		strict     bool
		schedule   bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&listOnly, "list", false, "List registered service checkers and exit")
	flag.BoolVar(&jsonOutput, "json", false, "Print run results as JSON instead of a table")
	flag.BoolVar(&runAll, "all", false, "Run every registered service checker")
	flag.BoolVar(&dryRun, "dry-run", false, "Execute probes but skip the result sink")
	flag.BoolVar(&strict, "strict", false, "Exit non-zero on any probe fault or sink error")
	flag.BoolVar(&schedule, "schedule", false, "Run continuously on the configured interval")
	flag.Parse()

	// Missing .env is fine; explicit env always wins over file values.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config",
			slog.String("op", utils.OpOf(err)),
			slog.String("path", configPath),
			slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

	catalog := checker.BuildCatalog()
	checker.ApplyTimeoutDefault(catalog, cfg.Checker.DefaultTimeout)
	registry, err := checker.NewRegistry(catalog)
	if err != nil {
		logger.Error("invalid checker catalog", slog.Any("error", err))
		os.Exit(1)
	}

	if listOnly {
		printCatalog(registry)
		return
	}

	if !runAll && flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no targets given; pass service keys, or -all, or -list")
		os.Exit(2)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	resultSink, err := buildSink(cfg, dryRun)
	if err != nil {
		logger.Error("failed to initialise sink", slog.Any("error", err))
		os.Exit(1)
	}
	defer resultSink.Close()

	resolver := proxy.NewResolver(cfg.Proxy, cacheProvider)
	exec := executor.New(resolver, cfg.Checker.Concurrency, logger,
		executor.WithMetrics(runner.MetricsAdapter{}),
		executor.WithUserAgent(cfg.Checker.UserAgent))

	run := runner.New(registry, exec, resultSink, cacheProvider, cfg, logger)
	opts := runner.Options{
		Targets: flag.Args(),
		All:     runAll,
		DryRun:  dryRun,
		Strict:  strict,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if schedule {
		if configPath != "" {
			go func() {
				if err := config.Watch(ctx, configPath, logger, run.UpdateConfig); err != nil {
					logger.Warn("config watch unavailable", slog.Any("error", err))
				}
			}()
		}
		runScheduled(ctx, cfg, run, opts, logger)
		return
	}

	summary, err := run.RunOnce(ctx, opts)
	if summary != nil {
		printSummary(summary, jsonOutput)
	}
	if err != nil {
		logger.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func runScheduled(ctx context.Context, cfg *config.Config, run *runner.Runner, opts runner.Options, logger *slog.Logger) {
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			logger.Info("metrics listener started", slog.String("address", cfg.Metrics.Address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("scheduled mode started", slog.Duration("interval", cfg.Schedule.Interval))
	if err := run.RunScheduled(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildSink(cfg *config.Config, dryRun bool) (sink.Sink, error) {
	if dryRun {
		return sink.NoopSink{}, nil
	}
	switch cfg.Sink.Kind {
	case "http":
		return sink.NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Timeout, cfg.Sink.BatchSize)
	case "sqlite":
		return sink.NewSQLiteSink(cfg.Sink.Path)
	case "", "none":
		return sink.NoopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}

func printCatalog(registry *checker.Registry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHECKS\tDEPENDS ON\tSTATUS PAGE")
	for _, svc := range registry.All() {
		deps := strings.Join(svc.DependencyKeys(), ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", svc.ServiceKey, len(svc.Checks), deps, svc.OfficialUptime)
	}
	w.Flush()
}

func printSummary(summary *runner.Summary, jsonOutput bool) {
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(struct {
			RunID     string `json:"run_id"`
			Snapshots any    `json:"snapshots"`
		}{RunID: summary.RunID, Snapshots: summary.Snapshots()})
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tSCORE\tROOT CAUSE\tCONFIDENCE")
	for _, report := range summary.Reports {
		if report.Snapshot == nil {
			fmt.Fprintf(w, "%s\terror\t-\t-\t-\n", report.ServiceKey)
			continue
		}
		snap := report.Snapshot
		root, confidence := "-", "-"
		if snap.DependencyImpacted {
			root = snap.ProbableRootServiceKey
			confidence = fmt.Sprintf("%.2f", snap.AttributionConfidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\t%s\n",
			snap.ServiceKey, snap.Status, snap.EffectiveScore, root, confidence)
	}
	w.Flush()

	for _, report := range summary.Reports {
		if report.ScoringErr != nil {
			fmt.Fprintf(os.Stderr, "scoring error: %v\n", report.ScoringErr)
		}
		for _, fault := range report.Faults {
			fmt.Fprintf(os.Stderr, "probe fault: %v\n", fault)
		}
	}
}
