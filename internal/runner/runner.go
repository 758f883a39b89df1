// Package runner orchestrates one full check cycle: probe execution,
// scoring, dependency attribution, persistence, and the snapshot warm-write.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/vigil-checker/internal/cache"
	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/config"
	"github.com/vigilstack/vigil-checker/internal/engine"
	"github.com/vigilstack/vigil-checker/internal/executor"
	"github.com/vigilstack/vigil-checker/internal/metrics"
	"github.com/vigilstack/vigil-checker/internal/models"
	"github.com/vigilstack/vigil-checker/internal/sink"
	"github.com/vigilstack/vigil-checker/internal/utils"
)

// snapshotCacheKey is where the latest run's snapshots are warm-written so
// read paths can serve health without waiting for a probe cycle.
const snapshotCacheKey = "vigil:snapshots:latest"

// runLockKey guards scheduled runs across replicas sharing one cache.
const runLockKey = "vigil:runs:lock"

// Options selects what a single run covers and how failures are treated.
type Options struct {
	// Targets are the service keys to run; ignored when All is set.
	Targets []string
	All     bool
	// DryRun executes probes and scoring but skips the sink and cache warm.
	DryRun bool
	// Strict makes the run fail on any probe fault, incomplete cycle, or
	// sink error instead of just logging them.
	Strict bool
}

// ServiceReport is the per-service outcome of one run.
type ServiceReport struct {
	ServiceKey string
	Snapshot   *models.ServiceSnapshot
	Results    map[string]models.CheckResult
	Faults     []*executor.ProbeError
	// ScoringErr is set when the cycle was incomplete; the raw results are
	// still persisted.
	ScoringErr error
}

// Summary aggregates one run.
type Summary struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Reports     []*ServiceReport
	RowsWritten int
	RunErrors   []error
}

// Failed reports whether the run should fail under strict handling: any
// non-up check result, any unscored service, or any run-level error.
func (s *Summary) Failed() bool {
	if len(s.RunErrors) > 0 {
		return true
	}
	for _, report := range s.Reports {
		if report.ScoringErr != nil || len(report.Faults) > 0 {
			return true
		}
		for _, result := range report.Results {
			if result.Status != models.StatusUp {
				return true
			}
		}
	}
	return false
}

// Snapshots returns the successfully scored snapshots in service order.
func (s *Summary) Snapshots() []*models.ServiceSnapshot {
	out := make([]*models.ServiceSnapshot, 0, len(s.Reports))
	for _, report := range s.Reports {
		if report.Snapshot != nil {
			out = append(out, report.Snapshot)
		}
	}
	return out
}

// Runner wires the registry, executor, sink and cache into runnable cycles.
type Runner struct {
	registry *checker.Registry
	exec     *executor.Executor
	sink     sink.Sink
	cache    cache.Provider
	logger   *slog.Logger
	latency  *utils.LatencyTracker

	mu  sync.RWMutex
	cfg *config.Config
}

func New(registry *checker.Registry, exec *executor.Executor, resultSink sink.Sink, cacheProvider cache.Provider, cfg *config.Config, logger *slog.Logger) *Runner {
	if resultSink == nil {
		resultSink = sink.NoopSink{}
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Runner{
		registry: registry,
		exec:     exec,
		sink:     resultSink,
		cache:    cacheProvider,
		cfg:      cfg,
		logger:   logger,
		latency:  utils.NewLatencyTracker(1024),
	}
}

// UpdateConfig swaps the active configuration. The next cycle picks up the
// new run timeout and snapshot TTL; the schedule interval of an already
// running loop is not changed.
func (r *Runner) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// RunOnce executes one full cycle over the selected services. Scoring
// failures are isolated per service; probe results are persisted even when a
// service could not be scored.
func (r *Runner) RunOnce(ctx context.Context, opts Options) (*Summary, error) {
	services, err := r.selectServices(opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With("run_id", summary.RunID)
	logger.Info("starting run", "services", len(services), "dry_run", opts.DryRun)

	runCtx := ctx
	if timeout := r.config().Checker.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runs := r.exec.Run(runCtx, services)

	snapshots := make(map[string]*models.ServiceSnapshot, len(runs))
	for _, run := range runs {
		report := &ServiceReport{
			ServiceKey: run.Service.ServiceKey,
			Results:    run.Results,
			Faults:     run.Faults,
		}
		summary.Reports = append(summary.Reports, report)

		for _, fault := range run.Faults {
			logger.Warn("probe fault", "service", fault.ServiceKey, "check", fault.CheckKey, "error", fault.Err)
		}

		weights, err := checker.ResolveWeights(run.Service)
		if err != nil {
			report.ScoringErr = err
			continue
		}
		snapshot, err := engine.Aggregate(run.Service, weights, run.Results, summary.StartedAt)
		if err != nil {
			report.ScoringErr = err
			logger.Error("scoring failed", "service", run.Service.ServiceKey, "error", err)
			continue
		}
		report.Snapshot = snapshot
		snapshots[snapshot.ServiceKey] = snapshot
	}

	engine.AttributeDependencies(services, snapshots)

	for _, report := range summary.Reports {
		if report.Snapshot == nil {
			continue
		}
		metrics.SetServiceScore(report.ServiceKey, report.Snapshot.EffectiveScore)
		r.observeLatencies(report.Results)
	}

	if !opts.DryRun {
		// The run timeout bounds probing only. A run that spent its whole
		// budget on probes still persists the synthesized partial results,
		// so writes go out on the caller's context.
		written, err := r.persist(ctx, summary, runs)
		summary.RowsWritten = written
		if err != nil {
			summary.RunErrors = append(summary.RunErrors, err)
			logger.Error("sink write failed", "error", err)
		}
		if err := r.warmSnapshots(ctx, summary); err != nil {
			logger.Warn("snapshot cache warm failed", "error", err)
		}
	}

	summary.FinishedAt = time.Now().UTC()

	outcome := metrics.OutcomeSuccess
	if summary.Failed() {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveRun(outcome)

	logger.Info("run finished",
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
		"rows_written", summary.RowsWritten,
		"probe_p95", r.latency.Percentile(95),
		"outcome", outcome)

	if opts.Strict && summary.Failed() {
		return summary, fmt.Errorf("run %s failed under strict handling", summary.RunID)
	}
	return summary, nil
}

// RunScheduled executes RunOnce on a fixed interval until ctx is cancelled.
// The first run starts immediately. When a shared cache is configured, a
// SetNX lock keeps replicas from probing concurrently.
func (r *Runner) RunScheduled(ctx context.Context, opts Options) error {
	interval := r.config().Schedule.Interval
	if interval <= 0 {
		return errors.New("schedule interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.runLocked(ctx, opts, interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) runLocked(ctx context.Context, opts Options, interval time.Duration) {
	acquired, err := r.cache.SetNX(ctx, runLockKey, []byte("1"), interval-interval/10)
	if err != nil {
		r.logger.Warn("run lock unavailable, proceeding without it", "error", err)
	} else if !acquired {
		r.logger.Info("another replica holds the run lock, skipping cycle")
		return
	}

	if _, err := r.RunOnce(ctx, opts); err != nil && ctx.Err() == nil {
		r.logger.Error("scheduled run failed", "error", err)
	}
}

func (r *Runner) selectServices(opts Options) ([]*checker.ServiceChecker, error) {
	if opts.All {
		return r.registry.All(), nil
	}
	return r.registry.Resolve(opts.Targets)
}

func (r *Runner) persist(ctx context.Context, summary *Summary, runs []*executor.ServiceRun) (int, error) {
	ingestedAt := time.Now().UTC()
	var rows []sink.Row
	for _, run := range runs {
		rows = append(rows, sink.BuildRows(summary.RunID, run.Service, run.Results, ingestedAt)...)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := r.sink.WriteRows(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// warmSnapshots publishes the run's snapshots so dashboards read current
// health without triggering probes.
func (r *Runner) warmSnapshots(ctx context.Context, summary *Summary) error {
	snapshots := summary.Snapshots()
	if len(snapshots) == 0 {
		return nil
	}
	payload, err := json.Marshal(struct {
		RunID     string                    `json:"run_id"`
		Snapshots []*models.ServiceSnapshot `json:"snapshots"`
	}{RunID: summary.RunID, Snapshots: snapshots})
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, snapshotCacheKey, payload, r.config().Cache.SnapshotTTL)
}

func (r *Runner) observeLatencies(results map[string]models.CheckResult) {
	for _, result := range results {
		if result.LatencyMS != nil {
			r.latency.Observe(time.Duration(*result.LatencyMS) * time.Millisecond)
		}
	}
}

// MetricsAdapter lets the executor report probe observations into the
// package-level Prometheus collectors.
type MetricsAdapter struct{}

func (MetricsAdapter) ObserveProbe(serviceKey, _ string, status models.Status, duration time.Duration) {
	metrics.ObserveProbe(serviceKey, status, duration)
}
