package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vigilstack/vigil-checker/internal/cache"
	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/config"
	"github.com/vigilstack/vigil-checker/internal/executor"
	"github.com/vigilstack/vigil-checker/internal/models"
	"github.com/vigilstack/vigil-checker/internal/sink"
	"github.com/vigilstack/vigil-checker/internal/utils"
)

type capturingSink struct {
	rows   []sink.Row
	writes int
	err    error
}

func (c *capturingSink) WriteRows(_ context.Context, rows []sink.Row) error {
	if c.err != nil {
		return c.err
	}
	c.writes++
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *capturingSink) Close() error { return nil }

// ctxCheckingSink rejects writes whose context already expired, the way a
// real network sink would.
type ctxCheckingSink struct {
	rows []sink.Row
}

func (c *ctxCheckingSink) WriteRows(ctx context.Context, rows []sink.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *ctxCheckingSink) Close() error { return nil }

func staticProbe(status models.Status) checker.ProbeFunc {
	return func(_ context.Context, _ *http.Client, chk *checker.Check) (models.CheckResult, error) {
		return models.CheckResult{
			CheckKey:   chk.CheckKey,
			Status:     status,
			ObservedAt: time.Now().UTC(),
			LatencyMS:  models.Int64Ptr(12),
		}, nil
	}
}

func testRunner(t *testing.T, resultSink sink.Sink, cacheProvider cache.Provider) (*Runner, *checker.Registry) {
	t.Helper()

	edge := &checker.ServiceChecker{
		ServiceKey: "edge",
		Checks: []*checker.Check{
			{CheckKey: "probe", Timeout: time.Second, Probe: staticProbe(models.StatusDown)},
		},
	}
	app := &checker.ServiceChecker{
		ServiceKey: "app",
		Checks: []*checker.Check{
			{CheckKey: "statuspage", Timeout: time.Second, Probe: staticProbe(models.StatusUp)},
			{CheckKey: "api", Timeout: time.Second, Probe: staticProbe(models.StatusDown)},
		},
		Dependencies: []*checker.ServiceChecker{edge},
	}

	registry, err := checker.NewRegistry([]*checker.ServiceChecker{edge, app})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	cfg := &config.Config{
		Checker:  config.CheckerConfig{Concurrency: 4, RunTimeout: time.Minute},
		Schedule: config.ScheduleConfig{Interval: time.Minute},
		Cache:    config.CacheConfig{SnapshotTTL: time.Minute},
	}
	logger := utils.NewLogger("error", false)
	exec := executor.New(&executor.DirectClientProvider{}, cfg.Checker.Concurrency, logger)

	return New(registry, exec, resultSink, cacheProvider, cfg, logger), registry
}

func TestRunOnceScoresAttributesAndPersists(t *testing.T) {
	captured := &capturingSink{}
	store := cache.NewMemoryProvider()
	run, _ := testRunner(t, captured, store)

	summary, err := run.RunOnce(context.Background(), Options{All: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.RunID == "" {
		t.Fatalf("run id missing")
	}
	if len(summary.Reports) != 2 {
		t.Fatalf("expected two service reports, got %d", len(summary.Reports))
	}
	if summary.RowsWritten != 3 || len(captured.rows) != 3 {
		t.Fatalf("expected 3 persisted rows, got %d", len(captured.rows))
	}
	for _, row := range captured.rows {
		if row.RunID != summary.RunID {
			t.Fatalf("row carries wrong run id: %q", row.RunID)
		}
	}

	var appSnap *models.ServiceSnapshot
	for _, snap := range summary.Snapshots() {
		if snap.ServiceKey == "app" {
			appSnap = snap
		}
	}
	if appSnap == nil {
		t.Fatalf("app snapshot missing")
	}
	if appSnap.RawScore != 50 || appSnap.Status != models.StatusDown {
		t.Fatalf("app scoring wrong: %v %s", appSnap.RawScore, appSnap.Status)
	}
	if !appSnap.DependencyImpacted || appSnap.ProbableRootServiceKey != "edge" {
		t.Fatalf("attribution missing: %+v", appSnap)
	}

	payload, err := store.Get(context.Background(), snapshotCacheKey)
	if err != nil {
		t.Fatalf("snapshot cache not warmed: %v", err)
	}
	var warmed struct {
		RunID     string                    `json:"run_id"`
		Snapshots []*models.ServiceSnapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(payload, &warmed); err != nil {
		t.Fatalf("warm payload not JSON: %v", err)
	}
	if warmed.RunID != summary.RunID || len(warmed.Snapshots) != 2 {
		t.Fatalf("warm payload wrong: %+v", warmed)
	}
}

func TestRunOnceDryRunSkipsSinkAndCache(t *testing.T) {
	captured := &capturingSink{}
	store := cache.NewMemoryProvider()
	run, _ := testRunner(t, captured, store)

	summary, err := run.RunOnce(context.Background(), Options{All: true, DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.writes != 0 || summary.RowsWritten != 0 {
		t.Fatalf("dry run must not persist rows")
	}
	if _, err := store.Get(context.Background(), snapshotCacheKey); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("dry run must not warm the cache")
	}
	if len(summary.Snapshots()) != 2 {
		t.Fatalf("dry run must still score services")
	}
}

func TestRunOnceResolvesTargets(t *testing.T) {
	captured := &capturingSink{}
	run, _ := testRunner(t, captured, cache.NoopProvider{})

	summary, err := run.RunOnce(context.Background(), Options{Targets: []string{"edge"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Reports) != 1 || summary.Reports[0].ServiceKey != "edge" {
		t.Fatalf("target selection wrong: %+v", summary.Reports)
	}

	if _, err := run.RunOnce(context.Background(), Options{Targets: []string{"ghost"}}); err == nil {
		t.Fatalf("unknown target must fail")
	}
}

func TestRunOnceStrictFailsOnNonUpResult(t *testing.T) {
	run, _ := testRunner(t, &capturingSink{}, cache.NoopProvider{})

	summary, err := run.RunOnce(context.Background(), Options{All: true, Strict: true})
	if err == nil {
		t.Fatalf("strict run must fail when any check is not up")
	}
	if summary == nil || len(summary.Snapshots()) != 2 {
		t.Fatalf("strict failure must still return the scored summary")
	}
}

func TestRunOnceStrictFailsOnSinkError(t *testing.T) {
	captured := &capturingSink{err: errors.New("ingest down")}
	run, _ := testRunner(t, captured, cache.NoopProvider{})

	summary, err := run.RunOnce(context.Background(), Options{All: true, Strict: true})
	if err == nil {
		t.Fatalf("strict run must fail on sink error")
	}
	if summary == nil || len(summary.RunErrors) == 0 {
		t.Fatalf("sink error must be recorded in the summary")
	}
}

func TestRunOnceLenientToleratesSinkError(t *testing.T) {
	captured := &capturingSink{err: errors.New("ingest down")}
	run, _ := testRunner(t, captured, cache.NoopProvider{})

	summary, err := run.RunOnce(context.Background(), Options{All: true})
	if err != nil {
		t.Fatalf("lenient run must not fail: %v", err)
	}
	if len(summary.RunErrors) != 1 {
		t.Fatalf("sink error must still be recorded")
	}
}

func TestRunOnceStrictFailsOnProbeFault(t *testing.T) {
	faulty := &checker.ServiceChecker{
		ServiceKey: "faulty",
		Checks: []*checker.Check{{
			CheckKey: "probe",
			Timeout:  time.Second,
			Probe: func(context.Context, *http.Client, *checker.Check) (models.CheckResult, error) {
				return models.CheckResult{}, errors.New("dial tcp: connection refused")
			},
		}},
	}
	registry, err := checker.NewRegistry([]*checker.ServiceChecker{faulty})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := &config.Config{Checker: config.CheckerConfig{Concurrency: 1}}
	logger := utils.NewLogger("error", false)
	exec := executor.New(&executor.DirectClientProvider{}, 1, logger)
	captured := &capturingSink{}
	run := New(registry, exec, captured, cache.NoopProvider{}, cfg, logger)

	summary, err := run.RunOnce(context.Background(), Options{All: true, Strict: true})
	if err == nil {
		t.Fatalf("strict run must fail on probe fault")
	}
	// The synthesized down row is still persisted.
	if len(captured.rows) != 1 || captured.rows[0].ErrorCode != "probe_error" {
		t.Fatalf("faulted check row missing: %+v", captured.rows)
	}
	if summary.Reports[0].Snapshot == nil {
		t.Fatalf("faulted service is still scored from synthesized results")
	}
}

func TestRunOnceExhaustedProbeBudgetStillPersists(t *testing.T) {
	slow := &checker.ServiceChecker{
		ServiceKey: "slow",
		Checks: []*checker.Check{{
			CheckKey: "probe",
			Timeout:  time.Second,
			Probe: func(ctx context.Context, _ *http.Client, _ *checker.Check) (models.CheckResult, error) {
				<-ctx.Done()
				return models.CheckResult{}, ctx.Err()
			},
		}},
	}
	registry, err := checker.NewRegistry([]*checker.ServiceChecker{slow})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := &config.Config{
		Checker: config.CheckerConfig{Concurrency: 1, RunTimeout: 50 * time.Millisecond},
		Cache:   config.CacheConfig{SnapshotTTL: time.Minute},
	}
	logger := utils.NewLogger("error", false)
	exec := executor.New(&executor.DirectClientProvider{}, 1, logger)
	captured := &ctxCheckingSink{}
	run := New(registry, exec, captured, cache.NoopProvider{}, cfg, logger)

	summary, err := run.RunOnce(context.Background(), Options{All: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The probe deadline expired, but the synthesized partial results are
	// written on the caller's still-live context.
	if len(summary.RunErrors) != 0 {
		t.Fatalf("persistence must not inherit the probe deadline: %v", summary.RunErrors)
	}
	if len(captured.rows) != 1 || captured.rows[0].ErrorCode != "timeout" {
		t.Fatalf("synthesized row missing after run deadline: %+v", captured.rows)
	}
}

func TestRunLockedSkipsWhenLockHeld(t *testing.T) {
	captured := &capturingSink{}
	store := cache.NewMemoryProvider()
	run, _ := testRunner(t, captured, store)

	if _, err := store.SetNX(context.Background(), runLockKey, []byte("other"), time.Minute); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	run.runLocked(context.Background(), Options{All: true}, time.Minute)

	if captured.writes != 0 {
		t.Fatalf("run must be skipped while another replica holds the lock")
	}
}
