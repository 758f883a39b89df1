package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/models"
)

// ClientProvider hands out HTTP clients keyed by a check's proxy setting.
// The empty setting means a direct client.
type ClientProvider interface {
	ClientFor(ctx context.Context, proxySetting string) (*http.Client, error)
}

// DirectClientProvider ignores proxy settings and always returns the same
// client. Useful for tests and proxyless deployments.
type DirectClientProvider struct {
	Client *http.Client
}

func (p *DirectClientProvider) ClientFor(context.Context, string) (*http.Client, error) {
	if p.Client != nil {
		return p.Client, nil
	}
	return http.DefaultClient, nil
}

// ProbeError wraps a probe failure with the check it came from.
type ProbeError struct {
	ServiceKey string
	CheckKey   string
	Err        error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s/%s: %v", e.ServiceKey, e.CheckKey, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ServiceRun holds every check result for one service in one run, plus the
// probe faults that were converted into down results.
type ServiceRun struct {
	Service *checker.ServiceChecker
	Results map[string]models.CheckResult
	Faults  []*ProbeError
}

// Metrics is the observation surface the executor reports into.
type Metrics interface {
	ObserveProbe(serviceKey, checkKey string, status models.Status, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveProbe(string, string, models.Status, time.Duration) {}

// Executor runs every check of a set of services under one shared concurrency
// limit. Per-check timeouts are enforced with contexts; a probe that fails,
// panics, or overruns its deadline is synthesized into a down result so every
// check always yields exactly one result.
type Executor struct {
	clients     ClientProvider
	logger      *slog.Logger
	metrics     Metrics
	userAgent   string
	concurrency int
}

type Option func(*Executor)

func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithUserAgent(ua string) Option {
	return func(e *Executor) { e.userAgent = ua }
}

func New(clients ClientProvider, concurrency int, logger *slog.Logger, opts ...Option) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	e := &Executor{
		clients:     clients,
		logger:      logger,
		metrics:     noopMetrics{},
		concurrency: concurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type probeOutcome struct {
	service *checker.ServiceChecker
	check   *checker.Check
	result  models.CheckResult
	fault   *ProbeError
}

// Run executes all checks of all services and returns one ServiceRun per
// service, in the order the services were given. The concurrency limit is
// global across services, not per service.
func (e *Executor) Run(ctx context.Context, services []*checker.ServiceChecker) []*ServiceRun {
	total := 0
	for _, svc := range services {
		total += len(svc.Checks)
	}

	sem := make(chan struct{}, e.concurrency)
	outcomes := make(chan probeOutcome, total)

	for _, svc := range services {
		for _, chk := range svc.Checks {
			svc, chk := svc, chk
			go func() {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					outcomes <- e.synthesize(svc, chk, 0, "timeout", ctx.Err().Error(), nil)
					return
				}
				defer func() { <-sem }()
				outcomes <- e.runCheck(ctx, svc, chk)
			}()
		}
	}

	byService := make(map[string]*ServiceRun, len(services))
	runs := make([]*ServiceRun, 0, len(services))
	for _, svc := range services {
		run := &ServiceRun{
			Service: svc,
			Results: make(map[string]models.CheckResult, len(svc.Checks)),
		}
		byService[svc.ServiceKey] = run
		runs = append(runs, run)
	}

	for i := 0; i < total; i++ {
		outcome := <-outcomes
		run := byService[outcome.service.ServiceKey]
		run.Results[outcome.check.CheckKey] = outcome.result
		if outcome.fault != nil {
			run.Faults = append(run.Faults, outcome.fault)
		}
	}
	return runs
}

func (e *Executor) runCheck(ctx context.Context, svc *checker.ServiceChecker, chk *checker.Check) probeOutcome {
	client, err := e.clients.ClientFor(ctx, chk.ProxySetting)
	if err != nil {
		e.logger.Warn("proxy resolution failed",
			"service", svc.ServiceKey, "check", chk.CheckKey, "error", err)
		return e.synthesize(svc, chk, 0, "proxy_configuration_error", err.Error(), err)
	}
	client = e.withUserAgent(client)

	checkCtx, cancel := context.WithTimeout(ctx, chk.Timeout)
	defer cancel()

	type probeReply struct {
		result models.CheckResult
		err    error
	}
	done := make(chan probeReply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeReply{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		result, err := chk.Probe(checkCtx, client, chk)
		done <- probeReply{result: result, err: err}
	}()

	select {
	case reply := <-done:
		elapsed := time.Since(start)
		if reply.err != nil {
			if checkCtx.Err() == context.DeadlineExceeded {
				return e.synthesize(svc, chk, elapsed, "timeout",
					fmt.Sprintf("check exceeded %s timeout", chk.Timeout), reply.err)
			}
			return e.synthesize(svc, chk, elapsed, "probe_error", reply.err.Error(), reply.err)
		}
		e.metrics.ObserveProbe(svc.ServiceKey, chk.CheckKey, reply.result.Status, elapsed)
		return probeOutcome{service: svc, check: chk, result: reply.result}
	case <-checkCtx.Done():
		// Probe goroutine is abandoned; its late reply lands in the
		// buffered channel and is garbage collected with it.
		elapsed := time.Since(start)
		return e.synthesize(svc, chk, elapsed, "timeout",
			fmt.Sprintf("check exceeded %s timeout", chk.Timeout), checkCtx.Err())
	}
}

func (e *Executor) synthesize(svc *checker.ServiceChecker, chk *checker.Check, elapsed time.Duration, code, message string, cause error) probeOutcome {
	e.metrics.ObserveProbe(svc.ServiceKey, chk.CheckKey, models.StatusDown, elapsed)
	result := models.CheckResult{
		CheckKey:     chk.CheckKey,
		Status:       models.StatusDown,
		ObservedAt:   time.Now().UTC(),
		ErrorCode:    code,
		ErrorMessage: message,
	}
	if elapsed > 0 {
		result.LatencyMS = models.Int64Ptr(elapsed.Milliseconds())
	}
	var fault *ProbeError
	if cause != nil {
		fault = &ProbeError{ServiceKey: svc.ServiceKey, CheckKey: chk.CheckKey, Err: cause}
	}
	return probeOutcome{service: svc, check: chk, result: result, fault: fault}
}

// withUserAgent wraps a client's transport so every probe request carries the
// configured User-Agent without probes having to set it themselves.
func (e *Executor) withUserAgent(client *http.Client) *http.Client {
	if e.userAgent == "" {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &userAgentTransport{base: base, userAgent: e.userAgent}
	return &wrapped
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
