package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/models"
)

// Per-check contribution values and service status thresholds.
const (
	scoreUp       = 100.0
	scoreDegraded = 50.0
	scoreDown     = 0.0

	thresholdUp       = 95.0
	thresholdDegraded = 70.0
)

// IncompleteCycleError reports a scoring pass that did not receive exactly
// one result per registered check.
type IncompleteCycleError struct {
	ServiceKey string
	Missing    []string
	Unexpected []string
}

func (e *IncompleteCycleError) Error() string {
	parts := []string{fmt.Sprintf("incomplete check cycle for service %q", e.ServiceKey)}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected: "+strings.Join(e.Unexpected, ", "))
	}
	return strings.Join(parts, "; ")
}

// CheckScore maps a check status to its score contribution.
func CheckScore(status models.Status) float64 {
	switch status {
	case models.StatusUp:
		return scoreUp
	case models.StatusDegraded:
		return scoreDegraded
	default:
		return scoreDown
	}
}

// StatusFromScore maps a service score to a service status. The up threshold
// is inclusive, so 95.0 is up and 94.999 is degraded.
func StatusFromScore(score float64) models.Status {
	if score >= thresholdUp {
		return models.StatusUp
	}
	if score >= thresholdDegraded {
		return models.StatusDegraded
	}
	return models.StatusDown
}

// Aggregate folds one complete cycle of check results into a service
// snapshot using the service's resolved weights. The result set must match
// the registered checks exactly.
func Aggregate(svc *checker.ServiceChecker, weights map[string]float64, results map[string]models.CheckResult, observedAt time.Time) (*models.ServiceSnapshot, error) {
	var missing, unexpected []string
	for _, chk := range svc.Checks {
		if _, ok := results[chk.CheckKey]; !ok {
			missing = append(missing, chk.CheckKey)
		}
	}
	for key := range results {
		if _, ok := weights[key]; !ok {
			unexpected = append(unexpected, key)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return nil, &IncompleteCycleError{
			ServiceKey: svc.ServiceKey,
			Missing:    missing,
			Unexpected: unexpected,
		}
	}

	score := 0.0
	for _, chk := range svc.Checks {
		score += weights[chk.CheckKey] * CheckScore(results[chk.CheckKey].Status)
	}

	return &models.ServiceSnapshot{
		ServiceKey:     svc.ServiceKey,
		RawScore:       score,
		EffectiveScore: score,
		Status:         StatusFromScore(score),
		ObservedAt:     observedAt.UTC(),
	}, nil
}
