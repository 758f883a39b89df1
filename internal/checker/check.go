// Package checker defines the probe and service-checker contracts plus the
// static registry that holds every known service definition.
package checker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vigilstack/vigil-checker/internal/models"
)

// ProbeFunc issues one HTTP probe against the check's endpoint and converts
// the response into a CheckResult. Implementations must honour ctx and must
// not retry; transient faults are downgraded by the executor.
type ProbeFunc func(ctx context.Context, client *http.Client, check *Check) (models.CheckResult, error)

// Check is a single HTTP probe against one endpoint. Configuration is
// immutable and stateless between runs.
type Check struct {
	// CheckKey is unique within the owning ServiceChecker.
	CheckKey    string
	EndpointKey string
	Interval    time.Duration
	Timeout     time.Duration
	// Weight is the explicit contribution in (0,1], or nil to auto-distribute
	// the remaining mass equally across unset checks.
	Weight *float64
	// ProxySetting names a proxy resolved from the secret store; empty means
	// a direct connection.
	ProxySetting string
	Probe        ProbeFunc
}

// ServiceChecker groups the checks and dependency declarations for one
// monitored service. Dependencies are typed handles into the registry, never
// strings; the registry rejects unknown or cyclic references at load time.
type ServiceChecker struct {
	// ServiceKey is globally unique and stable across runs.
	ServiceKey     string
	OfficialUptime string
	Checks         []*Check
	Dependencies   []*ServiceChecker
}

// Class returns the stable checker-class identifier written to sink rows.
func (s *ServiceChecker) Class() string {
	return "catalog." + s.ServiceKey
}

// DependencyKeys returns the declared dependency service keys in declaration
// order.
func (s *ServiceChecker) DependencyKeys() []string {
	keys := make([]string, 0, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		keys = append(keys, dep.ServiceKey)
	}
	return keys
}

// ApplyTimeoutDefault fills in d for every check that does not declare its
// own timeout. Called before registry validation, which rejects checks that
// still have none.
func ApplyTimeoutDefault(services []*ServiceChecker, d time.Duration) {
	for _, svc := range services {
		for _, chk := range svc.Checks {
			if chk.Timeout <= 0 {
				chk.Timeout = d
			}
		}
	}
}

// ConfigurationError reports an invalid checker definition: bad weights,
// duplicate keys, unknown or cyclic dependencies. It is fatal at registry
// load time.
type ConfigurationError struct {
	ServiceKey string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.ServiceKey == "" {
		return "checker configuration: " + e.Reason
	}
	return fmt.Sprintf("checker configuration: %s: %s", e.ServiceKey, e.Reason)
}

func configErrorf(serviceKey, format string, args ...any) error {
	return &ConfigurationError{ServiceKey: serviceKey, Reason: fmt.Sprintf(format, args...)}
}
