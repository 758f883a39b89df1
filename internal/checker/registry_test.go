package checker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/vigilstack/vigil-checker/internal/models"
)

func noopProbe(context.Context, *http.Client, *Check) (models.CheckResult, error) {
	return models.CheckResult{}, nil
}

func testService(key string, deps ...*ServiceChecker) *ServiceChecker {
	return &ServiceChecker{
		ServiceKey: key,
		Checks: []*Check{
			{CheckKey: "probe", Timeout: time.Second, Probe: noopProbe},
		},
		Dependencies: deps,
	}
}

func TestNewRegistryAcceptsValidCatalog(t *testing.T) {
	base := testService("base")
	mid := testService("mid", base)
	top := testService("top", mid, base)

	registry, err := NewRegistry([]*ServiceChecker{base, mid, top})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := registry.Keys(); len(got) != 3 {
		t.Fatalf("expected 3 keys, got %v", got)
	}
	if svc, ok := registry.Get("mid"); !ok || svc != mid {
		t.Fatalf("Get returned wrong checker")
	}
}

func TestApplyTimeoutDefaultFillsUnsetOnly(t *testing.T) {
	svc := &ServiceChecker{
		ServiceKey: "svc",
		Checks: []*Check{
			{CheckKey: "unset", Probe: noopProbe},
			{CheckKey: "explicit", Timeout: 8 * time.Second, Probe: noopProbe},
		},
	}
	ApplyTimeoutDefault([]*ServiceChecker{svc}, 5*time.Second)

	if svc.Checks[0].Timeout != 5*time.Second {
		t.Fatalf("unset timeout must take the default: %v", svc.Checks[0].Timeout)
	}
	if svc.Checks[1].Timeout != 8*time.Second {
		t.Fatalf("explicit timeout must be kept: %v", svc.Checks[1].Timeout)
	}
}

func TestNewRegistryRejectsDuplicateServiceKeys(t *testing.T) {
	_, err := NewRegistry([]*ServiceChecker{testService("dup"), testService("dup")})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewRegistryRejectsDuplicateCheckKeys(t *testing.T) {
	svc := testService("svc")
	svc.Checks = append(svc.Checks, &Check{CheckKey: "probe", Timeout: time.Second, Probe: noopProbe})

	if _, err := NewRegistry([]*ServiceChecker{svc}); err == nil {
		t.Fatalf("expected duplicate check key to be rejected")
	}
}

func TestNewRegistryRejectsUnregisteredDependency(t *testing.T) {
	orphan := testService("orphan")
	svc := testService("svc", orphan)

	if _, err := NewRegistry([]*ServiceChecker{svc}); err == nil {
		t.Fatalf("expected unregistered dependency to be rejected")
	}
}

func TestNewRegistryRejectsCycle(t *testing.T) {
	a := testService("a")
	b := testService("b", a)
	a.Dependencies = []*ServiceChecker{b}

	_, err := NewRegistry([]*ServiceChecker{a, b})
	if err == nil {
		t.Fatalf("expected cycle to be rejected")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("error does not name the cycle: %v", err)
	}
}

func TestNewRegistryRejectsSelfDependency(t *testing.T) {
	svc := testService("svc")
	svc.Dependencies = []*ServiceChecker{svc}

	if _, err := NewRegistry([]*ServiceChecker{svc}); err == nil {
		t.Fatalf("expected self dependency to be rejected")
	}
}

func TestResolvePreservesOrderAndRejectsUnknown(t *testing.T) {
	a, b := testService("a"), testService("b")
	registry, err := NewRegistry([]*ServiceChecker{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resolved, err := registry.Resolve([]string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 2 || resolved[0] != b || resolved[1] != a {
		t.Fatalf("resolve order wrong: %v", resolved)
	}

	if _, err := registry.Resolve([]string{"missing"}); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestBuildCatalogIsValid(t *testing.T) {
	registry, err := NewRegistry(BuildCatalog())
	if err != nil {
		t.Fatalf("catalog does not load: %v", err)
	}
	svc, ok := registry.Get("npm")
	if !ok {
		t.Fatalf("npm missing from catalog")
	}
	deps := svc.DependencyKeys()
	if len(deps) != 2 || deps[0] != "cloudflare" || deps[1] != "github" {
		t.Fatalf("npm dependencies wrong: %v", deps)
	}
	if svc.Class() != "catalog.npm" {
		t.Fatalf("unexpected checker class %q", svc.Class())
	}
}
