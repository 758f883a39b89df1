package checker

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds every known ServiceChecker definition keyed by service key.
// It is populated statically at startup; there is no runtime discovery, so
// the active checker set is enumerable and testable.
type Registry struct {
	order    []string
	services map[string]*ServiceChecker
}

// NewRegistry validates defs and builds the registry. It fails with a
// ConfigurationError on empty or duplicate keys, unresolvable weights,
// dependencies that are not themselves registered, or dependency cycles.
func NewRegistry(defs []*ServiceChecker) (*Registry, error) {
	r := &Registry{services: make(map[string]*ServiceChecker, len(defs))}

	for _, svc := range defs {
		if svc == nil {
			return nil, configErrorf("", "nil service checker definition")
		}
		if strings.TrimSpace(svc.ServiceKey) == "" {
			return nil, configErrorf("", "service checker with empty service key")
		}
		if _, dup := r.services[svc.ServiceKey]; dup {
			return nil, configErrorf(svc.ServiceKey, "duplicate service key")
		}
		r.services[svc.ServiceKey] = svc
		r.order = append(r.order, svc.ServiceKey)
	}

	for _, key := range r.order {
		svc := r.services[key]
		if err := r.validateService(svc); err != nil {
			return nil, err
		}
	}

	if err := r.rejectCycles(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) validateService(svc *ServiceChecker) error {
	seen := make(map[string]struct{}, len(svc.Checks))
	for _, ck := range svc.Checks {
		if ck == nil || strings.TrimSpace(ck.CheckKey) == "" {
			return configErrorf(svc.ServiceKey, "check with empty check key")
		}
		if _, dup := seen[ck.CheckKey]; dup {
			return configErrorf(svc.ServiceKey, "duplicate check key %s", ck.CheckKey)
		}
		seen[ck.CheckKey] = struct{}{}
		if ck.Probe == nil {
			return configErrorf(svc.ServiceKey, "check %s has no probe", ck.CheckKey)
		}
		if ck.Timeout <= 0 {
			return configErrorf(svc.ServiceKey, "check %s timeout must be positive", ck.CheckKey)
		}
	}

	if _, err := ResolveWeights(svc); err != nil {
		return err
	}

	for _, dep := range svc.Dependencies {
		if dep == nil {
			return configErrorf(svc.ServiceKey, "nil dependency reference")
		}
		if dep == svc {
			return configErrorf(svc.ServiceKey, "cannot depend on itself")
		}
		registered, ok := r.services[dep.ServiceKey]
		if !ok || registered != dep {
			return configErrorf(svc.ServiceKey, "dependency %s is not a registered service checker", dep.ServiceKey)
		}
	}
	return nil
}

// rejectCycles runs a three-colour DFS over the dependency edges. Edges are
// used only for attribution, never for execution ordering, but a cycle would
// make root selection ambiguous, so it is a load-time error.
func (r *Registry) rejectCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := make(map[string]int, len(r.services))

	var visit func(svc *ServiceChecker, trail []string) error
	visit = func(svc *ServiceChecker, trail []string) error {
		colour[svc.ServiceKey] = grey
		trail = append(trail, svc.ServiceKey)
		for _, dep := range svc.Dependencies {
			switch colour[dep.ServiceKey] {
			case grey:
				cycle := append(trail, dep.ServiceKey)
				return configErrorf(svc.ServiceKey, "dependency cycle: %s", strings.Join(cycle, " -> "))
			case white:
				if err := visit(dep, trail); err != nil {
					return err
				}
			}
		}
		colour[svc.ServiceKey] = black
		return nil
	}

	for _, key := range r.order {
		if colour[key] == white {
			if err := visit(r.services[key], nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the ServiceChecker registered under key.
func (r *Registry) Get(key string) (*ServiceChecker, bool) {
	svc, ok := r.services[key]
	return svc, ok
}

// Keys returns all registered service keys sorted lexically.
func (r *Registry) Keys() []string {
	keys := append([]string(nil), r.order...)
	sort.Strings(keys)
	return keys
}

// All returns every registered ServiceChecker in registration order.
func (r *Registry) All() []*ServiceChecker {
	out := make([]*ServiceChecker, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.services[key])
	}
	return out
}

// Resolve maps target service keys to their definitions, preserving request
// order and dropping duplicates. Unknown keys are an error listing the
// available set.
func (r *Registry) Resolve(targets []string) ([]*ServiceChecker, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one service checker target must be provided")
	}
	seen := make(map[string]struct{}, len(targets))
	resolved := make([]*ServiceChecker, 0, len(targets))
	for _, target := range targets {
		svc, ok := r.services[target]
		if !ok {
			return nil, fmt.Errorf("unknown service checker key %q, available: %s", target, strings.Join(r.Keys(), ", "))
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		resolved = append(resolved, svc)
	}
	return resolved, nil
}
