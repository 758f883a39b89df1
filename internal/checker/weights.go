package checker

import "math"

// weightTolerance is the floating tolerance applied when validating that
// resolved weights sum to one.
const weightTolerance = 1e-6

// ResolveWeights maps each check key of svc to its resolved weight. Explicit
// weights are validated against (0,1]; the remaining mass is split equally
// across checks with no explicit weight. The resolution is pure: the same
// check set always yields the same weights, summing to 1 within tolerance.
func ResolveWeights(svc *ServiceChecker) (map[string]float64, error) {
	if len(svc.Checks) == 0 {
		return nil, configErrorf(svc.ServiceKey, "has no checks")
	}

	explicitSum := 0.0
	var unset []*Check
	resolved := make(map[string]float64, len(svc.Checks))

	for _, ck := range svc.Checks {
		if ck.Weight == nil {
			unset = append(unset, ck)
			continue
		}
		w := *ck.Weight
		if w <= 0 {
			return nil, configErrorf(svc.ServiceKey, "check %s weight must be greater than 0", ck.CheckKey)
		}
		if w > 1 {
			return nil, configErrorf(svc.ServiceKey, "check %s weight must be <= 1", ck.CheckKey)
		}
		explicitSum += w
		resolved[ck.CheckKey] = w
	}

	if explicitSum > 1+weightTolerance {
		return nil, configErrorf(svc.ServiceKey, "explicit check weights exceed 1 (sum=%.6f)", explicitSum)
	}

	if len(unset) > 0 {
		remaining := 1 - explicitSum
		if remaining <= weightTolerance {
			return nil, configErrorf(svc.ServiceKey, "no remaining weight for %d checks without explicit weights", len(unset))
		}
		share := remaining / float64(len(unset))
		for _, ck := range unset {
			resolved[ck.CheckKey] = share
		}
	} else if math.Abs(explicitSum-1) > weightTolerance {
		return nil, configErrorf(svc.ServiceKey, "explicit check weights must sum to 1 when all checks set weight (sum=%.6f)", explicitSum)
	}

	total := 0.0
	for _, w := range resolved {
		total += w
	}
	if math.Abs(total-1) > weightTolerance {
		return nil, configErrorf(svc.ServiceKey, "resolved check weights must sum to 1 (sum=%.6f)", total)
	}

	return resolved, nil
}
