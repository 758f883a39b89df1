package engine

import (
	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/models"
)

// maxChainDepth bounds how far the agreement walk follows reverse dependency
// edges when estimating how widespread an upstream incident is.
const maxChainDepth = 3

const (
	confidenceBase      = 0.35
	confidenceGapGain   = 0.45
	confidenceAgreeGain = 0.05
	confidenceCeiling   = 0.95
)

// AttributeDependencies annotates every non-up snapshot whose direct
// dependencies are also unhealthy with the most likely upstream culprit.
// Snapshots of services that were not scored this run are absent from the
// map and never considered. Root snapshots are read, never modified.
func AttributeDependencies(services []*checker.ServiceChecker, snapshots map[string]*models.ServiceSnapshot) {
	dependents := reverseEdges(services)

	for _, svc := range services {
		snapshot, ok := snapshots[svc.ServiceKey]
		if !ok || snapshot.Status == models.StatusUp {
			continue
		}

		root := pickRoot(svc, snapshots)
		if root == nil {
			continue
		}

		snapshot.DependencyImpacted = true
		snapshot.ProbableRootServiceKey = root.ServiceKey
		snapshot.AttributionConfidence = confidence(
			snapshot, snapshots[root.ServiceKey], root, dependents, snapshots)
	}
}

// pickRoot returns the direct dependency with the lowest effective score
// among those that are non-up, ties broken by declaration order. Nil when no
// direct dependency is unhealthy.
func pickRoot(svc *checker.ServiceChecker, snapshots map[string]*models.ServiceSnapshot) *checker.ServiceChecker {
	var root *checker.ServiceChecker
	var rootScore float64
	for _, dep := range svc.Dependencies {
		depSnap, ok := snapshots[dep.ServiceKey]
		if !ok || depSnap.Status == models.StatusUp {
			continue
		}
		if root == nil || depSnap.EffectiveScore < rootScore {
			root = dep
			rootScore = depSnap.EffectiveScore
		}
	}
	return root
}

// confidence scores how plausible the attribution is. The gap term rewards a
// root in visibly worse shape than the impacted service; the agreement term
// rewards other unhealthy services downstream of the same root.
func confidence(impacted, rootSnap *models.ServiceSnapshot, root *checker.ServiceChecker, dependents map[string][]string, snapshots map[string]*models.ServiceSnapshot) float64 {
	gap := (impacted.EffectiveScore - rootSnap.EffectiveScore) / 100.0
	if gap < 0 {
		gap = 0
	}

	agree := float64(agreementCount(root.ServiceKey, dependents, snapshots))
	if agree > 3 {
		agree = 3
	}

	score := confidenceBase + confidenceGapGain*gap + confidenceAgreeGain*agree
	if score < 0 {
		return 0
	}
	if score > confidenceCeiling {
		return confidenceCeiling
	}
	return score
}

// reverseEdges maps each service key to the keys of the services that
// declare it as a direct dependency.
func reverseEdges(services []*checker.ServiceChecker) map[string][]string {
	dependents := make(map[string][]string, len(services))
	for _, svc := range services {
		for _, dep := range svc.Dependencies {
			dependents[dep.ServiceKey] = append(dependents[dep.ServiceKey], svc.ServiceKey)
		}
	}
	return dependents
}

// agreementCount walks reverse dependency edges outward from the root,
// counting distinct non-up services that transitively depend on it within
// maxChainDepth hops. The root itself is not counted.
func agreementCount(rootKey string, dependents map[string][]string, snapshots map[string]*models.ServiceSnapshot) int {
	type frame struct {
		key   string
		depth int
	}
	seen := map[string]bool{rootKey: true}
	queue := []frame{{key: rootKey, depth: 0}}
	count := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxChainDepth {
			continue
		}
		for _, depKey := range dependents[current.key] {
			if seen[depKey] {
				continue
			}
			seen[depKey] = true
			if snap, ok := snapshots[depKey]; ok && snap.Status != models.StatusUp {
				count++
			}
			queue = append(queue, frame{key: depKey, depth: current.depth + 1})
		}
	}
	return count
}
