package models

import (
	"sort"
	"time"
	"unicode/utf8"
)

// Status is the canonical health state of a check or service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Valid reports whether s is one of the canonical states.
func (s Status) Valid() bool {
	switch s {
	case StatusUp, StatusDegraded, StatusDown:
		return true
	}
	return false
}

// Metadata payload limits. Results carrying more keys or longer values are
// truncated at construction so the sink contract stays bounded.
const (
	MaxMetadataKeys      = 16
	MaxMetadataValueSize = 1024
)

// CheckResult is the outcome of a single check execution in one cycle.
// Results are immutable once produced and forwarded to the sink as-is.
type CheckResult struct {
	CheckKey     string            `json:"check_key"`
	Status       Status            `json:"status"`
	ObservedAt   time.Time         `json:"observed_at"`
	LatencyMS    *int64            `json:"latency_ms"`
	HTTPStatus   *int              `json:"http_status"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ServiceSnapshot is the aggregated, scored, attribution-annotated health
// state of one service for one cycle. Snapshots are recomputed every run and
// never persisted by the engine itself.
type ServiceSnapshot struct {
	ServiceKey             string    `json:"service_key"`
	RawScore               float64   `json:"raw_score"`
	EffectiveScore         float64   `json:"effective_score"`
	Status                 Status    `json:"status"`
	ObservedAt             time.Time `json:"observed_at"`
	DependencyImpacted     bool      `json:"dependency_impacted"`
	ProbableRootServiceKey string    `json:"probable_root_service_key,omitempty"`
	AttributionConfidence  float64   `json:"attribution_confidence"`
}

// ClampMetadata enforces the documented metadata size limits in place.
// Keys beyond MaxMetadataKeys are dropped in lexical order; oversized values
// are truncated.
func ClampMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	for k, v := range metadata {
		if len(v) > MaxMetadataValueSize {
			// Back off to a rune boundary so truncation never splits a
			// multi-byte character into invalid UTF-8.
			cut := MaxMetadataValueSize
			for cut > 0 && !utf8.RuneStart(v[cut]) {
				cut--
			}
			metadata[k] = v[:cut]
		}
	}
	if len(metadata) <= MaxMetadataKeys {
		return metadata
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[MaxMetadataKeys:] {
		delete(metadata, k)
	}
	return metadata
}

// IntPtr returns a pointer to v. Convenience for optional result fields.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
