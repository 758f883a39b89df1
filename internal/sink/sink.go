// Package sink persists per-check results. Every check execution in a run
// becomes exactly one row regardless of outcome; a synthesized timeout row
// and a clean probe row share the same shape.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/vigil-checker/internal/checker"
	"github.com/vigilstack/vigil-checker/internal/models"
)

// Row is the flat persistence record for one check execution.
type Row struct {
	RunID        string        `json:"run_id"`
	ExecutionID  string        `json:"execution_id"`
	ServiceKey   string        `json:"service_key"`
	CheckerClass string        `json:"checker_class"`
	CheckKey     string        `json:"check_key"`
	Status       models.Status `json:"status"`
	ObservedAt   time.Time     `json:"observed_at"`
	LatencyMS    *int64        `json:"latency_ms"`
	HTTPStatus   *int          `json:"http_status"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	MetadataJSON string        `json:"metadata_json"`
	IngestedAt   time.Time     `json:"ingested_at"`
}

// Sink writes a batch of rows. Implementations must treat the batch as a
// unit: a partial write is reported as an error.
type Sink interface {
	WriteRows(ctx context.Context, rows []Row) error
	Close() error
}

// WriteError wraps a sink failure with the destination that rejected it.
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink %s: write failed: %v", e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NoopSink discards rows. Used for dry runs and the "none" sink kind.
type NoopSink struct{}

func (NoopSink) WriteRows(context.Context, []Row) error { return nil }
func (NoopSink) Close() error                           { return nil }

// BuildRows flattens one service's run results into sink rows. Each row gets
// its own execution ID; iteration follows check declaration order so batches
// are deterministic apart from the generated IDs.
func BuildRows(runID string, svc *checker.ServiceChecker, results map[string]models.CheckResult, ingestedAt time.Time) []Row {
	rows := make([]Row, 0, len(svc.Checks))
	for _, chk := range svc.Checks {
		result, ok := results[chk.CheckKey]
		if !ok {
			continue
		}
		rows = append(rows, Row{
			RunID:        runID,
			ExecutionID:  uuid.NewString(),
			ServiceKey:   svc.ServiceKey,
			CheckerClass: svc.Class(),
			CheckKey:     result.CheckKey,
			Status:       result.Status,
			ObservedAt:   result.ObservedAt,
			LatencyMS:    result.LatencyMS,
			HTTPStatus:   result.HTTPStatus,
			ErrorCode:    result.ErrorCode,
			ErrorMessage: result.ErrorMessage,
			MetadataJSON: encodeMetadata(result.Metadata),
			IngestedAt:   ingestedAt.UTC(),
		})
	}
	return rows
}

// encodeMetadata serializes metadata with deterministic key order. Marshaling
// a string map sorts keys, so equal metadata always yields equal JSON.
func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return "{}"
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(payload)
}
