package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSink posts row batches as JSON to an ingest endpoint. A non-2xx
// response fails the whole batch.
type HTTPSink struct {
	endpoint   string
	batchSize  int
	httpClient *http.Client
}

func NewHTTPSink(endpoint string, timeout time.Duration, batchSize int) (*HTTPSink, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("http sink endpoint is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &HTTPSink{
		endpoint:   endpoint,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSink) WriteRows(ctx context.Context, rows []Row) error {
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.postBatch(ctx, rows[start:end]); err != nil {
			return &WriteError{Sink: "http", Err: err}
		}
	}
	return nil
}

func (s *HTTPSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *HTTPSink) postBatch(ctx context.Context, rows []Row) error {
	payload := struct {
		Rows []Row `json:"rows"`
	}{Rows: rows}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %s", resp.Status)
	}
	return nil
}
