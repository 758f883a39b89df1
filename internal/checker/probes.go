package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilstack/vigil-checker/internal/models"
)

// maxProbeBodyBytes bounds how much of a response body a probe will buffer.
// Status pages are small; anything larger is truncated, not an error.
const maxProbeBodyBytes = 256 * 1024

// Statuspage indicator classes, per the statuspage.io v2 API.
var (
	statuspageDegraded = map[string]bool{"minor": true, "major": true, "maintenance": true}
	statuspageDown     = map[string]bool{"critical": true}
)

// accessChallengeMarkers identify bot-protection interstitials. A 401/403/429
// carrying one of these means the edge is alive and answering; the service
// itself is not down.
var accessChallengeMarkers = []string{
	"just a moment",
	"verifying your connection",
	"attention required",
	"request blocked",
	"access denied",
	"captcha",
	"cloudflare",
	"security checkpoint",
	"security check",
	"bot detection",
	"too many requests",
	"rate limit",
}

// probeResponse is the buffered outcome of one GET against a check endpoint.
type probeResponse struct {
	StatusCode int
	Body       []byte
	LatencyMS  int64
	Truncated  bool
}

func (p *probeResponse) text() string { return string(p.Body) }

func (p *probeResponse) jsonObject() (map[string]any, bool) {
	var payload map[string]any
	if err := json.Unmarshal(p.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

// fetch issues a single GET and buffers up to maxProbeBodyBytes of the body.
func fetch(ctx context.Context, client *http.Client, url string) (*probeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := false
	if len(body) > maxProbeBodyBytes {
		body = body[:maxProbeBodyBytes]
		truncated = true
	}

	return &probeResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		LatencyMS:  latency,
		Truncated:  truncated,
	}, nil
}

// StatusFromHTTP maps an HTTP status to a health state. 5xx is down, other
// 4xx is degraded, except auth/rate-limit responses that are really an edge
// challenge, which count as up.
func StatusFromHTTP(statusCode int, body string) models.Status {
	if statusCode == 401 || statusCode == 403 || statusCode == 429 {
		lower := strings.ToLower(body)
		for _, marker := range accessChallengeMarkers {
			if strings.Contains(lower, marker) {
				return models.StatusUp
			}
		}
	}
	if statusCode >= 500 {
		return models.StatusDown
	}
	if statusCode >= 400 {
		return models.StatusDegraded
	}
	return models.StatusUp
}

// ApplyStatuspageIndicator folds a statuspage indicator into a base status.
func ApplyStatuspageIndicator(base models.Status, indicator string) models.Status {
	if statuspageDown[indicator] {
		return models.StatusDown
	}
	if statuspageDegraded[indicator] {
		return models.StatusDegraded
	}
	return base
}

func newResult(check *Check, status models.Status, resp *probeResponse, metadata map[string]string) models.CheckResult {
	result := models.CheckResult{
		CheckKey:   check.CheckKey,
		Status:     status,
		ObservedAt: time.Now().UTC(),
		Metadata:   models.ClampMetadata(metadata),
	}
	if resp != nil {
		result.LatencyMS = models.Int64Ptr(resp.LatencyMS)
		result.HTTPStatus = models.IntPtr(resp.StatusCode)
	}
	return result
}

// addNonUpDebugMetadata attaches a bounded body preview for non-up results so
// a failing check can be diagnosed from sink rows alone.
func addNonUpDebugMetadata(metadata map[string]string, status models.Status, resp *probeResponse) map[string]string {
	if status == models.StatusUp || resp == nil {
		return metadata
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}
	preview := resp.text()
	if len(preview) > 1000 {
		preview = preview[:1000]
		metadata["body_truncated"] = "true"
	}
	metadata["body_preview"] = preview
	metadata["status_code"] = strconv.Itoa(resp.StatusCode)
	return metadata
}

// StatuspageStatusProbe reads a statuspage.io v2 status.json document and
// derives health from its indicator.
func StatuspageStatusProbe() ProbeFunc {
	return func(ctx context.Context, client *http.Client, check *Check) (models.CheckResult, error) {
		resp, err := fetch(ctx, client, check.EndpointKey)
		if err != nil {
			return models.CheckResult{}, err
		}

		status := StatusFromHTTP(resp.StatusCode, resp.text())
		metadata := make(map[string]string)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			payload, ok := resp.jsonObject()
			if !ok {
				status = models.StatusDegraded
				metadata["parse_error"] = "response is not a JSON object"
			} else {
				indicator := ""
				if block, ok := payload["status"].(map[string]any); ok {
					if raw, ok := block["indicator"].(string); ok {
						indicator = raw
					}
					if desc, ok := block["description"].(string); ok && desc != "" {
						metadata["description"] = desc
					}
				}
				metadata["indicator"] = indicator
				if indicator == "" {
					status = models.StatusDegraded
				} else {
					status = ApplyStatuspageIndicator(status, indicator)
				}
			}
		}

		metadata = addNonUpDebugMetadata(metadata, status, resp)
		return newResult(check, status, resp, metadata), nil
	}
}

// StatuspageSummaryProbe reads a statuspage.io v2 summary.json document and
// degrades on non-operational components or unresolved incidents.
func StatuspageSummaryProbe() ProbeFunc {
	return func(ctx context.Context, client *http.Client, check *Check) (models.CheckResult, error) {
		resp, err := fetch(ctx, client, check.EndpointKey)
		if err != nil {
			return models.CheckResult{}, err
		}

		status := StatusFromHTTP(resp.StatusCode, resp.text())
		metadata := make(map[string]string)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			payload, ok := resp.jsonObject()
			if !ok {
				status = models.StatusDegraded
				metadata["parse_error"] = "response is not a JSON object"
			} else {
				nonOperational := countNonOperationalComponents(payload)
				openIncidents, majorIncidents := countOpenIncidents(payload)
				metadata["non_operational_component_count"] = strconv.Itoa(nonOperational)
				metadata["open_incident_count"] = strconv.Itoa(openIncidents)

				switch {
				case majorIncidents > 0:
					status = models.StatusDown
				case nonOperational > 0 || openIncidents > 0:
					status = models.StatusDegraded
				}
			}
		}

		metadata = addNonUpDebugMetadata(metadata, status, resp)
		return newResult(check, status, resp, metadata), nil
	}
}

// HTMLMarkerProbe fetches a page and requires every marker to appear in the
// body (case-insensitive). A reachable page without the markers is degraded,
// not down: the host answered but served unexpected content.
func HTMLMarkerProbe(markers ...string) ProbeFunc {
	return func(ctx context.Context, client *http.Client, check *Check) (models.CheckResult, error) {
		resp, err := fetch(ctx, client, check.EndpointKey)
		if err != nil {
			return models.CheckResult{}, err
		}

		status := StatusFromHTTP(resp.StatusCode, resp.text())
		metadata := make(map[string]string)

		if status == models.StatusUp {
			lower := strings.ToLower(resp.text())
			for _, marker := range markers {
				if !strings.Contains(lower, strings.ToLower(marker)) {
					status = models.StatusDegraded
					metadata["missing_marker"] = marker
					break
				}
			}
		}

		metadata = addNonUpDebugMetadata(metadata, status, resp)
		return newResult(check, status, resp, metadata), nil
	}
}

// UnauthenticatedAPIProbe hits an authenticated API endpoint without
// credentials and treats a well-formed 401/403 as proof the API is serving.
// An unexpected 2xx means the endpoint is misbehaving and counts as degraded.
func UnauthenticatedAPIProbe() ProbeFunc {
	return func(ctx context.Context, client *http.Client, check *Check) (models.CheckResult, error) {
		resp, err := fetch(ctx, client, check.EndpointKey)
		if err != nil {
			return models.CheckResult{}, err
		}

		status := StatusFromHTTP(resp.StatusCode, resp.text())
		metadata := map[string]string{"expected_http_statuses": "401,403"}

		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			status = models.StatusUp
			if payload, ok := resp.jsonObject(); ok {
				if _, hasError := payload["error"]; !hasError {
					if _, hasMessage := payload["message"]; !hasMessage {
						status = models.StatusDegraded
						metadata["error_payload_present"] = "false"
					}
				}
			} else {
				status = models.StatusDegraded
				metadata["error_payload_present"] = "false"
			}
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			status = models.StatusDegraded
			metadata["unexpected_success"] = "true"
		}

		metadata = addNonUpDebugMetadata(metadata, status, resp)
		return newResult(check, status, resp, metadata), nil
	}
}

func countNonOperationalComponents(payload map[string]any) int {
	nonOperational := map[string]bool{
		"degraded_performance": true,
		"partial_outage":       true,
		"major_outage":         true,
		"under_maintenance":    true,
		"maintenance":          true,
	}
	components, ok := payload["components"].([]any)
	if !ok {
		return 0
	}
	count := 0
	for _, raw := range components {
		component, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if state, ok := component["status"].(string); ok && nonOperational[state] {
			count++
		}
	}
	return count
}

func countOpenIncidents(payload map[string]any) (open, major int) {
	resolved := map[string]bool{
		"closed":                 true,
		"completed":              true,
		"completed_verification": true,
		"cancelled":              true,
		"postmortem_published":   true,
		"resolved":               true,
		"postmortem":             true,
		"scheduled":              true,
	}
	incidents, ok := payload["incidents"].([]any)
	if !ok {
		return 0, 0
	}
	for _, raw := range incidents {
		incident, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if state, ok := incident["status"].(string); ok && resolved[state] {
			continue
		}
		open++
		if impact, ok := incident["impact"].(string); ok && (impact == "major" || impact == "critical") {
			major++
		}
	}
	return open, major
}
