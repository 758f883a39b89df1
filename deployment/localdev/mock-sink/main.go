package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

type checkRow struct {
	RunID       string `json:"run_id"`
	ExecutionID string `json:"execution_id"`
	ServiceKey  string `json:"service_key"`
	CheckKey    string `json:"check_key"`
	Status      string `json:"status"`
}

type ingestRequest struct {
	Rows []checkRow `json:"rows"`
}

func main() {
	var (
		mu    sync.Mutex
		total int
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/ingest/check-results", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		total += len(req.Rows)
		received := total
		mu.Unlock()
		for _, row := range req.Rows {
			log.Printf("row run=%s service=%s check=%s status=%s", row.RunID, row.ServiceKey, row.CheckKey, row.Status)
		}
		writeJSON(w, map[string]any{"accepted": len(req.Rows), "total": received})
	})

	// Fake statuspage endpoint so probes can run fully offline.
	mux.HandleFunc("/api/v2/status.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status": map[string]any{
				"indicator":   "none",
				"description": "All Systems Operational",
			},
		})
	})

	logger := log.New(log.Writer(), "sink-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
