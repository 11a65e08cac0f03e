package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Detail    string    `json:"detail,omitempty"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the application version.
func SetVersion(v string) {
	version = v
}

func newStatus(status string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// HealthHandler returns a handler for health check endpoints.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("healthy"))
	}
}

// ReadinessHandler returns a handler for readiness checks. The service is
// ready when check (if any) returns nil, typically meaning the media source
// opened successfully.
func ReadinessHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				status := newStatus("not_ready")
				status.Detail = err.Error()
				writeStatus(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeStatus(w, http.StatusOK, newStatus("ready"))
	}
}

// LivenessHandler returns a handler for liveness checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("alive"))
	}
}
