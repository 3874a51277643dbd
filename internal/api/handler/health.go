package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/codeshare/internal/api/response"
	"github.com/Rrens/codeshare/internal/collab"
)

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including store connectivity and live room counts.
// registry may be nil.
func ReadyCheck(store Pinger, registry *collab.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			response.ServiceUnavailable(w, "store not ready")
			return
		}

		body := map[string]any{
			"status": "ready",
		}
		if registry != nil {
			body["collab"] = registry.Stats()
		}

		response.OK(w, body)
	}
}
