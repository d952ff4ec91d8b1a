package chi

import (
	"encoding/json"
	"loan-upload/internal/adapters/handlers/http/chi/v1/upload"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds http.Handler with chi
func NewRouter(logger *slog.Logger, uploadHandler *upload.HandlerV1, env string) http.Handler {
	r := chi.NewRouter()

	//handle requestID to facilitate debug (X-Request-ID)
	//It fetches from request if exists, or creates it
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	if env != "prod" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// long-lived stream, kept out of the timeout group
	r.Get("/api/v1/events", uploadHandler.StreamEventsV1)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.RequestSize(1 << 20)) //1mb

		r.Mount("/api/v1", uploadHandler.Routes())

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			stats := uploadHandler.Stats()
			resp := HealthResponse{
				Status:    "ok",
				Online:    stats.Online,
				Paused:    stats.Paused,
				Active:    stats.Active,
				Pending:   stats.Pending + stats.QueuedOffline,
				Timestamp: time.Now(),
			}
			if !stats.Online {
				resp.Status = "offline"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(resp)
		})
	})

	return r
}

// HealthResponse reports the agent state. Offline is not an http error,
// the queue keeps the work until the network comes back.
type HealthResponse struct {
	Status    string    `json:"status"`
	Online    bool      `json:"online"`
	Paused    bool      `json:"paused"`
	Active    int       `json:"active"`
	Pending   int       `json:"pending"`
	Timestamp time.Time `json:"timestamp"`
}
