package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc/health/grpc_health_v1"

	_ "github.com/Krimson/fetal-monitory/extractor/docs"
)

// StatusReporter - источник статусов готовности сервисов (gRPC health)
type StatusReporter interface {
	Status(service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, bool)
}

// RouterConfig - компоненты HTTP сервера
type RouterConfig struct {
	Handler     *Handler
	WebSocket   http.HandlerFunc // nil - /ws не регистрируется
	Health      StatusReporter   // nil - /healthz всегда ok
	Services    []string         // Сервисы, входящие в /healthz
	CORSOrigins []string
}

// NewRouter собирает REST API, WebSocket, Swagger UI и /healthz под CORS
func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()

	cfg.Handler.RegisterRoutes(router)

	if cfg.WebSocket != nil {
		router.HandleFunc("/ws", cfg.WebSocket)
	}

	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	router.HandleFunc("/healthz", healthzHandler(cfg.Health, cfg.Services)).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})
	return c.Handler(router)
}

func healthzHandler(health StatusReporter, services []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make(map[string]string, len(services))
		healthy := true

		if health != nil {
			for _, name := range services {
				st, ok := health.Status(name)
				if !ok {
					st = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
				}
				statuses[name] = st.String()
				if st != grpc_health_v1.HealthCheckResponse_SERVING {
					healthy = false
				}
			}
		}

		if !healthy {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":   "degraded",
				"services": statuses,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"services": statuses,
		})
	}
}
