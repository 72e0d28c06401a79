// Package rest wires the HTTP surface: middleware stack, route tree, and
// metrics endpoint.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/engramdb/engram/interfaces/http/rest/handlers"
	"github.com/engramdb/engram/interfaces/http/rest/middleware"
	"github.com/engramdb/engram/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	memories      *handlers.MemoryHandler
	relationships *handlers.RelationshipHandler
	admin         *handlers.AdminHandler
	logger        *zap.Logger
	metrics       *observability.Metrics
	jwtSecret     string
	corsOrigins   []string
}

// NewRouter creates a new router instance
func NewRouter(
	memories *handlers.MemoryHandler,
	relationships *handlers.RelationshipHandler,
	admin *handlers.AdminHandler,
	logger *zap.Logger,
	metrics *observability.Metrics,
	jwtSecret string,
	corsOrigins []string,
) *Router {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	return &Router{
		memories:      memories,
		relationships: relationships,
		admin:         admin,
		logger:        logger,
		metrics:       metrics,
		jwtSecret:     jwtSecret,
		corsOrigins:   corsOrigins,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(rt.logger))
	router.Use(rt.measure)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.admin.Health)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.jwtSecret, rt.logger))

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", rt.memories.Create)
			r.Get("/", rt.memories.List)
			r.Get("/search", rt.memories.Search)
			r.Route("/{memoryID}", func(r chi.Router) {
				r.Put("/", rt.memories.Put)
				r.Get("/", rt.memories.Get)
				r.Patch("/", rt.memories.Update)
				r.Delete("/", rt.memories.Delete)
				r.Get("/related", rt.memories.Related)
				r.Get("/neighbors", rt.memories.Neighbors)
				r.Get("/successors", rt.memories.Successors)
				r.Get("/relationships/as-of", rt.memories.AsOf)
			})
		})

		r.Route("/relationships", func(r chi.Router) {
			r.Post("/", rt.relationships.Create)
			r.Get("/", rt.relationships.List)
			r.Get("/history", rt.relationships.History)
			r.Get("/recorded-since", rt.relationships.RecordedSince)
			r.Route("/{relationshipID}", func(r chi.Router) {
				r.Put("/", rt.relationships.Put)
				r.Get("/", rt.relationships.Get)
				r.Post("/invalidate", rt.relationships.Invalidate)
				r.Post("/supersede", rt.relationships.Supersede)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/stats", rt.admin.Stats)
			r.Get("/capabilities", rt.admin.Capabilities)
			r.Post("/query", rt.admin.Query)
			r.Post("/schema", rt.admin.Schema)
			r.Post("/clear", rt.admin.Clear)
			r.Get("/backup", rt.admin.Backup)
			r.Post("/restore", rt.admin.Restore)
		})
	})

	return router
}

// measure records request counts and latency per route pattern
func (rt *Router) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		rt.metrics.HTTPRequests.WithLabelValues(
			r.Method, route, strconv.Itoa(ww.Status()/100)+"xx").Inc()
		rt.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
	})
}
