package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/handlers"
)

// NewRouter wires the status surface routes
func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Pairing
	router.HandleFunc("/", handler.QRPage).Methods("GET")
	router.HandleFunc("/qr", handler.QRPage).Methods("GET")
	router.HandleFunc("/qr.png", handler.QRImage).Methods("GET")

	// Session
	router.HandleFunc("/status", handler.Status).Methods("GET")
	router.HandleFunc("/restart", handler.Restart).Methods("GET", "POST")
	router.HandleFunc("/greeted/{sender}", handler.ReleaseSender).Methods("DELETE")

	// Probes
	router.HandleFunc("/ping", handler.Ping).Methods("GET")
	router.HandleFunc("/health", handler.Health).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Add logging middleware
	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(port string, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
