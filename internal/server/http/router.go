// Package httpserver serves webhook deliveries, the cached list API, health
// and metrics over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/service"
	"github.com/and161185/gofulcrum/internal/webhook"
)

// maxWebhookBody caps a single delivery.
const maxWebhookBody = 10 << 20

// Deps are the collaborators of the router. Nil members switch the
// matching routes off.
type Deps struct {
	Dispatcher *webhook.Dispatcher
	// Registry returns the managers served by the list API.
	Registry func(ctx context.Context) (*service.Registry, error)
	Health   func(ctx context.Context) error
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	// Limiter throttles webhook deliveries.
	Limiter  *rate.Limiter
	TokenKey []byte
	PerPage  int
	Logger   *zap.Logger
}

// NewRouter builds the route table.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.PerPage <= 0 {
		d.PerPage = service.DefaultPerPage
	}

	r := mux.NewRouter()
	r.Use(requestID, recoverer(d.Logger), accessLog(d.Logger, d.Metrics))

	if d.Dispatcher != nil {
		// Registered on the root router so a method mismatch yields 405.
		wh := &webhookHandler{dispatcher: d.Dispatcher}
		h := rateLimit(d.Limiter)(http.HandlerFunc(wh.serve))
		r.Handle("/webhook/{name}/", h).Methods(http.MethodPost)
		r.Handle("/webhook/{name}", h).Methods(http.MethodPost)
	}

	if d.Registry != nil {
		api := r.PathPrefix("/api").Subrouter()
		if len(d.TokenKey) > 0 {
			api.Use(bearerAuth(d.TokenKey))
		}
		h := &apiHandler{registry: d.Registry, perPage: d.PerPage, log: d.Logger}
		api.HandleFunc("/{resource}/", h.list).Methods(http.MethodGet)
		api.HandleFunc("/{resource}/{id}/", h.get).Methods(http.MethodGet)
	}

	if d.Health != nil {
		r.HandleFunc("/healthz", healthHandler(d.Health)).Methods(http.MethodGet)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// NewServer wraps h with the timeouts used in production.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
