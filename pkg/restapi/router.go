// Package restapi implements the control plane's REST surface (spec §6):
// node registration/heartbeat, agent/version/deployment CRUD, and
// operator-driven run transitions, on top of a chi router.
package restapi

import (
	"net/http"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leasestore"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// API wires storage, the lease store and the scheduler to an HTTP handler.
type API struct {
	store     storage.Store
	leases    leasestore.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	validate  *validator.Validate
	router    chi.Router
}

// New builds the chi router for the control plane's REST surface.
func New(store storage.Store, leases leasestore.Store, sched *scheduler.Scheduler, broker *events.Broker) *API {
	a := &API{
		store:     store,
		leases:    leases,
		scheduler: sched,
		broker:    broker,
		validate:  validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.metricsMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/nodes:register", a.registerNode)
		r.Post("/nodes/{id}:heartbeat", a.heartbeatNode)
		r.Get("/nodes", a.listNodes)
		r.Get("/nodes/{id}", a.getNode)
		r.Delete("/nodes/{id}", a.deleteNode)

		r.Post("/agents", a.createAgent)
		r.Get("/agents", a.listAgents)
		r.Get("/agents/{id}", a.getAgent)
		r.Put("/agents/{id}", a.updateAgent)
		r.Delete("/agents/{id}", a.deleteAgent)
		r.Post("/agents/{id}:version", a.createAgentVersion)
		r.Get("/agents/{id}/versions", a.listAgentVersions)

		r.Post("/deployments", a.createDeployment)
		r.Get("/deployments", a.listDeployments)
		r.Get("/deployments/{id}", a.getDeployment)

		r.Post("/runs", a.createRun)
		r.Get("/runs", a.listRuns)
		r.Get("/runs/{id}", a.getRun)
		r.Post("/runs/{id}:complete", a.completeRun)
		r.Post("/runs/{id}:fail", a.failRun)
		r.Post("/runs/{id}:cancel", a.cancelRun)
	})

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())

	a.router = r
	return a
}

// ServeHTTP makes API an http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rw.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}
