// Package api exposes the monitor over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/UniQw/rqmon"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// tracerName is the instrumentation scope name for HTTP tracing.
const tracerName = "github.com/UniQw/rqmon/internal/api"

// API wraps the monitor client, the worker controller and the store instances and
// provides the HTTP handlers.
type API struct {
	client    *rqmon.Client
	ctl       *rqmon.Controller
	instances *rqmon.Instances
	log       rqmon.Logger
	limiter   *rate.Limiter
	tracer    trace.Tracer
	debug     bool
	refresh   time.Duration
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l rqmon.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMutationLimit bounds the mutating routes to r requests per second with burst.
func WithMutationLimit(r float64, burst int) Option {
	return func(a *API) { a.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// WithTracer sets the tracer; the global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(a *API) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithDebug adds the error chain to error responses.
func WithDebug(on bool) Option {
	return func(a *API) { a.debug = on }
}

// WithRefreshInterval sets the poll interval advertised to dashboards.
func WithRefreshInterval(d time.Duration) Option {
	return func(a *API) { a.refresh = d }
}

// New creates an API. instances may be nil when only the client's default store is served.
func New(client *rqmon.Client, ctl *rqmon.Controller, instances *rqmon.Instances, opts ...Option) *API {
	a := &API{
		client:    client,
		ctl:       ctl,
		instances: instances,
		log:       rqmon.NewFmtLogger(),
		limiter:   rate.NewLimiter(rate.Inf, 0),
		tracer:    otel.Tracer(tracerName),
		refresh:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetupRoutes configures all API routes on r.
func (a *API) SetupRoutes(r gin.IRouter) {
	r.Use(TracingWithTracer(a.tracer), noStore(), a.instance())

	r.GET("/instances", a.listInstances)
	r.GET("/queues", a.listQueues)
	r.GET("/workers", a.listWorkers)
	r.GET("/workers/info", a.workerInfo)
	r.GET("/jobs", a.listJobs)
	r.GET("/redis/memory", a.memory)

	m := r.Group("/", a.limit())
	m.POST("/jobs/cancel", a.cancelJob)
	m.POST("/jobs/delete", a.deleteJob)
	m.POST("/jobs/requeue", a.requeueJob)
	m.POST("/jobs/delete/all", a.deleteAllJobs)
	m.POST("/jobs/requeue/all", a.requeueAllFailed)
	m.POST("/jobs/cancel/all", a.cancelAllQueued)
	m.POST("/queues/delete", a.deleteQueue)
	m.POST("/queues/empty", a.emptyQueue)
	m.POST("/queues/delete/all", a.deleteAllQueues)
	m.POST("/queues/empty/all", a.emptyAllQueues)
	m.POST("/workers/delete", a.stopWorker)
	m.POST("/workers/delete/all", a.stopAllWorkers)
}

// Handler returns a gin engine serving the API under prefix.
func (a *API) Handler(prefix string) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	a.SetupRoutes(r.Group(prefix))
	return r
}
