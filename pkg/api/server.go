package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mendhq/mend/pkg/audit"
	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/evaluator"
	"github.com/mendhq/mend/pkg/events"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/loop"
	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/policy"
	"github.com/mendhq/mend/pkg/runner"
	"github.com/mendhq/mend/pkg/signals"
	"github.com/mendhq/mend/pkg/verify"
)

// Config holds HTTP server settings.
type Config struct {
	Address         string
	GracefulTimeout time.Duration
}

// Deps bundles the components the API serves.
type Deps struct {
	Policies  *policy.Store
	Evaluator *evaluator.Evaluator
	Loop      *loop.Loop
	Signals   *signals.Store
	Audit     *audit.Logger
	Cluster   cluster.Client
	Runner    *runner.Runner
	Verifier  *verify.Verifier
	Events    *events.Broker
	Namespace string
}

// Server is the HTTP boundary of the controller.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestMetrics())

	s := &Server{cfg: cfg, deps: deps, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/policy/evaluate", s.handleEvaluate)
		v1.POST("/policy/reload", s.handleReload)
		v1.GET("/policy/status", s.handlePolicyStatus)
		v1.POST("/policy/validate", s.handleValidate)
		v1.GET("/policy/audit", s.handleAudit)

		v1.POST("/signals/anomaly", s.handleAnomalySignal)
		v1.POST("/signals/rca", s.handleRcaSignal)
		v1.GET("/signals/recent", s.handleRecentSignals)

		v1.GET("/workloads", s.handleListWorkloads)
		v1.POST("/actions/execute", s.handleExecute)
		v1.POST("/verify/rollout", s.handleVerifyRollout)

		v1.GET("/events/stream", s.handleEventStream)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and blocks until the server stops.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.engine,
	}
	log.WithComponent("api").Info().Str("address", s.cfg.Address).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the graceful timeout.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// requestMetrics records per-route counters and latency
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
