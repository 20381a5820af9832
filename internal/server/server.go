// Package server exposes update runs over HTTP and on a timer.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
)

const shutdownTimeout = 10 * time.Second

// Runner performs one update run.
type Runner interface {
	Run(ctx context.Context, req controller.Request) (*controller.Report, error)
}

// HistoryLister lists stored runs, newest first.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options configure a Server.
type Options struct {
	Listen string
	Runner Runner
	// Load provides the configuration checked by the password gate. The
	// loaded value is handed to the run it authorises.
	Load config.Loader
	// History is optional; /history answers 503 without it.
	History      HistoryLister
	HistoryLimit int
	// TriggerRate limits trigger requests per second; zero disables the limit.
	TriggerRate  float64
	TriggerBurst int
	// Checks are served under /healthz in addition to ping.
	Checks map[string]healthz.Checker
	Log    logr.Logger
}

// Server is the HTTP surface of yk-ddns.
type Server struct {
	opts       Options
	log        logr.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds the router and the underlying http.Server.
func New(opts Options) *Server {
	if opts.Runner == nil {
		panic("server.New: runner is nil")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = config.DefaultHistoryLimit
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(opts.Log))

	s := &Server{opts: opts, log: opts.Log, engine: engine}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Runs may retry the record store several times.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	checks := map[string]healthz.Checker{"ping": healthz.Ping}
	for name, check := range s.opts.Checks {
		checks[name] = check
	}
	health := gin.WrapH(http.StripPrefix("/healthz", &healthz.Handler{Checks: checks}))
	s.engine.GET("/healthz", health)
	s.engine.GET("/healthz/:check", health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{})))

	gate := RequirePassword(s.opts.Load)

	trigger := s.engine.Group("/")
	if s.opts.TriggerRate > 0 {
		burst := s.opts.TriggerBurst
		if burst < 1 {
			burst = 1
		}
		trigger.Use(RateLimit(rate.NewLimiter(rate.Limit(s.opts.TriggerRate), burst)))
	}
	trigger.Use(gate)
	trigger.GET("/", s.handleTrigger(controller.TriggerHTTP))
	trigger.POST("/update", s.handleTrigger(controller.TriggerManual))

	s.engine.GET("/history", gate, s.handleHistory)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
