package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-go/voicebridge/pkg/dialog/sessions"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/handlers"
	"github.com/vango-go/voicebridge/pkg/gateway/metrics"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry *sessions.Registry
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		registry: sessions.New(sessions.Options{
			MaxSessions:   cfg.MaxSessions,
			ClientOptions: cfg.ClientOptions(logger),
			Logger:        logger,
		}),
		metrics: metrics.New(promReg),
		promReg: promReg,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	sh := handlers.SessionsHandler{
		Config:   s.cfg,
		Registry: s.registry,
		Logger:   s.logger,
		Metrics:  s.metrics,
	}
	s.mux.HandleFunc("POST /v1/voice/sessions", sh.Create)
	s.mux.HandleFunc("GET /v1/voice/sessions", sh.List)
	s.mux.HandleFunc("GET /v1/voice/sessions/{id}", sh.Get)
	s.mux.HandleFunc("POST /v1/voice/sessions/{id}/start", sh.Start)
	s.mux.HandleFunc("POST /v1/voice/sessions/{id}/text", sh.Text)
	s.mux.HandleFunc("POST /v1/voice/sessions/{id}/end", sh.End)
	s.mux.HandleFunc("POST /v1/voice/sessions/{id}/disconnect", sh.Disconnect)
	s.mux.HandleFunc("DELETE /v1/voice/sessions/{id}", sh.Delete)
	s.mux.HandleFunc("GET /v1/voice/status", sh.Status)

	s.mux.Handle("GET /v1/voice/stream", handlers.StreamHandler{
		Config:   s.cfg,
		Registry: s.registry,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the session registry for the sweep timer and shutdown
// drain in cmd.
func (s *Server) Registry() *sessions.Registry {
	return s.registry
}

// Metrics exposes the gateway collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
