package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	otelint "github.com/pbinitiative/zenflow/internal/otel"
	"github.com/pbinitiative/zenflow/internal/rest/middleware"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	engine *bpmn.Engine
	addr   string
	server *http.Server
}

// NewServer exposes the engine over the REST API, requests may be nil when request metrics are not wanted.
func NewServer(engine *bpmn.Engine, conf config.Config, requests *otelint.RequestMetrics) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.RequestId())
	r.Use(middleware.Cors(conf.Server.AllowedOrigins))
	r.Use(middleware.Opentelemetry(conf.Tracing.Name, conf.Tracing.TransferHeaders, requests))

	prefix := strings.TrimSuffix(conf.Server.Context, "/")
	r.Route(prefix+"/v1", func(r chi.Router) {
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", s.getDefinitions)
			r.Post("/", s.deployDefinition)
			r.Get("/{definitionId}", s.getDefinition)
		})
		r.Route("/process-instances", func(r chi.Router) {
			r.With(middleware.QueryFilter("state")).Get("/", s.getProcessInstances)
			r.Post("/", s.startProcessInstance)
			r.Post("/restore", s.restoreProcessInstance)
			r.Route("/{processInstanceKey}", func(r chi.Router) {
				r.Use(processInstanceKeyCtx)
				r.Get("/", s.getProcessInstance)
				r.Delete("/", s.abortProcessInstance)
				r.Post("/suspend", s.suspendProcessInstance)
				r.Post("/resume", s.resumeProcessInstance)
				r.Get("/snapshot", s.serializeProcessInstance)
				r.Get("/work-items", s.getProcessInstanceWorkItems)
				r.Post("/signals", s.signalProcessInstance)
				r.Put("/variables/{name}", s.setVariable)
			})
		})
		r.Route("/work-items/{workItemKey}", func(r chi.Router) {
			r.Get("/", s.getWorkItem)
			r.Post("/complete", s.completeWorkItem)
			r.Post("/abort", s.abortWorkItem)
			r.Post("/fail", s.failWorkItem)
		})
		r.Post("/signals", s.signalEvent)
		r.Post("/messages", s.publishMessage)
		r.Route("/facts", func(r chi.Router) {
			r.Get("/", s.getFacts)
			r.Put("/{name}", s.putFact)
			r.Delete("/{name}", s.retractFact)
		})
		r.Post("/rules/fire", s.fireAllRules)
		r.Post("/clock/advance", s.advanceClock)
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", s.getStatus)
	})
	return &s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	log.Info("ZenFlow REST server listening on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}
