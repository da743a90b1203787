// Package httpapi implements the HTTP/WebSocket gateway (spec.md §6 API
// surface): REST submit/status/result/list endpoints over the Task
// Service, and a WebSocket subscribe endpoint over the Live Broadcaster.
// Router shape (ServerConfig, APIResponse envelope, gin.Engine-backed
// Server with a host/port pair) follows the teacher's internal/webui
// server, generalized from its session-management surface to this
// module's task surface.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"taskhub/internal/broadcaster"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
	"taskhub/internal/service"
)

// ServerConfig parameterizes the HTTP gateway.
type ServerConfig struct {
	Host            string
	Port            int
	EnableCORS      bool
	Debug           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	StatusCacheSize int
}

// DefaultServerConfig returns the gateway's default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		EnableCORS:      true,
		Debug:           false,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		StatusCacheSize: 1024,
	}
}

// APIResponse is the uniform envelope every REST endpoint returns.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server is the HTTP/WebSocket gateway.
type Server struct {
	engine      *gin.Engine
	host        string
	port        int
	httpServer  *http.Server
	svc         *service.Service
	broadcaster *broadcaster.Broadcaster
	statusCache *statusCache
	metrics     *metrics.Pipeline
	tracer      trace.Tracer
	logger      logging.Logger
}

// NewServer builds a Server wired to svc and b. Call Run to start serving.
func NewServer(cfg ServerConfig, svc *service.Service, b *broadcaster.Broadcaster) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := &Server{}
	engine.Use(s.tracingMiddleware)

	if cfg.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	s.engine = engine
	s.host = cfg.Host
	s.port = cfg.Port
	s.svc = svc
	s.broadcaster = b
	s.statusCache = newStatusCache(cfg.StatusCacheSize)
	s.logger = logging.NewComponentLogger("HTTPGateway")
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// UseMetrics attaches a metrics.Pipeline to the Server. Optional. The
// pipeline is only stored; no gateway handler records through it, and it
// is not passed on to the broadcaster.
func (s *Server) UseMetrics(m *metrics.Pipeline) {
	s.metrics = m
}

// UseTracer attaches a tracer; every request is then wrapped in a span
// named "http.<method>.<path>". Optional; requests run unwrapped when
// nil (the default).
func (s *Server) UseTracer(t trace.Tracer) {
	s.tracer = t
}

func (s *Server) tracingMiddleware(c *gin.Context) {
	if s.tracer == nil {
		c.Next()
		return
	}
	ctx, span := s.tracer.Start(c.Request.Context(), "http."+c.Request.Method+"."+c.FullPath())
	defer span.End()
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func (s *Server) routes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks", s.handleListTasks)
	api.GET("/tasks/:task_id/status", s.handleGetStatus)
	api.GET("/tasks/:task_id/result", s.handleGetResult)
	api.GET("/tasks/:task_id/stream", s.handleSubscribe)
}

// Run starts serving until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
