package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-detect/internal/ai"
	"github.com/vzahanych/view-guard-detect/internal/config"
	"github.com/vzahanych/view-guard-detect/internal/health"
	"github.com/vzahanych/view-guard-detect/internal/history"
	"github.com/vzahanych/view-guard-detect/internal/intake"
	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/metrics"
	"github.com/vzahanych/view-guard-detect/internal/service"
	"github.com/vzahanych/view-guard-detect/internal/training"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	decoder    *intake.Decoder  // Image intake with the configured pixel limit
	model      InferenceRunner  // Detection model, nil until SetDetectionDependencies
	events     EventLogger      // Detection event sink
	history    HistoryReader    // History page reader
	ingestor   TrainingIngestor // Training image ingestor
	health     HealthReporter   // Optional health manager
	metrics    *metrics.Metrics // Optional metrics
	version    string
}

// InferenceRunner runs the detection model on a canonical image
type InferenceRunner interface {
	ID() string
	Available() bool
	Run(ctx context.Context, img *intake.Image) (ai.RawResult, error)
}

// EventLogger records detection events without blocking the request
type EventLogger interface {
	LogAsync(ev history.Event)
}

// HistoryReader returns pages of stored events, newest first
type HistoryReader interface {
	ClampLimit(limit int) int
	Get(ctx context.Context, limit, skip int) []history.Document
}

// TrainingIngestor stores labeled training uploads
type TrainingIngestor interface {
	Ingest(ctx context.Context, label string, uploads []training.Upload) (*training.Result, error)
	LabelCounts() (map[string]int, int, error)
}

// HealthReporter aggregates component health
type HealthReporter interface {
	Check(ctx context.Context) health.HealthReport
}

// NewServer creates a new web server service
func NewServer(cfg *config.ServerConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		decoder:     intake.NewDecoder(cfg.MaxImagePixels),
		version:     "dev",
	}

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(ginLogger(log))
	router.Use(gin.CustomRecovery(recoveryHandler(log)))
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(s.metricsMiddleware())
	router.Use(bodyLimitMiddleware(cfg.MaxUploadBytes))
	s.router = router

	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDetectionDependencies sets the model and event logger used by the detection endpoints
func (s *Server) SetDetectionDependencies(model InferenceRunner, events EventLogger) {
	s.model = model
	s.events = events
}

// SetHistoryReader sets the reader behind GET /history
func (s *Server) SetHistoryReader(reader HistoryReader) {
	s.history = reader
}

// SetTrainingIngestor sets the ingestor behind POST /upload-train
func (s *Server) SetTrainingIngestor(ingestor TrainingIngestor) {
	s.ingestor = ingestor
}

// SetHealthReporter sets the health manager behind GET /health
func (s *Server) SetHealthReporter(reporter HealthReporter) {
	s.health = reporter
}

// SetMetrics sets the metrics collector exposed at GET /metrics
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Handler returns the HTTP handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	addr := s.config.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", addr)
			s.GetStatus().SetError(err)
			errCh <- err
		}
	}()

	// Wait for context cancellation, an early bind failure, or server startup
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)

	// Detection endpoints
	s.router.POST("/detect", s.handleDetect)
	s.router.POST("/detect-frame", s.handleDetectFrame)

	// Training data
	s.router.POST("/upload-train", s.handleUploadTrain)
	s.router.GET("/training/labels", s.handleTrainingLabels)

	// Event history
	s.router.GET("/history", s.handleHistory)

	// Operations
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/ready", s.handleReady)
	s.router.GET("/metrics", s.handleMetrics)

	s.router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Not found", nil)
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// recoveryHandler turns a panic inside a handler into a 500 response
func recoveryHandler(log *logger.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, recovered interface{}) {
		log.Error("Panic while serving request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"panic", recovered,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal server error",
		})
	}
}

// corsMiddleware allows the configured browser origins. "*" allows any origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := false
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
			continue
		}
		if o != "" {
			origins[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			_, ok := origins[origin]
			if allowAll || ok {
				// Credentials are allowed, so the concrete origin is echoed back
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
				c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
				c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
				c.Writer.Header().Add("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// metricsMiddleware counts requests per route and status code
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.RecordRequest(endpoint, c.Writer.Status())
	}
}

// bodyLimitMiddleware caps request bodies so uploads cannot exhaust memory or disk
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   "Request body too large.",
			})
			return
		}
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
