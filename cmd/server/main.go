package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/liamcoop/rulecheck/internal/config"
	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/internal/metrics"
	"github.com/liamcoop/rulecheck/rules"
)

type Server struct {
	cfg     *config.Config
	engine  *rules.Engine
	metrics *metrics.Collector
	log     *slog.Logger
	router  *chi.Mux
}

func NewServer(cfg *config.Config, collector *metrics.Collector, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	engine, err := rules.NewEngine(cfg.EngineOptions(log, collector)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	collector.WatchCache(engine.Cache().Len)

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: collector,
		log:     log,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/sample-data", s.handleSampleData)

	r.Post("/api/v1/validate", s.handleValidate)
	r.Post("/api/validate", s.handleValidate)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/compile", s.handleCompile)
		r.Post("/export", s.handleExport)
	})

	if s.metrics.Enabled() {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe logs, counts and times every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest(route, r.Method, status, duration)

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}
		if duration > s.cfg.Server.SlowRequestThreshold {
			logger.WarnSlowRequest()
			s.log.Warn("slow request", "route", route, "duration", duration)
		}
		s.log.Debug("request served",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", duration,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		CacheEntries: s.engine.Cache().Len(),
	})
}

func (s *Server) handleSampleData(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SampleDataResponse{
		Data:  rules.SampleRecords(),
		Rules: rules.SampleRules(),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	ruleSet, err := s.decodeRuleSet(req.Rules)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rules", err)
		return
	}

	source := DataSourceUploaded
	records, err := rules.DecodeRecords(req.Data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid data", err)
		return
	}
	if len(records) == 0 {
		source = DataSourceSample
		records = rules.SampleRecords()
	}
	if limit := s.cfg.Engine.MaxRecords; limit > 0 && len(records) > limit {
		logger.WarnRejectedBatch()
		respondError(w, http.StatusBadRequest, "too many records",
			fmt.Errorf("data contains %d records, maximum allowed is %d", len(records), limit))
		return
	}

	runID := uuid.NewString()
	start := time.Now()
	report, err := s.engine.Validate(r.Context(), ruleSet, records)
	if err != nil {
		s.respondRunError(w, runID, err)
		return
	}

	s.log.Info("validation completed",
		"run_id", runID,
		"rules", len(ruleSet),
		"records", len(records),
		"data_source", source,
		"remediations", len(report.Remediation),
	)
	respondJSON(w, http.StatusOK, ValidateResponse{
		Report:         report,
		DataSource:     source,
		RunID:          runID,
		EvaluationTime: time.Since(start).String(),
		Records:        len(records),
		Rules:          len(ruleSet),
	})
}

func (s *Server) respondRunError(w http.ResponseWriter, runID string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "validation timed out", err)
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "validation cancelled", err)
	default:
		logger.Error("validation failed", "run_id", runID, "error", err)
		respondError(w, http.StatusInternalServerError, "validation failed", err)
	}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	ruleSet, err := s.decodeRuleSet(req.Rules)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rules", err)
		return
	}

	resp := CompileResponse{Diagnostics: make([]rules.Diagnostic, 0, len(ruleSet))}
	for _, c := range s.engine.Compile(ruleSet) {
		d := rules.Diagnose(c)
		if d.OK {
			resp.Valid++
		} else {
			resp.Invalid++
		}
		resp.Diagnostics = append(resp.Diagnostics, d)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	contentType := "application/yaml"
	switch format {
	case "", "yaml", "yml":
	case "json":
		contentType = "application/json"
	default:
		respondError(w, http.StatusBadRequest, "unknown export format", fmt.Errorf("format %q (must be yaml or json)", format))
		return
	}

	var req RulesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	ruleSet, err := s.decodeRuleSet(req.Rules)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rules", err)
		return
	}

	var buf bytes.Buffer
	if err := rules.WriteExport(&buf, s.engine.Export(ruleSet), format); err != nil {
		respondError(w, http.StatusInternalServerError, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// decodeBody reads a size-limited JSON body into v, responding on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.cfg.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// decodeRuleSet accepts the rule shapes DecodeRules does, either as JSON or
// as a string holding JSON or YAML, and enforces the rule set limits.
func (s *Server) decodeRuleSet(raw json.RawMessage) ([]rules.Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("rules are required")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
		raw = []byte(text)
	}
	ruleSet, err := rules.DecodeRules(raw)
	if err != nil {
		return nil, err
	}
	if err := rules.ValidateRuleSet(ruleSet, s.cfg.Engine.MaxRules); err != nil {
		logger.WarnRejectedBatch()
		return nil, err
	}
	return ruleSet, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func main() {
	configPath := flag.String("config", os.Getenv("RULECHECK_CONFIG"), "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logOpts := logger.OptionsFromEnv()
	logOpts.Level = cfg.Logging.Level
	logOpts.SampleRate = cfg.Logging.SampleRate
	logOpts.OTEL = logOpts.OTEL || cfg.Logging.OTEL
	if cfg.Logging.ServiceName != "" {
		logOpts.ServiceName = cfg.Logging.ServiceName
	}
	if err := logger.Init(logOpts); err != nil {
		logger.Warn("logger setup incomplete", "error", err)
	}

	collector := metrics.NewCollector(metrics.Options{
		Enabled:   cfg.MetricsEnabled(),
		Namespace: cfg.Metrics.Namespace,
	})
	server, err := NewServer(cfg, collector, logger.Logger)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"workers", cfg.Engine.Workers,
			"metrics", cfg.MetricsEnabled(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
	logger.Info("server stopped")
}
