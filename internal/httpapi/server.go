package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/events"
	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/pipeline"
	"horse.fit/eventmerge/internal/rules"
	payloadschema "horse.fit/eventmerge/schema"
)

const (
	defaultRunsLimit = 25
	maxRunsLimit     = 200
	maxBatchBody     = "16M"
)

type BatchRunner interface {
	RunDocument(ctx context.Context, raw []byte, opts pipeline.RunOptions) (pipeline.RunReport, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (events.StoredEvent, error)
	ListContributions(ctx context.Context, eventID string) ([]db.EventSource, error)
}

type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]db.DedupRun, error)
}

type StatsReader interface {
	QueryMergeStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.MergeStats, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the API. Metrics is optional.
type Deps struct {
	Runner  BatchRunner
	Events  EventReader
	Runs    RunReader
	Stats   StatsReader
	Health  Pinger
	Rules   rules.Source
	Metrics http.Handler
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

type eventDetail struct {
	Event         events.StoredEvent `json:"event"`
	Contributions []db.EventSource   `json:"contributions"`
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		deps:   deps,
		logger: logger.With().Str("component", "httpapi").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowedOrigins:  origins,
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/rules", s.handleRules)
	api.GET("/runs", s.handleRuns)
	api.GET("/events/:event_id", s.handleEventDetail)
	api.POST("/batches", s.handleBatch, middleware.BodyLimit(maxBatchBody))

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Runner == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("eventmerge api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("eventmerge api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "eventmerge",
		"time":    globaltime.UTC(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check ping failed")
			return serviceUnavailable(c, "Database unavailable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleBatch(c echo.Context) error {
	if s.deps.Runner == nil {
		return internalError(c, "Batch processing is not configured")
	}

	dryRun, err := parseBool(c.QueryParam("dry_run"))
	if err != nil {
		return failValidation(c, map[string]string{"dry_run": err.Error()})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	report, err := s.deps.Runner.RunDocument(c.Request().Context(), body, pipeline.RunOptions{
		Trigger: pipeline.TriggerHTTP,
		DryRun:  dryRun,
	})
	if err != nil {
		switch {
		case errors.Is(err, payloadschema.ErrBatchTooLarge):
			return failTooLarge(c, err.Error(), payloadschema.MaxBatchSize)
		case errors.Is(err, pipeline.ErrMalformedBatch):
			return failValidation(c, map[string]string{"body": err.Error()})
		default:
			s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("batch run failed")
			return internalError(c, "Failed to process batch")
		}
	}
	return success(c, report)
}

func (s *Server) handleEventDetail(c echo.Context) error {
	eventID := strings.TrimSpace(c.Param("event_id"))
	if eventID == "" {
		return failValidation(c, map[string]string{"event_id": "is required"})
	}
	if s.deps.Events == nil {
		return internalError(c, "Event store is not configured")
	}

	ctx := c.Request().Context()
	event, err := s.deps.Events.GetEvent(ctx, eventID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Event not found")
		}
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("load event failed")
		return internalError(c, "Failed to load event")
	}

	contributions, err := s.deps.Events.ListContributions(ctx, eventID)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("load contributions failed")
		return internalError(c, "Failed to load event contributions")
	}
	if contributions == nil {
		contributions = []db.EventSource{}
	}

	return success(c, eventDetail{Event: event, Contributions: contributions})
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunsLimit, 1, maxRunsLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	if s.deps.Runs == nil {
		return internalError(c, "Run history is not configured")
	}

	runs, err := s.deps.Runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs failed")
		return internalError(c, "Failed to load runs")
	}
	if runs == nil {
		runs = []db.DedupRun{}
	}
	return success(c, map[string]any{
		"items": runs,
		"limit": limit,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	day, err := parseDay(c.QueryParam("day"))
	if err != nil {
		return failValidation(c, map[string]string{"day": "must be YYYY-MM-DD"})
	}
	if s.deps.Stats == nil {
		return internalError(c, "Stats are not configured")
	}

	stats, err := s.deps.Stats.QueryMergeStats(c.Request().Context(), day, day.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleRules(c echo.Context) error {
	if s.deps.Rules == nil {
		return success(c, rules.Default())
	}
	return success(c, s.deps.Rules.Current())
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, fmt.Errorf("must be a boolean")
	}
	return value, nil
}

// parseDay returns UTC midnight of raw, or of today when raw is empty.
func parseDay(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return events.DateOf(globaltime.UTC()).Time(), nil
	}
	day, err := events.ParseDate(trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return day.Time(), nil
}
