package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/globaltime"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	APITokenHash    string
	AllowedOrigins  []string
}

type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

type eventListItem struct {
	EventKey     string    `json:"event_key"`
	AccidentDate *string   `json:"accident_date,omitempty"`
	Place        *string   `json:"place,omitempty"`
	Activity     *string   `json:"activity,omitempty"`
	Version      int       `json:"version"`
	ChangeSeq    int64     `json:"change_seq"`
	MemberCount  int       `json:"member_count"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Status       string    `json:"status"`
}

type eventMemberItem struct {
	RecordID    string    `json:"record_id"`
	SourceURL   string    `json:"source_url"`
	Confidence  float64   `json:"confidence"`
	ExtractedAt time.Time `json:"extracted_at"`
}

type eventDetail struct {
	Event     eventListItem     `json:"event"`
	Canonical json.RawMessage   `json:"canonical,omitempty"`
	Members   []eventMemberItem `json:"members"`
}

func NewServer(pool *db.Pool, logger zerolog.Logger, opts Options) *Server {
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
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			APITokenHash:    opts.APITokenHash,
			AllowedOrigins:  opts.AllowedOrigins,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	allowOrigins := s.opts.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
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

	api := e.Group("/api/v1", requireBearerToken(s.opts.APITokenHash))
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleEvents)
	api.GET("/events/changed", s.handleEventsChanged)
	api.GET("/events/:event_key", s.handleEventDetail)

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

	s.logger.Info().Str("addr", addr).Msg("cairn api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("cairn api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
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
	return success(c, map[string]any{
		"service": "cairn",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	now := globaltime.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.pool.QueryResolutionStats(c.Request().Context(), dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleEvents(c echo.Context) error {
	limit := intQueryParam(c, "limit", defaultPageSize, 1, maxPageSize)
	offset := intQueryParam(c, "offset", 0, 0, 1<<30)

	rows, err := s.pool.ListActiveEvents(c.Request().Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("list events failed")
		return internalError(c, "Failed to load events")
	}

	items := make([]eventListItem, 0, len(rows))
	for i := range rows {
		items = append(items, listItemFromRow(&rows[i]))
	}
	return success(c, map[string]any{
		"items": items,
	})
}

func (s *Server) handleEventDetail(c echo.Context) error {
	eventKey := strings.TrimSpace(c.Param("event_key"))
	if eventKey == "" {
		return fail(c, http.StatusBadRequest, "event_key is required", nil)
	}

	event, err := s.pool.GetEventByKey(c.Request().Context(), eventKey)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Event not found")
		}
		s.logger.Error().Err(err).Str("event_key", eventKey).Msg("event lookup failed")
		return internalError(c, "Failed to load event")
	}

	memberRows, err := s.pool.ListEventMemberRecords(c.Request().Context(), event.EventSeq)
	if err != nil {
		s.logger.Error().Err(err).Str("event_key", eventKey).Msg("member lookup failed")
		return internalError(c, "Failed to load event members")
	}

	members := make([]eventMemberItem, 0, len(memberRows))
	for _, row := range memberRows {
		members = append(members, eventMemberItem{
			RecordID:    row.RecordID,
			SourceURL:   row.SourceURL,
			Confidence:  row.Confidence,
			ExtractedAt: row.ExtractedAt,
		})
	}

	return success(c, eventDetail{
		Event:     listItemFromRow(event),
		Canonical: event.Canonical,
		Members:   members,
	})
}

// handleEventsChanged is the watermark query: downstream consumers poll
// with the last change_seq they processed and receive every canonical
// recompute since, oldest first.
func (s *Server) handleEventsChanged(c echo.Context) error {
	after, err := int64QueryParam(c, "after", 0)
	if err != nil {
		return fail(c, http.StatusBadRequest, "after must be a non-negative integer", nil)
	}
	limit := intQueryParam(c, "limit", defaultPageSize, 1, maxPageSize)

	rows, listErr := s.pool.ListEventsChangedAfter(c.Request().Context(), after, limit)
	if listErr != nil {
		s.logger.Error().Err(listErr).Msg("changed events query failed")
		return internalError(c, "Failed to load changed events")
	}

	items := make([]eventListItem, 0, len(rows))
	nextAfter := after
	for i := range rows {
		items = append(items, listItemFromRow(&rows[i]))
		if rows[i].ChangeSeq > nextAfter {
			nextAfter = rows[i].ChangeSeq
		}
	}

	return success(c, map[string]any{
		"items":      items,
		"next_after": nextAfter,
	})
}

func listItemFromRow(row *db.EventRow) eventListItem {
	return eventListItem{
		EventKey:     row.EventKey,
		AccidentDate: row.AccidentDate,
		Place:        row.Place,
		Activity:     row.Activity,
		Version:      row.Version,
		ChangeSeq:    row.ChangeSeq,
		MemberCount:  row.MemberCount,
		FirstSeenAt:  row.FirstSeenAt,
		LastSeenAt:   row.LastSeenAt,
		Status:       row.Status,
	}
}

func intQueryParam(c echo.Context, name string, fallback, minValue, maxValue int) int {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minValue {
		return fallback
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

func int64QueryParam(c echo.Context, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return value, nil
}
