package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/rankwatch/internal/globaltime"
	"horse.fit/rankwatch/internal/ingest"
	"horse.fit/rankwatch/internal/ranking"
	"horse.fit/rankwatch/internal/store"
	"horse.fit/rankwatch/internal/territory"
	payloadschema "horse.fit/rankwatch/schema"
)

const maxIngestBody = "2M"

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type Server struct {
	storage ingest.Storage
	service *ingest.Service
	logger  zerolog.Logger
	opts    Options
}

type playlistSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	Keywords     int       `json:"keywords"`
	Observations int       `json:"observations"`
	LastUpdated  time.Time `json:"last_updated"`
}

type seriesItem struct {
	Keyword      string                `json:"keyword"`
	Territory    string                `json:"territory"`
	Observations []ranking.Observation `json:"observations"`
}

type playlistDetail struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Image       string       `json:"image,omitempty"`
	LastUpdated time.Time    `json:"last_updated"`
	Series      []seriesItem `json:"series"`
}

type historyResponse struct {
	PlaylistID     string                 `json:"playlist_id"`
	Keyword        string                 `json:"keyword"`
	Territory      string                 `json:"territory"`
	Entries        []ranking.HistoryEntry `json:"entries"`
	SkippedEntries int                    `json:"skipped_entries"`
}

func NewServer(storage ingest.Storage, service *ingest.Service, logger zerolog.Logger, opts Options) *Server {
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
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		storage: storage,
		service: service,
		logger:  logger,
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

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
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

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/ingest", s.handleIngest, middleware.BodyLimit(maxIngestBody))
	api.GET("/playlists", s.handlePlaylists)
	api.GET("/playlists/:playlist_id", s.handlePlaylistDetail)
	api.GET("/playlists/:playlist_id/stats", s.handlePlaylistStats)
	api.GET("/playlists/:playlist_id/history", s.handlePlaylistHistory)
	api.DELETE("/playlists/:playlist_id/keywords", s.handleDeleteKeyword)
	api.POST("/playlists/:playlist_id/recover", s.handleRecover)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.storage == nil || s.service == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

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

	s.logger.Info().Str("addr", addr).Msg("rankwatch api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("rankwatch api server stopped")
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
	type pinger interface {
		Ping(ctx context.Context) error
	}
	storeStatus := "ok"
	if p, ok := s.storage.(pinger); ok {
		if err := p.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("store ping failed")
			storeStatus = "unreachable"
		}
	}

	data := map[string]any{
		"service": "rankwatch",
		"store":   storeStatus,
		"time":    globaltime.UTC(),
	}
	if storeStatus != "ok" {
		return c.JSON(http.StatusServiceUnavailable, jsendResponse{
			Status:  "error",
			Data:    data,
			Message: "Store unreachable",
			Code:    http.StatusServiceUnavailable,
		})
	}
	return success(c, data)
}

func (s *Server) handleIngest(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}

	result, err := s.service.IngestPayload(c.Request().Context(), payload)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return failConflict(c, "Another merge for this playlist is in progress, retry shortly")
		}
		if errors.Is(err, payloadschema.ErrInvalidPayload) {
			return fail(c, http.StatusBadRequest, err.Error(), nil)
		}
		s.logger.Error().Err(err).Msg("ingest failed")
		return internalError(c, "Failed to ingest batch")
	}

	return successWithStatus(c, http.StatusAccepted, result)
}

func (s *Server) handlePlaylists(c echo.Context) error {
	ctx := c.Request().Context()
	ids, err := s.storage.ListPlaylistIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list playlists failed")
		return internalError(c, "Failed to list playlists")
	}

	items := make([]playlistSummary, 0, len(ids))
	for _, id := range ids {
		record, err := s.storage.GetPlaylist(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.logger.Error().Err(err).Str("playlist_id", id).Msg("load playlist failed")
			return internalError(c, "Failed to list playlists")
		}
		items = append(items, playlistSummary{
			ID:           record.ID,
			Name:         record.Name,
			Image:        record.Image,
			Keywords:     len(record.GroupSeries()),
			Observations: len(record.Keywords),
			LastUpdated:  record.LastUpdated,
		})
	}

	return success(c, map[string]any{
		"items": items,
	})
}

func (s *Server) loadPlaylist(c echo.Context) (*ranking.PlaylistRecord, error) {
	playlistID := strings.TrimSpace(c.Param("playlist_id"))
	if playlistID == "" {
		return nil, failValidation(c, map[string]string{"playlist_id": "is required"})
	}

	record, err := s.storage.GetPlaylist(c.Request().Context(), playlistID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, failNotFound(c, "Playlist not found")
		}
		s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("load playlist failed")
		return nil, internalError(c, "Failed to load playlist")
	}
	return record, nil
}

func (s *Server) handlePlaylistDetail(c echo.Context) error {
	record, err := s.loadPlaylist(c)
	if record == nil {
		return err
	}

	grouped := record.GroupSeries()
	series := make([]seriesItem, 0, len(grouped))
	for _, g := range grouped {
		series = append(series, seriesItem{
			Keyword:      g.Keyword,
			Territory:    g.Territory,
			Observations: g.Observations,
		})
	}

	return success(c, playlistDetail{
		ID:          record.ID,
		Name:        record.Name,
		Image:       record.Image,
		LastUpdated: record.LastUpdated,
		Series:      series,
	})
}

func (s *Server) handlePlaylistStats(c echo.Context) error {
	record, err := s.loadPlaylist(c)
	if record == nil {
		return err
	}

	return success(c, map[string]any{
		"playlist_id": record.ID,
		"items":       ranking.ComputeAllStats(record),
	})
}

func (s *Server) handlePlaylistHistory(c echo.Context) error {
	playlistID := strings.TrimSpace(c.Param("playlist_id"))
	if playlistID == "" {
		return failValidation(c, map[string]string{"playlist_id": "is required"})
	}

	keyword := strings.TrimSpace(c.QueryParam("keyword"))
	if keyword == "" {
		return failValidation(c, map[string]string{"keyword": "is required"})
	}

	code, ok := territory.Normalize(c.QueryParam("territory"))
	if !ok {
		return failValidation(c, map[string]string{"territory": "must be a two-letter territory code"})
	}

	entries, skipped, err := s.storage.GetHistory(c.Request().Context(), playlistID, keyword, code)
	if err != nil {
		s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("read history failed")
		return internalError(c, "Failed to load history")
	}

	return success(c, historyResponse{
		PlaylistID:     playlistID,
		Keyword:        keyword,
		Territory:      code,
		Entries:        dedupHistoryEntries(entries),
		SkippedEntries: skipped,
	})
}

// dedupHistoryEntries collapses exact repeats in the append-only log. The log
// is never deduplicated at write time; readers do it here.
func dedupHistoryEntries(entries []ranking.HistoryEntry) []ranking.HistoryEntry {
	out := make([]ranking.HistoryEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		key := fmt.Sprintf("%d\x00%d", entry.Position, entry.Timestamp.UTC().UnixNano())
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

func (s *Server) handleDeleteKeyword(c echo.Context) error {
	playlistID := strings.TrimSpace(c.Param("playlist_id"))
	if playlistID == "" {
		return failValidation(c, map[string]string{"playlist_id": "is required"})
	}
	keyword := strings.TrimSpace(c.QueryParam("keyword"))
	if keyword == "" {
		return failValidation(c, map[string]string{"keyword": "is required"})
	}

	removed, err := s.service.DeleteKeyword(c.Request().Context(), playlistID, keyword, c.QueryParam("territory"))
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return failConflict(c, "Another merge for this playlist is in progress, retry shortly")
		}
		if errors.Is(err, store.ErrNotFound) {
			return failNotFound(c, "Playlist not found")
		}
		if errors.Is(err, ingest.ErrInvalidTerritory) {
			return failValidation(c, map[string]string{"territory": "must be a two-letter territory code"})
		}
		s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("delete keyword failed")
		return internalError(c, "Failed to delete keyword")
	}

	return success(c, map[string]any{
		"playlist_id": playlistID,
		"keyword":     keyword,
		"removed":     removed,
	})
}

func (s *Server) handleRecover(c echo.Context) error {
	playlistID := strings.TrimSpace(c.Param("playlist_id"))
	if playlistID == "" {
		return failValidation(c, map[string]string{"playlist_id": "is required"})
	}

	result, err := s.service.RecoverPlaylist(c.Request().Context(), playlistID)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return failConflict(c, "Another merge for this playlist is in progress, retry shortly")
		}
		s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("recover failed")
		return internalError(c, "Failed to recover playlist")
	}

	return success(c, result)
}
