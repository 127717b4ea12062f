package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/metrics"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/store"
)

type ingestResponse struct {
	Accepted bool            `json:"accepted"`
	Event    models.Envelope `json:"event"`
}

func (s *Server) handleIngest(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeEventsWrite); err != nil {
		return s.fail(c, err)
	}
	if !s.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "ingest rate exceeded")
	}

	var init models.EnvelopeInit
	if err := json.NewDecoder(c.Request().Body).Decode(&init); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event payload")
	}

	env, accepted, err := s.mesh.Ingest(c.Request().Context(), init)
	if err != nil {
		return s.fail(c, err)
	}
	if !accepted {
		return c.JSON(http.StatusOK, ingestResponse{Accepted: false, Event: env})
	}
	return c.JSON(http.StatusAccepted, ingestResponse{Accepted: true, Event: env})
}

func (s *Server) handleCorrelate(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeCorrelateRead); err != nil {
		return s.fail(c, err)
	}

	key := c.QueryParam("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query param key is required")
	}
	keyType, err := models.ParseKeyType(c.QueryParam("keyType"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	result, err := s.mesh.Correlate(c.Request().Context(), key, keyType)
	if err != nil {
		return s.fail(c, err)
	}
	s.latency.Observe(time.Since(start))
	if s.latency.Count()%100 == 0 {
		s.logger.Info("correlate latency", "p95", s.latency.Percentile(95), "samples", s.latency.Count())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleStream(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeEventsRead); err != nil {
		return s.fail(c, err)
	}
	filter, err := filterFromQuery(c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := s.mesh.Subscribe()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	defer sub.Cancel()
	metrics.SubscriberAttached()
	defer metrics.SubscriberDetached()

	w, err := startSSE(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !filter.Match(env) {
				continue
			}
			if err := w.send("event", env); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) handleChatPost(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeChatPost); err != nil {
		return s.fail(c, err)
	}

	var req struct {
		Text        string   `json:"text"`
		Attachments []string `json:"attachments"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed message payload")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message text is required")
	}

	msg, err := s.chat.Post(c.Request().Context(), c.Param("thread"), p, req.Text, req.Attachments)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleChatReact(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeChatPost); err != nil {
		return s.fail(c, err)
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil || req.Emoji == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "emoji is required")
	}

	msg, err := s.chat.React(c.Param("thread"), c.Param("id"), req.Emoji)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) handleChatHistory(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeEventsRead); err != nil {
		return s.fail(c, err)
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	msgs := s.chat.History(c.Param("thread"), limit)
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// handleChatStream replays recent history, then streams live messages.
func (s *Server) handleChatStream(c echo.Context) error {
	p := principalFrom(c)
	if err := auth.Authorize(p, auth.ScopeEventsRead); err != nil {
		return s.fail(c, err)
	}

	thread := c.Param("thread")
	ch, cancel := s.chat.Subscribe(thread)
	defer cancel()

	w, err := startSSE(c)
	if err != nil {
		return err
	}

	// A message posted between Subscribe and the history snapshot appears in
	// both; track hydrated ids so the live loop sends each message once.
	hydrated := make(map[string]struct{})
	for _, msg := range s.chat.History(thread, 0) {
		hydrated[msg.ID] = struct{}{}
		if err := w.send("message", msg); err != nil {
			return nil
		}
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, seen := hydrated[msg.ID]; seen {
				delete(hydrated, msg.ID)
				continue
			}
			if err := w.send("message", msg); err != nil {
				return nil
			}
		}
	}
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(c echo.Context, err error) error {
	var forbidden *auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return echo.NewHTTPError(http.StatusForbidden, forbidden.Error())
	}
	var invalid *models.ValidationError
	if errors.As(err, &invalid) {
		return echo.NewHTTPError(http.StatusBadRequest, invalid.Error())
	}
	var ioErr *store.IOError
	if errors.As(err, &ioErr) {
		s.logger.Error("store failure", "op", ioErr.Op, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "event store unavailable")
	}
	s.logger.Error("request failed", "path", c.Path(), "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// filterFromQuery builds an EventFilter from query parameters. Comma-separated
// lists for the set predicates, RFC3339 for the time bounds.
func filterFromQuery(q url.Values) (models.EventFilter, error) {
	var f models.EventFilter
	for _, raw := range splitList(q.Get("sources")) {
		src := models.Source(raw)
		if !src.Valid() {
			return f, fmt.Errorf("unknown source %q", raw)
		}
		f.Sources = append(f.Sources, src)
	}
	f.Services = splitList(q.Get("services"))
	for _, raw := range splitList(q.Get("kinds")) {
		kind := models.EventKind(raw)
		if !kind.Valid() {
			return f, fmt.Errorf("unknown kind %q", raw)
		}
		f.Kinds = append(f.Kinds, kind)
	}
	for _, raw := range splitList(q.Get("severities")) {
		sev := models.Severity(raw)
		if !sev.Valid() {
			return f, fmt.Errorf("unknown severity %q", raw)
		}
		f.Severities = append(f.Severities, sev)
	}
	f.TraceID = q.Get("traceId")
	f.SpanID = q.Get("spanId")
	f.ReleaseID = q.Get("releaseId")
	f.AssetID = q.Get("assetId")
	f.SimID = q.Get("simId")
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be RFC3339: %w", err)
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("until must be RFC3339: %w", err)
		}
		f.Until = t
	}
	return f, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
