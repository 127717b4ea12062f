// Package api exposes the mesh over HTTP: event ingest, live SSE streams,
// correlation queries, and crew chat.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/blackroadhq/eventmesh/internal/auth"
	"github.com/blackroadhq/eventmesh/internal/chat"
	"github.com/blackroadhq/eventmesh/internal/mesh"
	"github.com/blackroadhq/eventmesh/internal/utils"
)

const principalKey = "principal"

// Options tune the gateway.
type Options struct {
	IngestRate  float64
	IngestBurst int
}

// Server holds the Echo app and its dependencies.
type Server struct {
	echo     *echo.Echo
	logger   *slog.Logger
	mesh     *mesh.Mesh
	chat     *chat.Service
	verifier *auth.TokenVerifier
	limiter  *rate.Limiter
	latency  *utils.LatencyTracker
}

// New builds the Echo server and registers routes.
func New(logger *slog.Logger, m *mesh.Mesh, chatSvc *chat.Service, verifier *auth.TokenVerifier, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	if opts.IngestRate <= 0 {
		opts.IngestRate = 200
	}
	if opts.IngestBurst <= 0 {
		opts.IngestBurst = int(opts.IngestRate) * 2
	}

	s := &Server{
		echo:     e,
		logger:   logger,
		mesh:     m,
		chat:     chatSvc,
		verifier: verifier,
		limiter:  rate.NewLimiter(rate.Limit(opts.IngestRate), opts.IngestBurst),
		latency:  utils.NewLatencyTracker(512),
	}

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/api/v1", s.requirePrincipal)
	v1.POST("/events", s.handleIngest)
	v1.GET("/events/stream", s.handleStream)
	v1.GET("/correlate", s.handleCorrelate)
	v1.GET("/chat/:thread/messages", s.handleChatHistory)
	v1.POST("/chat/:thread/messages", s.handleChatPost)
	v1.POST("/chat/:thread/messages/:id/reactions", s.handleChatReact)
	v1.GET("/chat/:thread/stream", s.handleChatStream)

	return s
}

// Start serves HTTP until the context is cancelled, then shuts down within
// gracefulTimeout.
func (s *Server) Start(ctx context.Context, addr string, gracefulTimeout time.Duration) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("gateway shutdown", "error", err)
		}
	}()
	s.logger.Info("gateway listening", "address", addr)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// requirePrincipal resolves the bearer token into a Principal and stashes it
// on the request context. Unauthenticated requests stop here.
func (s *Server) requirePrincipal(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		p, err := s.verifier.Principal(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(principalKey, p)
		return next(c)
	}
}

func principalFrom(c echo.Context) auth.Principal {
	p, _ := c.Get(principalKey).(auth.Principal)
	return p
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
