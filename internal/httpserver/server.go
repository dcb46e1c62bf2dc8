// Package httpserver exposes the conversation engine over HTTP: a health
// probe, a session message listing, and the WebSocket conversation bridge.
package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/config"
	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// Deps carries the collaborators one engine instance needs. Store, Continuity,
// Generator and Summarizer are shared across connections; everything else is
// built per connection.
type Deps struct {
	Store      convo.Store
	Continuity convo.Continuity
	Generator  convo.Generator
	Summarizer convo.Summarizer
	Config     config.Config

	// Finalize and safety delays for the per-connection engine; zero means
	// the production defaults.
	FinalizeDelay time.Duration
	SafetyDelay   time.Duration
}

// Server bundles the router and shared dependencies.
type Server struct {
	e    *echo.Echo
	deps Deps
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{e: e, deps: deps}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/sessions/:id/messages", s.handleSessionMessages)
	e.GET("/conversation", s.handleConversation)

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) handleSessionMessages(c echo.Context) error {
	if !s.authOK(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	sessionID := c.Param("id")
	msgs, err := s.deps.Store.ListMessages(c.Request().Context(), sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}
	if msgs == nil {
		msgs = []convo.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   msgs,
	})
}

func (s *Server) handleConversation(c echo.Context) error {
	if !s.authOK(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return s.serveConversation(c.Response(), c.Request())
}

// authOK accepts Authorization: Bearer <pwd>, ?password=... or X-Auth-Token.
// An empty configured password leaves the server open.
func (s *Server) authOK(r *http.Request) bool {
	password := s.deps.Config.AuthPassword
	if password == "" {
		return true
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		tok := strings.TrimSpace(ah[len("Bearer "):])
		if tok == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
