package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ocagate/ocagate/internal/api/middleware"
	"github.com/ocagate/ocagate/internal/auth"
	"github.com/ocagate/ocagate/internal/config"
	"github.com/ocagate/ocagate/internal/executor"
	"github.com/ocagate/ocagate/internal/registry"
)

// Server wires the gateway's HTTP routes to the core components.
type Server struct {
	cfg           *config.Config
	engine        *gin.Engine
	httpServer    *http.Server
	tokens        *auth.TokenManager
	authenticator *auth.Authenticator
	resolver      *registry.Resolver
	executor      *executor.Client
}

// NewServer builds the route table over the given components.
func NewServer(cfg *config.Config, tokens *auth.TokenManager, authenticator *auth.Authenticator, resolver *registry.Resolver, execClient *executor.Client) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID())
	if cfg.RequestLog {
		engine.Use(gin.Logger())
	}

	s := &Server{
		cfg:           cfg,
		engine:        engine,
		tokens:        tokens,
		authenticator: authenticator,
		resolver:      resolver,
		executor:      execClient,
	}

	engine.GET("/health", s.Health)

	engine.POST("/v1/messages", s.ClaudeMessages)
	engine.POST("/v1/chat/completions", s.ChatCompletions)
	engine.GET("/v1/models", s.Models)

	engine.GET("/auth/login", s.AuthLogin)
	engine.GET("/auth/callback", s.AuthCallback)
	engine.GET("/auth/status", s.AuthStatus)
	engine.POST("/auth/logout", s.AuthLogout)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

// Health is a liveness endpoint.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "authenticated": s.tokens.IsAuthenticated()})
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
