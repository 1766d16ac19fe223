// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

// Package httpapi exposes the identity service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/observability"
)

// SessionAPI is the slice of SessionService the handlers need.
type SessionAPI interface {
	Register(ctx context.Context, params auth.RegisterParams) (*auth.User, *auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (*auth.User, *auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	ValidateBearer(ctx context.Context, claims *auth.AccessClaims) (*auth.User, error)
	ChangePassword(ctx context.Context, userID ulid.ULID, currentPassword, newPassword string) error
	Logout(ctx context.Context) error
}

// ResetAPI is the slice of PasswordResetService the handlers need.
type ResetAPI interface {
	RequestReset(ctx context.Context, email string, meta auth.RequestMeta) (*auth.ResetAck, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*auth.ResetAck, error)
}

// VerifyAPI is the slice of EmailVerificationService the handlers need.
type VerifyAPI interface {
	SendVerification(ctx context.Context, userID ulid.ULID) error
	VerifyEmail(ctx context.Context, token string) error
}

// TokenVerifier checks access tokens. Implemented by auth.TokenCodec.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.AccessClaims, error)
}

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address in "host:port" format.
	Addr string
	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Deps are the collaborators the server dispatches requests to.
type Deps struct {
	Sessions      SessionAPI
	Resets        ResetAPI
	Verifications VerifyAPI
	Verifier      TokenVerifier
	// Metrics may be nil; recording is skipped.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP front of the identity service.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	listener net.Listener

	httpServer *http.Server
	running    atomic.Bool

	sessions      SessionAPI
	resets        ResetAPI
	verifications VerifyAPI
	verifier      TokenVerifier
	throttle      *Throttle
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Addr == "" {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("listen address is required")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("TLS cert and key must be set together")
	}
	if deps.Sessions == nil || deps.Resets == nil || deps.Verifications == nil || deps.Verifier == nil {
		return nil, oops.Code("HTTP_CONFIG_INVALID").Errorf("all service dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		engine:        engine,
		sessions:      deps.Sessions,
		resets:        deps.Resets,
		verifications: deps.Verifications,
		verifier:      deps.Verifier,
		throttle:      NewThrottle(),
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
	s.routes()
	return s, nil
}

// routes wires all endpoints onto the engine.
func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1/auth")

	v1.POST("/register", s.handleRegister)
	v1.POST("/login", s.throttle.Middleware(), s.handleLogin)
	v1.POST("/refresh", s.handleRefresh)
	v1.POST("/logout", s.requireAuth(), s.handleLogout)

	v1.POST("/password/forgot", s.throttle.Middleware(), s.handleForgotPassword)
	v1.POST("/password/reset", s.throttle.Middleware(), s.handleResetPassword)
	v1.POST("/password/change", s.requireAuth(), s.handleChangePassword)

	v1.POST("/verify/send", s.requireAuth(), s.handleSendVerification)
	v1.POST("/verify/confirm", s.handleConfirmVerification)

	v1.GET("/me", s.requireAuth(), s.handleMe)
}

// Handler exposes the configured engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. It returns an error channel that receives any error
// from the HTTP server after startup; the channel closes on clean shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		var serveErr error
		if s.cfg.TLSCertFile != "" {
			serveErr = httpSrv.ServeTLS(listener, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			serveErr = httpSrv.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started",
		"addr", listener.Addr().String(),
		"tls", s.cfg.TLSCertFile != "")
	return errCh, nil
}

// Stop gracefully shuts down the server, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}

	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" if stopped.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
